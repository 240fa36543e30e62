package podium

import (
	"github.com/mattjoyce/podium/internal/pod"
	"github.com/mattjoyce/podium/internal/registry"
)

// Package-level API over a shared default runtime, for embedders that want
// the one-process-one-host shape.

// LoadPod loads a pod into the default runtime.
func LoadPod(spec any, opts ...Option) (*pod.Pod, error) {
	return defaultRuntime.LoadPod(spec, opts...)
}

// UnloadPod unloads a pod from the default runtime.
func UnloadPod(id string) error {
	return defaultRuntime.UnloadPod(id)
}

// Invoke calls a fully qualified var on a pod in the default runtime.
func Invoke(podID, symbol string, args []any, opts ...InvokeOption) (any, error) {
	return defaultRuntime.Invoke(podID, symbol, args, opts...)
}

// ListPodModules enumerates exposed namespaces in the default runtime.
func ListPodModules() []registry.ModuleInfo {
	return defaultRuntime.ListPodModules()
}

// ListDeferredNamespaces lists unloaded deferred namespaces.
func ListDeferredNamespaces(podID string) []string {
	return defaultRuntime.ListDeferredNamespaces(podID)
}

// LoadAndExposeNamespace force-loads a deferred namespace.
func LoadAndExposeNamespace(podID, ns string) (Namespace, error) {
	return defaultRuntime.LoadAndExposeNamespace(podID, ns)
}

// AddEDNReadHandler registers an edn reader on the current pod.
func AddEDNReadHandler(tag string, fn ReadHandler, podID ...string) error {
	return defaultRuntime.AddEDNReadHandler(tag, fn, podID...)
}

// AddEDNWriteHandler registers an edn writer on the current pod.
func AddEDNWriteHandler(sample any, fn WriteHandler, podID ...string) error {
	return defaultRuntime.AddEDNWriteHandler(sample, fn, podID...)
}

// AddTransitReadHandler registers a transit reader on the current pod.
func AddTransitReadHandler(tag string, fn ReadHandler, podID ...string) error {
	return defaultRuntime.AddTransitReadHandler(tag, fn, podID...)
}

// AddTransitWriteHandler registers a transit writer on the current pod.
func AddTransitWriteHandler(sample any, fn WriteHandler, podID ...string) error {
	return defaultRuntime.AddTransitWriteHandler(sample, fn, podID...)
}

// SetDefaultTransitWriteHandler installs the transit fallback writer.
func SetDefaultTransitWriteHandler(fn WriteHandler, podID ...string) error {
	return defaultRuntime.SetDefaultTransitWriteHandler(fn, podID...)
}

// AddPatch layers a replacement over ns/var in the default runtime.
func AddPatch(nsVar string, fn registry.PatchFn) {
	defaultRuntime.AddPatch(nsVar, fn)
}

// SetEvalHostCode installs the host-code evaluation capability.
func SetEvalHostCode(fn func(source string) (any, error)) {
	defaultRuntime.SetEvalHostCode(fn)
}

// LoadPodsFromConfig loads every pod a declaration file names.
func LoadPodsFromConfig(path string, selectors ...string) ([]*pod.Pod, error) {
	return defaultRuntime.LoadPodsFromConfig(path, selectors...)
}

// Shutdown unloads every pod in the default runtime. Terminating signals do
// this automatically via the exit hook; call it on orderly exits.
func Shutdown() {
	defaultRuntime.Shutdown()
}
