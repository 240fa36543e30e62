// Package podium hosts babashka-style pods: child processes exposing named
// operations over a bencode-framed protocol. Load a pod, call its vars like
// local functions, unload it when done.
package podium

import (
	"context"
	"fmt"
	"sync"

	"github.com/mattjoyce/podium/internal/config"
	"github.com/mattjoyce/podium/internal/log"
	"github.com/mattjoyce/podium/internal/pod"
	"github.com/mattjoyce/podium/internal/registry"
	"github.com/mattjoyce/podium/internal/resolver"
)

// Runtime owns a set of loaded pods, the namespace registry, and the
// registry resolver. The zero value is not usable; call NewRuntime.
type Runtime struct {
	mu       sync.Mutex
	pods     map[string]*pod.Pod
	active   []string // active-pod frames, innermost last
	registry *registry.Registry
	resolver *resolver.Resolver
	evalCode func(source string) (any, error)
}

// NewRuntime returns an empty runtime.
func NewRuntime() *Runtime {
	return &Runtime{
		pods:     make(map[string]*pod.Pod),
		registry: registry.New(),
		resolver: &resolver.Resolver{},
	}
}

// defaultRuntime backs the package-level API.
var defaultRuntime = NewRuntime()

// LoadPod starts a pod. The spec is a command vector ([]string), a local
// binary path, or a registry coordinate ("qualifier/name" plus WithVersion).
// Registry loads are idempotent: a coordinate already loaded returns the
// existing handle unless WithForce is given.
func (rt *Runtime) LoadPod(spec any, opts ...Option) (*pod.Pod, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var command []string
	var podID string

	switch s := spec.(type) {
	case []string:
		command = s
	case string:
		if o.version != "" {
			rt.mu.Lock()
			existing := rt.pods[s]
			rt.mu.Unlock()
			if existing != nil && !o.force {
				return existing, nil
			}

			res := *rt.resolver
			if o.cacheDir != "" {
				res.CacheDir = o.cacheDir
			}
			resolved, err := res.Resolve(context.Background(), s, o.version, o.force)
			if err != nil {
				return nil, err
			}
			command = []string{resolved.Entrypoint}
			podID = s
			if t, ok := resolved.Options["transport"]; ok && fmt.Sprint(t) == "socket" {
				o.transport = pod.TransportSocket
			}
		} else {
			command = []string{s}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported spec type %T", ErrPodSpawn, spec)
	}

	p, err := pod.Load(command, pod.Options{
		ID:               podID,
		Transport:        o.transport,
		Stderr:           o.stderr,
		Out:              o.out,
		Err:              o.errOut,
		Env:              o.env,
		Dir:              o.dir,
		Metadata:         o.metadata,
		HandshakeTimeout: o.handshake,
	})
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	if prev, ok := rt.pods[p.ID]; ok && prev != p {
		// Force-replace: the old handle goes away with its registrations.
		rt.registry.RemovePod(p.ID)
		go func() { _ = prev.Close() }()
	}
	rt.pods[p.ID] = p
	rt.active = append(rt.active, p.ID)
	rt.mu.Unlock()
	defer rt.popActive(p.ID)

	registerExitHook(rt)
	rt.installDescribeReaders(p)
	rt.exposeNamespaces(p)

	log.WithPod(p.ID).Info("pod loaded", "format", p.Format, "namespaces", len(p.Namespaces))
	return p, nil
}

func (rt *Runtime) popActive(id string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := len(rt.active) - 1; i >= 0; i-- {
		if rt.active[i] == id {
			rt.active = append(rt.active[:i], rt.active[i+1:]...)
			return
		}
	}
}

// installDescribeReaders evaluates describe-supplied reader sources with the
// host-code capability, if one is installed. Runtime registrations for the
// same tag keep priority.
func (rt *Runtime) installDescribeReaders(p *pod.Pod) {
	rt.mu.Lock()
	eval := rt.evalCode
	rt.mu.Unlock()
	if eval == nil || len(p.ReaderSources) == 0 {
		return
	}
	for tag, src := range p.ReaderSources {
		result, err := eval(src)
		if err != nil {
			log.WithPod(p.ID).Warn("reader source evaluation failed", "tag", tag, "error", err)
			continue
		}
		switch fn := result.(type) {
		case ReadHandler:
			p.Handlers.SetReadIfAbsent(tag, fn)
		case func(any) (any, error):
			p.Handlers.SetReadIfAbsent(tag, fn)
		default:
			log.WithPod(p.ID).Warn("reader source did not evaluate to a handler", "tag", tag)
		}
	}
}

// exposeNamespaces registers described namespaces; deferred ones are only
// recorded by name.
func (rt *Runtime) exposeNamespaces(p *pod.Pod) {
	remote := rt.remoteFor(p)
	for _, ns := range p.Namespaces {
		if ns.Defer {
			rt.registry.MarkDeferred(p.ID, ns.Name)
			continue
		}
		rt.registry.Expose(p.ID, ns, remote)
	}
}

func (rt *Runtime) remoteFor(p *pod.Pod) registry.RemoteFn {
	return func(symbol string, args []any, opts pod.InvokeOptions) (any, error) {
		return p.Invoke(symbol, args, opts)
	}
}

// LoadPodMetadata runs a pod only long enough to capture its describe reply,
// then shuts it down. The reply can be passed back via WithMetadata to skip
// the handshake on a later load.
func (rt *Runtime) LoadPodMetadata(spec any, opts ...Option) (map[string]any, error) {
	p, err := rt.LoadPod(spec, opts...)
	if err != nil {
		return nil, err
	}
	reply := p.RawDescribe
	if err := rt.UnloadPod(p.ID); err != nil {
		return reply, err
	}
	return reply, nil
}

// UnloadPod stops a pod and removes its namespace registrations. It returns
// once the child is reaped (or force-killed after the grace period).
func (rt *Runtime) UnloadPod(id string) error {
	rt.mu.Lock()
	p, ok := rt.pods[id]
	if ok {
		delete(rt.pods, id)
	}
	rt.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPodNotFound, id)
	}

	rt.registry.RemovePod(id)
	return p.Close()
}

// Pod returns a loaded pod handle.
func (rt *Runtime) Pod(id string) (*pod.Pod, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	p, ok := rt.pods[id]
	return p, ok
}

// Pods lists the ids of loaded pods.
func (rt *Runtime) Pods() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, 0, len(rt.pods))
	for id := range rt.pods {
		out = append(out, id)
	}
	return out
}

// Invoke calls a fully qualified var ("ns/name") on a loaded pod.
func (rt *Runtime) Invoke(podID, symbol string, args []any, opts ...InvokeOption) (any, error) {
	p, ok := rt.Pod(podID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPodNotFound, podID)
	}
	var iopts pod.InvokeOptions
	for _, opt := range opts {
		opt(&iopts)
	}
	return p.Invoke(symbol, args, iopts)
}

// ListPodModules enumerates exposed namespaces and their originating pods.
func (rt *Runtime) ListPodModules() []registry.ModuleInfo {
	return rt.registry.List()
}

// ListDeferredNamespaces lists not-yet-loaded deferred namespaces, for one
// pod or all pods when podID is empty.
func (rt *Runtime) ListDeferredNamespaces(podID string) []string {
	return rt.registry.Deferred(podID)
}

// LoadAndExposeNamespace force-loads a deferred namespace and merges it into
// the registry.
func (rt *Runtime) LoadAndExposeNamespace(podID, ns string) (Namespace, error) {
	p, ok := rt.Pod(podID)
	if !ok {
		return Namespace{}, fmt.Errorf("%w: %s", ErrPodNotFound, podID)
	}
	loaded, err := p.LoadNS(ns)
	if err != nil {
		return Namespace{}, err
	}
	if loaded.Name == "" {
		loaded.Name = ns
	}
	rt.registry.Expose(podID, loaded, rt.remoteFor(p))
	return loaded, nil
}

// Registry exposes the namespace registry, mainly for embedders resolving
// callables and code vars.
func (rt *Runtime) Registry() *registry.Registry {
	return rt.registry
}

// AddPatch layers a replacement over ns/var. Patches registered before a pod
// loads apply at exposure time; later ones re-wire in place. The patch
// receives the original remote callable.
func (rt *Runtime) AddPatch(nsVar string, fn registry.PatchFn) {
	rt.registry.AddPatch(nsVar, fn)
}

// SetEvalHostCode installs the capability used to evaluate describe-supplied
// reader sources at load time. Code vars are not passed to it: their source
// stays on registry.Var.Code with a nil Fn. The core never executes code
// itself.
func (rt *Runtime) SetEvalHostCode(fn func(source string) (any, error)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.evalCode = fn
}

// LoadPodsFromConfig reads a declarative pod list and loads each entry,
// honoring per-pod options. Selectors filter by declared name.
func (rt *Runtime) LoadPodsFromConfig(path string, selectors ...string) ([]*pod.Pod, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var loaded []*pod.Pod
	for _, pc := range cfg.Select(selectors...) {
		var opts []Option
		var spec any
		if pc.Version != "" {
			spec = pc.Name
			opts = append(opts, WithVersion(pc.Version))
		} else {
			spec = pc.Path
		}
		if pc.Cache != "" {
			opts = append(opts, WithCacheDir(pc.Cache))
		}
		if pc.Opts != nil {
			if pc.Opts.Transport == "socket" {
				opts = append(opts, WithSocketTransport())
			}
			if pc.Opts.Force {
				opts = append(opts, WithForce())
			}
		}
		p, err := rt.LoadPod(spec, opts...)
		if err != nil {
			return loaded, fmt.Errorf("load pod %s: %w", pc.Name, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// Shutdown unloads every live pod. Terminating signals trigger this
// automatically through the exit hook each LoadPod registers; call it
// explicitly on orderly exits, which Go gives no way to intercept.
func (rt *Runtime) Shutdown() {
	rt.mu.Lock()
	pods := make([]*pod.Pod, 0, len(rt.pods))
	for _, p := range rt.pods {
		pods = append(pods, p)
	}
	rt.pods = make(map[string]*pod.Pod)
	rt.mu.Unlock()

	unregisterExitHook(rt)

	var wg sync.WaitGroup
	for _, p := range pods {
		wg.Add(1)
		go func(p *pod.Pod) {
			defer wg.Done()
			rt.registry.RemovePod(p.ID)
			_ = p.Close()
		}(p)
	}
	wg.Wait()
}
