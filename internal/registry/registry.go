// Package registry maps described pod namespaces onto host-side callables.
// Vars are exposed under both their verbatim name and an underscore alias;
// deferred namespaces are tracked per pod until explicitly loaded.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mattjoyce/podium/internal/pod"
)

// InvokeFn is the callable form of an exposed var.
type InvokeFn func(args []any, opts pod.InvokeOptions) (any, error)

// RemoteFn dispatches a fully qualified var symbol to a pod.
type RemoteFn func(symbol string, args []any, opts pod.InvokeOptions) (any, error)

// PatchFn replaces a remote var. It receives the original remote callable and
// may delegate to it.
type PatchFn func(original InvokeFn, args []any, opts pod.InvokeOptions) (any, error)

// Var is one exposed operation.
type Var struct {
	Name      string
	Namespace string
	PodID     string
	Doc       string
	Async     bool
	ArgMeta   bool

	// Code is the host-dialect source of a host-evaluated var. Fn is nil
	// until the embedder evaluates it.
	Code string

	Fn InvokeFn
}

// Module is an exposed namespace.
type Module struct {
	Name  string
	PodID string
	vars  map[string]*Var
	order []string
}

// Var returns the var registered under name (verbatim or alias).
func (m *Module) Var(name string) (*Var, bool) {
	v, ok := m.vars[name]
	return v, ok
}

// VarNames returns the verbatim var names in description order.
func (m *Module) VarNames() []string {
	return append([]string(nil), m.order...)
}

// ModuleInfo identifies an exposed namespace and its originating pod.
type ModuleInfo struct {
	Namespace string
	PodID     string
}

// Registry is the host-wide namespace mapping, guarded by a single mutex.
type Registry struct {
	mu       sync.Mutex
	modules  map[string]*Module
	deferred map[string]map[string]bool // pod id -> ns name -> loaded
	patches  map[string]PatchFn         // "ns/var" -> patch
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		modules:  make(map[string]*Module),
		deferred: make(map[string]map[string]bool),
		patches:  make(map[string]PatchFn),
	}
}

// AddPatch installs a replacement for ns/var. Patches apply at exposure time;
// installing one after exposure re-wires the var in place.
func (r *Registry) AddPatch(nsVar string, fn PatchFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches[nsVar] = fn
	ns, name, ok := strings.Cut(nsVar, "/")
	if !ok {
		return
	}
	if m, exists := r.modules[ns]; exists {
		if v, exists := m.vars[name]; exists && v.Fn != nil {
			original := v.Fn
			v.Fn = func(args []any, opts pod.InvokeOptions) (any, error) {
				return fn(original, args, opts)
			}
		}
	}
}

// Expose registers a namespace's vars as callables. Remote vars call invoke
// with the fully qualified symbol; code vars are stored for host evaluation.
// Patches registered for this namespace are applied before exposure.
func (r *Registry) Expose(podID string, ns pod.Namespace, invoke RemoteFn) *Module {
	qualify := func(ns, name string) string { return ns + "/" + name }

	r.mu.Lock()
	defer r.mu.Unlock()

	m := &Module{
		Name:  ns.Name,
		PodID: podID,
		vars:  make(map[string]*Var),
	}
	for _, vd := range ns.Vars {
		v := &Var{
			Name:      vd.Name,
			Namespace: ns.Name,
			PodID:     podID,
			Doc:       vd.Doc,
			Async:     vd.Async,
			ArgMeta:   vd.ArgMeta,
			Code:      vd.Code,
		}
		if vd.Code == "" {
			symbol := qualify(ns.Name, vd.Name)
			remote := InvokeFn(func(args []any, opts pod.InvokeOptions) (any, error) {
				return invoke(symbol, args, opts)
			})
			if patch, ok := r.patches[ns.Name+"/"+vd.Name]; ok {
				v.Fn = func(args []any, opts pod.InvokeOptions) (any, error) {
					return patch(remote, args, opts)
				}
			} else {
				v.Fn = remote
			}
		}
		m.vars[vd.Name] = v
		m.order = append(m.order, vd.Name)
		if alias := HostAlias(vd.Name); alias != vd.Name {
			m.vars[alias] = v
		}
	}

	r.modules[ns.Name] = m
	if pods, ok := r.deferred[podID]; ok {
		if _, wasDeferred := pods[ns.Name]; wasDeferred {
			pods[ns.Name] = true
		}
	}
	return m
}

// HostAlias converts a var or namespace name to the host identifier style.
func HostAlias(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "-", "_"), ".", "_")
}

// MarkDeferred records a namespace declared at describe time but not loaded.
func (r *Registry) MarkDeferred(podID, ns string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deferred[podID] == nil {
		r.deferred[podID] = make(map[string]bool)
	}
	if _, exists := r.deferred[podID][ns]; !exists {
		r.deferred[podID][ns] = false
	}
}

// Deferred lists deferred namespaces for one pod (or all pods when podID is
// empty) that have not been loaded yet.
func (r *Registry) Deferred(podID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for pid, pods := range r.deferred {
		if podID != "" && pid != podID {
			continue
		}
		for ns, loaded := range pods {
			if !loaded {
				out = append(out, ns)
			}
		}
	}
	sort.Strings(out)
	return out
}

// IsDeferred reports whether ns is declared deferred for podID and still
// unloaded.
func (r *Registry) IsDeferred(podID, ns string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	loaded, ok := r.deferred[podID][ns]
	return ok && !loaded
}

// Module returns the exposed namespace by name.
func (r *Registry) Module(ns string) (*Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[ns]
	return m, ok
}

// Lookup resolves ns/var to its callable descriptor.
func (r *Registry) Lookup(ns, name string) (*Var, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[ns]
	if !ok {
		return nil, fmt.Errorf("namespace %q is not exposed", ns)
	}
	v, ok := m.vars[name]
	if !ok {
		return nil, fmt.Errorf("var %q not found in namespace %q", name, ns)
	}
	return v, nil
}

// List enumerates exposed namespaces and their originating pods.
func (r *Registry) List() []ModuleInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ModuleInfo, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, ModuleInfo{Namespace: m.Name, PodID: m.PodID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out
}

// RemovePod drops every namespace and deferred record belonging to podID.
func (r *Registry) RemovePod(podID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, m := range r.modules {
		if m.PodID == podID {
			delete(r.modules, name)
		}
	}
	delete(r.deferred, podID)
}
