package podium

import (
	"context"

	"github.com/mattjoyce/podium/internal/api"
	"github.com/mattjoyce/podium/internal/log"
)

// statusHost adapts a Runtime to the status API.
type statusHost struct {
	rt *Runtime
}

func (h statusHost) Pods() []api.PodInfo {
	var out []api.PodInfo
	for _, id := range h.rt.Pods() {
		p, ok := h.rt.Pod(id)
		if !ok {
			continue
		}
		info := api.PodInfo{ID: p.ID, Format: p.Format}
		for _, ns := range p.Namespaces {
			info.Namespaces = append(info.Namespaces, ns.Name)
		}
		out = append(out, info)
	}
	return out
}

func (h statusHost) Modules() []api.ModuleInfo {
	var out []api.ModuleInfo
	for _, m := range h.rt.ListPodModules() {
		out = append(out, api.ModuleInfo{Namespace: m.Namespace, PodID: m.PodID})
	}
	return out
}

func (h statusHost) Deferred(podID string) []string {
	return h.rt.ListDeferredNamespaces(podID)
}

func (h statusHost) Unload(podID string) error {
	return h.rt.UnloadPod(podID)
}

// ServeStatusAPI runs the HTTP status surface until ctx is cancelled.
func (rt *Runtime) ServeStatusAPI(ctx context.Context, listen, apiKey string) error {
	srv := api.New(api.Config{Listen: listen, APIKey: apiKey}, statusHost{rt: rt}, log.WithComponent("api"))
	return srv.Start(ctx)
}
