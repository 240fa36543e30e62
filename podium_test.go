package podium

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/podium/internal/format"
	"github.com/mattjoyce/podium/internal/pod"
)

// stubPod registers a minimal handle so registration paths can be exercised
// without a child process.
func stubPod(rt *Runtime, id, formatName string) *pod.Pod {
	p := &pod.Pod{
		ID:       id,
		Format:   formatName,
		Handlers: format.NewHandlers(),
	}
	rt.mu.Lock()
	rt.pods[id] = p
	rt.mu.Unlock()
	return p
}

func TestHandlerRegistrationNoActivePod(t *testing.T) {
	rt := NewRuntime()
	err := rt.AddEDNReadHandler("person", func(rep any) (any, error) { return rep, nil })
	assert.ErrorIs(t, err, ErrNoActivePod)
}

func TestHandlerRegistrationWrongFormat(t *testing.T) {
	rt := NewRuntime()
	stubPod(rt, "pod.json", format.JSON)

	err := rt.AddEDNReadHandler("person", func(rep any) (any, error) { return rep, nil }, "pod.json")
	assert.ErrorIs(t, err, ErrWrongFormat)

	err = rt.AddTransitReadHandler("t", func(rep any) (any, error) { return rep, nil }, "pod.json")
	assert.ErrorIs(t, err, ErrWrongFormat)
}

func TestHandlerRegistrationExplicitPod(t *testing.T) {
	rt := NewRuntime()
	p := stubPod(rt, "pod.edn", format.EDN)

	require.NoError(t, rt.AddEDNReadHandler("person", func(rep any) (any, error) {
		return "handled", nil
	}, "pod.edn"))

	fn, ok := p.Handlers.Read("person")
	require.True(t, ok)
	got, err := fn(nil)
	require.NoError(t, err)
	assert.Equal(t, "handled", got)
}

func TestHandlerRegistrationUsesActiveFrame(t *testing.T) {
	rt := NewRuntime()
	p := stubPod(rt, "pod.edn", format.EDN)
	rt.mu.Lock()
	rt.active = append(rt.active, "pod.edn")
	rt.mu.Unlock()

	require.NoError(t, rt.AddEDNWriteHandler(struct{ X int }{}, func(v any) (string, any, error) {
		return "x", nil, nil
	}))
	_, ok := p.Handlers.WriteFor(struct{ X int }{X: 1})
	assert.True(t, ok)
}

func TestTransitDefaultWriteHandlerRegistration(t *testing.T) {
	rt := NewRuntime()
	p := stubPod(rt, "pod.transit", format.Transit)

	require.NoError(t, rt.SetDefaultTransitWriteHandler(func(v any) (string, any, error) {
		return "opaque", nil, nil
	}, "pod.transit"))
	_, ok := p.Handlers.DefaultWrite()
	assert.True(t, ok)
}

func TestHandlerRegistrationUnknownPod(t *testing.T) {
	rt := NewRuntime()
	err := rt.AddEDNReadHandler("t", func(rep any) (any, error) { return rep, nil }, "ghost")
	assert.ErrorIs(t, err, ErrPodNotFound)
}

func TestUnloadUnknownPod(t *testing.T) {
	rt := NewRuntime()
	assert.ErrorIs(t, rt.UnloadPod("ghost"), ErrPodNotFound)
}

func TestInvokeUnknownPod(t *testing.T) {
	rt := NewRuntime()
	_, err := rt.Invoke("ghost", "ns/var", nil)
	assert.ErrorIs(t, err, ErrPodNotFound)
}

func TestLoadPodRejectsUnknownSpecType(t *testing.T) {
	rt := NewRuntime()
	_, err := rt.LoadPod(42)
	assert.ErrorIs(t, err, ErrPodSpawn)
}

func TestPodsListing(t *testing.T) {
	rt := NewRuntime()
	stubPod(rt, "pod.a", format.EDN)
	stubPod(rt, "pod.b", format.JSON)
	assert.ElementsMatch(t, []string{"pod.a", "pod.b"}, rt.Pods())

	p, ok := rt.Pod("pod.a")
	require.True(t, ok)
	assert.Equal(t, "pod.a", p.ID)
}

func TestExitHookRegistration(t *testing.T) {
	rt := NewRuntime()
	registerExitHook(rt)

	exitHookMu.Lock()
	_, ok := exitHookRuntimes[rt]
	exitHookMu.Unlock()
	assert.True(t, ok, "runtime not tracked by exit hook")

	rt.Shutdown()
	exitHookMu.Lock()
	_, ok = exitHookRuntimes[rt]
	exitHookMu.Unlock()
	assert.False(t, ok, "runtime still tracked after Shutdown")
}

func TestPopActive(t *testing.T) {
	rt := NewRuntime()
	rt.active = []string{"a", "b", "a"}
	rt.popActive("a")
	assert.Equal(t, []string{"a", "b"}, rt.active)
	rt.popActive("b")
	assert.Equal(t, []string{"a"}, rt.active)
	rt.popActive("missing")
	assert.Equal(t, []string{"a"}, rt.active)
}
