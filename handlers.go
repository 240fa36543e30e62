package podium

import (
	"fmt"

	"github.com/mattjoyce/podium/internal/format"
	"github.com/mattjoyce/podium/internal/pod"
)

// currentPod resolves the registration target: the explicit pod id if given,
// otherwise the innermost active-pod frame.
func (rt *Runtime) currentPod(podID []string) (*pod.Pod, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	id := ""
	if len(podID) > 0 && podID[0] != "" {
		id = podID[0]
	} else if len(rt.active) > 0 {
		id = rt.active[len(rt.active)-1]
	}
	if id == "" {
		return nil, ErrNoActivePod
	}
	p, ok := rt.pods[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPodNotFound, id)
	}
	return p, nil
}

func (rt *Runtime) handlerTarget(formatName string, podID []string) (*pod.Pod, error) {
	p, err := rt.currentPod(podID)
	if err != nil {
		return nil, err
	}
	if p.Format != formatName {
		return nil, fmt.Errorf("%w: pod %s negotiated %s", ErrWrongFormat, p.ID, p.Format)
	}
	return p, nil
}

// AddEDNReadHandler registers a reader for #tag values on the current (or
// explicitly named) edn pod. Runtime registrations shadow describe-supplied
// readers for the same tag.
func (rt *Runtime) AddEDNReadHandler(tag string, fn ReadHandler, podID ...string) error {
	p, err := rt.handlerTarget(format.EDN, podID)
	if err != nil {
		return err
	}
	p.Handlers.SetRead(tag, fn)
	return nil
}

// AddEDNWriteHandler registers a writer for the host type of sample on the
// current edn pod.
func (rt *Runtime) AddEDNWriteHandler(sample any, fn WriteHandler, podID ...string) error {
	p, err := rt.handlerTarget(format.EDN, podID)
	if err != nil {
		return err
	}
	p.Handlers.SetWrite(sample, fn)
	return nil
}

// AddTransitReadHandler registers a reader for a transit tag on the current
// transit pod.
func (rt *Runtime) AddTransitReadHandler(tag string, fn ReadHandler, podID ...string) error {
	p, err := rt.handlerTarget(format.Transit, podID)
	if err != nil {
		return err
	}
	p.Handlers.SetRead(tag, fn)
	return nil
}

// AddTransitWriteHandler registers a writer for the host type of sample on
// the current transit pod.
func (rt *Runtime) AddTransitWriteHandler(sample any, fn WriteHandler, podID ...string) error {
	p, err := rt.handlerTarget(format.Transit, podID)
	if err != nil {
		return err
	}
	p.Handlers.SetWrite(sample, fn)
	return nil
}

// SetDefaultTransitWriteHandler installs the fallback writer for otherwise
// unrepresentable host types on the current transit pod.
func (rt *Runtime) SetDefaultTransitWriteHandler(fn WriteHandler, podID ...string) error {
	p, err := rt.handlerTarget(format.Transit, podID)
	if err != nil {
		return err
	}
	p.Handlers.SetDefaultWrite(fn)
	return nil
}
