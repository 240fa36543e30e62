package podium_test

import (
	"fmt"

	"github.com/mattjoyce/podium"
)

// Load a local pod binary, call one of its vars, and unload it.
func Example_loadAndInvoke() {
	p, err := podium.LoadPod("./pod-test-pod")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer podium.Shutdown()

	result, err := podium.Invoke(p.ID, "pod.test-pod/add-one", []any{41})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(result)
}

// Stream replies from an async var.
func Example_streaming() {
	p, err := podium.LoadPod("./pod-test-pod")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer podium.Shutdown()

	done := make(chan struct{})
	_, err = podium.Invoke(p.ID, "pod.test-pod/async-countdown", []any{3},
		podium.WithHandlers(&podium.Handlers{
			Success: func(v any) { fmt.Println(v) },
			Error:   func(err error) { fmt.Println("error:", err) },
			Done:    func() { close(done) },
		}))
	if err != nil {
		fmt.Println(err)
		return
	}
	<-done
}
