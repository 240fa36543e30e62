package log

import "testing"

func TestGetReturnsLogger(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get() returned nil logger")
	}
}

func TestSetupIsIdempotent(t *testing.T) {
	Setup("debug")
	first := Get()
	Setup("error")
	if Get() != first {
		t.Fatal("second Setup replaced the logger")
	}
}

func TestWithComponent(t *testing.T) {
	if WithComponent("dispatch") == nil {
		t.Fatal("WithComponent returned nil logger")
	}
}

func TestWithPod(t *testing.T) {
	if WithPod("pod.test-pod") == nil {
		t.Fatal("WithPod returned nil logger")
	}
}
