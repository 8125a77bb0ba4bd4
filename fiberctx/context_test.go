package fiberctx

import (
	"testing"
	"time"
)

func TestSwapRunsEntryExactlyOnce(t *testing.T) {
	main := InitCurrent()
	worker := New()

	var ran int
	done := make(chan struct{})
	worker.Init(func(arg any) {
		ran++
		n := arg.(int)
		if n != 42 {
			t.Errorf("arg = %d, want 42", n)
		}
		close(done)
		Swap(worker, main)
	}, 42)

	Swap(main, worker)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("entry never ran")
	}

	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
}

func TestSwapPingPong(t *testing.T) {
	main := InitCurrent()
	worker := New()

	var trace []string
	worker.Init(func(arg any) {
		trace = append(trace, "worker-1")
		Swap(worker, main)
		trace = append(trace, "worker-2")
		Swap(worker, main)
	}, nil)

	trace = append(trace, "main-1")
	Swap(main, worker)
	trace = append(trace, "main-2")
	Swap(main, worker)
	trace = append(trace, "main-3")

	want := []string{"main-1", "worker-1", "main-2", "worker-2", "main-3"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}
