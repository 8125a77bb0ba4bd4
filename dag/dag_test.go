package dag

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/gomarl/task"
)

// directEnqueue runs tasks inline on fresh goroutines, standing in for a
// real scheduler in these unit tests.
func directEnqueue(t task.Task) { go t.Callable() }

func TestGraphRunsInDependencyOrder(t *testing.T) {
	b := NewBuilder()

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	root := b.Add(record("root"))
	a := b.Then(record("a"), root)
	bNode := b.Then(record("b"), root)
	c := b.Then(record("c"), root)
	fanin := b.Then(record("fanin"), a, bNode, c)
	e := b.Then(record("e"), fanin)
	f := b.Then(record("f"), fanin)
	_ = e
	_ = f
	final := b.Then(record("final"), e, f)
	_ = final

	g := b.Build()

	done := make(chan struct{})
	go func() {
		g.Run(directEnqueue)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("graph never finished")
	}

	if len(order) != 8 {
		t.Fatalf("order = %v, want 8 entries", order)
	}
	if order[0] != "root" {
		t.Fatalf("first node run = %q, want root", order[0])
	}
	if order[len(order)-1] != "final" {
		t.Fatalf("last node run = %q, want final", order[len(order)-1])
	}
	indexOf := func(name string) int {
		for i, n := range order {
			if n == name {
				return i
			}
		}
		return -1
	}
	if indexOf("fanin") < indexOf("a") || indexOf("fanin") < indexOf("b") || indexOf("fanin") < indexOf("c") {
		t.Fatalf("fanin ran before one of its dependencies: %v", order)
	}
	if indexOf("final") < indexOf("e") || indexOf("final") < indexOf("f") {
		t.Fatalf("final ran before one of its dependencies: %v", order)
	}
}

func TestSequenceRunsInChainOrder(t *testing.T) {
	b := NewBuilder()

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	ids := b.Sequence([]func(){record("a"), record("b"), record("c")})
	if len(ids) != 3 {
		t.Fatalf("Sequence returned %d ids, want 3", len(ids))
	}

	g := b.Build()

	done := make(chan struct{})
	go func() {
		g.Run(directEnqueue)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sequence never finished")
	}

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Build to panic on a cyclic graph")
		}
	}()

	b := NewBuilder()
	n0 := b.Add(func() {})
	n1 := b.Add(func() {})
	b.AddDependency(n0, n1)
	b.AddDependency(n1, n0)
	b.Build()
}

func TestBuildRejectsSelfDependency(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Build to panic on a self-dependency")
		}
	}()

	b := NewBuilder()
	n0 := b.Add(func() {})
	b.AddDependency(n0, n0)
	b.Build()
}

func TestEmptyGraphRunsImmediately(t *testing.T) {
	g := NewBuilder().Build()
	done := make(chan struct{})
	var ran int32
	go func() {
		g.Run(func(tk task.Task) {
			atomic.AddInt32(&ran, 1)
			tk.Callable()
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("empty graph never returned")
	}
	if ran != 0 {
		t.Fatalf("ran = %d tasks, want 0", ran)
	}
}
