package gomarl

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/gomarl/dag"
	"github.com/momentics/gomarl/fsync"
	"github.com/momentics/gomarl/internal/core"
	"github.com/momentics/gomarl/task"
)

// TestFanOutAcrossWorkerPool submits 10000 tasks from the binding
// goroutine and records which worker each one ran on: the set of observed
// worker identities must be at most the pool size and must never include
// the submitting goroutine's own SingleThreaded worker (id -1).
func TestFanOutAcrossWorkerPool(t *testing.T) {
	s := New(DefaultConfig().WithWorkerThreadCount(8))
	defer s.Destroy()
	s.Bind()
	defer s.Unbind()

	const n = 10000
	wg := fsync.NewWaitGroup(n)
	var mu sync.Mutex
	workers := map[int]struct{}{}

	for i := 0; i < n; i++ {
		Schedule(task.New(func() {
			defer wg.Done()
			w := core.CurrentWorker()
			if w == nil {
				t.Error("no current worker inside task")
				return
			}
			mu.Lock()
			workers[w.ID()] = struct{}{}
			mu.Unlock()
		}))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tasks never drained")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(workers) == 0 || len(workers) > 8 {
		t.Fatalf("observed %d distinct workers, want between 1 and 8", len(workers))
	}
	if _, ok := workers[-1]; ok {
		t.Fatal("a plain task ran on the submitting goroutine's own worker")
	}
}

func TestWaitGroupUnderConcurrentAdd(t *testing.T) {
	s := New(DefaultConfig().WithWorkerThreadCount(4))
	defer s.Destroy()
	s.Bind()
	defer s.Unbind()

	wg := fsync.NewWaitGroup(0)
	wg.Add(1000)

	var count int64
	for i := 0; i < 1000; i++ {
		Schedule(task.New(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		}))
	}

	// Wait from inside a scheduled task, not the test's own goroutine, so
	// this exercises a real fiber suspending on the wait-group's Cond.
	done := make(chan struct{})
	Schedule(task.New(func() {
		wg.Wait()
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wait group never reached zero")
	}
	if atomic.LoadInt64(&count) != 1000 {
		t.Fatalf("count = %d, want 1000", count)
	}
}

func TestEventAnyAcrossThreeAutoEvents(t *testing.T) {
	for i := 0; i < 3; i++ {
		events := []*fsync.Event{
			fsync.NewEvent(fsync.Auto),
			fsync.NewEvent(fsync.Auto),
			fsync.NewEvent(fsync.Auto),
		}
		any := fsync.AnyOf(fsync.Auto, events...)
		events[i].Signal()
		if !any.IsSignalled() {
			t.Fatalf("AnyOf not signalled after events[%d].Signal()", i)
		}
	}
}

// TestDAGFanOutFanIn reproduces end-to-end scenario 4 exactly: A0,A1 <-
// (no parent); B <- {A0,A1}; C0,C1,C2 <- B; D <- {C0,C1,C2}. The recorded
// order must contain exactly these 7 tokens, with B in slot 2 (it cannot
// run before both A0 and A1 have) and D in the last slot (it cannot run
// before all three C nodes have).
func TestDAGFanOutFanIn(t *testing.T) {
	s := New(DefaultConfig().WithWorkerThreadCount(4))
	defer s.Destroy()
	s.Bind()
	defer s.Unbind()

	b := dag.NewBuilder()
	var mu sync.Mutex
	var order []string
	rec := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	a0 := b.Add(rec("A0"))
	a1 := b.Add(rec("A1"))
	bNode := b.Then(rec("B"), a0, a1)
	c0 := b.Then(rec("C0"), bNode)
	c1 := b.Then(rec("C1"), bNode)
	c2 := b.Then(rec("C2"), bNode)
	b.Then(rec("D"), c0, c1, c2)

	g := b.Build()

	done := make(chan struct{})
	go func() {
		g.Run(s.Schedule)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("graph never finished")
	}
	if len(order) != 7 {
		t.Fatalf("order = %v, want 7 entries", order)
	}
	if order[2] != "B" {
		t.Fatalf("order = %v, want order[2] == \"B\"", order)
	}
	if order[6] != "D" {
		t.Fatalf("order = %v, want order[6] == \"D\"", order)
	}
}

func TestWaitPredicateTimesOut(t *testing.T) {
	var m fsync.Mutex
	cond := fsync.NewCond(&m)

	m.Lock()
	start := time.Now()
	ok := cond.WaitPredicate(20*time.Millisecond, func() bool { return false })
	elapsed := time.Since(start)
	m.Unlock()

	if ok {
		t.Fatal("expected predicate wait to time out")
	}
	if elapsed < 20*time.Millisecond || elapsed > 100*time.Millisecond {
		t.Fatalf("elapsed = %v, want 20-100ms", elapsed)
	}
}

// TestManyFibersBlockOnWaitGroup suspends 1000 fibers on one wait group
// and releases them all from a single task calling Done in a loop: every
// waiter must observe the zero crossing exactly once.
func TestManyFibersBlockOnWaitGroup(t *testing.T) {
	s := New(DefaultConfig().WithWorkerThreadCount(8))
	defer s.Destroy()
	s.Bind()
	defer s.Unbind()

	const n = 1000
	wg := fsync.NewWaitGroup(n)

	var counter int64
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		Schedule(task.New(func() {
			wg.Wait()
			if atomic.AddInt64(&counter, 1) == n {
				close(done)
			}
		}))
	}

	Schedule(task.New(func() {
		for i := 0; i < n; i++ {
			wg.Done()
		}
	}))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("counter = %d, want %d", atomic.LoadInt64(&counter), n)
	}
}

// TestCondTimedWaitInsideFiber exercises the timed predicate wait from
// fiber context: the first bounded wait times out (pred still false, lock
// re-held), and a later one succeeds after another goroutine flips the
// predicate and signals.
func TestCondTimedWaitInsideFiber(t *testing.T) {
	s := New(DefaultConfig().WithWorkerThreadCount(2))
	defer s.Destroy()
	s.Bind()
	defer s.Unbind()

	var m fsync.Mutex
	cond := fsync.NewCond(&m)
	ready := false

	type result struct {
		first  bool
		second bool
	}
	res := make(chan result, 1)

	Schedule(task.New(func() {
		m.Lock()
		first := cond.WaitPredicate(20*time.Millisecond, func() bool { return ready })
		second := cond.WaitPredicate(time.Second, func() bool { return ready })
		m.Unlock()
		res <- result{first, second}
	}))

	time.Sleep(50 * time.Millisecond)
	m.Lock()
	ready = true
	m.Unlock()
	cond.Broadcast()

	select {
	case r := <-res:
		if r.first {
			t.Error("first bounded wait should have timed out before the predicate flipped")
		}
		if !r.second {
			t.Error("second wait should have observed the predicate")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fiber never returned from its waits")
	}
}

func TestBlockingCallRespectsFibers(t *testing.T) {
	s := New(DefaultConfig().WithWorkerThreadCount(4))
	defer s.Destroy()
	s.Bind()
	defer s.Unbind()

	var m fsync.Mutex
	const n = 100
	var count int64
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		Schedule(task.New(func() {
			BlockingCall(func() {
				time.Sleep(time.Millisecond)
			})
			m.Lock()
			count++
			if count == n {
				close(done)
			}
			m.Unlock()
		}))
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("ran %d/%d", atomic.LoadInt64(&count), n)
	}
}

func TestParallelizeRunsAllAndWaits(t *testing.T) {
	s := New(DefaultConfig().WithWorkerThreadCount(4))
	defer s.Destroy()
	s.Bind()
	defer s.Unbind()

	var count int32
	Schedule(task.New(func() {
		Parallelize(
			func() { atomic.AddInt32(&count, 1) },
			func() { atomic.AddInt32(&count, 1) },
			func() { atomic.AddInt32(&count, 1) },
		)
		if atomic.LoadInt32(&count) != 3 {
			t.Errorf("count = %d, want 3", count)
		}
	}))

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&count) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&count) != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

// TestSingleThreadedOnlySchedulerDrainsOnUnbind covers the worker-count-0
// construct path: no pooled workers exist, so scheduled tasks sit queued
// until Bind's calling goroutine calls Unbind, which drives the
// SingleThreaded worker's run loop to completion.
func TestSingleThreadedOnlySchedulerDrainsOnUnbind(t *testing.T) {
	s := New(DefaultConfig().WithWorkerThreadCount(0))
	defer s.Destroy()

	done := make(chan struct{})
	go func() {
		s.Bind()

		const n = 50
		var count int64
		for i := 0; i < n; i++ {
			Schedule(task.New(func() {
				atomic.AddInt64(&count, 1)
			}))
		}

		if got := atomic.LoadInt64(&count); got != 0 {
			t.Errorf("count = %d before Unbind, want 0", got)
		}

		s.Unbind()

		if got := atomic.LoadInt64(&count); got != n {
			t.Errorf("count = %d after Unbind, want %d", got, n)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("single-threaded-only scheduler never drained")
	}
}
