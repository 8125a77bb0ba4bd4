// File: internal/core/fiber.go
// Author: momentics <momentics@gmail.com>

package core

import (
	"sync/atomic"
	"time"

	"github.com/momentics/gomarl/alloc"
	"github.com/momentics/gomarl/fiberctx"
	"github.com/momentics/gomarl/task"
)

// State is a fiber's position in the scheduler's state machine. Exactly one
// fiber per Worker is ever StateRunning.
type State int32

const (
	StateIdle State = iota
	StateQueued
	StateRunning
	StateYielded
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateYielded:
		return "yielded"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// Fiber is one cooperative execution context belonging permanently to a
// single Worker. It never migrates: switchTo/resume always pair the
// same Worker's main context with this fiber's context.
type Fiber struct {
	id     uint64
	worker *Worker
	ctx    *fiberctx.Context
	stack  *alloc.Allocation
	state  int32 // State, accessed atomically since steal/suspend read it cross-goroutine

	task     task.Func
	stopping bool
}

// newFiber allocates a fiber bound to w and starts its backing goroutine,
// parked until the first switchTo. The stack allocation is bookkeeping
// against the engine's allocator; the Go runtime owns the goroutine's
// actual stack memory.
func newFiber(w *Worker, id uint64) *Fiber {
	f := &Fiber{
		id:     id,
		worker: w,
		ctx:    fiberctx.New(),
	}
	if a := w.engine.alloc; a != nil {
		f.stack = a.Allocate(uintptr(w.engine.stackSize), 16, alloc.TagFiberStack)
	}
	atomic.StoreInt32(&f.state, int32(StateIdle))
	f.ctx.Init(f.loop, nil)
	return f
}

// ID returns the fiber's worker-scoped identifier, stable for the
// fiber's whole lifetime.
func (f *Fiber) ID() uint64 { return f.id }

// Worker returns the Worker that owns this fiber.
func (f *Fiber) Worker() *Worker { return f.worker }

// State returns the fiber's current lifecycle state.
func (f *Fiber) State() State { return State(atomic.LoadInt32(&f.state)) }

func (f *Fiber) setState(s State) { atomic.StoreInt32(&f.state, int32(s)) }

// loop is the fiber's permanent body: register for goroutine-id lookup,
// then wait to be handed a task, run it, and yield back to the worker's
// main context, until the worker tears the fiber down.
func (f *Fiber) loop(_ any) {
	registerFiber(f)
	defer unregisterFiber()

	for !f.stopping {
		f.setState(StateRunning)
		t := f.task
		f.task = nil
		if t != nil {
			runGuarded(t)
		}
		f.worker.onFiberIdle(f)
		f.setState(StateIdle)
		fiberctx.Swap(f.ctx, f.worker.mainCtx)
	}
	fiberctx.Finish(f.ctx, f.worker.mainCtx)
}

// switchTo assigns t to the fiber and resumes it, blocking the calling
// (worker main) context until the fiber yields or finishes.
func (f *Fiber) switchTo(t task.Func) {
	f.task = t
	f.setState(StateQueued)
	fiberctx.Swap(f.worker.mainCtx, f.ctx)
}

// resume re-enters a previously suspended fiber without assigning new
// work; used when a waiting fiber becomes runnable again.
func (f *Fiber) resume() {
	fiberctx.Swap(f.worker.mainCtx, f.ctx)
}

// terminate resumes the fiber one last time with the stopping flag set, so
// its loop exits and its goroutine dies, then waits for the exit and
// releases the stack bookkeeping. Called only from the owner worker's
// teardown, when every fiber is parked idle.
func (f *Fiber) terminate() {
	f.stopping = true
	fiberctx.Swap(f.worker.mainCtx, f.ctx)
	f.ctx.Wait()
	if f.stack != nil {
		f.stack.Free()
	}
}

// ParkUntil records f as blocked on its worker (with a deadline, state
// Waiting; with the zero time, state Yielded and no timed wakeup), then
// suspends it. unlock runs after f is registered in the worker's wait
// index but before the switch away, so callers can release their own
// guard locks there: a Wake triggered by a post-unlock signal always finds
// f already registered, and unlock itself may safely call Wake (no worker
// lock is held by then).
func (f *Fiber) ParkUntil(deadline time.Time, unlock func()) {
	w := f.worker
	w.work.mu.Lock()
	if deadline.IsZero() {
		f.setState(StateYielded)
	} else {
		f.setState(StateWaiting)
	}
	w.work.numBlockedFibers++
	w.work.wait.add(f, deadline)
	w.work.mu.Unlock()
	if unlock != nil {
		unlock()
	}
	fiberctx.Swap(f.ctx, w.mainCtx)
	f.setState(StateRunning)
}

// Yield parks the fiber at the back of its worker's ready queue and gives
// other ready work a turn; it resumes once the worker cycles back to it.
func (f *Fiber) Yield() {
	f.worker.enqueueFiber(f)
	fiberctx.Swap(f.ctx, f.worker.mainCtx)
	f.setState(StateRunning)
}

// runGuarded recovers a panicking task so one bad callable never takes a
// worker thread down with it.
func runGuarded(t task.Func) {
	defer func() {
		if r := recover(); r != nil {
			logger().Error().Interface("panic", r).Msg("task panicked, recovered")
		}
	}()
	t()
}
