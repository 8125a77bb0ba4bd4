// File: scheduler.go
// Author: momentics <momentics@gmail.com>

package gomarl

import (
	"sync"

	"github.com/momentics/gomarl/errs"
	"github.com/momentics/gomarl/internal/core"
	"github.com/momentics/gomarl/task"
)

// Scheduler owns a fixed pool of worker threads and the fibers multiplexed
// across them. The zero value is not usable; build one with New.
type Scheduler struct {
	engine *core.Engine
}

// New constructs and starts a Scheduler per cfg. Workers begin running
// immediately; call Bind before scheduling work from a particular
// goroutine, and Destroy once every scheduled task has completed.
func New(cfg Config) *Scheduler {
	e := core.New(core.Options{
		Workers:   cfg.WorkerThreadCount,
		Policy:    cfg.AffinityPolicy,
		Init:      cfg.WorkerInit,
		Allocator: cfg.Allocator,
		StackSize: cfg.FiberStackSize,
	})
	s := &Scheduler{engine: e}
	e.Owner = s
	return s
}

// NumWorkers reports the number of worker threads backing s.
func (s *Scheduler) NumWorkers() int { return s.engine.NumWorkers() }

// Schedule enqueues t for eventual execution on one of s's workers.
func (s *Scheduler) Schedule(t task.Task) { s.engine.Enqueue(t) }

// ScheduleFunc wraps f in a task.Task with no flags and schedules it.
func (s *Scheduler) ScheduleFunc(f func()) { s.Schedule(task.New(f)) }

// Destroy stops every worker thread and waits for them to exit. Each
// worker runs its remaining queued tasks and waits for its blocked fibers
// before it exits.
func (s *Scheduler) Destroy() { s.engine.Destroy() }

var (
	boundMu sync.Mutex
	bound   = map[uint64]*Scheduler{}
)

// Bind associates s with the calling goroutine so package-level Schedule
// and Parallelize calls route to it, and registers the goroutine as a
// SingleThreaded worker of s's engine. Panics via errs.Misuse if the
// calling goroutine already has a bound scheduler.
func (s *Scheduler) Bind() {
	id := core.GoroutineID()
	boundMu.Lock()
	if _, exists := bound[id]; exists {
		boundMu.Unlock()
		errs.Misuse(errs.CodeAlreadyBound, "Scheduler.Bind", "goroutine already has a bound scheduler")
	}
	bound[id] = s
	boundMu.Unlock()

	s.engine.BindCurrent()
}

// Unbind removes the association set up by Bind and drains the calling
// goroutine's SingleThreaded worker: it blocks until every task and
// SameThread-waiting fiber routed to that worker has finished. Panics via
// errs.Misuse if the calling goroutine has no bound scheduler, or has a
// different one bound.
func (s *Scheduler) Unbind() {
	id := core.GoroutineID()
	boundMu.Lock()
	cur, exists := bound[id]
	if !exists {
		boundMu.Unlock()
		errs.Misuse(errs.CodeNotBound, "Scheduler.Unbind", "goroutine has no bound scheduler")
	}
	if cur != s {
		boundMu.Unlock()
		errs.Misuse(errs.CodeInvalidArgument, "Scheduler.Unbind", "goroutine is bound to a different scheduler")
	}
	delete(bound, id)
	boundMu.Unlock()

	s.engine.UnbindCurrent()
}

// Current returns the Scheduler driving the calling fiber, if any;
// otherwise the Scheduler bound to the calling goroutine via Bind, if any;
// otherwise nil. The fiber case covers code running inside a task, whose
// goroutine is never the one that called Bind.
func Current() *Scheduler {
	if w := core.CurrentWorker(); w != nil {
		if s, ok := w.Engine().Owner.(*Scheduler); ok {
			return s
		}
	}
	id := core.GoroutineID()
	boundMu.Lock()
	defer boundMu.Unlock()
	return bound[id]
}

// Schedule enqueues t on the calling goroutine's bound scheduler. Panics
// via errs.Misuse if no scheduler is bound.
func Schedule(t task.Task) {
	s := mustCurrent("Schedule")
	s.Schedule(t)
}

// ScheduleFunc is Schedule for a plain func() with no routing flags.
func ScheduleFunc(f func()) { Schedule(task.New(f)) }

func mustCurrent(op string) *Scheduler {
	s := Current()
	if s == nil {
		errs.Misuse(errs.CodeNotBound, op, "no scheduler bound to the calling goroutine")
	}
	return s
}
