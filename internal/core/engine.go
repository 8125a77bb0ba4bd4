// File: internal/core/engine.go
// Author: momentics <momentics@gmail.com>

package core

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/gomarl/affinity"
	"github.com/momentics/gomarl/alloc"
	"github.com/momentics/gomarl/errs"
	"github.com/momentics/gomarl/task"
)

const defaultStackSize = 1 << 20 // 1 MiB

// Options configures an Engine, the subset of gomarl.Config the core needs.
type Options struct {
	Workers   int
	Policy    affinity.Policy
	Init      func(workerID int)
	Allocator alloc.Allocator
	StackSize uint64
}

// Engine owns the worker pool and implements enqueue routing, the
// spinning-hint ring, and the bind/unbind registry of SingleThreaded
// workers keyed by goroutine id.
type Engine struct {
	workers []*Worker
	wg      sync.WaitGroup

	alloc     alloc.Allocator
	stackSize uint64

	nextEnqueue int64

	// spinningRing holds worker ids recently observed spinning for work.
	// Writers (markSpinning) claim slots round-robin via spinHead; readers
	// (takeSpinningHint) consume them with an atomic exchange so each hint
	// routes at most one task.
	spinningRing []int32
	spinHead     int64
	spinRead     int64

	policy affinity.Policy

	// stMu/stCond/stWorkers is the registry mapping goroutine id ->
	// SingleThreaded Worker for goroutines that bind themselves without
	// being part of the pooled MultiThreaded array. stCond wakes Destroy
	// once the registry empties.
	stMu      sync.Mutex
	stCond    *sync.Cond
	stWorkers map[uint64]*Worker

	// Owner holds whatever higher-level *gomarl.Scheduler wraps this
	// Engine, so package-level Schedule/Parallelize calls made from inside
	// a fiber (whose goroutine never ran Bind itself) can still find their
	// scheduler via CurrentWorker().Engine().Owner instead of the
	// goroutine-id bind registry, which only covers the binding goroutine.
	Owner any
}

// New builds and starts an Engine. Workers == 0 means single-threaded-only:
// no pooled workers are created, and every enqueue must come from a
// goroutine that has bound itself via BindCurrent. Init runs once on each
// pooled worker's goroutine before it begins serving work.
func New(opts Options) *Engine {
	n := opts.Workers
	if n < 0 {
		n = 0
	}
	a := opts.Allocator
	if a == nil {
		a = alloc.Default()
	}
	stackSize := opts.StackSize
	if stackSize == 0 {
		stackSize = defaultStackSize
	}
	e := &Engine{
		workers:      make([]*Worker, n),
		alloc:        a,
		stackSize:    stackSize,
		spinningRing: make([]int32, n),
		policy:       opts.Policy,
		stWorkers:    make(map[uint64]*Worker),
	}
	e.stCond = sync.NewCond(&e.stMu)
	for i := range e.spinningRing {
		e.spinningRing[i] = -1
	}
	e.wg.Add(n)
	for i := 0; i < n; i++ {
		var cores []int
		if !opts.Policy.Empty() {
			cores = opts.Policy.CoresForWorker(i)
		}
		w := newWorker(i, e, cores)
		e.workers[i] = w
		id := i
		w.start(&e.wg, func() {
			if opts.Init != nil {
				opts.Init(id)
			}
		})
	}
	logger().Info().Int("workers", n).Msg("engine started")
	return e
}

// NumWorkers returns the worker count.
func (e *Engine) NumWorkers() int { return len(e.workers) }

// Enqueue routes t to a worker:
// (1) a SameThread task goes to whatever worker (pooled or SingleThreaded)
// is bound to the calling goroutine; (2) otherwise, with pooled workers
// available, repeatedly pick a candidate (a spinning worker if the hint
// ring names one, else the next round-robin index) and try-lock its
// queue, retrying on contention, which biases load toward workers already
// awake and spinning; (3) otherwise (N == 0) the calling goroutine's own
// bound SingleThreaded worker, fatal if none.
func (e *Engine) Enqueue(t task.Task) {
	if t.Flags.Has(task.SameThread) {
		if w := CurrentWorker(); w != nil {
			w.enqueueTask(t)
			return
		}
		if w := e.currentSingleThreadedWorker(); w != nil {
			w.enqueueTask(t)
			return
		}
		errs.Misuse(errs.CodeInvalidArgument, "Engine.Enqueue",
			"SameThread task enqueued outside any fiber or bound thread")
	}

	if len(e.workers) == 0 {
		w := e.currentSingleThreadedWorker()
		if w == nil {
			errs.Misuse(errs.CodeInvalidArgument, "Engine.Enqueue",
				"no worker threads and no SingleThreaded worker bound to the calling goroutine")
		}
		w.enqueueTask(t)
		return
	}

	for {
		idx := e.takeSpinningHint()
		if idx < 0 {
			idx = int(atomic.AddInt64(&e.nextEnqueue, 1)-1) % len(e.workers)
		}
		if e.workers[idx].tryEnqueueTask(t) {
			return
		}
	}
}

// BindCurrent registers the calling goroutine as a SingleThreaded worker
// of this Engine: the worker's main context is adapted from the calling
// goroutine immediately, but its run loop isn't driven until
// UnbindCurrent drains it.
func (e *Engine) BindCurrent() *Worker {
	gid := goroutineID()
	e.stMu.Lock()
	defer e.stMu.Unlock()
	if _, exists := e.stWorkers[gid]; exists {
		errs.Misuse(errs.CodeAlreadyBound, "Engine.BindCurrent",
			"goroutine already has a bound SingleThreaded worker")
	}
	w := newWorker(-1, e, nil)
	w.mode = ModeSingleThreaded
	w.bindCurrent()
	e.stWorkers[gid] = w
	return w
}

// UnbindCurrent drains and unregisters the calling goroutine's
// SingleThreaded worker: it drives the worker's run loop to completion,
// synchronously, on the calling goroutine before returning, then wakes
// any Destroy waiting for the SingleThreaded registry to empty.
func (e *Engine) UnbindCurrent() {
	gid := goroutineID()
	e.stMu.Lock()
	w, exists := e.stWorkers[gid]
	e.stMu.Unlock()
	if !exists {
		errs.Misuse(errs.CodeNotBound, "Engine.UnbindCurrent",
			"goroutine has no bound SingleThreaded worker")
	}

	w.runUntilShutdown()

	e.stMu.Lock()
	delete(e.stWorkers, gid)
	if len(e.stWorkers) == 0 {
		e.stCond.Broadcast()
	}
	e.stMu.Unlock()
}

// currentSingleThreadedWorker looks up the SingleThreaded worker bound to
// the calling goroutine, or nil.
func (e *Engine) currentSingleThreadedWorker() *Worker {
	gid := goroutineID()
	e.stMu.Lock()
	defer e.stMu.Unlock()
	return e.stWorkers[gid]
}

// markSpinning records that worker id has begun spinning for work,
// claiming the next hint-ring slot round-robin. A SingleThreaded worker
// (id < 0) has no slot to claim.
func (e *Engine) markSpinning(id int) {
	n := len(e.spinningRing)
	if id < 0 || n == 0 {
		return
	}
	slot := int(atomic.AddInt64(&e.spinHead, 1)-1) % n
	atomic.StoreInt32(&e.spinningRing[slot], int32(id))
}

// markNotSpinning scrubs any hint slots still naming id, so a worker that
// found work (or went to sleep) stops attracting enqueues.
func (e *Engine) markNotSpinning(id int) {
	for i := range e.spinningRing {
		atomic.CompareAndSwapInt32(&e.spinningRing[i], int32(id), -1)
	}
}

// takeSpinningHint consumes one spinning-worker hint, if any, clearing the
// slot with an atomic exchange so every hint routes at most one task.
func (e *Engine) takeSpinningHint() int {
	n := len(e.spinningRing)
	for i := 0; i < n; i++ {
		slot := int(atomic.AddInt64(&e.spinRead, 1)-1) % n
		if v := atomic.SwapInt32(&e.spinningRing[slot], -1); v >= 0 {
			return int(v)
		}
	}
	return -1
}

// Worker returns pooled worker i.
func (e *Engine) Worker(i int) *Worker { return e.workers[i] }

// Destroy blocks until every SingleThreaded worker has unbound, then
// stops each MultiThreaded worker in reverse index order and waits for
// their goroutines to exit. A stopping worker first runs its queued tasks
// and waits for its blocked fibers to finish, so Destroy does not return
// while a fiber on a pooled worker is still blocked.
func (e *Engine) Destroy() {
	e.stMu.Lock()
	for len(e.stWorkers) > 0 {
		e.stCond.Wait()
	}
	e.stMu.Unlock()

	for i := len(e.workers) - 1; i >= 0; i-- {
		e.workers[i].stop()
	}
	e.wg.Wait()
	logger().Info().Msg("engine destroyed")
}
