// File: internal/core/worker.go
// Author: momentics <momentics@gmail.com>

package core

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/gomarl/affinity"
	"github.com/momentics/gomarl/fiberctx"
	"github.com/momentics/gomarl/task"
	"golang.org/x/sys/cpu"
)

const (
	spinDuration = time.Millisecond
	relaxBurst   = 32
)

// Mode distinguishes a pooled worker, started and driven on its own
// goroutine at construct time, from a SingleThreaded worker, which is
// bound to (and driven on) a caller's own goroutine between Bind/Unbind.
type Mode int

const (
	ModeMultiThreaded Mode = iota
	ModeSingleThreaded
)

// work is the per-worker state guarded by a single mutex: a task FIFO, a
// ready-fiber FIFO, and the waiting-fiber deadline index, all behind one
// lock plus a condition variable used to wake an idle worker when
// something arrives.
// num mirrors tasks.len + ready.len atomically so steal and spin can check
// for work without taking the lock.
type work struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    *taskQueue
	ready    *fiberQueue
	wait     *deadlineIndex
	num      int64
	shutdown bool

	numBlockedFibers int
}

func newWork() *work {
	w := &work{
		tasks: newTaskQueue(),
		ready: newFiberQueue(),
		wait:  newDeadlineIndex(),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// The push/pop helpers below assume mu is held; they keep num in sync with
// the two queue lengths.

func (w *work) pushTask(t task.Task) {
	w.tasks.push(t)
	atomic.AddInt64(&w.num, 1)
}

func (w *work) popTask() (task.Task, bool) {
	t, ok := w.tasks.pop()
	if ok {
		atomic.AddInt64(&w.num, -1)
	}
	return t, ok
}

func (w *work) pushReady(f *Fiber) {
	w.ready.push(f)
	atomic.AddInt64(&w.num, 1)
}

func (w *work) popReady() (*Fiber, bool) {
	f, ok := w.ready.pop()
	if ok {
		atomic.AddInt64(&w.num, -1)
	}
	return f, ok
}

// Worker drains one Work record, running fibers to completion or
// suspension, one at a time, on a single goroutine it fully owns. Fibers
// created by this Worker never run on another Worker.
type Worker struct {
	id      int
	mode    Mode
	engine  *Engine
	mainCtx *fiberctx.Context

	work *work

	fibers      []*Fiber // ownership of every fiber ever spawned here
	idleFibers  []*Fiber
	nextFiberID uint64

	current atomic.Pointer[Fiber]

	rng   *fastRnd
	cores []int
}

func newWorker(id int, e *Engine, cores []int) *Worker {
	w := &Worker{
		id:     id,
		engine: e,
		work:   newWork(),
		rng:    newFastRnd(uint32(id)*2654435761 + 1),
		cores:  cores,
	}
	return w
}

// start pins (best-effort) and runs the worker loop on a dedicated
// goroutine. start returns at once; the goroutine calls wg.Done once the
// loop has exited after stop.
func (w *Worker) start(wg *sync.WaitGroup, init func()) {
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if len(w.cores) == 1 {
			if err := affinity.Pin(w.cores[0]); err != nil {
				logger().Warn().Err(err).Int("worker", w.id).Msg("pin failed")
			}
		} else if len(w.cores) > 1 {
			if err := affinity.PinSet(w.cores); err != nil {
				logger().Warn().Err(err).Int("worker", w.id).Msg("pin failed")
			}
		}
		if init != nil {
			init()
		}

		w.mainCtx = fiberctx.InitCurrent()
		logger().Debug().Int("worker", w.id).Msg("worker started")
		w.loop()
		logger().Debug().Int("worker", w.id).Msg("worker stopped")
	}()
}

// bindCurrent adapts the calling goroutine into this SingleThreaded
// worker's main context and returns without running the loop: the
// goroutine that bound the worker keeps running its own code, and only
// drives the run loop later, synchronously, via runUntilShutdown.
func (w *Worker) bindCurrent() {
	w.mainCtx = fiberctx.InitCurrent()
	logger().Debug().Int("worker", w.id).Msg("single-threaded worker bound")
}

// runUntilShutdown marks the worker for shutdown and drives its run loop
// to completion on the calling goroutine, draining every queued task and
// blocked fiber. Must be called from the same goroutine that called
// bindCurrent.
func (w *Worker) runUntilShutdown() {
	w.stop()
	w.loop()
}

// enqueueTask adds t to this worker's task FIFO and wakes it if idle.
func (w *Worker) enqueueTask(t task.Task) {
	w.work.mu.Lock()
	w.work.pushTask(t)
	w.work.cond.Signal()
	w.work.mu.Unlock()
}

// tryEnqueueTask is enqueueTask with a non-blocking lock attempt, used by
// Engine.Enqueue's routing loop so a submitter skips workers whose lock is
// contended instead of stalling on them.
func (w *Worker) tryEnqueueTask(t task.Task) bool {
	if !w.work.mu.TryLock() {
		return false
	}
	w.work.pushTask(t)
	w.work.cond.Signal()
	w.work.mu.Unlock()
	return true
}

// enqueueFiber marks f runnable again on this worker (its own worker) and
// wakes the loop if it's idle.
func (w *Worker) enqueueFiber(f *Fiber) {
	w.work.mu.Lock()
	f.setState(StateQueued)
	w.work.pushReady(f)
	w.work.cond.Signal()
	w.work.mu.Unlock()
}

// Wake removes f from the deadline index (if still waiting) and requeues
// it as ready. Safe to call from any goroutine, and a no-op if f already
// woke on its own: that's what makes cross-worker notify race-free.
func (w *Worker) Wake(f *Fiber) {
	w.work.mu.Lock()
	if w.work.wait.remove(f) {
		w.work.numBlockedFibers--
		f.setState(StateQueued)
		w.work.pushReady(f)
		w.work.cond.Signal()
	}
	w.work.mu.Unlock()
}

// tryStealTask attempts a non-blocking take of the victim's queue head for
// a thief worker. Only the head is considered, so the victim's FIFO order
// survives the steal; a SameThread head blocks stealing entirely. The
// lock-free num check rejects an empty victim before touching its mutex.
func (w *Worker) tryStealTask() (task.Task, bool) {
	if atomic.LoadInt64(&w.work.num) == 0 {
		return task.Task{}, false
	}
	if !w.work.mu.TryLock() {
		return task.Task{}, false
	}
	defer w.work.mu.Unlock()
	head, ok := w.work.tasks.peek()
	if !ok || head.Flags.Has(task.SameThread) {
		return task.Task{}, false
	}
	w.work.popTask()
	return head, true
}

// onFiberIdle returns a fiber to the idle pool once its task completes.
// Called from inside the fiber's own goroutine (see fiber.go loop), so it
// must not touch w.idleFibers without the work lock: the main loop also
// reads it when handing out fibers.
func (w *Worker) onFiberIdle(f *Fiber) {
	w.work.mu.Lock()
	w.idleFibers = append(w.idleFibers, f)
	w.work.mu.Unlock()
}

// acquireFiber reuses an idle fiber or spawns a fresh one. Caller holds
// the work mutex.
func (w *Worker) acquireFiber() *Fiber {
	n := len(w.idleFibers)
	if n == 0 {
		w.nextFiberID++
		f := newFiber(w, w.nextFiberID)
		w.fibers = append(w.fibers, f)
		return f
	}
	f := w.idleFibers[n-1]
	w.idleFibers = w.idleFibers[:n-1]
	return f
}

// loop is the worker's main dispatch cycle: run a task on a fiber, resume
// a ready fiber, reap expired deadlines, or steal/spin when idle. It exits
// only once shutdown has been requested AND the worker is fully drained:
// no queued tasks, no ready fibers, no fibers still blocked. For a
// MultiThreaded worker this runs on the goroutine start() spawned; for a
// SingleThreaded worker it runs synchronously on the binding goroutine,
// invoked from runUntilShutdown. On exit the worker's fibers are torn down
// and their stacks released.
func (w *Worker) loop() {
	for {
		w.work.mu.Lock()

		if w.work.shutdown && atomic.LoadInt64(&w.work.num) == 0 && w.work.numBlockedFibers == 0 {
			w.work.mu.Unlock()
			w.teardownFibers()
			return
		}

		if f, ok := w.work.popReady(); ok {
			w.work.mu.Unlock()
			w.resumeFiber(f)
			continue
		}

		if t, ok := w.work.popTask(); ok {
			f := w.acquireFiber()
			w.work.mu.Unlock()
			w.runFiber(f, t.Callable)
			continue
		}

		expired := w.work.wait.popExpired(timeNow())
		if len(expired) > 0 {
			for _, f := range expired {
				w.work.numBlockedFibers--
				f.setState(StateQueued)
			}
			w.work.mu.Unlock()
			for _, f := range expired {
				w.resumeFiber(f)
			}
			continue
		}

		w.work.mu.Unlock()

		if w.spinForWork() {
			continue
		}

		w.parkUntilWork()
	}
}

// spinForWork busy-waits for up to spinDuration hoping new work lands
// without paying a full park/wake round trip, attempting one random-victim
// steal per outer iteration. MultiThreaded workers only: a SingleThreaded
// worker has no siblings to steal from and no reason to burn its host
// goroutine. While spinning, the worker advertises itself in the engine's
// spinning-hint ring so enqueuers route work here first.
func (w *Worker) spinForWork() bool {
	if w.mode != ModeMultiThreaded {
		return false
	}
	w.engine.markSpinning(w.id)
	defer w.engine.markNotSpinning(w.id)

	deadlineAt := timeNow().Add(spinDuration)
	for timeNow().Before(deadlineAt) {
		for i := 0; i < relaxBurst; i++ {
			if cpu.X86.HasSSE2 {
				runtime.Gosched()
			} else {
				time.Sleep(time.Microsecond)
			}
		}
		if atomic.LoadInt64(&w.work.num) > 0 {
			return true
		}
		if w.stealOnce() {
			return true
		}
	}
	return false
}

// stealOnce picks one random sibling and tries to take the head of its
// task queue; a stolen task runs immediately on this worker.
func (w *Worker) stealOnce() bool {
	siblings := w.engine.workers
	if len(siblings) <= 1 {
		return false
	}
	victim := siblings[w.rng.intn(len(siblings))]
	if victim == w {
		return false
	}
	t, ok := victim.tryStealTask()
	if !ok {
		return false
	}
	w.work.mu.Lock()
	f := w.acquireFiber()
	w.work.mu.Unlock()
	w.runFiber(f, t.Callable)
	return true
}

// parkUntilWork blocks the worker goroutine on its condition variable
// until Signal/Broadcast fires: a new task/fiber lands, the worker is
// stopped, or a timer fires because a waiting fiber's deadline is near.
func (w *Worker) parkUntilWork() {
	w.work.mu.Lock()
	defer w.work.mu.Unlock()

	var timer *time.Timer
	if deadline, ok := w.work.wait.nextDeadline(); ok {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		timer = time.AfterFunc(d, func() {
			w.work.mu.Lock()
			w.work.cond.Broadcast()
			w.work.mu.Unlock()
		})
	}

	// Sleep while there is nothing runnable. Once shutdown is requested the
	// worker only sleeps if fibers are still blocked (their Wake signals the
	// cond); otherwise it falls through so the loop can observe the drained
	// state and exit.
	if atomic.LoadInt64(&w.work.num) == 0 && (!w.work.shutdown || w.work.numBlockedFibers > 0) {
		w.work.cond.Wait()
	}
	if timer != nil {
		timer.Stop()
	}
}

func (w *Worker) runFiber(f *Fiber, t task.Func) {
	w.current.Store(f)
	f.switchTo(t)
	w.current.Store(nil)
}

func (w *Worker) resumeFiber(f *Fiber) {
	w.current.Store(f)
	f.resume()
	w.current.Store(nil)
}

// teardownFibers retires every fiber this worker ever spawned. By the time
// the loop exits, all of them are parked idle, so each can be resumed one
// final time to let its goroutine unwind and its stack bookkeeping free.
func (w *Worker) teardownFibers() {
	for _, f := range w.fibers {
		w.current.Store(f)
		f.terminate()
		w.current.Store(nil)
	}
	w.fibers = nil
	w.idleFibers = nil
}

// timeNow is a thin indirection so tests could substitute a fake clock if
// ever needed; today it's always wall-clock time.
func timeNow() time.Time { return time.Now() }

// stop requests shutdown: the loop (wherever it's running) will exit once
// drained rather than immediately, so work already queued still runs.
// For a MultiThreaded worker the caller still needs to wg.Wait() for its
// goroutine to actually exit; for a SingleThreaded worker the caller must
// additionally invoke loop() itself (see Engine.UnbindCurrent), since
// nothing else is driving it.
func (w *Worker) stop() {
	w.work.mu.Lock()
	w.work.shutdown = true
	w.work.cond.Broadcast()
	w.work.mu.Unlock()
}

// NumBlockedFibers reports how many fibers are currently parked waiting on
// this worker (diagnostic use only).
func (w *Worker) NumBlockedFibers() int {
	w.work.mu.Lock()
	defer w.work.mu.Unlock()
	return w.work.numBlockedFibers
}

// NumPending reports tasks+ready-fibers queued on this worker, read
// lock-free from the atomic mirror.
func (w *Worker) NumPending() int64 { return atomic.LoadInt64(&w.work.num) }

// ID returns the worker's ordinal.
func (w *Worker) ID() int { return w.id }

// Engine returns the Engine that owns this worker.
func (w *Worker) Engine() *Engine { return w.engine }

// CurrentFiber returns the fiber this worker is presently driving, or nil.
func (w *Worker) CurrentFiber() *Fiber { return w.current.Load() }
