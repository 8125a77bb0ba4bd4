// File: fsync/waitgroup.go
// Author: momentics <momentics@gmail.com>

package fsync

import (
	"sync/atomic"

	"github.com/momentics/gomarl/errs"
)

// WaitGroup is a fiber-aware wait group: Add increments an atomic
// counter, Done decrements it and wakes waiters when it reaches zero, and
// Wait suspends the calling fiber (or blocks a plain goroutine) until the
// count is zero. Unlike sync.WaitGroup it's safe to share by value-copy of
// the handle (both copies refer to the same counter and waiter state),
// which is what makes passing one into N spawned tasks cheap.
type WaitGroup struct {
	state *wgState
}

type wgState struct {
	count int64
	mu    Mutex
	cond  *Cond
}

// NewWaitGroup returns a ready-to-use WaitGroup, optionally pre-armed with
// an initial count (0 is fine and common: callers then call Add per task).
func NewWaitGroup(initial int) WaitGroup {
	st := &wgState{count: int64(initial)}
	st.cond = NewCond(&st.mu)
	return WaitGroup{state: st}
}

// Add adds delta (may be negative) to the counter. Panics via errs.Misuse
// if the counter would go negative, since that's always a caller bug. A
// transition to zero broadcasts under the wait mutex, so a waiter between
// its counter check and its suspension cannot miss the wakeup.
func (wg WaitGroup) Add(delta int) {
	n := atomic.AddInt64(&wg.state.count, int64(delta))
	switch {
	case n < 0:
		errs.Misuse(errs.CodeUnderflow, "WaitGroup.Add", "counter went negative")
	case n == 0:
		wg.state.mu.Lock()
		wg.state.cond.Broadcast()
		wg.state.mu.Unlock()
	}
}

// Done is shorthand for Add(-1).
func (wg WaitGroup) Done() { wg.Add(-1) }

// Wait suspends until the counter reaches zero. The live counter is the
// predicate, re-checked on every wake; no cached signalled flag is
// trusted, so an Add racing a Done across zero can never let a waiter
// return early.
func (wg WaitGroup) Wait() {
	wg.state.mu.Lock()
	for atomic.LoadInt64(&wg.state.count) != 0 {
		wg.state.cond.Wait()
	}
	wg.state.mu.Unlock()
}
