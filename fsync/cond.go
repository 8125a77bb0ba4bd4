// File: fsync/cond.go
// Author: momentics <momentics@gmail.com>

package fsync

import (
	"sync"
	"time"

	"github.com/momentics/gomarl/internal/core"
)

// Cond is a fiber-aware condition variable paired with a Mutex: Wait
// atomically releases the mutex and suspends the calling fiber,
// re-acquiring the mutex before returning. Waiters that
// are not fibers park on a per-waiter channel instead, and Signal serves
// the fiber list before the channel list. The guard is taken exactly once
// per suspend cycle.
type Cond struct {
	L *Mutex

	guard  sync.Mutex
	fibers []*core.Fiber
	chans  []chan struct{}
}

// NewCond returns a Cond using l as its associated lock.
func NewCond(l *Mutex) *Cond { return &Cond{L: l} }

// Wait releases L, suspends the calling fiber until Signal or Broadcast
// wakes it, then re-acquires L before returning. Like any condition
// variable, it should be called in a loop that rechecks the condition.
func (c *Cond) Wait() {
	if f := core.CurrentFiber(); f != nil {
		c.suspendFiber(f, time.Time{})
		return
	}
	c.suspendGoroutine(nil)
}

// WaitTimeout is Wait bounded by d: it returns early (still re-acquiring
// L) if no signal arrives within d. Returns false on timeout.
func (c *Cond) WaitTimeout(d time.Duration) bool {
	deadline := time.Now().Add(d)
	if f := core.CurrentFiber(); f != nil {
		c.suspendFiber(f, deadline)
		// Still on the waiter list means nothing signalled us: the wakeup
		// came from the deadline index.
		return !c.removeFiber(f)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	return c.suspendGoroutine(timer.C)
}

// WaitUntil is WaitTimeout against an absolute deadline.
func (c *Cond) WaitUntil(deadline time.Time) bool {
	return c.WaitTimeout(time.Until(deadline))
}

// WaitPredicate loops WaitTimeout until pred returns true or d elapses,
// so spurious wakeups are never observable at call sites. pred is
// evaluated with L held, including one final time after the deadline.
func (c *Cond) WaitPredicate(d time.Duration, pred func() bool) bool {
	deadline := time.Now().Add(d)
	for !pred() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return pred()
		}
		c.WaitTimeout(remaining)
	}
	return true
}

// suspendFiber parks f, releasing the user lock only after f is both in
// its worker's wait index and on this Cond's waiter list, so a Signal
// racing with the suspension always finds a registered waiter.
func (c *Cond) suspendFiber(f *core.Fiber, deadline time.Time) {
	f.ParkUntil(deadline, func() {
		c.guard.Lock()
		c.fibers = append(c.fibers, f)
		c.guard.Unlock()
		c.L.Unlock()
	})
	c.L.Lock()
}

// suspendGoroutine is the non-fiber path: the waiter parks on its own
// channel, closed by Signal/Broadcast. Returns false if timeout fired
// first (and the waiter was still unclaimed).
func (c *Cond) suspendGoroutine(timeout <-chan time.Time) bool {
	ch := make(chan struct{})
	c.guard.Lock()
	c.chans = append(c.chans, ch)
	c.guard.Unlock()
	c.L.Unlock()

	signalled := true
	select {
	case <-ch:
	case <-timeout:
		// If Signal claimed the channel in the same instant, honor it.
		signalled = !c.removeChan(ch)
	}
	c.L.Lock()
	return signalled
}

// Signal wakes one waiter, if any: a fiber first, a parked goroutine
// otherwise.
func (c *Cond) Signal() {
	c.guard.Lock()
	if len(c.fibers) > 0 {
		f := c.fibers[0]
		c.fibers = c.fibers[1:]
		c.guard.Unlock()
		f.Worker().Wake(f)
		return
	}
	if len(c.chans) > 0 {
		ch := c.chans[0]
		c.chans = c.chans[1:]
		c.guard.Unlock()
		close(ch)
		return
	}
	c.guard.Unlock()
}

// Broadcast wakes every waiter, fibers and goroutines both.
func (c *Cond) Broadcast() {
	c.guard.Lock()
	fibers := c.fibers
	chans := c.chans
	c.fibers = nil
	c.chans = nil
	c.guard.Unlock()
	for _, f := range fibers {
		f.Worker().Wake(f)
	}
	for _, ch := range chans {
		close(ch)
	}
}

func (c *Cond) removeFiber(f *core.Fiber) bool {
	c.guard.Lock()
	defer c.guard.Unlock()
	for i, w := range c.fibers {
		if w == f {
			c.fibers = append(c.fibers[:i], c.fibers[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cond) removeChan(ch chan struct{}) bool {
	c.guard.Lock()
	defer c.guard.Unlock()
	for i, w := range c.chans {
		if w == ch {
			c.chans = append(c.chans[:i], c.chans[i+1:]...)
			return true
		}
	}
	return false
}
