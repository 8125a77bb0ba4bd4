// Package fsync provides fiber-aware synchronization primitives: a mutex,
// a condition variable, an event, and a wait-group, all of which suspend
// the calling fiber (rather than blocking an OS thread) when running
// inside a worker, and fall back to plain OS blocking when called from
// outside any fiber (e.g. a goroutine that hasn't been scheduled).
//
// Author: momentics <momentics@gmail.com>
package fsync

import (
	"sync"
	"time"

	"github.com/momentics/gomarl/internal/core"
)

// Mutex is a fiber-aware mutual exclusion lock. A fiber that fails to
// acquire it suspends and is woken when the holder unlocks, without
// blocking the worker thread that was driving it: the worker is free to
// run other fibers in the meantime. Two waiter sets are tracked, parked
// fibers and parked goroutines, and Unlock hands ownership to a fiber
// first, a goroutine second.
type Mutex struct {
	guard  sync.Mutex
	held   bool
	fibers []*core.Fiber
	chans  []chan struct{}
}

// Lock acquires the mutex, suspending the calling fiber if it's already
// held, or parking the calling goroutine if it isn't running on a fiber.
func (m *Mutex) Lock() {
	m.guard.Lock()
	if !m.held {
		m.held = true
		m.guard.Unlock()
		return
	}

	if f := core.CurrentFiber(); f != nil {
		m.fibers = append(m.fibers, f)
		// m.guard is released only once f is registered in its worker's
		// wait index, so a concurrent Unlock can never Wake before the
		// registration lands.
		f.ParkUntil(time.Time{}, m.guard.Unlock)
		return
	}

	ch := make(chan struct{})
	m.chans = append(m.chans, ch)
	m.guard.Unlock()
	// Ownership transfers on the channel close: held stays true throughout.
	<-ch
}

// TryLock acquires the mutex only if it's free, never suspending.
func (m *Mutex) TryLock() bool {
	m.guard.Lock()
	defer m.guard.Unlock()
	if m.held {
		return false
	}
	m.held = true
	return true
}

// Unlock releases the mutex. If anything is waiting, ownership transfers
// to the head waiter directly: a fiber is woken on its own worker, a
// goroutine through its channel. Otherwise the mutex goes idle.
func (m *Mutex) Unlock() {
	m.guard.Lock()
	if len(m.fibers) > 0 {
		next := m.fibers[0]
		m.fibers = m.fibers[1:]
		m.guard.Unlock()
		next.Worker().Wake(next)
		return
	}
	if len(m.chans) > 0 {
		ch := m.chans[0]
		m.chans = m.chans[1:]
		m.guard.Unlock()
		close(ch)
		return
	}
	m.held = false
	m.guard.Unlock()
}
