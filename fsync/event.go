// File: fsync/event.go
// Author: momentics <momentics@gmail.com>

package fsync

import (
	"time"
)

// EventMode selects whether an Event resets itself after waking one waiter
// (Auto) or stays signalled until explicitly Clear'd (Manual).
type EventMode int

const (
	Auto EventMode = iota
	Manual
)

// Event is a fiber-aware signal. Any number of fibers may wait on it;
// Signal wakes them according to Mode.
type Event struct {
	mode EventMode
	cond *Cond
	lock Mutex

	signalled  bool
	dependents []*Event
}

// NewEvent returns an Event in the given mode, initially not signalled.
func NewEvent(mode EventMode) *Event {
	e := &Event{mode: mode}
	e.cond = NewCond(&e.lock)
	return e
}

// Signal marks the event signalled and wakes waiters: one, if Auto; all,
// if Manual. Once signalled, it cascades Signal to every dependent event
// registered by AnyOf, exactly once per dependent.
func (e *Event) Signal() {
	e.lock.Lock()
	if e.signalled {
		e.lock.Unlock()
		return
	}
	e.signalled = true
	deps := append([]*Event(nil), e.dependents...)
	e.lock.Unlock()

	if e.mode == Auto {
		e.cond.Signal()
	} else {
		e.cond.Broadcast()
	}
	for _, d := range deps {
		d.Signal()
	}
}

// Clear resets the event to unsignalled. Meaningful only for Manual events;
// Auto events clear themselves the moment a waiter consumes the signal.
func (e *Event) Clear() {
	e.lock.Lock()
	e.signalled = false
	e.lock.Unlock()
}

// IsSignalled reports the event's current state without waiting or
// consuming an Auto event's signal.
func (e *Event) IsSignalled() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.signalled
}

// Test reports the event's current state and, for an Auto event found
// signalled, consumes it (clearing the flag) the same way a successful
// Wait would.
func (e *Event) Test() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	s := e.signalled
	if s && e.mode == Auto {
		e.signalled = false
	}
	return s
}

// Wait blocks the calling fiber until the event is signalled. For Auto
// events, exactly one waiter's Wait call consumes the signal.
func (e *Event) Wait() {
	e.wait(false, time.Time{})
}

// WaitTimeout is Wait bounded by d. Returns false if d elapsed without
// the event being signalled.
func (e *Event) WaitTimeout(d time.Duration) bool {
	return e.wait(true, time.Now().Add(d))
}

// WaitUntil is Wait bounded by an absolute deadline.
func (e *Event) WaitUntil(deadline time.Time) bool {
	return e.wait(true, deadline)
}

func (e *Event) wait(timed bool, deadline time.Time) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	for !e.signalled {
		if !timed {
			e.cond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		e.cond.WaitTimeout(remaining)
	}
	if e.mode == Auto {
		e.signalled = false
	}
	return true
}

// AnyOf constructs a new Event in mode that fires the moment any one of
// events fires. Each input already signalled
// at construction time signals the result immediately; otherwise the
// result is appended to that input's dependent list and fed by Signal's
// cascade, so AnyOf itself never blocks and needs no polling.
func AnyOf(mode EventMode, events ...*Event) *Event {
	e := NewEvent(mode)
	for _, in := range events {
		in.lock.Lock()
		if in.signalled {
			in.lock.Unlock()
			e.Signal()
			continue
		}
		in.dependents = append(in.dependents, e)
		in.lock.Unlock()
	}
	return e
}
