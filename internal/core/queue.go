// File: internal/core/queue.go
// Author: momentics <momentics@gmail.com>

package core

import (
	"container/heap"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/gomarl/task"
)

// taskQueue is a growable FIFO of pending tasks, backed by eapache/queue's
// ring buffer.
type taskQueue struct{ q *queue.Queue }

func newTaskQueue() *taskQueue { return &taskQueue{q: queue.New()} }

func (t *taskQueue) push(tk task.Task) { t.q.Add(tk) }

func (t *taskQueue) pop() (task.Task, bool) {
	if t.q.Length() == 0 {
		return task.Task{}, false
	}
	v := t.q.Peek().(task.Task)
	t.q.Remove()
	return v, true
}

func (t *taskQueue) peek() (task.Task, bool) {
	if t.q.Length() == 0 {
		return task.Task{}, false
	}
	return t.q.Peek().(task.Task), true
}

func (t *taskQueue) len() int { return t.q.Length() }

// fiberQueue is the FIFO of runnable fibers awaiting a turn on the worker.
type fiberQueue struct{ q *queue.Queue }

func newFiberQueue() *fiberQueue { return &fiberQueue{q: queue.New()} }

func (f *fiberQueue) push(fb *Fiber) { f.q.Add(fb) }

func (f *fiberQueue) pop() (*Fiber, bool) {
	if f.q.Length() == 0 {
		return nil, false
	}
	v := f.q.Peek().(*Fiber)
	f.q.Remove()
	return v, true
}

func (f *fiberQueue) len() int { return f.q.Length() }

// deadlineEntry pairs a waiting fiber with the time it should be woken if
// nothing signals it sooner.
type deadlineEntry struct {
	deadline time.Time
	fiber    *Fiber
	index    int
}

// deadlineHeap is a min-heap on deadline, ordering waiting fibers by the
// time they should be woken.
type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	e := x.(*deadlineEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// deadlineIndex is the waiting-fibers index: an ordered (deadline, fiber)
// set plus a reverse map so a fiber can be cancelled out of the heap in
// O(log n) when it's signalled before its deadline expires.
type deadlineIndex struct {
	h       deadlineHeap
	byFiber map[*Fiber]*deadlineEntry
}

func newDeadlineIndex() *deadlineIndex {
	return &deadlineIndex{byFiber: make(map[*Fiber]*deadlineEntry)}
}

// add registers f as waiting until deadline. A zero deadline means "wait
// forever" and the entry is never popped by popExpired.
func (d *deadlineIndex) add(f *Fiber, deadline time.Time) {
	e := &deadlineEntry{deadline: deadline, fiber: f}
	d.byFiber[f] = e
	if !deadline.IsZero() {
		heap.Push(&d.h, e)
	}
}

// remove drops f from the index, if present, regardless of whether its
// deadline has expired. Returns true if f was waiting.
func (d *deadlineIndex) remove(f *Fiber) bool {
	e, ok := d.byFiber[f]
	if !ok {
		return false
	}
	delete(d.byFiber, f)
	if e.index >= 0 && e.index < len(d.h) && d.h[e.index] == e {
		heap.Remove(&d.h, e.index)
	}
	return true
}

// popExpired removes and returns every fiber whose deadline is <= now.
func (d *deadlineIndex) popExpired(now time.Time) []*Fiber {
	var expired []*Fiber
	for d.h.Len() > 0 && !d.h[0].deadline.After(now) {
		e := heap.Pop(&d.h).(*deadlineEntry)
		delete(d.byFiber, e.fiber)
		expired = append(expired, e.fiber)
	}
	return expired
}

// nextDeadline reports the nearest pending deadline and whether one exists.
func (d *deadlineIndex) nextDeadline() (time.Time, bool) {
	if d.h.Len() == 0 {
		return time.Time{}, false
	}
	return d.h[0].deadline, true
}

func (d *deadlineIndex) len() int { return len(d.byFiber) }
