package core

import (
	"testing"
	"time"

	"github.com/momentics/gomarl/task"
)

func TestTaskQueueFIFO(t *testing.T) {
	q := newTaskQueue()
	q.push(task.New(func() {}))
	q.push(task.SameThreadTask(func() {}))

	first, ok := q.pop()
	if !ok || first.Flags.Has(task.SameThread) {
		t.Fatal("expected first push (plain task) to pop first")
	}
	second, ok := q.pop()
	if !ok || !second.Flags.Has(task.SameThread) {
		t.Fatal("expected second push (same-thread task) to pop second")
	}
	if _, ok := q.pop(); ok {
		t.Fatal("expected queue to be empty")
	}
}

func TestDeadlineIndexOrdersByDeadline(t *testing.T) {
	d := newDeadlineIndex()
	now := time.Now()

	fA := &Fiber{id: 1}
	fB := &Fiber{id: 2}
	fC := &Fiber{id: 3}

	d.add(fB, now.Add(20*time.Millisecond))
	d.add(fA, now.Add(10*time.Millisecond))
	d.add(fC, now.Add(30*time.Millisecond))

	if d.len() != 3 {
		t.Fatalf("len = %d, want 3", d.len())
	}

	expired := d.popExpired(now.Add(25 * time.Millisecond))
	if len(expired) != 2 || expired[0].id != 1 || expired[1].id != 2 {
		t.Fatalf("expired = %+v, want [fA, fB] in order", expired)
	}
	if d.len() != 1 {
		t.Fatalf("len after popExpired = %d, want 1", d.len())
	}
}

func TestDeadlineIndexRemove(t *testing.T) {
	d := newDeadlineIndex()
	f := &Fiber{id: 1}
	d.add(f, time.Now().Add(time.Hour))

	if !d.remove(f) {
		t.Fatal("remove returned false for a registered fiber")
	}
	if d.remove(f) {
		t.Fatal("remove returned true for an already-removed fiber")
	}
	if d.len() != 0 {
		t.Fatalf("len = %d, want 0", d.len())
	}
}
