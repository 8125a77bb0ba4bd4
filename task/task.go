// Package task defines the unit of work the scheduler dispatches.
//
// Author: momentics <momentics@gmail.com>
package task

// Flag is a bitset of task routing hints.
type Flag uint8

const (
	// SameThread pins the task to the worker that enqueued it. Such a task
	// is never stolen by another worker.
	SameThread Flag = 1 << iota
)

// Has reports whether f is set in the flag set.
func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Func is a unit of work submitted to the scheduler.
type Func func()

// Task pairs a callable with its routing flags.
type Task struct {
	Callable Func
	Flags    Flag
}

// New wraps a plain func() into a Task with no flags.
func New(f Func) Task { return Task{Callable: f} }

// SameThreadTask wraps f as a task that must run on the enqueuing worker.
func SameThreadTask(f Func) Task { return Task{Callable: f, Flags: SameThread} }
