// File: parallelize.go
// Author: momentics <momentics@gmail.com>

package gomarl

import (
	"github.com/momentics/gomarl/fsync"
	"github.com/momentics/gomarl/task"
)

// Parallelize fans fns out across the calling goroutine's bound scheduler
// and blocks until all have returned. The first closure runs directly on
// the caller's own stack; only the rest are scheduled. A panicking
// scheduled closure is recovered by the worker run loop and does not
// prevent the others from running or Parallelize from returning; a panic
// in the first closure propagates to the caller.
func Parallelize(fns ...func()) {
	if len(fns) == 0 {
		return
	}
	s := mustCurrent("Parallelize")
	wg := fsync.NewWaitGroup(len(fns) - 1)
	for _, fn := range fns[1:] {
		fn := fn
		s.Schedule(task.New(func() {
			defer wg.Done()
			fn()
		}))
	}
	fns[0]()
	wg.Wait()
}
