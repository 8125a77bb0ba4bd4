// File: blocking_call.go
// Author: momentics <momentics@gmail.com>

package gomarl

import (
	"time"

	"github.com/momentics/gomarl/internal/core"
)

// BlockingCall runs f and waits for it to return without tying up a
// worker: f runs on a fresh goroutine and only the calling fiber (if any)
// suspends while it does, so the worker that was driving that fiber is
// free to run other fibers in the meantime and resumes this one once f
// returns. Use it to wrap syscalls or other OS-level blocking that would
// otherwise stall a whole worker thread.
func BlockingCall(f func()) {
	fiber := core.CurrentFiber()
	if fiber == nil {
		f()
		return
	}

	worker := fiber.Worker()
	done := make(chan struct{})
	go func() {
		f()
		close(done)
	}()

	// The waker goroutine is spawned from inside the unlock callback, so it
	// cannot run until fiber is already registered in the worker's wait
	// index: ParkUntil calls this callback only after wait.add(fiber), the
	// same ordering fsync.Mutex.Lock relies on to avoid a lost wakeup.
	fiber.ParkUntil(time.Time{}, func() {
		go func() {
			<-done
			worker.Wake(fiber)
		}()
	})
}

// BlockingCallResult is BlockingCall for a call that produces a value,
// handed back to the caller once its fiber resumes.
func BlockingCallResult[T any](f func() T) T {
	var r T
	BlockingCall(func() { r = f() })
	return r
}
