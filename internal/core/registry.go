// File: internal/core/registry.go
// Author: momentics <momentics@gmail.com>

package core

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the numeric id Go prints at the head of a stack
// trace. Go deliberately exposes no supported thread-local storage because
// goroutines migrate between OS threads; parsing runtime.Stack's header is
// the well-known workaround, safe here because each Fiber owns one
// goroutine for its entire lifetime (fiberctx never migrates a running
// fiber's goroutine to a different *Fiber).
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	// "goroutine 123 [running]:\n..."
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

var fiberRegistry sync.Map // goroutine id -> *Fiber

func registerFiber(f *Fiber) {
	fiberRegistry.Store(goroutineID(), f)
}

func unregisterFiber() {
	fiberRegistry.Delete(goroutineID())
}

// CurrentFiber returns the Fiber executing on the calling goroutine, or nil
// if the calling goroutine is not a fiber (e.g. it's the goroutine that
// called into gomarl from outside any worker).
func CurrentFiber() *Fiber {
	v, ok := fiberRegistry.Load(goroutineID())
	if !ok {
		return nil
	}
	return v.(*Fiber)
}

// CurrentWorker returns the Worker running the calling fiber, or nil.
func CurrentWorker() *Worker {
	f := CurrentFiber()
	if f == nil {
		return nil
	}
	return f.worker
}

// GoroutineID exposes goroutineID to the root package, which uses it to
// key the bind/unbind scheduler registry the same way fibers are keyed.
func GoroutineID() uint64 { return goroutineID() }
