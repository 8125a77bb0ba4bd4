// Package alloc provides the memory-allocation contract gomarl consumes
// for fiber stack and control-block accounting, with a default Go-heap
// allocator and a guard-paged variant split per platform.
//
// Author: momentics <momentics@gmail.com>
package alloc

import (
	"sync/atomic"
	"unsafe"
)

// Tag classifies what an allocation is for. Tags are opaque tracking
// metadata: allocators may count per tag but never change behavior on it.
type Tag int

const (
	TagGeneral Tag = iota
	TagFiberStack
)

// Usage reports outstanding allocation counters for diagnostics.
type Usage struct {
	Allocations int64
	BytesInUse  int64
}

// Allocation is a handle to a single allocated block.
type Allocation struct {
	Data []byte
	free func()
}

// Free releases the block. Calling Free more than once is a caller bug
// and is not guarded against.
func (a *Allocation) Free() {
	if a.free != nil {
		a.free()
	}
}

// Allocator is the consumed contract: gomarl charges each fiber's
// stack-sized allocation to one of these. Fiber control blocks and the
// goroutine stacks themselves are ordinary Go runtime allocations.
type Allocator interface {
	Allocate(size, alignment uintptr, tag Tag) *Allocation
	Usage() Usage
}

// heapAllocator is the default Allocator: plain Go heap allocation with
// byte-slice alignment padding and atomic usage counters.
type heapAllocator struct {
	allocations int64
	bytesInUse  int64
}

// Default returns an Allocator backed by the Go heap. Suitable for all
// platforms; used whenever Guarded is unavailable or unnecessary.
func Default() Allocator {
	return &heapAllocator{}
}

func (h *heapAllocator) Allocate(size, alignment uintptr, _ Tag) *Allocation {
	if alignment == 0 {
		alignment = 1
	}
	buf := make([]byte, size+alignment)
	off := uintptr(0)
	// Compute the smallest offset into buf whose address is a multiple of
	// alignment; the extra alignment bytes leave room for size after it.
	if alignment > 1 {
		off = (alignment - uintptr(unsafe.Pointer(&buf[0]))%alignment) % alignment
	}
	data := buf[off : off+size]

	atomic.AddInt64(&h.allocations, 1)
	atomic.AddInt64(&h.bytesInUse, int64(size))

	return &Allocation{
		Data: data,
		free: func() {
			atomic.AddInt64(&h.allocations, -1)
			atomic.AddInt64(&h.bytesInUse, -int64(size))
		},
	}
}

func (h *heapAllocator) Usage() Usage {
	return Usage{
		Allocations: atomic.LoadInt64(&h.allocations),
		BytesInUse:  atomic.LoadInt64(&h.bytesInUse),
	}
}
