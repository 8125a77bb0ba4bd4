//go:build linux

package alloc

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// guardedAllocator mmaps each block with an unmapped-permission guard page
// on each side, so a fiber stack overrun or underrun hits SIGSEGV
// immediately rather than silently corrupting a neighboring mapping.
type guardedAllocator struct {
	pageSize    int
	allocations int64
	bytesInUse  int64
}

// Guarded returns a linux Allocator that places a PROT_NONE guard page
// immediately below and above every allocation. size is rounded up to a
// whole number of pages, flanked by one guard page on each side.
func Guarded() Allocator {
	return &guardedAllocator{pageSize: unix.Getpagesize()}
}

func (g *guardedAllocator) Allocate(size, alignment uintptr, _ Tag) *Allocation {
	page := uintptr(g.pageSize)
	usable := ((size + page - 1) / page) * page
	if usable == 0 {
		usable = page
	}
	total := int(page + usable + page)

	region, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		panic(err)
	}
	if err := unix.Mprotect(region[:page], unix.PROT_NONE); err != nil {
		unix.Munmap(region)
		panic(err)
	}
	if err := unix.Mprotect(region[page+usable:], unix.PROT_NONE); err != nil {
		unix.Munmap(region)
		panic(err)
	}

	atomic.AddInt64(&g.allocations, 1)
	atomic.AddInt64(&g.bytesInUse, int64(usable))

	return &Allocation{
		Data: region[page : page+size],
		free: func() {
			unix.Munmap(region)
			atomic.AddInt64(&g.allocations, -1)
			atomic.AddInt64(&g.bytesInUse, -int64(usable))
		},
	}
}

func (g *guardedAllocator) Usage() Usage {
	return Usage{
		Allocations: atomic.LoadInt64(&g.allocations),
		BytesInUse:  atomic.LoadInt64(&g.bytesInUse),
	}
}
