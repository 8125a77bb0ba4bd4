//go:build linux

package alloc

import (
	"os"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// readable reports whether one byte at addr can be read by this process,
// probed via process_vm_readv so an unmapped or PROT_NONE page reports
// false instead of faulting the test.
func readable(addr uintptr) bool {
	var buf [1]byte
	local := []unix.Iovec{{Base: &buf[0], Len: 1}}
	remote := []unix.RemoteIovec{{Base: addr, Len: 1}}
	n, err := unix.ProcessVMReadv(os.Getpid(), local, remote, 0)
	return err == nil && n == 1
}

func TestGuardedAllocatorGuardsBothSides(t *testing.T) {
	page := uintptr(unix.Getpagesize())

	a := Guarded()
	// Exactly one page, so the byte past the block is the high guard on
	// any page size.
	blk := a.Allocate(page, 8, TagFiberStack)
	defer blk.Free()

	base := uintptr(unsafe.Pointer(&blk.Data[0]))

	if base%page != 0 {
		t.Fatalf("Data starts at %#x, want page-aligned", base)
	}
	if !readable(base) || !readable(base+uintptr(len(blk.Data))-1) {
		t.Fatal("usable region should be readable")
	}
	if readable(base - 1) {
		t.Fatal("byte below the block should land in the low guard page")
	}
	if readable(base + uintptr(len(blk.Data))) {
		t.Fatal("byte above the block should land in the high guard page")
	}
}
