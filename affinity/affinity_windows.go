//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows pinning via golang.org/x/sys/windows's LazySystemDLL binding to
// SetThreadAffinityMask.

package affinity

import "golang.org/x/sys/windows"

var (
	modkernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinityMask    = modkernel32.NewProc("SetThreadAffinityMask")
	procGetCurrentThreadAffinity = modkernel32.NewProc("GetCurrentThread")
)

func pinPlatform(cpuID int) error {
	return pinMask(uintptr(1) << uint(cpuID))
}

// pinSetPlatform pins the calling thread to the union of cpuIDs, used for
// an any-of policy where the mask is shared rather than one core per
// worker.
func pinSetPlatform(cpuIDs []int) error {
	var mask uintptr
	for _, id := range cpuIDs {
		mask |= uintptr(1) << uint(id)
	}
	return pinMask(mask)
}

func pinMask(mask uintptr) error {
	hThread, _, _ := procGetCurrentThreadAffinity.Call()
	ret, _, err := procSetThreadAffinityMask.Call(hThread, mask)
	if ret == 0 {
		return err
	}
	return nil
}
