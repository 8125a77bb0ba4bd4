//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux pinning via golang.org/x/sys/unix, replacing the cgo
// pthread_setaffinity_np call with the pure-Go sched_setaffinity syscall.

package affinity

import "golang.org/x/sys/unix"

func pinPlatform(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	// Pid 0 means "calling thread" for SchedSetaffinity.
	return unix.SchedSetaffinity(0, &set)
}

// pinSetPlatform pins the calling thread to the union of cpuIDs, used for
// an any-of policy where the mask is shared rather than one core per
// worker.
func pinSetPlatform(cpuIDs []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, id := range cpuIDs {
		set.Set(id)
	}
	return unix.SchedSetaffinity(0, &set)
}
