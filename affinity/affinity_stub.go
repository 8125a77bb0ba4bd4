//go:build !linux && !windows
// +build !linux,!windows

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for platforms without a wired pinning syscall.

package affinity

import "errors"

func pinPlatform(cpuID int) error {
	return errors.New("affinity: not supported on this platform")
}

func pinSetPlatform(cpuIDs []int) error {
	return errors.New("affinity: not supported on this platform")
}
