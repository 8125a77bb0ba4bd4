// Package affinity exposes the thread/core-affinity policy consumed by
// worker threads when a Config requests CPU pinning.
//
// Author: momentics <momentics@gmail.com>
//
// Platform-specific pinning lives in affinity_linux.go /
// affinity_windows.go / affinity_stub.go, guarded by build tags.
package affinity

import (
	"fmt"
	"runtime"
)

// mode distinguishes the two partitioning strategies a Policy can express:
// a full mask shared by every worker, or one dedicated core per worker
// drawn round-robin from the set.
type mode int

const (
	modeAny mode = iota
	modeOne
)

// Policy selects which logical CPUs a worker thread may run on.
type Policy struct {
	cpus []int
	m    mode
}

// AllCores returns the policy covering every logical CPU reported by the
// runtime.
func AllCores() Policy {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return Policy{cpus: cpus, m: modeAny}
}

// OneOf builds a policy that assigns worker i (by ordinal, modulo the
// policy's CPU count) to a single dedicated core drawn round-robin from
// cpus.
func OneOf(cpus ...int) Policy {
	return Policy{cpus: append([]int(nil), cpus...), m: modeOne}
}

// AnyOf builds a policy where every worker is free to run on any CPU in
// cpus, i.e. the full mask is handed to every worker rather than
// partitioned one-core-per-worker.
func AnyOf(cpus ...int) Policy {
	return Policy{cpus: append([]int(nil), cpus...), m: modeAny}
}

// Empty reports whether the policy names no CPUs, in which case pinning is
// skipped and the worker runs wherever the OS scheduler likes.
func (p Policy) Empty() bool { return len(p.cpus) == 0 }

// CPUs returns the logical CPU ids named by the policy.
func (p Policy) CPUs() []int { return p.cpus }

// ForWorker returns the single CPU assigned to worker index i under a
// one-of policy, or -1 if the policy has no CPUs or is an any-of policy
// (which pins to a full mask instead; see CoresForWorker).
func (p Policy) ForWorker(i int) int {
	if len(p.cpus) == 0 || p.m != modeOne {
		return -1
	}
	return p.cpus[i%len(p.cpus)]
}

// CoresForWorker returns the full set of CPUs worker i may run on: every
// CPU in the policy for an any-of policy, or the single round-robin core
// for a one-of policy. Returns nil if the policy is empty.
func (p Policy) CoresForWorker(i int) []int {
	if len(p.cpus) == 0 {
		return nil
	}
	if p.m == modeOne {
		return []int{p.cpus[i%len(p.cpus)]}
	}
	return p.cpus
}

// Pin pins the calling OS thread (via runtime.LockOSThread, which the
// caller must have already invoked) to cpu. Returns an error on platforms
// or CPUs that cannot be pinned rather than panicking: affinity failures
// are not scheduler misuse, they're an environment limitation.
func Pin(cpu int) error {
	if cpu < 0 {
		return nil
	}
	if err := pinPlatform(cpu); err != nil {
		return fmt.Errorf("affinity: pin cpu %d: %w", cpu, err)
	}
	return nil
}

// PinSet pins the calling OS thread to the union of cpus, letting the OS
// scheduler run it on any one of them. Used for an any-of policy, where
// every worker shares the same mask rather than owning one exclusive core.
func PinSet(cpus []int) error {
	if len(cpus) == 0 {
		return nil
	}
	if err := pinSetPlatform(cpus); err != nil {
		return fmt.Errorf("affinity: pin cpu set %v: %w", cpus, err)
	}
	return nil
}
