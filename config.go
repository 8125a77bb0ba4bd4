// File: config.go
// Author: momentics <momentics@gmail.com>

package gomarl

import (
	"runtime"

	"github.com/momentics/gomarl/affinity"
	"github.com/momentics/gomarl/alloc"
)

// Config configures a Scheduler. The With* setters return modified
// copies, so configs chain.
type Config struct {
	Allocator        alloc.Allocator
	WorkerThreadCount int
	FiberStackSize   uint64
	AffinityPolicy   affinity.Policy
	WorkerInit       func(workerID int)
}

const defaultFiberStackSize = 1 << 20 // 1 MiB

// DefaultConfig returns a Config with one worker per logical CPU, the heap
// allocator, no affinity pinning, and a 1 MiB fiber stack size hint.
func DefaultConfig() Config {
	return Config{
		Allocator:         alloc.Default(),
		WorkerThreadCount: runtime.NumCPU(),
		FiberStackSize:    defaultFiberStackSize,
	}
}

// AllCores returns a Config preset pinning one worker per logical CPU.
func AllCores() Config {
	c := DefaultConfig()
	c.AffinityPolicy = affinity.OneOf(affinity.AllCores().CPUs()...)
	return c
}

// WithAllocator returns a copy of c using alloc for each fiber's
// stack-sized bookkeeping allocation.
func (c Config) WithAllocator(a alloc.Allocator) Config {
	c.Allocator = a
	return c
}

// WithWorkerThreadCount returns a copy of c with n pooled worker threads.
// n == 0 means single-threaded-only: no pooled workers are started, and
// scheduling requires a goroutine that has called Scheduler.Bind.
// Negative n is clamped to 0.
func (c Config) WithWorkerThreadCount(n int) Config {
	if n < 0 {
		n = 0
	}
	c.WorkerThreadCount = n
	return c
}

// WithFiberStackSize returns a copy of c with the given stack-size hint in
// bytes, used by alloc bookkeeping.
func (c Config) WithFiberStackSize(size uint64) Config {
	c.FiberStackSize = size
	return c
}

// WithWorkerThreadAffinityPolicy returns a copy of c pinning workers per
// policy.
func (c Config) WithWorkerThreadAffinityPolicy(p affinity.Policy) Config {
	c.AffinityPolicy = p
	return c
}

// WithWorkerThreadInitializer returns a copy of c that calls init once on
// each worker goroutine before it starts serving tasks.
func (c Config) WithWorkerThreadInitializer(init func(workerID int)) Config {
	c.WorkerInit = init
	return c
}
