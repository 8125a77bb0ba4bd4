// Package gomarl is a cooperative fiber scheduler: many fibers multiplexed
// over a small, fixed pool of worker threads, with work-stealing,
// fiber-aware synchronization primitives, and a DAG task runner.
//
// Author: momentics <momentics@gmail.com>
//
// A Scheduler is created with New, bound to the calling goroutine with
// Bind, and torn down with Unbind followed by Destroy. Once bound, package
// level Schedule/Parallelize/BlockingCall calls route work onto it.
package gomarl
