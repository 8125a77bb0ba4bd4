// Package core implements the fiber scheduler engine: workers, fibers, the
// waiting-fiber deadline index, and the work-stealing dispatch loop.
// Author: momentics <momentics@gmail.com>
//
// core is internal: gomarl (the root package) is the only public surface.
package core
