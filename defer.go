// File: defer.go
// Author: momentics <momentics@gmail.com>

package gomarl

// Deferred holds a cleanup closure to be run exactly once. Typical use
// pairs it with Go's own defer:
//
//	d := gomarl.Defer(cleanup)
//	defer d.Close()
type Deferred struct {
	fn   func()
	done bool
}

// Defer wraps fn so Close runs it at most once.
func Defer(fn func()) *Deferred { return &Deferred{fn: fn} }

// Close runs the wrapped function if it hasn't already run.
func (d *Deferred) Close() {
	if d.done {
		return
	}
	d.done = true
	d.fn()
}
