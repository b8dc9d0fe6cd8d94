package worker

import (
	"os"
	"sync/atomic"
)

// The exit guard converts a hosted program's termination request into a
// catchable sentinel while hosted code runs. The runtime's own shutdown
// path never goes through Exit, so it always passes unguarded.

// exitRequest is the sentinel carrying the hosted program's requested code.
type exitRequest struct {
	code int
}

var guardArmed atomic.Bool

// Exit is the termination surface for hosted code. While the guard is armed
// it raises a sentinel the execution wrapper catches and treats as ordinary
// completion, preserving the requested code; otherwise it terminates the
// process immediately.
func Exit(code int) {
	if guardArmed.Load() {
		panic(exitRequest{code: code})
	}
	os.Exit(code)
}

func armExitGuard()    { guardArmed.Store(true) }
func disarmExitGuard() { guardArmed.Store(false) }
