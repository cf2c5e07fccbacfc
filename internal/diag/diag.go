// Package diag holds the package-level diagnostic logger for the pose
// pipeline. Per-frame paths log through Debugf, which is compiled to a
// no-op unless verbose mode is enabled, so the render cadence is not
// paying for formatting in the steady state.
package diag

import (
	"log"
	"sync/atomic"
)

// Logf is the diagnostic logger. It defaults to log.Printf but may be
// replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose toggles Debugf output.
func SetVerbose(v bool) {
	verbose.Store(v)
}

// Debugf logs through Logf only when verbose mode is on. Intended for
// per-frame events (correlation misses, rejected samples) that would
// otherwise flood the log at display refresh rate.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}
