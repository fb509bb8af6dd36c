// Package monitoring carries the shared diagnostic logger for the station
// runtime. Controller chatter, spool activity and decision handling all log
// through Logf so one swap can redirect or silence the lot.
package monitoring

import "log"

// Logf is the package-level diagnostic logger, defaulting to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Muted silences the logger and returns a function that restores the
// previous one. Tests that provoke controller errors on purpose use it to
// keep output readable.
func Muted() func() {
	prev := Logf
	Logf = func(string, ...interface{}) {}
	return func() { Logf = prev }
}
