// Package clock abstracts one-shot timer scheduling so the connection
// core's heartbeat, probe, and reconnect timers can be driven
// deterministically in tests instead of against the wall clock.
package clock

import "time"

// Timer is a cancelable one-shot timer handle.
type Timer interface {
	// Stop cancels the timer and reports whether it was still pending.
	Stop() bool
}

// Clock schedules one-shot callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// New returns a Clock backed by the real wall clock.
func New() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
