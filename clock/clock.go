// Package clock abstracts wall-clock reads and one-shot timers so that
// expiry and reconnect scheduling can be driven deterministically in tests.
package clock

import "time"

// Timer is a one-shot timer handle.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Real returns the system clock.
func Real() Clock { return realClock{} }
