package transport

import "time"

// Timer is a cancellable pending callback. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn to run after d. Production code uses
// StdAfterFunc; tests substitute a manual scheduler so reconnect delays
// and debounces can be observed and fired deterministically.
type AfterFunc func(d time.Duration, fn func()) Timer

// StdAfterFunc schedules with the runtime timer.
func StdAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
