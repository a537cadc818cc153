// Package schedule runs callbacks against weak registry handles after a delay
// or on an interval. A task never outlives its target: once the weak handle
// stops upgrading, the task silently ends. No cancellation bookkeeping needed.
package schedule

import (
	"time"

	"mapbingo/server/internal/registry"
)

// Once sleeps for delay, then invokes fn with exclusive access to the target
// if it still exists. A failed upgrade makes the task a no-op.
func Once[T any](target registry.Weak[T], delay time.Duration, fn func(*T)) {
	go func() {
		time.Sleep(delay)
		handle, ok := target.Upgrade()
		if !ok {
			return
		}
		handle.Do(fn)
	}()
}

// Every invokes fn with exclusive access to the target every interval, until
// the first failed upgrade ends the loop.
func Every[T any](target registry.Weak[T], interval time.Duration, fn func(*T)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			handle, ok := target.Upgrade()
			if !ok {
				return
			}
			handle.Do(fn)
		}
	}()
}
