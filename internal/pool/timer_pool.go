// Package pool keeps reusable timers for the bounded waits of the framing layers.
package pool

import (
	"sync"
	"time"
)

// Timers are created stopped; since Go 1.23 a stopped timer never delivers a
// stale value after Reset, so no channel draining is needed.
var timerPool = sync.Pool{
	New: func() any {
		t := time.NewTimer(time.Hour)
		t.Stop()

		return t
	},
}

// GetTimer returns a timer from the pool that fires once after d.
//
// Return the timer with PutTimer when the wait is over.
func GetTimer(d time.Duration) *time.Timer {
	t, _ := timerPool.Get().(*time.Timer)
	t.Reset(d)

	return t
}

// PutTimer stops t and returns it to the pool.
//
// t cannot be accessed after returning to the pool.
func PutTimer(t *time.Timer) {
	t.Stop()
	timerPool.Put(t)
}
