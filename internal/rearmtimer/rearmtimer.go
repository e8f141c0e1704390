// Package rearmtimer implements the single-fire, rearmable timer
// primitive behind the backlight dimmer: the stop-drain-reset dance
// time.Timer reuse requires, wrapped in a standalone, goroutine-backed
// type with an explicit Arm/Cancel/Join lifecycle.
package rearmtimer

import (
	"sync"
	"time"
)

// Timer fires a callback once per Arm call, after the armed duration has
// elapsed with no intervening Arm or Cancel. Rearming before expiry
// replaces the pending deadline; it does not stack callbacks. At most one
// scheduled callback fires per arm, and a reset that lands while the
// callback is already running is not observable — the callback completes
// and only a subsequent Arm schedules anew.
type Timer struct {
	fire func()

	mu      sync.Mutex
	armCh   chan time.Duration
	cancel  chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New starts the worker goroutine immediately; the timer is initially
// disarmed (no pending deadline) until the first Arm call.
func New(fire func()) *Timer {
	t := &Timer{
		fire:    fire,
		armCh:   make(chan time.Duration),
		cancel:  make(chan struct{}),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Timer) run() {
	defer close(t.stopped)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-t.stop:
			if armed && !timer.Stop() {
				<-timer.C
			}
			return
		case d := <-t.armCh:
			if armed && !timer.Stop() {
				drainTimer(timer)
			}
			timer.Reset(d)
			armed = true
		case <-t.cancel:
			if armed && !timer.Stop() {
				drainTimer(timer)
			}
			armed = false
		case <-timer.C:
			armed = false
			t.fire()
		}
	}
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// Arm (re)schedules the callback to fire after d, replacing any pending
// deadline. Safe to call from multiple goroutines and while the callback
// from a previous firing is in flight.
func (t *Timer) Arm(d time.Duration) {
	select {
	case t.armCh <- d:
	case <-t.stopped:
	}
}

// Cancel clears any pending deadline; a subsequent Arm is required to fire
// again.
func (t *Timer) Cancel() {
	select {
	case t.cancel <- struct{}{}:
	case <-t.stopped:
	}
}

// Join stops the worker goroutine and waits for it to exit. Join is
// idempotent and safe to call more than once.
func (t *Timer) Join() {
	t.once.Do(func() { close(t.stop) })
	<-t.stopped
}
