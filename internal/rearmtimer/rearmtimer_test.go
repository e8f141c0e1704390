package rearmtimer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFiresOnceAfterArm(t *testing.T) {
	var fired int32
	done := make(chan struct{})
	tm := New(func() {
		atomic.AddInt32(&fired, 1)
		close(done)
	})
	defer tm.Join()

	tm.Arm(10 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("callback never fired")
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected exactly one fire, got %d", fired)
	}
}

func TestRearmReplacesDeadline(t *testing.T) {
	var fired int32
	tm := New(func() { atomic.AddInt32(&fired, 1) })
	defer tm.Join()

	tm.Arm(30 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	tm.Arm(100 * time.Millisecond) // pushes deadline out; must not fire at ~30ms

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("timer fired before the rearmed deadline")
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected exactly one fire after rearmed deadline, got %d", fired)
	}
}

func TestCancelPreventsFire(t *testing.T) {
	var fired int32
	tm := New(func() { atomic.AddInt32(&fired, 1) })
	defer tm.Join()

	tm.Arm(20 * time.Millisecond)
	tm.Cancel()
	time.Sleep(60 * time.Millisecond)

	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("expected no fire after cancel, got %d", fired)
	}
}

func TestJoinStopsWorker(t *testing.T) {
	tm := New(func() {})
	tm.Arm(time.Hour)
	tm.Join()
	tm.Join() // idempotent
}
