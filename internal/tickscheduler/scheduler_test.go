package tickscheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDisabledUntilEnabled(t *testing.T) {
	var fires int32
	s := New(func() time.Duration { return 10 * time.Millisecond }, func() {
		atomic.AddInt32(&fires, 1)
	})

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fires) != 0 {
		t.Fatalf("expected no fires before Enable, got %d", fires)
	}

	s.Enable()
	time.Sleep(80 * time.Millisecond)
	s.Stop()
	if atomic.LoadInt32(&fires) == 0 {
		t.Fatal("expected at least one fire after Enable")
	}
}

func TestStopPreventsFurtherFires(t *testing.T) {
	var fires int32
	s := New(func() time.Duration { return 10 * time.Millisecond }, func() {
		atomic.AddInt32(&fires, 1)
	})
	s.Enable()
	time.Sleep(25 * time.Millisecond)
	s.Stop()
	count := atomic.LoadInt32(&fires)
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fires) != count {
		t.Errorf("expected no further fires after Stop, before=%d after=%d", count, fires)
	}
}

func TestPeriodIsReReadOnEveryFire(t *testing.T) {
	period := int64(10 * time.Millisecond)
	var fires int32
	s := New(func() time.Duration { return time.Duration(atomic.LoadInt64(&period)) }, func() {
		atomic.AddInt32(&fires, 1)
	})
	s.Enable()
	time.Sleep(25 * time.Millisecond)
	atomic.StoreInt64(&period, int64(200*time.Millisecond))
	// The fire already armed with the old period still happens; the new
	// period applies from the next arming on.
	time.Sleep(50 * time.Millisecond)
	afterChange := atomic.LoadInt32(&fires)
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	if atomic.LoadInt32(&fires) != afterChange {
		t.Errorf("expected the longer period to take effect from the next tick, got extra fires")
	}
}
