package typing

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartFiresImmediatelyAndOnKeepalive(t *testing.T) {
	var calls int32
	c := New(Options{
		StartFn:           func() error { atomic.AddInt32(&calls, 1); return nil },
		KeepaliveInterval: 10 * time.Millisecond,
		MaxDuration:       time.Second,
	})
	c.Start()
	defer c.Stop()

	time.Sleep(35 * time.Millisecond)
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected at least 2 calls (immediate + keepalive), got %d", calls)
	}
}

func TestStopEndsKeepaliveLoop(t *testing.T) {
	var calls int32
	c := New(Options{
		StartFn:           func() error { atomic.AddInt32(&calls, 1); return nil },
		KeepaliveInterval: 10 * time.Millisecond,
		MaxDuration:       time.Second,
	})
	c.Start()
	time.Sleep(15 * time.Millisecond)
	c.Stop()
	after := atomic.LoadInt32(&calls)
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&calls) != after {
		t.Fatalf("expected no further calls after Stop, went from %d to %d", after, calls)
	}
}

func TestStopIsSafeToCallMultipleTimes(t *testing.T) {
	c := New(Options{})
	c.Start()
	c.Stop()
	c.Stop()
}

func TestMaxDurationStopsControllerEvenWithoutStop(t *testing.T) {
	var calls int32
	c := New(Options{
		StartFn:           func() error { atomic.AddInt32(&calls, 1); return nil },
		KeepaliveInterval: 5 * time.Millisecond,
		MaxDuration:       15 * time.Millisecond,
	})
	c.Start()
	time.Sleep(60 * time.Millisecond)
	after := atomic.LoadInt32(&calls)
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&calls) != after {
		t.Fatalf("expected no calls after MaxDuration elapsed, went from %d to %d", after, calls)
	}
}
