package render

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEventLoopPostAndDrain(t *testing.T) {
	el := newEventLoop()
	defer el.shutdown()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		el.post(func() { ran.Add(1) })
	}
	el.drainPending()
	if got := ran.Load(); got != 5 {
		t.Errorf("ran %d jobs, want 5", got)
	}
}

func TestEventLoopAfterFuncDelivers(t *testing.T) {
	el := newEventLoop()
	defer el.shutdown()

	var fired atomic.Bool
	el.afterFunc(10*time.Millisecond, func() { fired.Store(true) })
	el.drainUntil(time.Now().Add(200*time.Millisecond), 5*time.Millisecond, func() bool {
		return fired.Load()
	})
	if !fired.Load() {
		t.Error("timer job never delivered")
	}
}

func TestEventLoopCancelStopsTimer(t *testing.T) {
	el := newEventLoop()
	defer el.shutdown()

	var fired atomic.Bool
	id := el.afterFunc(20*time.Millisecond, func() { fired.Store(true) })
	el.cancel(id)
	el.drainUntil(time.Now().Add(60*time.Millisecond), 5*time.Millisecond, nil)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}

func TestEventLoopShutdownDropsLateJobs(t *testing.T) {
	el := newEventLoop()
	el.afterFunc(time.Hour, func() {})
	el.shutdown()

	var ran atomic.Bool
	el.post(func() { ran.Store(true) })
	el.drainPending()
	if ran.Load() {
		t.Error("job ran after shutdown")
	}
}

func TestEventLoopIdleTracking(t *testing.T) {
	el := newEventLoop()
	defer el.shutdown()

	el.touch()
	if el.idleFor() > 50*time.Millisecond {
		t.Error("idleFor too large right after touch")
	}
	time.Sleep(60 * time.Millisecond)
	if el.idleFor() < 50*time.Millisecond {
		t.Error("idleFor did not grow")
	}
}
