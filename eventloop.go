package render

import (
	"sync"
	"sync/atomic"
	"time"
)

// eventLoop serializes all sandbox re-entry onto the run's goroutine.
// Host goroutines (HTTP completions, host timers, WebSocket reads) never
// touch the JS runtime; they post jobs here and the run goroutine executes
// them while draining.
//
// The loop also owns the host timer family: real OS timers used by
// budget-sensitive internals. They are tracked so cleanup can release any
// still pending at run end, and they are invisible to the page — code that
// clobbers its own setTimeout cannot defeat them.
type eventLoop struct {
	jobs chan func()

	mu         sync.Mutex
	hostTimers map[int]*time.Timer
	nextID     int
	closed     bool

	// lastActivity is the host-clock time of the most recent fired
	// sandbox callback, as unix nanos. The settle engine reads it for
	// idle detection.
	lastActivity atomic.Int64
}

func newEventLoop() *eventLoop {
	el := &eventLoop{
		jobs:       make(chan func(), 4096),
		hostTimers: make(map[int]*time.Timer),
	}
	el.touch()
	return el
}

// touch records async activity now.
func (el *eventLoop) touch() {
	el.lastActivity.Store(time.Now().UnixNano())
}

// idleFor returns how long it has been since the last recorded activity.
func (el *eventLoop) idleFor() time.Duration {
	return time.Since(time.Unix(0, el.lastActivity.Load()))
}

// post queues fn for execution on the run goroutine. Safe to call from
// any goroutine. After close, or if the queue is saturated past its large
// buffer, the job is dropped — by then the run is over or the page is
// flooding timers past any useful settle point.
func (el *eventLoop) post(fn func()) {
	el.mu.Lock()
	closed := el.closed
	el.mu.Unlock()
	if closed {
		return
	}
	select {
	case el.jobs <- fn:
	default:
	}
}

// afterFunc schedules fn on the run goroutine after d, on a host timer.
// Returns the timer ID for cancellation.
func (el *eventLoop) afterFunc(d time.Duration, fn func()) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.closed {
		return 0
	}
	el.nextID++
	id := el.nextID
	el.hostTimers[id] = time.AfterFunc(d, func() {
		el.mu.Lock()
		delete(el.hostTimers, id)
		el.mu.Unlock()
		el.post(fn)
	})
	return id
}

// cancel stops and forgets a host timer. Cancelling an already-fired or
// unknown ID is a no-op.
func (el *eventLoop) cancel(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.hostTimers[id]; ok {
		t.Stop()
		delete(el.hostTimers, id)
	}
}

// drainPending executes every job already queued, without waiting.
func (el *eventLoop) drainPending() {
	for {
		select {
		case fn := <-el.jobs:
			fn()
		default:
			return
		}
	}
}

// drainUntil executes jobs as they arrive until the deadline passes or
// done (checked every poll interval and after every job) returns true.
// done may be nil to wait out the full deadline.
func (el *eventLoop) drainUntil(deadline time.Time, poll time.Duration, done func() bool) {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	for {
		if done != nil && done() {
			return
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return
		}
		if wait > poll {
			wait = poll
		}
		select {
		case fn := <-el.jobs:
			fn()
		case <-time.After(wait):
		}
	}
}

// shutdown releases every still-pending host timer and stops accepting
// jobs. Called once at run end so nothing outlives the call.
func (el *eventLoop) shutdown() {
	el.mu.Lock()
	el.closed = true
	for id, t := range el.hostTimers {
		t.Stop()
		delete(el.hostTimers, id)
	}
	el.mu.Unlock()
	// Discard anything still queued.
	for {
		select {
		case <-el.jobs:
		default:
			return
		}
	}
}
