package render

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// timersJS wraps the Go-backed scheduling hooks in the standard timer API.
// Callbacks stay on the JS side; Go only tracks scheduling metadata.
const timersJS = `
(function() {
	globalThis.setTimeout = function(fn, delay) {
		if (typeof fn !== 'function') return 0;
		var args = Array.prototype.slice.call(arguments, 2);
		return __timerRegister(function() { fn.apply(undefined, args); }, Number(delay) || 0, false);
	};
	globalThis.setInterval = function(fn, interval) {
		if (typeof fn !== 'function') return 0;
		var args = Array.prototype.slice.call(arguments, 2);
		return __timerRegister(function() { fn.apply(undefined, args); }, Number(interval) || 0, true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (typeof id === 'number') __timerClear(id);
	};
	globalThis.queueMicrotask = function(fn) {
		if (typeof fn !== 'function') return;
		Promise.resolve().then(function() { __touchActivity(); fn(); });
	};
})();
`

// sandboxTimer is one pending sandbox-visible timer. All access happens
// on the run goroutine.
type sandboxTimer struct {
	fn       goja.Callable
	interval time.Duration // 0 for one-shot
	hostID   int
	cleared  bool
}

// setupTimers installs the sandbox-visible timer family. Each timer is
// backed by a host timer on the event loop, and every fired callback
// updates the activity clock — so idle detection sees timer churn, and
// page code that replaces its own setTimeout cannot touch the host
// family the budget machinery runs on.
func setupTimers(e *env) error {
	timers := make(map[int]*sandboxTimer)
	nextID := 0

	var schedule func(id int, t *sandboxTimer, d time.Duration)
	schedule = func(id int, t *sandboxTimer, d time.Duration) {
		t.hostID = e.loop.afterFunc(d, func() {
			if t.cleared || e.ctx.expired() {
				delete(timers, id)
				return
			}
			e.loop.touch()
			_, err := e.runWithBudget(func() (goja.Value, error) {
				return t.fn(goja.Undefined())
			})
			if err != nil {
				e.captureThrown(err, "")
			}
			if t.interval > 0 && !t.cleared && !e.ctx.expired() {
				schedule(id, t, t.interval)
			} else {
				delete(timers, id)
			}
		})
	}

	err := e.rt.Set("__timerRegister", func(fn goja.Value, delayMs float64, interval bool) int {
		callable, ok := goja.AssertFunction(fn)
		if !ok {
			return 0
		}
		if delayMs < 0 {
			delayMs = 0
		}
		nextID++
		id := nextID
		t := &sandboxTimer{fn: callable}
		d := time.Duration(delayMs) * time.Millisecond
		if interval {
			if d <= 0 {
				d = time.Millisecond
			}
			t.interval = d
		}
		timers[id] = t
		schedule(id, t, d)
		return id
	})
	if err != nil {
		return err
	}
	err = e.rt.Set("__timerClear", func(id int) {
		if t, ok := timers[id]; ok {
			t.cleared = true
			e.loop.cancel(t.hostID)
			delete(timers, id)
		}
	})
	if err != nil {
		return err
	}
	err = e.rt.Set("__touchActivity", func() {
		e.loop.touch()
	})
	if err != nil {
		return err
	}

	if _, err := e.rt.RunString(timersJS); err != nil {
		return fmt.Errorf("installing timers: %w", err)
	}
	return nil
}
