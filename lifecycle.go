package render

import (
	"time"

	"github.com/dop251/goja"
)

// runLifecycle drives the document through the end-of-parse sequence:
// readyState interactive, DOMContentLoaded on document, readyState
// complete, load on window. Each dispatch gets a short bounded drain so
// listeners that schedule immediate async work see it delivered, capped
// by whatever budget remains.
func (e *env) runLifecycle() {
	if e.bind != nil {
		e.bind.setReadyState("interactive")
	}
	e.dispatchLifecycle(`document.dispatchEvent(new Event('DOMContentLoaded'))`)
	e.drainWindow()

	if e.bind != nil {
		e.bind.setReadyState("complete")
	}
	e.dispatchLifecycle(`window.dispatchEvent(new Event('load'))`)
	e.drainWindow()
}

// dispatchLifecycle evaluates one dispatch expression under the budget
// watchdog. Listener throws are already captured by the event plumbing;
// only dispatch machinery failures and interrupts land here.
func (e *env) dispatchLifecycle(expr string) {
	_, err := e.runWithBudget(func() (goja.Value, error) {
		return e.rt.RunString(expr)
	})
	if err != nil {
		e.captureThrown(err, "")
	}
}

// drainWindow processes queued jobs for min(lifecycleWindow, remaining).
func (e *env) drainWindow() {
	window := lifecycleWindow
	if rem := e.ctx.remaining(); rem < window {
		window = rem
	}
	if window <= 0 {
		return
	}
	e.loop.drainUntil(time.Now().Add(window), e.opts.PollInterval, nil)
}
