package render

import (
	"errors"
	"time"

	"github.com/dop251/goja"
	wurl "github.com/nlnwa/whatwg-url/url"
)

// errBudgetExhausted is the interrupt value planted by the watchdog when
// a script outlives the remaining run budget.
var errBudgetExhausted = errors.New("time budget exhausted")

// hostOf returns the hostname of a URL, or "" when it cannot be parsed.
func hostOf(rawURL string) string {
	u, err := wurl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// runWithBudget executes fn under a watchdog armed with the remaining
// budget. The watchdog fires rt.Interrupt from its own goroutine — the
// one goja call that is safe off the run goroutine, mirroring an engine
// terminate. Interruption surfaces as errBudgetExhausted.
//
// Re-entrant calls (a Go hook invoked from sandboxed code calling back
// into the sandbox) run under the already-armed outer watchdog; arming
// twice would let the inner exit clear the outer interrupt.
func (e *env) runWithBudget(fn func() (goja.Value, error)) (goja.Value, error) {
	if e.entered {
		return fn()
	}
	remaining := e.ctx.remaining()
	if remaining <= 0 {
		return nil, errBudgetExhausted
	}
	e.entered = true
	watchdog := time.AfterFunc(remaining, func() {
		e.rt.Interrupt(errBudgetExhausted)
	})
	defer func() {
		e.entered = false
		watchdog.Stop()
		e.rt.ClearInterrupt()
	}()

	v, err := fn()
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, errBudgetExhausted
		}
	}
	return v, err
}

// guardJob runs a sandbox re-entry that has no error return (promise
// resolve/reject) under the same watchdog discipline, converting an
// interrupt or throw escaping it into a captured error.
func (e *env) guardJob(fn func()) {
	_, err := e.runWithBudget(func() (v goja.Value, err error) {
		defer func() {
			if r := recover(); r != nil {
				switch thrown := r.(type) {
				case *goja.InterruptedError:
					err = thrown
				case *goja.Exception:
					err = thrown
				default:
					panic(r)
				}
			}
		}()
		fn()
		return nil, nil
	})
	if err != nil {
		e.captureThrown(err, "")
	}
}

// captureThrown records a script failure without ever propagating it.
// url is empty for inline scripts and internal callbacks.
func (e *env) captureThrown(err error, url string) {
	if err == nil {
		return
	}
	var interrupted *goja.InterruptedError
	if errors.Is(err, errBudgetExhausted) || errors.As(err, &interrupted) {
		e.ctx.timedOut.Store(true)
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			URL:     url,
			Message: "execution interrupted: time budget exhausted",
		})
		return
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			URL:     url,
			Message: e.formatValue(exc.Value()),
			Stack:   exc.String(),
		})
		return
	}
	e.cap.addError(ExecutionError{Stage: StageScript, URL: url, Message: err.Error()})
}

// throwTypeError raises a JS TypeError inside the sandbox.
func (e *env) throwTypeError(format string, args ...any) {
	panic(e.rt.NewTypeError(append([]any{format}, args...)...))
}
