package render

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/quillcast/render/internal/dom"
)

// env composes one run's isolated execution environment: the goja runtime,
// the event loop, the per-run context, and every installed shim. It lives
// exactly as long as the run.
type env struct {
	rt     *goja.Runtime
	loop   *eventLoop
	ctx    *runContext
	cap    *capture
	client Fetcher
	opts   Options
	doc    *dom.Document
	bind   *domBinder

	// rejections tracks promises rejected without a handler; whatever is
	// still here at run end is reported through the capture path.
	rejections map[*goja.Promise]goja.Value

	// cleanups run once at run end (WebSocket teardown and the like).
	cleanups []func()

	// entered is true while the run goroutine is inside the sandbox with
	// a watchdog armed; nested entries must not arm a second one.
	entered bool
}

// setupFunc installs one capability into the environment.
type setupFunc func(*env) error

// newEnv builds the environment around a parsed document. Construction
// failure here is a setup error: the only class of failure, besides
// markup parsing, that aborts a run.
func newEnv(doc *dom.Document, rc *runContext, opts Options, client Fetcher) (*env, error) {
	e := &env{
		rt:         goja.New(),
		loop:       newEventLoop(),
		ctx:        rc,
		cap:        newCapture(opts.ForwardConsole),
		client:     client,
		opts:       opts,
		doc:        doc,
		rejections: make(map[*goja.Promise]goja.Value),
	}

	setups := []setupFunc{
		// Event/EventTarget classes, window/self aliases, global
		// event-target methods.
		setupBaseGlobals,
		// performance.now, navigator, atob/btoa, TextEncoder/Decoder,
		// requestAnimationFrame.
		setupGlobals,
		// Console capture: log/info/warn/error/debug into the run log.
		setupConsole,
		// Sandbox-visible timers backed by host timers.
		setupTimers,
		// location and history over the run context's URL.
		setupNavigation,
		// document/element bindings over the parsed tree.
		setupDocument,
		// Unhandled promise rejections into the capture path.
		setupRejectionTracking,
	}
	if !opts.DisableNetwork && client != nil {
		setups = append(setups, setupFetch)
		if opts.PermissiveShims {
			setups = append(setups, setupXHR, setupWebSocket)
		}
	}

	for _, setup := range setups {
		if err := setup(e); err != nil {
			e.loop.shutdown()
			return nil, fmt.Errorf("composing environment: %w", err)
		}
	}
	return e, nil
}

// onCleanup registers fn to run at release time.
func (e *env) onCleanup(fn func()) {
	e.cleanups = append(e.cleanups, fn)
}

// release tears the environment down: flushes rejection reports, closes
// shim resources, and clears still-pending host timers so nothing leaks
// past the call.
func (e *env) release() {
	e.reportUnhandledRejections()
	for _, fn := range e.cleanups {
		fn()
	}
	e.cleanups = nil
	e.loop.shutdown()
}

// setupRejectionTracking wires goja's rejection tracker into the capture
// path. A rejection that later gains a handler is forgiven.
func setupRejectionTracking(e *env) error {
	e.rt.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			e.rejections[p] = p.Result()
		case goja.PromiseRejectionHandle:
			delete(e.rejections, p)
		}
	})
	return nil
}

// reportUnhandledRejections converts every still-unhandled rejection into
// a script-stage error so unguarded async failures are visible in output.
func (e *env) reportUnhandledRejections() {
	for _, reason := range e.rejections {
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			Message: "Uncaught (in promise): " + e.formatValue(reason),
		})
	}
	e.rejections = make(map[*goja.Promise]goja.Value)
}
