package render

import (
	"context"
	"fmt"
	"time"

	wurl "github.com/nlnwa/whatwg-url/url"

	"github.com/quillcast/render/internal/dom"
)

// Renderer executes page scripts against parsed markup and returns the
// mutated document. A Renderer is immutable after construction and safe
// for concurrent use; every run gets its own engine, event loop, and
// shim state.
type Renderer struct {
	opts   Options
	client Fetcher
}

// New creates a Renderer. The zero Options value gives a 3 second
// budget, the timeout wait strategy, and an outbound HTTP client with a
// private-address guard.
func New(opts Options) *Renderer {
	opts = opts.withDefaults()
	r := &Renderer{opts: opts}
	if !opts.DisableNetwork {
		r.client = NewClient(opts.Client)
	}
	return r
}

// WithClient returns a copy of the Renderer using the given Fetcher for
// all outbound HTTP. Tests use it to substitute fakes.
func (r *Renderer) WithClient(client Fetcher) *Renderer {
	copied := *r
	copied.client = client
	return &copied
}

// Render parses markup, discovers its scripts, executes them, waits for
// the page to settle, and returns the serialized result. finalURL is the
// URL the markup was retrieved from; it seeds location, relative URL
// resolution, and the cookie scope.
//
// Only setup failures return an error: unparsable page URL, markup the
// parser cannot consume, or environment construction. Everything that
// goes wrong after setup is data in the RunResult.
func (r *Renderer) Render(ctx context.Context, markup, finalURL string) (*RunResult, error) {
	return r.run(ctx, markup, finalURL, nil, true)
}

// RenderScripts is Render with a caller-supplied script list instead of
// discovery. Scripts run in slice order, classic before module.
func (r *Renderer) RenderScripts(ctx context.Context, markup, finalURL string, scripts []DiscoveredScript) (*RunResult, error) {
	return r.run(ctx, markup, finalURL, scripts, false)
}

// DiscoverScripts parses markup and returns its executable scripts in
// document order without running anything.
func DiscoverScripts(markup string) ([]DiscoveredScript, error) {
	doc, err := dom.Parse(markup, "")
	if err != nil {
		return nil, err
	}
	return discoverScripts(doc), nil
}

func (r *Renderer) run(ctx context.Context, markup, finalURL string, scripts []DiscoveredScript, discover bool) (*RunResult, error) {
	start := time.Now()
	deadline := start.Add(r.opts.Budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	page, err := wurl.Parse(finalURL)
	if err != nil {
		return nil, fmt.Errorf("parsing page URL %q: %w", finalURL, err)
	}
	doc, err := dom.Parse(markup, page.Href(false))
	if err != nil {
		return nil, fmt.Errorf("parsing markup: %w", err)
	}

	// A declared <base> wins over the page URL for relative resolution.
	// A relative declared base is itself resolved against the page URL
	// and rewritten absolute, so the snapshot resolves the same way the
	// run did.
	base := page
	if raw, ok := doc.BaseHref(); ok {
		if bu, err := wurl.ParseRef(page.Href(false), raw); err == nil {
			base = bu
			doc.SetBaseHref(bu.Href(false))
		}
	}

	rc := newRunContext(page, base, deadline)
	e, err := newEnv(doc, rc, r.opts, r.client)
	if err != nil {
		return nil, err
	}
	defer e.release()

	if discover {
		scripts = discoverScripts(doc)
	}
	e.runScripts(scripts)
	e.runLifecycle()
	e.settle()
	e.reportUnhandledRejections()
	e.loop.drainPending()

	snapshot, err := doc.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serializing snapshot: %w", err)
	}

	entries, errs := e.cap.snapshot()
	result := &RunResult{
		Snapshot: snapshot,
		Console:  entries,
		Errors:   errs,
		TimedOut: rc.timedOut.Load(),
		Duration: time.Since(start),
	}
	if r.opts.Diagnostics {
		e.cap.record("debug", []string{fmt.Sprintf(
			"run finished: %d script(s), %d error(s), %s elapsed",
			len(scripts), len(errs), result.Duration.Round(time.Millisecond),
		)})
		result.Console, _ = e.cap.snapshot()
	}
	return result, nil
}
