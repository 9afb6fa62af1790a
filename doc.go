// Package render executes the scripts of an HTML page inside an isolated
// JavaScript environment and returns the mutated markup, so content that
// exists only after client-side hydration can be read without a browser.
//
// A run parses the markup, installs browser-shaped shims over it
// (document, location, history, timers, fetch, console), executes the
// page's classic scripts and modules in document order, fires the load
// lifecycle, waits for the page to settle, and serializes the tree:
//
//	r := render.New(render.Options{Wait: render.WaitNetworkIdle})
//	result, err := r.Render(ctx, markup, "https://example.com/app")
//	if err != nil {
//		// setup failure: bad URL or unparsable markup
//	}
//	_ = result.Snapshot // markup after scripts ran
//	_ = result.Errors   // script failures, as data
//
// The whole run is bounded by a single wall-clock budget. Scripts that
// overrun it are interrupted, never the host. Script failures, console
// output, and budget advisories are collected into the RunResult instead
// of aborting: the only errors Render returns are setup failures.
package render
