package render

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	wurl "github.com/nlnwa/whatwg-url/url"
)

// navigationJS provides the synthetic popstate dispatch used by the
// history shim.
const navigationJS = `
globalThis.__dispatchPopState = function(state) {
	window.dispatchEvent(new PopStateEvent('popstate', {state: state}));
};
`

// histEntry is one stored history entry.
type histEntry struct {
	state goja.Value
	href  string
}

// resolveAndSetHref is the single funnel for every navigation write:
// resolve href against the current page URL; on success replace the
// context's URL atomically; on failure do nothing. Navigation assignment
// never raises — that is the documented contract, not an accident.
func (e *env) resolveAndSetHref(href string) {
	u, err := wurl.ParseRef(e.ctx.pageURL.Href(false), href)
	if err != nil {
		return
	}
	e.ctx.pageURL = u
	e.onNavigate(u.Href(false))
}

// onNavigate is the navigation listener: the document's recorded URL
// follows the context, and diagnostics get a trace entry.
func (e *env) onNavigate(href string) {
	if e.doc != nil {
		e.doc.SetURL(href)
	}
	if e.opts.Diagnostics {
		e.cap.record("debug", []string{"navigation:", href})
	}
}

// setupNavigation installs location and history over the run context's
// single mutable URL.
func setupNavigation(e *env) error {
	if _, err := e.rt.RunString(navigationJS); err != nil {
		return fmt.Errorf("installing navigation glue: %w", err)
	}

	location := e.rt.NewObject()

	accessor := func(get func() string, set func(string)) (goja.Value, goja.Value) {
		getter := e.rt.ToValue(func(goja.FunctionCall) goja.Value {
			return e.rt.ToValue(get())
		})
		if set == nil {
			return getter, goja.Undefined()
		}
		setter := e.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0).String())
			return goja.Undefined()
		})
		return getter, setter
	}

	cur := func() *wurl.Url { return e.ctx.pageURL }

	// setPart rebuilds an absolute URL with one component replaced and
	// funnels it through resolveAndSetHref.
	full := func(protocol, host, pathname, search, hash string) string {
		return protocol + "//" + host + pathname + search + hash
	}

	parts := []struct {
		name string
		get  func() string
		set  func(string)
	}{
		{"href", func() string { return cur().Href(false) }, e.resolveAndSetHref},
		{"protocol", func() string { return cur().Protocol() }, func(v string) {
			v = strings.TrimSuffix(v, ":")
			e.resolveAndSetHref(full(v+":", cur().Host(), cur().Pathname(), cur().Search(), cur().Hash()))
		}},
		{"host", func() string { return cur().Host() }, func(v string) {
			e.resolveAndSetHref(full(cur().Protocol(), v, cur().Pathname(), cur().Search(), cur().Hash()))
		}},
		{"hostname", func() string { return cur().Hostname() }, func(v string) {
			host := v
			if p := cur().Port(); p != "" {
				host += ":" + p
			}
			e.resolveAndSetHref(full(cur().Protocol(), host, cur().Pathname(), cur().Search(), cur().Hash()))
		}},
		{"port", func() string { return cur().Port() }, func(v string) {
			host := cur().Hostname()
			if v != "" {
				host += ":" + v
			}
			e.resolveAndSetHref(full(cur().Protocol(), host, cur().Pathname(), cur().Search(), cur().Hash()))
		}},
		{"pathname", func() string { return cur().Pathname() }, func(v string) {
			if !strings.HasPrefix(v, "/") {
				v = "/" + v
			}
			e.resolveAndSetHref(full(cur().Protocol(), cur().Host(), v, cur().Search(), cur().Hash()))
		}},
		{"search", func() string { return cur().Search() }, func(v string) {
			if v != "" && !strings.HasPrefix(v, "?") {
				v = "?" + v
			}
			e.resolveAndSetHref(full(cur().Protocol(), cur().Host(), cur().Pathname(), v, cur().Hash()))
		}},
		{"hash", func() string { return cur().Hash() }, func(v string) {
			if v != "" && !strings.HasPrefix(v, "#") {
				v = "#" + v
			}
			e.resolveAndSetHref(full(cur().Protocol(), cur().Host(), cur().Pathname(), cur().Search(), v))
		}},
		{"origin", func() string { return cur().Protocol() + "//" + cur().Host() }, nil},
	}
	for _, p := range parts {
		getter, setter := accessor(p.get, p.set)
		if err := location.DefineAccessorProperty(p.name, getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return err
		}
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"assign": func(call goja.FunctionCall) goja.Value {
			e.resolveAndSetHref(call.Argument(0).String())
			return goja.Undefined()
		},
		"replace": func(call goja.FunctionCall) goja.Value {
			e.resolveAndSetHref(call.Argument(0).String())
			return goja.Undefined()
		},
		"reload": func(goja.FunctionCall) goja.Value {
			// A disposable environment has nothing to reload into.
			return goja.Undefined()
		},
		"toString": func(goja.FunctionCall) goja.Value {
			return e.rt.ToValue(cur().Href(false))
		},
	} {
		if err := location.Set(name, fn); err != nil {
			return err
		}
	}

	if err := e.rt.Set("location", location); err != nil {
		return err
	}

	return e.setupHistory()
}

// setupHistory installs pushState/replaceState over an in-run entry
// stack. Pushing notifies the pop-state listener with a synthetic event,
// re-entering the environment the way a real navigation would.
func (e *env) setupHistory() error {
	history := e.rt.NewObject()
	var entries []histEntry

	dispatchPop := func(state goja.Value) {
		fn, ok := goja.AssertFunction(e.rt.Get("__dispatchPopState"))
		if !ok {
			return
		}
		if _, err := fn(goja.Undefined(), state); err != nil {
			e.captureThrown(err, "")
		}
	}

	stateGetter := e.rt.ToValue(func(goja.FunctionCall) goja.Value {
		if v, ok := e.ctx.historyState.(goja.Value); ok && v != nil {
			return v
		}
		return goja.Null()
	})
	if err := history.DefineAccessorProperty("state", stateGetter, goja.Undefined(), goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	lengthGetter := e.rt.ToValue(func(goja.FunctionCall) goja.Value {
		return e.rt.ToValue(len(entries) + 1)
	})
	if err := history.DefineAccessorProperty("length", lengthGetter, goja.Undefined(), goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}

	setState := func(call goja.FunctionCall, push bool) {
		state := call.Argument(0)
		if push {
			entries = append(entries, histEntry{
				state: stateValue(e),
				href:  e.ctx.pageURL.Href(false),
			})
		}
		e.ctx.historyState = state
		if u := call.Argument(2); !goja.IsUndefined(u) && !goja.IsNull(u) {
			e.resolveAndSetHref(u.String())
		}
		if push {
			dispatchPop(state)
		}
	}

	if err := history.Set("pushState", func(call goja.FunctionCall) goja.Value {
		setState(call, true)
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := history.Set("replaceState", func(call goja.FunctionCall) goja.Value {
		setState(call, false)
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := history.Set("back", func(goja.FunctionCall) goja.Value {
		if len(entries) == 0 {
			return goja.Undefined()
		}
		last := entries[len(entries)-1]
		entries = entries[:len(entries)-1]
		e.ctx.historyState = last.state
		e.resolveAndSetHref(last.href)
		dispatchPop(stateValue(e))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	for _, noop := range []string{"forward", "go"} {
		if err := history.Set(noop, func(goja.FunctionCall) goja.Value {
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}

	return e.rt.Set("history", history)
}

// stateValue returns the current history state as a sandbox value.
func stateValue(e *env) goja.Value {
	if v, ok := e.ctx.historyState.(goja.Value); ok && v != nil {
		return v
	}
	return goja.Null()
}
