package render

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/quillcast/render/internal/dom"
)

// classicScriptTypes lists the type attribute values executed as classic
// scripts. Anything else (JSON payloads, templates, unknown languages)
// is data, not code, and is left alone.
var classicScriptTypes = map[string]bool{
	"":                       true,
	"text/javascript":        true,
	"application/javascript": true,
	"text/ecmascript":        true,
	"application/ecmascript": true,
}

// discoverScripts walks the parsed tree and collects every executable
// <script> in document order. URLs are kept raw here; resolution against
// the effective base happens at execution time.
func discoverScripts(doc *dom.Document) []DiscoveredScript {
	var out []DiscoveredScript
	for _, el := range doc.ElementsByTag("script") {
		typ, _ := el.Attr("type")
		typ = strings.ToLower(strings.TrimSpace(typ))
		module := typ == "module"
		if !module && !classicScriptTypes[typ] {
			continue
		}
		// nomodule scripts exist only for engines without module support.
		if _, ok := el.Attr("nomodule"); ok {
			continue
		}
		if src, ok := el.Attr("src"); ok && strings.TrimSpace(src) != "" {
			out = append(out, DiscoveredScript{Kind: ScriptExternal, Module: module, URL: strings.TrimSpace(src)})
			continue
		}
		source := el.Text()
		if strings.TrimSpace(source) == "" {
			continue
		}
		out = append(out, DiscoveredScript{Kind: ScriptInline, Module: module, Source: source})
	}
	return out
}

// runScripts executes the script list: classic scripts first in document
// order, then modules in document order. One failing script never stops
// the loop; an exhausted budget does, with a wait-stage advisory for
// whatever was left unrun.
func (e *env) runScripts(scripts []DiscoveredScript) {
	var classics, modules []DiscoveredScript
	for _, s := range scripts {
		if s.Module {
			modules = append(modules, s)
		} else {
			classics = append(classics, s)
		}
	}
	ordered := append(classics, modules...)

	for i, s := range ordered {
		if e.ctx.expired() {
			e.ctx.timedOut.Store(true)
			e.cap.waitError(fmt.Sprintf("time budget exhausted with %d script(s) unrun", len(ordered)-i))
			return
		}
		if s.Module {
			e.runModule(s, i)
		} else {
			e.runClassic(s, i)
		}
		// Deliver whatever completions arrived while the script ran.
		e.loop.drainPending()
	}
}

// runClassic loads (if external) and executes one classic script.
func (e *env) runClassic(s DiscoveredScript, idx int) {
	src := s.Source
	name := fmt.Sprintf("inline:%d", idx)
	url := ""

	if s.Kind == ScriptExternal {
		abs, text, ok := e.loadExternal(s.URL)
		if !ok {
			return
		}
		src, name, url = text, abs, abs
	}
	e.evalClassic(src, name, url)
}

// loadExternal resolves and fetches an external script source. Failures
// are recorded as script-stage errors; the caller just moves on.
func (e *env) loadExternal(rawURL string) (abs, source string, ok bool) {
	abs, err := e.ctx.resolveRef(rawURL)
	if err != nil {
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			URL:     rawURL,
			Message: fmt.Sprintf("unresolvable script URL: %v", err),
		})
		return "", "", false
	}
	if e.client == nil || e.opts.DisableNetwork {
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			URL:     abs,
			Message: "external script skipped: network disabled",
		})
		return "", "", false
	}
	timeout := e.ctx.callTimeout(e.opts.Client.withDefaults().Timeout)
	if timeout <= 0 {
		e.ctx.timedOut.Store(true)
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			URL:     abs,
			Message: "script load skipped: time budget exhausted",
		})
		return "", "", false
	}

	e.ctx.addPendingLoad()
	defer e.ctx.donePendingLoad()
	cctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	text, err := e.client.FetchScript(cctx, abs)
	if err != nil {
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			URL:     abs,
			Message: fmt.Sprintf("loading script: %v", err),
		})
		return "", "", false
	}
	if e.opts.Diagnostics {
		e.cap.record("debug", []string{"script loaded:", abs})
	}
	return abs, text, true
}

// evalClassic runs source under the budget watchdog. A syntax error gets
// one retry through the ES2017 lowering pass before being reported;
// pages shipping syntax newer than the engine otherwise lose the whole
// script.
func (e *env) evalClassic(src, name, url string) {
	_, err := e.runWithBudget(func() (goja.Value, error) {
		return e.rt.RunScript(name, src)
	})
	if err == nil {
		return
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		if lowered, ok := lowerSyntax(src, name); ok {
			_, retryErr := e.runWithBudget(func() (goja.Value, error) {
				return e.rt.RunScript(name, lowered)
			})
			if retryErr != nil {
				e.captureThrown(retryErr, url)
			}
			return
		}
	}
	e.captureThrown(err, url)
}
