package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	wurl "github.com/nlnwa/whatwg-url/url"
)

// Modules are executed by bundling: the engine has no native module
// graph, so the graph is resolved and linked ahead of evaluation, with
// imports fetched over the run's HTTP client, and the linked output runs
// as one classic script. Failures anywhere in the graph surface as a
// single script-stage error attributed to the outer script.

// moduleBundle is the outcome of one bundling pass.
type moduleBundle struct {
	code string
	err  error
}

// runModule links and evaluates one module script. Linking happens off
// the run goroutine and is raced against the remaining budget; an
// abandoned link finishes into a buffered channel and is discarded.
func (e *env) runModule(s DiscoveredScript, idx int) {
	outerURL := ""
	name := fmt.Sprintf("module:%d", idx)
	entry := api.BuildOptions{}

	if s.Kind == ScriptExternal {
		abs, err := e.ctx.resolveRef(s.URL)
		if err != nil {
			e.cap.addError(ExecutionError{
				Stage:   StageScript,
				URL:     s.URL,
				Message: fmt.Sprintf("unresolvable module URL: %v", err),
			})
			return
		}
		outerURL, name = abs, abs
		entry.EntryPoints = []string{abs}
	} else {
		src := s.Source
		entry.Stdin = &api.StdinOptions{
			Contents:   src,
			Sourcefile: name,
			Loader:     api.LoaderJS,
		}
	}

	entry.Bundle = true
	entry.Write = false
	entry.Format = api.FormatIIFE
	entry.Target = api.ES2017
	entry.LogLevel = api.LogLevelSilent
	entry.Plugins = []api.Plugin{e.modulePlugin()}

	remaining := e.ctx.remaining()
	if remaining <= 0 {
		e.ctx.timedOut.Store(true)
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			URL:     outerURL,
			Message: "module skipped: time budget exhausted",
		})
		return
	}

	done := make(chan moduleBundle, 1)
	go func() {
		result := api.Build(entry)
		if len(result.Errors) > 0 {
			msgs := make([]string, 0, len(result.Errors))
			for _, m := range result.Errors {
				msgs = append(msgs, m.Text)
			}
			done <- moduleBundle{err: fmt.Errorf("%s", strings.Join(msgs, "; "))}
			return
		}
		if len(result.OutputFiles) == 0 {
			done <- moduleBundle{err: fmt.Errorf("linking produced no output")}
			return
		}
		done <- moduleBundle{code: string(result.OutputFiles[0].Contents)}
	}()

	select {
	case b := <-done:
		if b.err != nil {
			e.cap.addError(ExecutionError{
				Stage:   StageScript,
				URL:     outerURL,
				Message: fmt.Sprintf("linking module graph: %v", b.err),
			})
			return
		}
		if e.opts.Diagnostics {
			e.cap.record("debug", []string{"module linked:", name})
		}
		e.evalClassic(b.code, name, outerURL)
	case <-time.After(remaining):
		e.ctx.timedOut.Store(true)
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			URL:     outerURL,
			Message: "module abandoned: time budget exhausted during graph load",
		})
	}
}

// modulePlugin routes every import through the run's URL resolution and
// HTTP client. Entry points and stdin-relative imports resolve against
// the effective base; imports inside fetched modules resolve against
// their importer's URL.
func (e *env) modulePlugin() api.Plugin {
	return api.Plugin{
		Name: "remote-modules",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				base := e.ctx.baseURL.Href(false)
				if args.Namespace == "url" && args.Importer != "" {
					base = args.Importer
				}
				u, err := wurl.ParseRef(base, args.Path)
				if err != nil {
					return api.OnResolveResult{}, fmt.Errorf("resolving import %q: %w", args.Path, err)
				}
				return api.OnResolveResult{Path: u.Href(false), Namespace: "url"}, nil
			})
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "url"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				if e.client == nil || e.opts.DisableNetwork {
					return api.OnLoadResult{}, fmt.Errorf("network disabled")
				}
				timeout := e.ctx.callTimeout(e.opts.Client.withDefaults().Timeout)
				if timeout <= 0 {
					return api.OnLoadResult{}, fmt.Errorf("time budget exhausted")
				}
				e.ctx.addPendingLoad()
				defer e.ctx.donePendingLoad()
				cctx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				text, err := e.client.FetchScript(cctx, args.Path)
				if err != nil {
					return api.OnLoadResult{}, fmt.Errorf("loading module: %w", err)
				}
				return api.OnLoadResult{Contents: &text, Loader: api.LoaderJS}, nil
			})
		},
	}
}

// lowerSyntax transpiles source down to ES2017 for engines that reject
// newer syntax. Returns false when the source does not even transpile.
func lowerSyntax(src, name string) (string, bool) {
	result := api.Transform(src, api.TransformOptions{
		Target:     api.ES2017,
		Loader:     api.LoaderJS,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", false
	}
	return string(result.Code), true
}
