package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDiscoverScripts(t *testing.T) {
	markup := `<!DOCTYPE html><html><head>
		<script src="/a.js"></script>
		<script type="module" src="/b.mjs"></script>
		<script>inlineClassic();</script>
		<script type="module">inlineModule();</script>
		<script type="application/json">{"data": true}</script>
		<script type="text/template"><div></div></script>
		<script nomodule src="/legacy.js"></script>
		<script>   </script>
	</head><body></body></html>`

	scripts, err := DiscoverScripts(markup)
	if err != nil {
		t.Fatalf("DiscoverScripts: %v", err)
	}
	if len(scripts) != 4 {
		t.Fatalf("want 4 scripts, got %d: %+v", len(scripts), scripts)
	}

	want := []DiscoveredScript{
		{Kind: ScriptExternal, Module: false, URL: "/a.js"},
		{Kind: ScriptExternal, Module: true, URL: "/b.mjs"},
		{Kind: ScriptInline, Module: false, Source: "inlineClassic();"},
		{Kind: ScriptInline, Module: true, Source: "inlineModule();"},
	}
	for i, w := range want {
		got := scripts[i]
		if got.Kind != w.Kind || got.Module != w.Module || got.URL != w.URL {
			t.Errorf("script %d = %+v, want %+v", i, got, w)
		}
		if w.Source != "" && got.Source != w.Source {
			t.Errorf("script %d source = %q, want %q", i, got.Source, w.Source)
		}
	}
}

func TestExternalScriptExecutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte(`document.getElementById('out').textContent = 'external ran';`))
	}))
	defer srv.Close()

	markup := page(`<div id="out"></div><script src="/app.js"></script>`)
	res := renderHTML(t, testOptions(), markup, srv.URL+"/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, "external ran")
}

func TestExternalScriptLoadFailureIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	markup := page(`<div id="out"></div>
		<script src="/missing.js"></script>
		<script>document.getElementById('out').textContent = 'later ran';</script>`)
	res := renderHTML(t, testOptions(), markup, srv.URL+"/")
	assertSnapshotContains(t, res, "later ran")

	if len(res.Errors) != 1 {
		t.Fatalf("want 1 error, got %d: %v", len(res.Errors), res.Errors)
	}
	e := res.Errors[0]
	if e.Stage != StageScript {
		t.Errorf("stage = %q, want script", e.Stage)
	}
	if !strings.HasSuffix(e.URL, "/missing.js") {
		t.Errorf("error URL = %q, want .../missing.js", e.URL)
	}
}

func TestExternalScriptSkippedWhenNetworkDisabled(t *testing.T) {
	opts := testOptions()
	opts.DisableNetwork = true
	markup := page(`<script src="https://cdn.example.com/lib.js"></script>`)
	res := renderHTML(t, opts, markup, "https://example.com/")
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Message, "network disabled") {
		t.Errorf("want one network-disabled error, got %v", res.Errors)
	}
}

func TestClassicScriptsRunBeforeModules(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script type="module">document.getElementById('out').textContent += 'module;';</script>
		<script>document.getElementById('out').textContent += 'classic;';</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, "classic;module;")
}

func TestScriptIsolationBetweenRuns(t *testing.T) {
	r := New(testOptions())

	first := page(`<script>globalThis.leaked = 'from run one';</script>`)
	if _, err := r.Render(context.Background(), first, "https://example.com/"); err != nil {
		t.Fatalf("first render: %v", err)
	}

	second := page(`<div id="out"></div>
		<script>document.getElementById('out').textContent = typeof globalThis.leaked;</script>`)
	res, err := r.Render(context.Background(), second, "https://example.com/")
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">undefined<")
}

func TestModernSyntaxLowered(t *testing.T) {
	// Optional chaining and nullish coalescing postdate the engine's
	// parser in some versions; the lowering retry keeps such scripts alive.
	markup := page(`<div id="out"></div>
		<script>
			const obj = {a: {b: 'deep'}};
			document.getElementById('out').textContent = obj?.a?.b ?? 'fallback';
		</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">deep<")
}
