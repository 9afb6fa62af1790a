package render

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// moduleServer serves a small module graph for the loader tests.
func moduleServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(path, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write([]byte(body))
		})
	}
	serve("/entry.mjs", `
		import { label } from './lib/format.mjs';
		document.getElementById('out').textContent = label('shipped');
	`)
	serve("/lib/format.mjs", `
		import { upper } from './case.mjs';
		export function label(s) { return 'status: ' + upper(s); }
	`)
	serve("/lib/case.mjs", `
		export function upper(s) { return s.toUpperCase(); }
	`)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInlineModuleExecutes(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script type="module">
			const value = ['m', 'o', 'd'].join('');
			document.getElementById('out').textContent = value;
		</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">mod<")
}

func TestExternalModuleGraphExecutes(t *testing.T) {
	srv := moduleServer(t)
	markup := page(`<div id="out"></div><script type="module" src="/entry.mjs"></script>`)
	res := renderHTML(t, testOptions(), markup, srv.URL+"/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, "status: SHIPPED")
}

func TestInlineModuleWithRelativeImport(t *testing.T) {
	srv := moduleServer(t)
	markup := page(`<div id="out"></div>
		<script type="module">
			import { upper } from './lib/case.mjs';
			document.getElementById('out').textContent = upper('inline');
		</script>`)
	res := renderHTML(t, testOptions(), markup, srv.URL+"/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">INLINE<")
}

func TestUnresolvableImportIsOneError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.mjs" {
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write([]byte(`import missing from './does-not-exist.mjs'; missing();`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	markup := page(`<script type="module" src="/broken.mjs"></script>`)
	res := renderHTML(t, testOptions(), markup, srv.URL+"/")

	if len(res.Errors) != 1 {
		t.Fatalf("want exactly 1 error for the whole graph, got %d: %v", len(res.Errors), res.Errors)
	}
	e := res.Errors[0]
	if e.Stage != StageScript {
		t.Errorf("stage = %q, want script", e.Stage)
	}
	if !strings.HasSuffix(e.URL, "/broken.mjs") {
		t.Errorf("error attributed to %q, want the outer module URL", e.URL)
	}
}

func TestModuleErrorDoesNotStopClassicScripts(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script type="module">throw new Error('module exploded');</script>
		<script>document.getElementById('out').textContent = 'classic ran';</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	// Classic runs first by ordering, but the module failure must still
	// leave the run producing a full result.
	assertSnapshotContains(t, res, "classic ran")
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e.Message, "module exploded") {
			found = true
		}
	}
	if !found {
		t.Errorf("module error not captured: %v", res.Errors)
	}
}
