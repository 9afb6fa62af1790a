package render

import (
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(opts ClientOptions) *Client {
	opts.AllowPrivateHosts = true
	return NewClient(opts)
}

func TestClientRedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	c := testClient(ClientOptions{MaxRedirects: 3})
	_, err := c.Fetch(context.Background(), "GET", srv.URL+"/r", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "redirects") {
		t.Errorf("want redirect cap error, got %v", err)
	}
}

func TestClientFollowsRedirectAndReportsFinalURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/final", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte("landed"))
	}))
	defer srv.Close()

	c := testClient(ClientOptions{})
	resp, err := c.Fetch(context.Background(), "GET", srv.URL+"/start", nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.HasSuffix(resp.FinalURL, "/final") {
		t.Errorf("FinalURL = %q", resp.FinalURL)
	}
	if string(resp.Body) != "landed" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestClientBodySizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 1<<20))
	}))
	defer srv.Close()

	c := testClient(ClientOptions{MaxResponseBytes: 1024})
	resp, err := c.Fetch(context.Background(), "GET", srv.URL+"/big", nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(resp.Body) != 1024 {
		t.Errorf("body length = %d, want capped at 1024", len(resp.Body))
	}
}

func TestClientDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("compressed content"))
		_ = gz.Close()
	}))
	defer srv.Close()

	c := testClient(ClientOptions{})
	resp, err := c.Fetch(context.Background(), "GET", srv.URL+"/gz", nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(resp.Body) != "compressed content" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestClientBlocksPrivateHosts(t *testing.T) {
	c := NewClient(ClientOptions{})
	for _, url := range []string{
		"http://127.0.0.1/x",
		"http://localhost/x",
		"http://10.0.0.8/x",
		"http://192.168.1.1/x",
		"http://[::1]/x",
	} {
		if _, err := c.Fetch(context.Background(), "GET", url, nil, nil); err == nil {
			t.Errorf("%s: want private-address error, got nil", url)
		}
	}
}

func TestFetchScriptRejectsNonScriptContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not js</html>"))
	}))
	defer srv.Close()

	strict := testClient(ClientOptions{StrictContentTypes: true})
	if _, err := strict.FetchScript(context.Background(), srv.URL+"/page"); err == nil {
		t.Error("strict client accepted text/html as a script")
	}

	lax := testClient(ClientOptions{})
	if _, err := lax.FetchScript(context.Background(), srv.URL+"/page"); err != nil {
		t.Errorf("lax client rejected script: %v", err)
	}
}

func TestFetchScriptRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	c := testClient(ClientOptions{})
	_, err := c.FetchScript(context.Background(), srv.URL+"/gone")
	if err == nil || !strings.Contains(err.Error(), fmt.Sprint(http.StatusGone)) {
		t.Errorf("want HTTP 410 error, got %v", err)
	}
}

func TestClientSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(ClientOptions{UserAgent: "probe/1.0"})
	if _, err := c.Fetch(context.Background(), "GET", srv.URL+"/", nil, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotUA != "probe/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}
