package render

import (
	"sync/atomic"
	"testing"
	"time"

	wurl "github.com/nlnwa/whatwg-url/url"
)

func testRunContext(t *testing.T, pageURL, baseURL string, budget time.Duration) *runContext {
	t.Helper()
	page, err := wurl.Parse(pageURL)
	if err != nil {
		t.Fatalf("parse page URL: %v", err)
	}
	base := page
	if baseURL != "" {
		base, err = wurl.Parse(baseURL)
		if err != nil {
			t.Fatalf("parse base URL: %v", err)
		}
	}
	return newRunContext(page, base, time.Now().Add(budget))
}

func TestCallTimeoutCappedByBudget(t *testing.T) {
	rc := testRunContext(t, "https://example.com/", "", 100*time.Millisecond)

	if got := rc.callTimeout(10 * time.Second); got > 100*time.Millisecond {
		t.Errorf("callTimeout(10s) = %v, want capped by remaining budget", got)
	}
	if got := rc.callTimeout(10 * time.Millisecond); got > 10*time.Millisecond {
		t.Errorf("callTimeout(10ms) = %v, want at most the request", got)
	}
}

func TestCallTimeoutZeroAfterExpiry(t *testing.T) {
	rc := testRunContext(t, "https://example.com/", "", -time.Second)
	if !rc.expired() {
		t.Error("context with past deadline not expired")
	}
	if got := rc.callTimeout(time.Second); got != 0 {
		t.Errorf("callTimeout after expiry = %v, want 0", got)
	}
}

func TestPendingCountersNeverNegative(t *testing.T) {
	rc := testRunContext(t, "https://example.com/", "", time.Second)

	rc.addPendingRequest()
	rc.donePendingRequest()
	rc.donePendingRequest() // mismatched; must floor at zero

	if !rc.idle() {
		t.Error("context not idle after balanced (and over-balanced) calls")
	}
	if got := rc.pendingRequests.Load(); got != 0 {
		t.Errorf("pendingRequests = %d, want 0", got)
	}
}

func TestDecrementFloorConcurrent(t *testing.T) {
	var c atomic.Int32
	c.Store(5)
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			decrementFloor(&c)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
	if got := c.Load(); got != 0 {
		t.Errorf("counter = %d, want floored at 0", got)
	}
}

func TestResolveRefUsesBase(t *testing.T) {
	rc := testRunContext(t, "https://example.com/page", "https://cdn.example.com/assets/", time.Second)

	got, err := rc.resolveRef("app.js")
	if err != nil {
		t.Fatalf("resolveRef: %v", err)
	}
	if got != "https://cdn.example.com/assets/app.js" {
		t.Errorf("resolveRef = %q", got)
	}

	got, err = rc.resolveRef("https://other.example.com/x.js")
	if err != nil {
		t.Fatalf("resolveRef absolute: %v", err)
	}
	if got != "https://other.example.com/x.js" {
		t.Errorf("absolute ref = %q", got)
	}
}

func TestDeclaredBaseAffectsScriptResolution(t *testing.T) {
	markup := `<!DOCTYPE html><html><head><base href="https://assets.example.net/v2/"></head>
		<body><div id="out"></div>
		<script>
			document.getElementById('out').textContent = document.baseURI;
		</script></body></html>`
	res := renderHTML(t, testOptions(), markup, "https://example.com/page")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">https://assets.example.net/v2/<")
}

func TestRelativeDeclaredBaseCoercedAbsolute(t *testing.T) {
	markup := `<!DOCTYPE html><html><head><base href="/nested/"></head><body></body></html>`
	res := renderHTML(t, testOptions(), markup, "https://example.com/page")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, `<base href="https://example.com/nested/">`)
}
