package render

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNetworkIdleReturnsBeforeBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"v":1}`))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Budget = 5 * time.Second
	opts.IdleWindow = 50 * time.Millisecond

	markup := page(`<script>fetch('/data');</script>`)
	start := time.Now()
	res := renderHTML(t, opts, markup, srv.URL+"/")
	elapsed := time.Since(start)

	assertNoErrors(t, res)
	if res.TimedOut {
		t.Error("TimedOut set on a settled run")
	}
	if elapsed >= opts.Budget {
		t.Errorf("run took %v, idle detection never fired", elapsed)
	}
}

func TestTimeoutStrategyWaitsFullBudget(t *testing.T) {
	opts := testOptions()
	opts.Wait = WaitTimeout
	opts.Budget = 250 * time.Millisecond

	markup := page(`<div id="out"></div>
		<script>
			setTimeout(function() {
				document.getElementById('out').textContent = 'late mutation';
			}, 150);
		</script>`)
	start := time.Now()
	res := renderHTML(t, opts, markup, "https://example.com/")
	elapsed := time.Since(start)

	assertNoErrors(t, res)
	assertSnapshotContains(t, res, "late mutation")
	if elapsed < opts.Budget {
		t.Errorf("run took %v, timeout strategy returned before the budget", elapsed)
	}
}

func TestNetworkIdleForcedToTimeoutWithoutNetwork(t *testing.T) {
	opts := testOptions()
	opts.Wait = WaitNetworkIdle
	opts.DisableNetwork = true
	opts.Budget = 250 * time.Millisecond

	start := time.Now()
	res := renderHTML(t, opts, page(""), "https://example.com/")
	elapsed := time.Since(start)

	assertNoErrors(t, res)
	if elapsed < opts.Budget {
		t.Errorf("run took %v, expected forced timeout strategy to wait the full budget", elapsed)
	}
}

func TestNeverIdlePageGetsWaitAdvisory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tick"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Budget = 400 * time.Millisecond
	opts.IdleWindow = 200 * time.Millisecond

	// An interval faster than the idle window keeps activity warm forever.
	markup := page(`<script>setInterval(function() {}, 30);</script>`)
	res := renderHTML(t, opts, markup, srv.URL+"/")

	if !res.TimedOut {
		t.Error("TimedOut not set on a never-idle page")
	}
	found := false
	for _, e := range res.Errors {
		if e.Stage == StageWait {
			found = true
		}
	}
	if !found {
		t.Errorf("no wait-stage advisory recorded: %v", res.Errors)
	}
}

func TestPendingRequestHoldsIdle(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			<-release
		}
		_, _ = w.Write([]byte(`"done"`))
	}))
	defer srv.Close()

	go func() {
		time.Sleep(200 * time.Millisecond)
		close(release)
	}()

	opts := testOptions()
	opts.Budget = 2 * time.Second
	opts.IdleWindow = 50 * time.Millisecond

	markup := page(`<div id="out"></div>
		<script>
			fetch('/slow').then(function(r) { return r.json(); }).then(function(v) {
				document.getElementById('out').textContent = v;
			});
		</script>`)
	res := renderHTML(t, opts, markup, srv.URL+"/")
	assertNoErrors(t, res)
	// Idle detection must not declare victory while /slow is in flight.
	assertSnapshotContains(t, res, ">done<")
}
