package render

import "testing"

func TestBase64Helpers(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script>
			var encoded = btoa('round trip');
			document.getElementById('out').textContent = encoded + '|' + atob(encoded);
		</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, "cm91bmQgdHJpcA==|round trip")
}

func TestTextEncoderDecoderRoundTrip(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script>
			var bytes = new TextEncoder().encode('héllo');
			var back = new TextDecoder().decode(bytes);
			document.getElementById('out').textContent = bytes.length + '|' + back;
		</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">6|héllo<")
}

func TestPerformanceNowMonotonic(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script>
			var a = performance.now();
			var b = performance.now();
			document.getElementById('out').textContent = String(b >= a && typeof performance.timeOrigin === 'number');
		</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">true<")
}

func TestNavigatorUserAgent(t *testing.T) {
	opts := testOptions()
	opts.Client.UserAgent = "custom-agent/2.0"
	markup := page(`<div id="out"></div>
		<script>document.getElementById('out').textContent = navigator.userAgent;</script>`)
	res := renderHTML(t, opts, markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">custom-agent/2.0<")
}

func TestWindowAliasesGlobal(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script>
			document.getElementById('out').textContent =
				String(window === globalThis) + '|' + String(self === window);
		</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">true|true<")
}

func TestCustomEventDispatch(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script>
			window.addEventListener('app:ready', function(ev) {
				document.getElementById('out').textContent = ev.detail.version;
			});
			window.dispatchEvent(new CustomEvent('app:ready', {detail: {version: 'v7'}}));
		</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">v7<")
}

func TestListenerErrorIsCapturedNotFatal(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script>
			window.addEventListener('boom', function() { throw new Error('listener failed'); });
			window.dispatchEvent(new Event('boom'));
			document.getElementById('out').textContent = 'still running';
		</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertSnapshotContains(t, res, "still running")
	if len(res.Errors) == 0 {
		t.Error("listener error not captured")
	}
}
