package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
)

// echoServer accepts one WebSocket connection and echoes frames back
// with a prefix.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()
		ctx := context.Background()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, append([]byte("echo:"), data...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketNotInstalledByDefault(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script>document.getElementById('out').textContent = typeof WebSocket;</script>`)
	res := renderHTML(t, testOptions(), markup, "https://example.com/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">undefined<")
}

func TestWebSocketEchoRoundTrip(t *testing.T) {
	srv := echoServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	markup := page(`<div id="out"></div>
		<script>
			var ws = new WebSocket('` + wsURL + `/socket');
			ws.onopen = function() { ws.send('hello'); };
			ws.onmessage = function(ev) {
				document.getElementById('out').textContent = ev.data;
				ws.close();
			};
		</script>`)
	res := renderHTML(t, permissiveOptions(), markup, srv.URL+"/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">echo:hello<")
}

func TestWebSocketDialFailureFiresErrorAndClose(t *testing.T) {
	markup := page(`<div id="out"></div>
		<script>
			var events = [];
			var ws = new WebSocket('ws://127.0.0.1:1/refused');
			ws.onerror = function() { events.push('error'); };
			ws.onclose = function(ev) {
				events.push('close:' + ev.code);
				document.getElementById('out').textContent = events.join(' ');
			};
		</script>`)
	res := renderHTML(t, permissiveOptions(), markup, "http://127.0.0.1/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, "error close:1006")
}

func TestWebSocketSendBeforeOpenThrows(t *testing.T) {
	srv := echoServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	markup := page(`<div id="out"></div>
		<script>
			var ws = new WebSocket('` + wsURL + `/socket');
			try {
				ws.send('too early');
			} catch (err) {
				document.getElementById('out').textContent = 'threw';
			}
		</script>`)
	res := renderHTML(t, permissiveOptions(), markup, srv.URL+"/")
	assertNoErrors(t, res)
	assertSnapshotContains(t, res, ">threw<")
}
