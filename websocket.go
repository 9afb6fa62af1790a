package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/dop251/goja"
)

// wsJS implements the WebSocket surface over Go-backed connection hooks.
// The Go side calls back into _onopen/_onmessage/_onerror/_onclose on the
// run goroutine; messages are delivered as text.
const wsJS = `
(function() {

class WebSocket {
	constructor(url) {
		__installEventTarget(this);
		this.url = String(url);
		this.readyState = WebSocket.CONNECTING;
		this.bufferedAmount = 0;
		this.protocol = '';
		this.extensions = '';
		this.binaryType = 'arraybuffer';
		var self = this;
		this._onopen = function(id) {
			self._id = id;
			self.readyState = WebSocket.OPEN;
			self.dispatchEvent(new Event('open'));
		};
		this._onmessage = function(data) {
			var ev = new Event('message');
			ev.data = data;
			ev.origin = self.url;
			self.dispatchEvent(ev);
		};
		this._onerror = function(message) {
			var ev = new Event('error');
			ev.message = message;
			self.dispatchEvent(ev);
		};
		this._onclose = function(code, reason) {
			self.readyState = WebSocket.CLOSED;
			var ev = new Event('close');
			ev.code = code;
			ev.reason = reason;
			ev.wasClean = code === 1000;
			self.dispatchEvent(ev);
		};
		__wsOpen(this.url, this);
	}

	send(data) {
		if (this.readyState !== WebSocket.OPEN) {
			throw new Error('WebSocket is not open: readyState ' + this.readyState);
		}
		__wsSend(this._id, String(data));
	}

	close(code, reason) {
		if (this.readyState >= WebSocket.CLOSING) return;
		this.readyState = WebSocket.CLOSING;
		if (this._id !== undefined) {
			__wsClose(this._id, code === undefined ? 1000 : Number(code), reason === undefined ? '' : String(reason));
		}
	}
}

WebSocket.CONNECTING = 0;
WebSocket.OPEN = 1;
WebSocket.CLOSING = 2;
WebSocket.CLOSED = 3;
WebSocket.prototype.CONNECTING = 0;
WebSocket.prototype.OPEN = 1;
WebSocket.prototype.CLOSING = 2;
WebSocket.prototype.CLOSED = 3;

globalThis.WebSocket = WebSocket;

})();
`

// wsRegistry tracks live connections for one run so release can close
// whatever the page left open.
type wsRegistry struct {
	mu     sync.Mutex
	nextID int
	conns  map[int]*websocket.Conn
}

func (r *wsRegistry) add(c *websocket.Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.conns[r.nextID] = c
	return r.nextID
}

func (r *wsRegistry) get(id int) *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[id]
}

func (r *wsRegistry) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *wsRegistry) closeAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[int]*websocket.Conn)
	r.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "run finished")
	}
}

// setupWebSocket installs the WebSocket shim. The dial holds a
// pending-request slot until the connection settles either way, every
// frame counts as activity, and any connection still open at run end is
// closed by the release hook. All reads and writes are bounded by the
// run deadline.
func setupWebSocket(e *env) error {
	reg := &wsRegistry{conns: make(map[int]*websocket.Conn)}
	e.onCleanup(reg.closeAll)

	// invoke calls one of the handle's callbacks under the budget guard,
	// capturing any throw.
	invoke := func(handle *goja.Object, name string, args ...goja.Value) {
		fn, ok := goja.AssertFunction(handle.Get(name))
		if !ok {
			return
		}
		_, err := e.runWithBudget(func() (goja.Value, error) {
			return fn(handle, args...)
		})
		if err != nil {
			e.captureThrown(err, "")
		}
	}

	clientTimeout := e.opts.Client.withDefaults().Timeout

	err := e.rt.Set("__wsOpen", func(rawURL string, handle *goja.Object) {
		abs, err := e.ctx.resolveRef(rawURL)
		if err != nil {
			invoke(handle, "_onerror", e.rt.ToValue(fmt.Sprintf("invalid URL %q", rawURL)))
			invoke(handle, "_onclose", e.rt.ToValue(1006), e.rt.ToValue("invalid URL"))
			return
		}
		timeout := e.ctx.callTimeout(clientTimeout)
		if timeout <= 0 {
			invoke(handle, "_onerror", e.rt.ToValue("time budget exhausted"))
			invoke(handle, "_onclose", e.rt.ToValue(1006), e.rt.ToValue("time budget exhausted"))
			return
		}

		e.ctx.addPendingRequest()
		go func() {
			dctx, cancel := context.WithTimeout(context.Background(), timeout)
			conn, _, derr := websocket.Dial(dctx, abs, nil)
			cancel()
			if derr != nil {
				e.loop.post(func() {
					defer e.ctx.donePendingRequest()
					e.loop.touch()
					if e.opts.Diagnostics {
						e.cap.record("debug", []string{"websocket dial failed:", abs, derr.Error()})
					}
					invoke(handle, "_onerror", e.rt.ToValue(derr.Error()))
					invoke(handle, "_onclose", e.rt.ToValue(1006), e.rt.ToValue("connection failed"))
				})
				return
			}

			id := reg.add(conn)
			e.loop.post(func() {
				defer e.ctx.donePendingRequest()
				e.loop.touch()
				if e.opts.Diagnostics {
					e.cap.record("debug", []string{"websocket open:", abs})
				}
				invoke(handle, "_onopen", e.rt.ToValue(id))
			})

			rctx, rcancel := context.WithDeadline(context.Background(), e.ctx.deadline)
			defer rcancel()
			for {
				_, data, rerr := conn.Read(rctx)
				if rerr != nil {
					reg.remove(id)
					code, reason := 1006, "connection lost"
					if s := websocket.CloseStatus(rerr); s != -1 {
						code, reason = int(s), "closed"
					}
					e.loop.post(func() {
						e.loop.touch()
						invoke(handle, "_onclose", e.rt.ToValue(code), e.rt.ToValue(reason))
					})
					return
				}
				msg := string(data)
				e.loop.post(func() {
					e.loop.touch()
					invoke(handle, "_onmessage", e.rt.ToValue(msg))
				})
			}
		}()
	})
	if err != nil {
		return err
	}

	err = e.rt.Set("__wsSend", func(id int, data string) {
		conn := reg.get(id)
		if conn == nil {
			return
		}
		go func() {
			wctx, cancel := context.WithDeadline(context.Background(), e.ctx.deadline)
			defer cancel()
			_ = conn.Write(wctx, websocket.MessageText, []byte(data))
		}()
	})
	if err != nil {
		return err
	}

	err = e.rt.Set("__wsClose", func(id int, code int, reason string) {
		conn := reg.get(id)
		if conn == nil {
			return
		}
		reg.remove(id)
		go func() {
			_ = conn.Close(websocket.StatusCode(code), reason)
		}()
	})
	if err != nil {
		return err
	}

	if _, err := e.rt.RunString(wsJS); err != nil {
		return fmt.Errorf("installing WebSocket: %w", err)
	}
	return nil
}
