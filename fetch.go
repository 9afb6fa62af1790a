package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// fetchJS layers the fetch API over the Go-backed __fetch hook. The hook
// returns a promise of a plain payload; the glue dresses it up as a
// Response with a Headers view. Bodies are text, which is what a page
// rehydrating itself consumes.
const fetchJS = `
(function() {

class Headers {
	constructor(init) {
		this._map = Object.create(null);
		if (!init) return;
		if (init instanceof Headers) {
			var self = this;
			init.forEach(function(v, k) { self._map[k] = v; });
		} else if (Array.isArray(init)) {
			for (var i = 0; i < init.length; i++) {
				this.append(init[i][0], init[i][1]);
			}
		} else {
			for (var k in init) this.set(k, init[k]);
		}
	}
	get(name) {
		var v = this._map[String(name).toLowerCase()];
		return v === undefined ? null : v;
	}
	has(name) { return String(name).toLowerCase() in this._map; }
	set(name, value) { this._map[String(name).toLowerCase()] = String(value); }
	append(name, value) {
		var key = String(name).toLowerCase();
		this._map[key] = key in this._map ? this._map[key] + ', ' + String(value) : String(value);
	}
	delete(name) { delete this._map[String(name).toLowerCase()]; }
	forEach(cb, thisArg) {
		for (var k in this._map) cb.call(thisArg, this._map[k], k, this);
	}
	keys() { return Object.keys(this._map)[Symbol.iterator](); }
	entries() {
		var out = [];
		for (var k in this._map) out.push([k, this._map[k]]);
		return out[Symbol.iterator]();
	}
	[Symbol.iterator]() { return this.entries(); }
}

class Response {
	constructor(payload) {
		this.status = payload.status;
		this.statusText = payload.statusText;
		this.ok = payload.status >= 200 && payload.status <= 299;
		this.url = payload.url;
		this.redirected = !!payload.redirected;
		this.type = 'basic';
		this.headers = new Headers(payload.headers);
		this.bodyUsed = false;
		this._body = payload.body;
	}
	text() {
		this.bodyUsed = true;
		return Promise.resolve(this._body);
	}
	json() {
		return this.text().then(function(t) { return JSON.parse(t); });
	}
	arrayBuffer() {
		return this.text().then(function(t) { return new TextEncoder().encode(t).buffer; });
	}
	clone() {
		var copy = Object.create(Response.prototype);
		copy.status = this.status;
		copy.statusText = this.statusText;
		copy.ok = this.ok;
		copy.url = this.url;
		copy.redirected = this.redirected;
		copy.type = this.type;
		copy.headers = new Headers(this.headers);
		copy.bodyUsed = false;
		copy._body = this._body;
		return copy;
	}
}

globalThis.Headers = Headers;
globalThis.Response = Response;

globalThis.fetch = function(input, init) {
	init = init || {};
	var url;
	if (input && typeof input === 'object' && 'url' in input) {
		url = String(input.url);
	} else {
		url = String(input);
	}
	var method = init.method ? String(init.method).toUpperCase() : 'GET';
	var headers = {};
	var h = init.headers;
	if (h) {
		if (h instanceof Headers) {
			h.forEach(function(v, k) { headers[k] = v; });
		} else if (Array.isArray(h)) {
			for (var i = 0; i < h.length; i++) {
				headers[String(h[i][0]).toLowerCase()] = String(h[i][1]);
			}
		} else {
			for (var k in h) headers[String(k).toLowerCase()] = String(h[k]);
		}
	}
	var body = (init.body === undefined || init.body === null) ? null : String(init.body);
	return __fetch(url, method, headers, body).then(function(payload) {
		return new Response(payload);
	});
};

})();
`

// setupFetch installs the network shim. Every call resolves its URL
// against the effective base, runs under min(client timeout, remaining
// budget), holds a slot in the pending-request counter until its result
// is delivered, and settles an in-page promise either way — network
// failure is page data, never a Go error.
func setupFetch(e *env) error {
	e.ctx.networkInstalled = true

	clientTimeout := e.opts.Client.withDefaults().Timeout

	err := e.rt.Set("__fetch", func(rawURL, method string, headers map[string]string, body goja.Value) *goja.Promise {
		p, resolve, reject := e.rt.NewPromise()

		abs, err := e.ctx.resolveRef(rawURL)
		if err != nil {
			reject(e.rt.NewTypeError("fetch: invalid URL %q", rawURL))
			return p
		}
		timeout := e.ctx.callTimeout(clientTimeout)
		if timeout <= 0 {
			reject(e.rt.NewTypeError("fetch: time budget exhausted"))
			return p
		}

		hdr := http.Header{}
		for k, v := range headers {
			hdr.Set(k, v)
		}
		host := hostOf(abs)
		if ck := e.ctx.cookies.headerFor(host); ck != "" && hdr.Get("Cookie") == "" {
			hdr.Set("Cookie", ck)
		}
		var bodyReader io.Reader
		if body != nil && !goja.IsUndefined(body) && !goja.IsNull(body) {
			bodyReader = strings.NewReader(body.String())
		}

		e.ctx.addPendingRequest()
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			resp, ferr := e.client.Fetch(cctx, method, abs, hdr, bodyReader)

			e.loop.post(func() {
				defer e.ctx.donePendingRequest()
				e.loop.touch()
				if ferr != nil {
					if e.opts.Diagnostics {
						e.cap.record("debug", []string{"fetch failed:", method, abs, ferr.Error()})
					}
					e.guardJob(func() {
						reject(e.rt.NewTypeError("fetch: %s", ferr.Error()))
					})
					return
				}
				e.ctx.cookies.storeFromResponse(hostOf(resp.FinalURL), resp.Header)
				if e.opts.Diagnostics {
					e.cap.record("debug", []string{"fetch:", method, abs, fmt.Sprintf("%d", resp.StatusCode)})
				}
				e.guardJob(func() {
					resolve(fetchPayload(resp, abs))
				})
			})
		}()
		return p
	})
	if err != nil {
		return err
	}

	if _, err := e.rt.RunString(fetchJS); err != nil {
		return fmt.Errorf("installing fetch: %w", err)
	}
	return nil
}

// fetchPayload converts a client response into the plain map the JS glue
// wraps in a Response. Header pairs are sorted for stable output.
func fetchPayload(resp *Response, requestURL string) map[string]any {
	var pairs [][]string
	for k, vals := range resp.Header {
		for _, v := range vals {
			pairs = append(pairs, []string{strings.ToLower(k), v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

	statusText := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	return map[string]any{
		"status":     resp.StatusCode,
		"statusText": statusText,
		"url":        resp.FinalURL,
		"redirected": resp.FinalURL != requestURL,
		"headers":    pairs,
		"body":       string(resp.Body),
	}
}
