package render

import "fmt"

// xhrJS implements XMLHttpRequest as a legacy veneer over the same
// __fetch hook the modern shim uses, so both families share one request
// path, one cookie jar, and one pending-request counter. Requests are
// always asynchronous; the async flag to open() is accepted and ignored.
const xhrJS = `
(function() {

class XMLHttpRequest {
	constructor() {
		__installEventTarget(this);
		this.readyState = 0;
		this.status = 0;
		this.statusText = '';
		this.responseText = '';
		this.response = '';
		this.responseType = '';
		this.responseURL = '';
		this.timeout = 0;
		this.withCredentials = false;
		this._headers = {};
		this._respHeaders = null;
		this._aborted = false;
	}

	open(method, url) {
		this._method = method ? String(method).toUpperCase() : 'GET';
		this._url = String(url);
		this._aborted = false;
		this.readyState = 1;
		this._change();
	}

	setRequestHeader(name, value) {
		this._headers[String(name).toLowerCase()] = String(value);
	}

	getResponseHeader(name) {
		return this._respHeaders ? this._respHeaders.get(name) : null;
	}

	getAllResponseHeaders() {
		if (!this._respHeaders) return '';
		var lines = [];
		this._respHeaders.forEach(function(v, k) { lines.push(k + ': ' + v); });
		return lines.join('\r\n');
	}

	overrideMimeType() {}

	abort() {
		this._aborted = true;
		this.readyState = 0;
		this.dispatchEvent(new Event('abort'));
	}

	send(body) {
		if (this.readyState !== 1) {
			throw new Error('XMLHttpRequest: send() called in state ' + this.readyState);
		}
		var self = this;
		var payload = (body === undefined || body === null) ? null : String(body);
		__fetch(this._url, this._method, this._headers, payload).then(function(result) {
			if (self._aborted) return;
			self.status = result.status;
			self.statusText = result.statusText;
			self.responseURL = result.url;
			self._respHeaders = new Headers(result.headers);
			self.readyState = 2;
			self._change();
			self.readyState = 3;
			self._change();
			self.responseText = result.body;
			if (self.responseType === 'json') {
				try { self.response = JSON.parse(result.body); }
				catch (err) { self.response = null; }
			} else {
				self.response = result.body;
			}
			self.readyState = 4;
			self._change();
			self.dispatchEvent(new Event('load'));
			self.dispatchEvent(new Event('loadend'));
		}, function(err) {
			if (self._aborted) return;
			self.status = 0;
			self.readyState = 4;
			self._change();
			self.dispatchEvent(new Event('error'));
			self.dispatchEvent(new Event('loadend'));
		});
	}

	_change() { this.dispatchEvent(new Event('readystatechange')); }
}

XMLHttpRequest.UNSENT = 0;
XMLHttpRequest.OPENED = 1;
XMLHttpRequest.HEADERS_RECEIVED = 2;
XMLHttpRequest.LOADING = 3;
XMLHttpRequest.DONE = 4;

globalThis.XMLHttpRequest = XMLHttpRequest;

})();
`

// setupXHR installs XMLHttpRequest. Runs after setupFetch, which defines
// the __fetch hook and the Headers class this glue leans on.
func setupXHR(e *env) error {
	if _, err := e.rt.RunString(xhrJS); err != nil {
		return fmt.Errorf("installing XMLHttpRequest: %w", err)
	}
	return nil
}
