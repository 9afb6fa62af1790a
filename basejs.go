package render

import (
	"fmt"

	"github.com/dop251/goja"
)

// baseJS defines the event plumbing every other shim builds on: Event,
// CustomEvent, EventTarget, and window/self aliases for the global scope.
// In a browser the global scope IS the window; in goja they are separate,
// so the window alias and the global event-target methods are installed
// explicitly.
const baseJS = `
(function() {

class Event {
	constructor(type, init) {
		init = init || {};
		this.type = String(type);
		this.bubbles = !!init.bubbles;
		this.cancelable = !!init.cancelable;
		this.defaultPrevented = false;
		this.target = null;
		this.currentTarget = null;
		this.timeStamp = (typeof performance !== 'undefined' && performance.now) ? performance.now() : 0;
		this._stopped = false;
	}
	preventDefault() { if (this.cancelable) this.defaultPrevented = true; }
	stopPropagation() {}
	stopImmediatePropagation() { this._stopped = true; }
}

class CustomEvent extends Event {
	constructor(type, init) {
		super(type, init);
		this.detail = (init && init.detail !== undefined) ? init.detail : null;
	}
}

class ErrorEvent extends Event {
	constructor(type, init) {
		super(type, init);
		init = init || {};
		this.message = init.message || '';
		this.filename = init.filename || '';
		this.lineno = init.lineno || 0;
		this.colno = init.colno || 0;
		this.error = init.error;
	}
}

class PopStateEvent extends Event {
	constructor(type, init) {
		super(type, init);
		this.state = (init && init.state !== undefined) ? init.state : null;
	}
}

function installEventTarget(obj) {
	var listeners = Object.create(null);
	obj.addEventListener = function(type, cb, opts) {
		if (typeof cb !== 'function') return;
		type = String(type);
		var list = listeners[type] || (listeners[type] = []);
		for (var i = 0; i < list.length; i++) {
			if (list[i].cb === cb) return;
		}
		list.push({cb: cb, once: !!(opts && opts.once)});
	};
	obj.removeEventListener = function(type, cb) {
		var list = listeners[String(type)];
		if (!list) return;
		for (var i = 0; i < list.length; i++) {
			if (list[i].cb === cb) { list.splice(i, 1); return; }
		}
	};
	obj.dispatchEvent = function(event) {
		event.target = event.target || obj;
		event.currentTarget = obj;
		var list = listeners[event.type];
		if (list) {
			var copy = list.slice();
			for (var i = 0; i < copy.length; i++) {
				if (event._stopped) break;
				if (copy[i].once) obj.removeEventListener(event.type, copy[i].cb);
				try {
					copy[i].cb.call(obj, event);
				} catch (err) {
					__reportListenerError(err);
				}
			}
		}
		var handler = obj['on' + event.type];
		if (!event._stopped && typeof handler === 'function') {
			try {
				handler.call(obj, event);
			} catch (err2) {
				__reportListenerError(err2);
			}
		}
		return !event.defaultPrevented;
	};
	return obj;
}

class EventTarget {
	constructor() { installEventTarget(this); }
}

globalThis.Event = Event;
globalThis.CustomEvent = CustomEvent;
globalThis.ErrorEvent = ErrorEvent;
globalThis.PopStateEvent = PopStateEvent;
globalThis.EventTarget = EventTarget;
globalThis.__installEventTarget = installEventTarget;

installEventTarget(globalThis);
globalThis.window = globalThis;
globalThis.self = globalThis;

})();
`

// setupBaseGlobals evaluates the event plumbing and wires listener
// failures into the capture path.
func setupBaseGlobals(e *env) error {
	if err := e.rt.Set("__reportListenerError", func(v goja.Value) {
		e.cap.addError(ExecutionError{
			Stage:   StageScript,
			Message: e.formatValue(v),
		})
	}); err != nil {
		return err
	}
	if _, err := e.rt.RunString(baseJS); err != nil {
		return fmt.Errorf("installing event plumbing: %w", err)
	}
	return nil
}
