package render

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// globalsJS installs the simple pure-JS globals on top of the Go-backed
// hooks registered by setupGlobals.
const globalsJS = `
(function() {
	globalThis.performance = {
		timeOrigin: __timeOrigin(),
		now: function() { return __perfNow(); },
	};

	globalThis.requestAnimationFrame = function(cb) {
		if (typeof cb !== 'function') return 0;
		return setTimeout(function() { cb(performance.now()); }, 16);
	};
	globalThis.cancelAnimationFrame = function(id) { clearTimeout(id); };

	globalThis.TextEncoder = class TextEncoder {
		get encoding() { return 'utf-8'; }
		encode(input) {
			return new Uint8Array(__utf8Encode(input === undefined ? '' : String(input)));
		}
	};
	globalThis.TextDecoder = class TextDecoder {
		get encoding() { return 'utf-8'; }
		decode(input) {
			if (input === undefined) return '';
			var buf = input instanceof ArrayBuffer ? input
				: (input && input.buffer instanceof ArrayBuffer) ? input.buffer.slice(input.byteOffset, input.byteOffset + input.byteLength)
				: null;
			if (buf === null) throw new TypeError('TextDecoder.decode: expected buffer source');
			return __utf8Decode(buf);
		}
	};
})();
`

// setupGlobals installs performance, navigator, base64 helpers, and text
// encoding over host-clock and Go string primitives. The performance
// clock is the host clock: page code cannot skew it.
func setupGlobals(e *env) error {
	start := time.Now()

	hooks := map[string]any{
		"__timeOrigin": func() float64 {
			return float64(start.UnixMilli())
		},
		"__perfNow": func() float64 {
			return float64(time.Since(start).Microseconds()) / 1000.0
		},
		"__utf8Encode": func(s string) goja.ArrayBuffer {
			return e.rt.NewArrayBuffer([]byte(s))
		},
		"__utf8Decode": func(buf goja.ArrayBuffer) string {
			return string(buf.Bytes())
		},
	}
	for name, fn := range hooks {
		if err := e.rt.Set(name, fn); err != nil {
			return err
		}
	}

	if err := e.rt.Set("btoa", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		raw := make([]byte, 0, len(s))
		for _, r := range s {
			if r > 0xFF {
				e.throwTypeError("btoa: character out of latin1 range")
			}
			raw = append(raw, byte(r))
		}
		return e.rt.ToValue(base64.StdEncoding.EncodeToString(raw))
	}); err != nil {
		return err
	}
	if err := e.rt.Set("atob", func(call goja.FunctionCall) goja.Value {
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			e.throwTypeError("atob: invalid base64: %s", err.Error())
		}
		runes := make([]rune, len(decoded))
		for i, b := range decoded {
			runes[i] = rune(b)
		}
		return e.rt.ToValue(string(runes))
	}); err != nil {
		return err
	}

	navigator := e.rt.NewObject()
	ua := e.opts.Client.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	for k, v := range map[string]any{
		"userAgent":     ua,
		"language":      "en-US",
		"languages":     []string{"en-US", "en"},
		"platform":      "Linux x86_64",
		"cookieEnabled": true,
		"onLine":        !e.opts.DisableNetwork,
	} {
		if err := navigator.Set(k, v); err != nil {
			return err
		}
	}
	if err := e.rt.Set("navigator", navigator); err != nil {
		return err
	}

	if _, err := e.rt.RunString(globalsJS); err != nil {
		return fmt.Errorf("installing globals: %w", err)
	}
	return nil
}
