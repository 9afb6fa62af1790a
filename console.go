package render

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// capture accumulates console entries and execution errors for one run.
// Everything the page emits, and every failure hook, funnels through here;
// nothing in the capture path ever throws back into the sandbox.
type capture struct {
	mu      sync.Mutex
	entries []ConsoleEntry
	errors  []ExecutionError
	forward bool
}

func newCapture(forward bool) *capture {
	return &capture{forward: forward}
}

// record appends one console entry. Entries past the cap are dropped
// silently; oversized messages are truncated.
func (c *capture) record(level string, args []string) {
	msg := strings.Join(args, " ")
	if len(msg) > maxConsoleMessage {
		msg = msg[:maxConsoleMessage] + "...(truncated)"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= maxConsoleEntries {
		return
	}
	c.entries = append(c.entries, ConsoleEntry{
		Level:   level,
		Message: msg,
		Args:    args,
		Time:    time.Now(),
	})
	if c.forward {
		log.Printf("render: console.%s: %s", level, msg)
	}
}

// addError appends one execution error.
func (c *capture) addError(e ExecutionError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, e)
	if c.forward {
		log.Printf("render: %s", e.Error())
	}
}

// waitError records a budget-exhaustion advisory.
func (c *capture) waitError(msg string) {
	c.addError(ExecutionError{Stage: StageWait, Message: msg})
}

// snapshot returns copies of the accumulated entries and errors.
func (c *capture) snapshot() ([]ConsoleEntry, []ExecutionError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]ConsoleEntry, len(c.entries))
	copy(entries, c.entries)
	errs := make([]ExecutionError, len(c.errors))
	copy(errs, c.errors)
	return entries, errs
}

// setupConsole installs a Go-backed console that renders each argument
// and records the call. All five levels share one record path.
func setupConsole(e *env) error {
	console := e.rt.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		lvl := level
		err := console.Set(lvl, func(call goja.FunctionCall) goja.Value {
			args := make([]string, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				args = append(args, e.formatValue(a))
			}
			e.cap.record(lvl, args)
			return goja.Undefined()
		})
		if err != nil {
			return err
		}
	}
	return e.rt.Set("console", console)
}

// formatValue renders a sandbox value for capture. Error-like values keep
// their name, message, stack, and any extra enumerable data so failures
// inside scripts stay legible downstream; plain objects are JSON when
// possible.
func (e *env) formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}

	name := obj.Get("name")
	message := obj.Get("message")
	if name != nil && !goja.IsUndefined(name) && message != nil && !goja.IsUndefined(message) {
		out := name.String() + ": " + message.String()
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			out = stack.String()
			if !strings.Contains(out, message.String()) {
				out = name.String() + ": " + message.String() + "\n" + stack.String()
			}
		}
		if extra := errorExtras(obj); extra != "" {
			out += " " + extra
		}
		return out
	}

	if data, err := json.Marshal(obj.Export()); err == nil && len(data) > 0 && string(data) != "null" {
		return string(data)
	}
	return v.String()
}

// errorExtras serializes enumerable own properties of an error-like
// object beyond the standard trio.
func errorExtras(obj *goja.Object) string {
	extra := make(map[string]any)
	for _, k := range obj.Keys() {
		switch k {
		case "name", "message", "stack":
			continue
		}
		extra[k] = obj.Get(k).Export()
	}
	if len(extra) == 0 {
		return ""
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return string(data)
}
