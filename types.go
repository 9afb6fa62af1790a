package render

import (
	"fmt"
	"time"
)

// WaitStrategy selects how a run decides that the page has settled.
type WaitStrategy int

const (
	// WaitTimeout sleeps until the time budget expires and returns
	// whatever the page looks like at that point. Deterministic.
	WaitTimeout WaitStrategy = iota

	// WaitNetworkIdle polls until there are no pending requests or script
	// loads and no async activity for the configured idle window, or
	// until the budget expires.
	WaitNetworkIdle
)

func (s WaitStrategy) String() string {
	switch s {
	case WaitTimeout:
		return "timeout"
	case WaitNetworkIdle:
		return "network-idle"
	default:
		return fmt.Sprintf("WaitStrategy(%d)", int(s))
	}
}

// Stage identifies which phase of a run produced an ExecutionError.
type Stage string

const (
	// StageScript marks a failure of a single script: load error, syntax
	// error, or a thrown exception during execution.
	StageScript Stage = "script"

	// StageWait marks a budget-exhaustion advisory: the script loop or the
	// settle wait was cut short and the snapshot is best-effort partial.
	StageWait Stage = "wait"
)

// ScriptKind distinguishes inline script bodies from externally loaded ones.
type ScriptKind string

const (
	ScriptInline   ScriptKind = "inline"
	ScriptExternal ScriptKind = "external"
)

// DiscoveredScript is one <script> found in the markup, in document order.
type DiscoveredScript struct {
	Kind   ScriptKind `json:"kind"`
	Module bool       `json:"module"` // type="module"
	URL    string     `json:"url,omitempty"`
	Source string     `json:"source,omitempty"`
}

// ConsoleEntry is a single console call captured from the page, in
// emission order.
type ConsoleEntry struct {
	Level   string    `json:"level"` // log, info, warn, error, debug
	Message string    `json:"message"`
	Args    []string  `json:"args,omitempty"`
	Time    time.Time `json:"time"`
}

// ExecutionError is a non-fatal failure collected during a run. Stage and
// URL let callers tell a hard script failure (stage=script, URL set for
// external sources) from a soft budget advisory (stage=wait).
type ExecutionError struct {
	Stage   Stage  `json:"stage"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (e ExecutionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.URL, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// RunResult wraps the final snapshot with everything captured along the
// way. It is always produced once the markup parses; partial failures are
// reported through Errors instead of aborting the run.
type RunResult struct {
	Snapshot string           `json:"snapshot"`
	Console  []ConsoleEntry   `json:"console,omitempty"`
	Errors   []ExecutionError `json:"errors,omitempty"`
	TimedOut bool             `json:"timedOut"` // settle wait hit the deadline
	Duration time.Duration    `json:"duration"`
}
