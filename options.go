package render

import "time"

// Defaults applied by Options.withDefaults.
const (
	defaultBudget       = 3 * time.Second
	defaultIdleWindow   = 500 * time.Millisecond
	defaultPollInterval = 25 * time.Millisecond

	// lifecycleWindow bounds how long listeners for DOMContentLoaded/load
	// may run after script execution halts.
	lifecycleWindow = 50 * time.Millisecond

	maxConsoleEntries = 1000
	maxConsoleMessage = 4096
)

// Options configures a Renderer. The zero value is usable: 3s budget,
// timeout wait strategy, network enabled.
type Options struct {
	// Wait selects the settle strategy. When the network shim is not
	// installed (DisableNetwork), WaitNetworkIdle is forced back to
	// WaitTimeout: idle detection is meaningless without observable
	// network activity.
	Wait WaitStrategy

	// Budget is the wall-clock ceiling for the whole run. Every blocking
	// step (script execution, loads, module linking, settle wait) is
	// bounded by what remains of it.
	Budget time.Duration

	// IdleWindow is how long async activity must be quiet before
	// WaitNetworkIdle considers the page settled.
	IdleWindow time.Duration

	// PollInterval is the settle-wait polling granularity.
	PollInterval time.Duration

	// PermissiveShims installs best-effort legacy capabilities that some
	// pages require: XMLHttpRequest and WebSocket.
	PermissiveShims bool

	// ForwardConsole mirrors captured console entries to the host log.
	ForwardConsole bool

	// Diagnostics records shim request/response traffic and an
	// end-of-run summary into the console capture.
	Diagnostics bool

	// DisableNetwork leaves the page without fetch/XHR/WebSocket. External
	// scripts and modules cannot be loaded in this mode.
	DisableNetwork bool

	// Client configures the HTTP client used by the network shim, the
	// module loader, and external script retrieval.
	Client ClientOptions
}

func (o Options) withDefaults() Options {
	if o.Budget <= 0 {
		o.Budget = defaultBudget
	}
	if o.IdleWindow <= 0 {
		o.IdleWindow = defaultIdleWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	o.Client = o.Client.withDefaults()
	return o
}
