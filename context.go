package render

import (
	"sync/atomic"
	"time"

	wurl "github.com/nlnwa/whatwg-url/url"
)

// runContext holds all mutable per-run state. It is created at run start,
// closed over by every shim, and discarded at run end. Nothing here is
// process-global, which is what makes concurrent runs safe.
type runContext struct {
	// pageURL is the page's current location. Navigation writes replace
	// it atomically through resolveAndSetHref; it is always absolute.
	pageURL *wurl.Url

	// baseURL is the effective base for relative resolution: an explicit
	// <base> element wins over the page URL.
	baseURL *wurl.Url

	deadline time.Time

	pendingRequests atomic.Int32 // in-flight network shim calls
	pendingLoads    atomic.Int32 // in-flight external script loads

	// historyState is the opaque value most recently stored by
	// pushState/replaceState, exported from the sandbox.
	historyState any

	cookies *cookieJar

	// networkInstalled records whether any network capability was wired
	// into this run; the settle engine forces the Timeout strategy when
	// it was not.
	networkInstalled bool

	// timedOut records that the budget cut something short: a script
	// interrupt, a mid-loop abort, or an unsettled idle wait.
	timedOut atomic.Bool
}

func newRunContext(page, base *wurl.Url, deadline time.Time) *runContext {
	return &runContext{
		pageURL:  page,
		baseURL:  base,
		deadline: deadline,
		cookies:  newCookieJar(),
	}
}

// remaining returns the unspent part of the run budget, never negative.
func (rc *runContext) remaining() time.Duration {
	d := time.Until(rc.deadline)
	if d < 0 {
		return 0
	}
	return d
}

// expired reports whether the shared deadline has passed.
func (rc *runContext) expired() bool {
	return !time.Now().Before(rc.deadline)
}

// callTimeout computes the effective timeout for one blocking call:
// min(requested, remaining budget).
func (rc *runContext) callTimeout(want time.Duration) time.Duration {
	rem := rc.remaining()
	if want <= 0 || want > rem {
		return rem
	}
	return want
}

// addPendingRequest / donePendingRequest pair around every network shim
// call. The counter never goes below zero even on mismatched calls.
func (rc *runContext) addPendingRequest()  { rc.pendingRequests.Add(1) }
func (rc *runContext) donePendingRequest() { decrementFloor(&rc.pendingRequests) }

func (rc *runContext) addPendingLoad()  { rc.pendingLoads.Add(1) }
func (rc *runContext) donePendingLoad() { decrementFloor(&rc.pendingLoads) }

// idle reports whether no requests or script loads are outstanding.
func (rc *runContext) idle() bool {
	return rc.pendingRequests.Load() == 0 && rc.pendingLoads.Load() == 0
}

// resolveRef resolves ref against the effective base URL.
func (rc *runContext) resolveRef(ref string) (string, error) {
	u, err := wurl.ParseRef(rc.baseURL.Href(false), ref)
	if err != nil {
		return "", err
	}
	return u.Href(false), nil
}

// decrementFloor decrements c but never below zero.
func decrementFloor(c *atomic.Int32) {
	for {
		cur := c.Load()
		if cur <= 0 {
			return
		}
		if c.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}
