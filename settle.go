package render

// settle holds the run open after the lifecycle sequence so async work
// can finish mutating the tree, according to the configured strategy.
//
// Timeout waits out the remaining budget unconditionally; it is the
// deterministic strategy and the forced fallback when no network
// capability was installed, since idle detection without observable
// requests would declare victory instantly and always.
//
// NetworkIdle returns as soon as no requests or script loads are pending
// and no async activity has fired for the idle window. Hitting the
// deadline instead is not a failure of the run, only of the wait: it is
// recorded as a wait-stage advisory and the snapshot ships as-is.
func (e *env) settle() {
	strategy := e.opts.Wait
	if !e.ctx.networkInstalled {
		strategy = WaitTimeout
	}

	switch strategy {
	case WaitNetworkIdle:
		settled := func() bool {
			return e.ctx.idle() && e.loop.idleFor() >= e.opts.IdleWindow
		}
		e.loop.drainUntil(e.ctx.deadline, e.opts.PollInterval, settled)
		if !settled() {
			e.ctx.timedOut.Store(true)
			e.cap.waitError("page did not reach network idle within the time budget")
		}
	default:
		e.loop.drainUntil(e.ctx.deadline, e.opts.PollInterval, nil)
	}
}
