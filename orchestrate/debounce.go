package orchestrate

import "time"

// StopToken is the cancellation handle for one armed grace-period stop. The
// gate hands it to the fire callback so a fired task can prove it is still the
// live timer for its channel before acting.
type StopToken struct {
	channelID string
	stop      func() bool
}

// Gate suppresses duplicate and bouncing transitions: a per-channel cooldown
// window after each notified join, and at most one pending grace-period stop
// timer per channel.
type Gate struct {
	cooldown time.Duration
	grace    time.Duration
	now      func() time.Time
	after    func(d time.Duration, f func()) func() bool

	lastNotified map[string]time.Time
	pending      map[string]*StopToken
}

// NewGate builds a gate. now supplies wall-clock time; after schedules f to
// run once after d and returns its stop function (time.AfterFunc in
// production, a manual scheduler in tests).
func NewGate(cooldown, grace time.Duration, now func() time.Time, after func(time.Duration, func()) func() bool) *Gate {
	return &Gate{
		cooldown:     cooldown,
		grace:        grace,
		now:          now,
		after:        after,
		lastNotified: make(map[string]time.Time),
		pending:      make(map[string]*StopToken),
	}
}

// CoolingDown reports whether the channel was notified less than the cooldown
// window ago.
func (g *Gate) CoolingDown(channelID string) bool {
	last, ok := g.lastNotified[channelID]
	return ok && g.now().Sub(last) < g.cooldown
}

// MarkNotified records now as the channel's last-notified timestamp.
func (g *Gate) MarkNotified(channelID string) {
	g.lastNotified[channelID] = g.now()
}

// ArmStop schedules fire to run after the grace period, first cancelling any
// timer already pending for the channel so two can never be live at once.
func (g *Gate) ArmStop(channelID string, fire func(*StopToken)) *StopToken {
	g.CancelPendingStop(channelID)
	tok := &StopToken{channelID: channelID}
	tok.stop = g.after(g.grace, func() { fire(tok) })
	g.pending[channelID] = tok
	return tok
}

// CancelPendingStop cancels the channel's pending stop timer, if any, and
// reports whether one existed.
func (g *Gate) CancelPendingStop(channelID string) bool {
	tok := g.pending[channelID]
	if tok == nil {
		return false
	}
	if tok.stop != nil {
		tok.stop()
	}
	delete(g.pending, channelID)
	return true
}

// Consume retires tok if it is still the live timer for its channel. Returns
// false for a token that was cancelled or replaced after its fire task was
// already queued; such a task must do nothing.
func (g *Gate) Consume(tok *StopToken) bool {
	if g.pending[tok.channelID] != tok {
		return false
	}
	delete(g.pending, tok.channelID)
	return true
}

// PendingStop reports whether the channel has a live stop timer.
func (g *Gate) PendingStop(channelID string) bool {
	return g.pending[channelID] != nil
}
