package orchestrate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/stagehand/config"
)

// Test clock and timer scheduler. Timers fire synchronously from Advance, in
// the order they were armed, which matches the production queue ordering
// closely enough for these tests.

type fakeTimer struct {
	due     time.Time
	fn      func()
	stopped bool
	fired   bool
}

type fakeScheduler struct {
	now    time.Time
	timers []*fakeTimer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) Now() time.Time { return s.now }

func (s *fakeScheduler) After(d time.Duration, f func()) func() bool {
	t := &fakeTimer{due: s.now.Add(d), fn: f}
	s.timers = append(s.timers, t)
	return func() bool {
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.now = s.now.Add(d)
	for _, t := range s.timers {
		if !t.stopped && !t.fired && !t.due.After(s.now) {
			t.fired = true
			t.fn()
		}
	}
}

type ctrlCall struct {
	op      string
	scene   string
	source  string
	visible bool
}

type fakeController struct {
	calls []ctrlCall
	fail  map[string]error
}

func (c *fakeController) record(call ctrlCall) error {
	c.calls = append(c.calls, call)
	return c.fail[call.op]
}

func (c *fakeController) SetSourceVisible(_ context.Context, scene, source string, visible bool) error {
	return c.record(ctrlCall{op: "SetSourceVisible", scene: scene, source: source, visible: visible})
}

func (c *fakeController) SwitchScene(_ context.Context, scene string) error {
	return c.record(ctrlCall{op: "SwitchScene", scene: scene})
}

func (c *fakeController) StartStream(context.Context) error {
	return c.record(ctrlCall{op: "StartStream"})
}

func (c *fakeController) StopStream(context.Context) error {
	return c.record(ctrlCall{op: "StopStream"})
}

func (c *fakeController) ops() []string {
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.op
	}
	return out
}

func (c *fakeController) count(op string) int {
	n := 0
	for _, call := range c.calls {
		if call.op == op {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	msgs []string
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, text string) error {
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, text)
	return nil
}

type fakeMembers struct {
	present bool
	err     error
}

func (m *fakeMembers) UserInChannel(context.Context, string, string, string) (bool, error) {
	return m.present, m.err
}

var camRule = config.WatchRule{
	Enabled:   true,
	ServerID:  "1",
	ChannelID: "10",
	UserID:    "99",
	RoleID:    "500",
	Type:      "radio",
	Broadcast: config.BroadcastSettings{SceneName: "Live", SourceName: "Cam"},
}

type harness struct {
	o     *Orchestrator
	sched *fakeScheduler
	ctrl  *fakeController
	note  *fakeNotifier
	mem   *fakeMembers
}

// newHarness wires an orchestrator with synchronous dispatch so tests drive
// everything deterministically on one goroutine, as the run loop would.
func newHarness(t *testing.T, rules []config.WatchRule, ctrl *fakeController) *harness {
	t.Helper()
	h := &harness{
		sched: newFakeScheduler(),
		ctrl:  ctrl,
		note:  &fakeNotifier{},
		mem:   &fakeMembers{},
	}
	var controller Controller
	if ctrl != nil {
		controller = ctrl
	}
	h.o = New(Options{
		Rules:         rules,
		Controller:    controller,
		Notifier:      h.note,
		Members:       h.mem,
		Cooldown:      3 * time.Minute,
		Grace:         3 * time.Minute,
		MaxDuration:   11*time.Hour + 30*time.Minute,
		SweepInterval: time.Minute,
		Now:           h.sched.Now,
		After:         h.sched.After,
	})
	h.o.dispatch = func(f func()) { f() }
	return h
}

func (h *harness) join() {
	h.o.OnVoiceState(Transition{GuildID: "1", UserID: "99", PrevChannelID: "", ChannelID: "10"})
}

func (h *harness) leave() {
	h.o.OnVoiceState(Transition{GuildID: "1", UserID: "99", PrevChannelID: "10", ChannelID: ""})
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	st, err := h.o.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return st
}

func TestJoinActivatesSceneAndStartsStream(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()

	if len(h.note.msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.note.msgs))
	}
	if !strings.Contains(h.note.msgs[0], "<@&500>") || !strings.Contains(h.note.msgs[0], "discord.com/channels/1/10") {
		t.Errorf("notification = %q", h.note.msgs[0])
	}
	want := []string{"SwitchScene", "SetSourceVisible", "StartStream"}
	got := h.ctrl.ops()
	if len(got) != len(want) {
		t.Fatalf("controller ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("controller ops = %v, want %v", got, want)
		}
	}
	if c := h.ctrl.calls[1]; c.scene != "Live" || c.source != "Cam" || !c.visible {
		t.Errorf("activate call = %+v", c)
	}
	st := h.status(t)
	if st.ActiveScene != "Live" || st.ActiveSource != "Cam" {
		t.Errorf("status = %+v", st)
	}
	if st.StreamStartedAt.IsZero() {
		t.Error("stream start timestamp not recorded")
	}
}

func TestRedeliveredJoinSuppressedByCooldown(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()
	h.sched.Advance(time.Minute)
	h.join()
	h.sched.Advance(time.Minute)
	h.join()

	if len(h.note.msgs) != 1 {
		t.Errorf("notifications = %d, want 1 (cooldown suppression)", len(h.note.msgs))
	}
	if n := h.ctrl.count("StartStream"); n != 1 {
		t.Errorf("StartStream calls = %d, want 1", n)
	}
	if n := h.ctrl.count("SwitchScene"); n != 1 {
		t.Errorf("SwitchScene calls = %d, want 1 (suppressed joins issue no controller calls)", n)
	}
}

func TestJoinAfterCooldownNotifiesAgain(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()
	h.sched.Advance(3 * time.Minute)
	h.join()

	if len(h.note.msgs) != 2 {
		t.Errorf("notifications = %d, want 2 (cooldown elapsed exactly)", len(h.note.msgs))
	}
}

func TestUnchangedChannelIsNotAJoin(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	// e.g. a mute toggle redelivers the state with the same channel
	h.o.OnVoiceState(Transition{GuildID: "1", UserID: "99", PrevChannelID: "10", ChannelID: "10"})

	if len(h.note.msgs) != 0 || len(h.ctrl.calls) != 0 {
		t.Errorf("unchanged-channel transition acted on: msgs=%v calls=%v", h.note.msgs, h.ctrl.calls)
	}
}

func TestLeaveStopsStreamAfterGracePeriod(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()
	h.o.OnStreamStateChanged(true)
	h.leave()

	if n := h.ctrl.count("StopStream"); n != 0 {
		t.Fatalf("StopStream before grace elapsed: %d calls", n)
	}
	h.sched.Advance(3*time.Minute + 30*time.Second)

	if n := h.ctrl.count("StopStream"); n != 1 {
		t.Fatalf("StopStream calls = %d, want 1", n)
	}
	last := h.ctrl.calls[len(h.ctrl.calls)-2]
	if last.op != "SetSourceVisible" || last.visible || last.source != "Cam" {
		t.Errorf("expected Cam hidden before stop, got %+v", last)
	}
	if st := h.status(t); st.ActiveSource != "" {
		t.Errorf("active source not cleared: %+v", st)
	}
}

func TestRejoinWithinGraceCancelsStop(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()
	h.o.OnStreamStateChanged(true)
	h.leave()
	h.sched.Advance(90 * time.Second)
	h.join() // reconnect: cancels the timer, no new notification, no commands
	h.sched.Advance(10 * time.Minute)

	if n := h.ctrl.count("StopStream"); n != 0 {
		t.Errorf("StopStream calls = %d, want 0", n)
	}
	if len(h.note.msgs) != 1 {
		t.Errorf("notifications = %d, want 1", len(h.note.msgs))
	}
	if n := h.ctrl.count("StartStream"); n != 1 {
		t.Errorf("StartStream calls = %d, want 1 (rejoin must not re-run activation)", n)
	}
	if st := h.status(t); st.ActiveSource != "Cam" {
		t.Errorf("active source lost on rejoin: %+v", st)
	}
}

func TestSecondLeaveReplacesPendingTimer(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()
	h.o.OnStreamStateChanged(true)
	h.leave()
	h.sched.Advance(time.Minute)
	h.leave() // cancel-then-set: still exactly one live timer
	h.sched.Advance(2*time.Minute + 30*time.Second)

	// First timer would have fired at +3m; only the replacement at +4m counts.
	if n := h.ctrl.count("StopStream"); n != 0 {
		t.Fatalf("replaced timer fired: %d StopStream calls", n)
	}
	h.sched.Advance(time.Minute)
	if n := h.ctrl.count("StopStream"); n != 1 {
		t.Errorf("StopStream calls = %d, want 1", n)
	}
}

func TestLeaveAbortsWhenMembershipQueryFails(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()
	h.o.OnStreamStateChanged(true)
	h.mem.err = errors.New("channel fetch failed")
	h.leave()
	h.sched.Advance(10 * time.Minute)

	if n := h.ctrl.count("StopStream"); n != 0 {
		t.Errorf("StopStream calls = %d, want 0 (fail-safe: do nothing)", n)
	}
	if h.o.gate.PendingStop("10") {
		t.Error("timer armed despite failed membership query")
	}
}

func TestLeaveIgnoredWhenUserStillPresent(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()
	h.o.OnStreamStateChanged(true)
	h.mem.present = true
	h.leave()

	if h.o.gate.PendingStop("10") {
		t.Error("timer armed while user confirmed present")
	}
}

func TestLeaveIgnoredWhenNotStreaming(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()
	// no stream-started event observed
	h.leave()

	if h.o.gate.PendingStop("10") {
		t.Error("timer armed with no live stream")
	}
}

func TestActivationContinuesPastFailedStep(t *testing.T) {
	ctrl := &fakeController{fail: map[string]error{"SwitchScene": errors.New("no such scene")}}
	h := newHarness(t, []config.WatchRule{camRule}, ctrl)
	h.join()

	if n := ctrl.count("SetSourceVisible"); n != 1 {
		t.Errorf("SetSourceVisible calls = %d, want 1 (sequence continues past failure)", n)
	}
	if n := ctrl.count("StartStream"); n != 1 {
		t.Errorf("StartStream calls = %d, want 1", n)
	}
	if st := h.status(t); st.ActiveSource != "Cam" {
		t.Errorf("active source not recorded after partial failure: %+v", st)
	}
}

func TestJoinDeactivatesPreviousSource(t *testing.T) {
	micRule := config.WatchRule{
		Enabled:   true,
		ServerID:  "1",
		ChannelID: "11",
		UserID:    "98",
		RoleID:    "501",
		Type:      "talk",
		Broadcast: config.BroadcastSettings{SceneName: "Studio", SourceName: "Mic"},
	}
	h := newHarness(t, []config.WatchRule{camRule, micRule}, &fakeController{})
	h.join()
	h.o.OnStreamStateChanged(true)
	h.ctrl.calls = nil

	h.o.OnVoiceState(Transition{GuildID: "1", UserID: "98", PrevChannelID: "", ChannelID: "11"})

	first := h.ctrl.calls[0]
	if first.op != "SetSourceVisible" || first.visible || first.scene != "Live" || first.source != "Cam" {
		t.Errorf("first call = %+v, want previous source hidden", first)
	}
	if n := h.ctrl.count("StartStream"); n != 0 {
		t.Errorf("StartStream calls = %d, want 0 (already streaming)", n)
	}
	if st := h.status(t); st.ActiveScene != "Studio" || st.ActiveSource != "Mic" {
		t.Errorf("status = %+v", st)
	}
}

func TestExternalStopResetsRegistry(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.join()
	h.o.OnStreamStateChanged(true)

	// Operator stops the stream by hand in the controller UI.
	h.o.OnStreamStateChanged(false)

	st := h.status(t)
	if st.Streaming || st.ActiveSource != "" || !st.StreamStartedAt.IsZero() {
		t.Errorf("registry not reset on external stop: %+v", st)
	}
}

func TestIntegrationDisabledNotifiesOnly(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, nil)
	h.join()

	if len(h.note.msgs) != 1 {
		t.Errorf("notifications = %d, want 1", len(h.note.msgs))
	}
}

func TestNonMatchingTransitionIgnored(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	// wrong user, wrong guild, wrong channel
	h.o.OnVoiceState(Transition{GuildID: "1", UserID: "42", ChannelID: "10"})
	h.o.OnVoiceState(Transition{GuildID: "2", UserID: "99", ChannelID: "10"})
	h.o.OnVoiceState(Transition{GuildID: "1", UserID: "99", ChannelID: "77"})

	if len(h.note.msgs) != 0 || len(h.ctrl.calls) != 0 {
		t.Errorf("unmatched transition acted on: msgs=%v calls=%v", h.note.msgs, h.ctrl.calls)
	}
}

func TestRunExecutesQueuedTasks(t *testing.T) {
	h := newHarness(t, []config.WatchRule{camRule}, &fakeController{})
	h.o.dispatch = h.o.enqueue // real queue for this test

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.o.Run(ctx)

	h.join()
	st, err := h.o.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	// Snapshot goes through the same queue, so the join has been processed.
	if st.ActiveSource != "Cam" {
		t.Errorf("status after queued join = %+v", st)
	}
	cancel()
	select {
	case <-h.o.done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit")
	}
}
