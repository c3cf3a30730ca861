package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/stagehand/config"
	"github.com/onnwee/stagehand/telemetry"
)

const tracerName = "orchestrate"

// Options configures an Orchestrator. Controller may be nil (broadcast
// integration disabled); Notifier and Members are required. Now and After
// default to the real clock and are only overridden in tests.
type Options struct {
	Rules      []config.WatchRule
	Controller Controller
	Notifier   Notifier
	Members    Members

	Cooldown      time.Duration
	Grace         time.Duration
	MaxDuration   time.Duration
	SweepInterval time.Duration

	Now   func() time.Time
	After func(d time.Duration, f func()) func() bool
}

// Orchestrator consumes presence transitions and controller events and drives
// the broadcast controller. All handlers execute on the single run loop.
type Orchestrator struct {
	rules   []config.WatchRule
	ctrl    Controller
	notify  Notifier
	members Members

	reg  *Registry
	gate *Gate

	maxDuration   time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	tasks    chan func()
	done     chan struct{}
	dispatch func(func())
}

func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.After == nil {
		opts.After = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	o := &Orchestrator{
		rules:         opts.Rules,
		ctrl:          opts.Controller,
		notify:        opts.Notifier,
		members:       opts.Members,
		reg:           NewRegistry(),
		gate:          NewGate(opts.Cooldown, opts.Grace, opts.Now, opts.After),
		maxDuration:   opts.MaxDuration,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		tasks:         make(chan func(), 128),
		done:          make(chan struct{}),
	}
	o.dispatch = o.enqueue
	return o
}

// Run executes queued tasks and duration sweeps until ctx is cancelled. It
// must be running for any of the On* entry points to make progress.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)

	// The duration sweep only matters when we can actually stop a stream.
	var sweep <-chan time.Time
	if o.ctrl != nil {
		ticker := time.NewTicker(o.sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
		slog.Info("stream duration monitor started", slog.Duration("interval", o.sweepInterval), slog.Duration("cap", o.maxDuration))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep:
			o.sweepOnce(ctx)
		case f := <-o.tasks:
			f()
		}
	}
}

// enqueue hands f to the run loop, dropping it if the loop has exited.
func (o *Orchestrator) enqueue(f func()) {
	select {
	case o.tasks <- f:
	case <-o.done:
	}
}

// OnVoiceState is called once per raw presence update from the event source.
// Safe under at-least-once delivery: redelivered updates are screened out by
// the channel-changed check and the cooldown window.
func (o *Orchestrator) OnVoiceState(t Transition) {
	ctx := telemetry.WithCorrelation(context.Background(), uuid.NewString())
	o.dispatch(func() { o.handleTransition(ctx, t) })
}

// OnStreamStateChanged is called for controller stream-state-changed events.
func (o *Orchestrator) OnStreamStateChanged(active bool) {
	o.dispatch(func() { o.handleStreamState(active) })
}

// Status is a point-in-time snapshot of the engine for the status endpoint.
type Status struct {
	Streaming       bool      `json:"streaming"`
	ActiveScene     string    `json:"activeScene,omitempty"`
	ActiveSource    string    `json:"activeSource,omitempty"`
	StreamStartedAt time.Time `json:"streamStartedAt,omitzero"`
}

// Snapshot reads engine state through the run loop, so it never races the
// handlers. It fails if the loop is gone or ctx expires first.
func (o *Orchestrator) Snapshot(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	o.dispatch(func() {
		st := Status{
			Streaming:       o.reg.Streaming(),
			StreamStartedAt: o.reg.StreamStartedAt(),
		}
		if src := o.reg.Active(); src != nil {
			st.ActiveScene = src.Scene
			st.ActiveSource = src.Name
		}
		reply <- st
	})
	select {
	case st := <-reply:
		return st, nil
	case <-o.done:
		return Status{}, fmt.Errorf("orchestrator stopped")
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (o *Orchestrator) handleTransition(ctx context.Context, t Transition) {
	telemetry.Count(telemetry.TransitionsProcessed)
	if rule, ok := o.matchJoin(t); ok {
		o.handleJoin(ctx, rule)
		return
	}
	if rule, ok := o.matchLeave(t); ok {
		o.handleLeave(ctx, rule)
	}
}

// matchJoin finds the rule for a user entering its exact (guild, channel). A
// transition whose channel did not change is not a join, even if redelivered.
func (o *Orchestrator) matchJoin(t Transition) (config.WatchRule, bool) {
	for _, r := range o.rules {
		if r.UserID == t.UserID && r.ChannelID == t.ChannelID && r.ServerID == t.GuildID && t.PrevChannelID != t.ChannelID {
			return r, true
		}
	}
	return config.WatchRule{}, false
}

// matchLeave evaluates the rule triple against the previous membership.
func (o *Orchestrator) matchLeave(t Transition) (config.WatchRule, bool) {
	for _, r := range o.rules {
		if r.UserID == t.UserID && r.ChannelID == t.PrevChannelID && r.ServerID == t.GuildID {
			return r, true
		}
	}
	return config.WatchRule{}, false
}

func (o *Orchestrator) handleJoin(ctx context.Context, rule config.WatchRule) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("type", rule.Type), slog.String("channel", rule.ChannelID))

	// A return during the grace window is a reconnect, not a new session:
	// cancel the pending stop and do nothing else.
	if o.gate.CancelPendingStop(rule.ChannelID) {
		telemetry.Count(telemetry.GraceTimersCancelled)
		log.Info("rejoin during grace period; stream stop cancelled")
		return
	}
	if o.gate.CoolingDown(rule.ChannelID) {
		telemetry.Count(telemetry.NotificationsSuppressed)
		log.Info("join within cooldown window; suppressed")
		return
	}
	o.gate.MarkNotified(rule.ChannelID)
	log.Info("presenter joined; notifying")
	o.send(ctx, fmt.Sprintf("<@&%s>\nhttps://discord.com/channels/%s/%s\n**%s** just went live!", rule.RoleID, rule.ServerID, rule.ChannelID, rule.Type))
	if o.ctrl == nil {
		return
	}
	o.activate(ctx, rule)
}

// activationStep is one independent, fallible step of the scene activation
// sequence. A failed step is logged and the sequence continues; there is no
// rollback, the next successful join/leave cycle self-heals.
type activationStep struct {
	name string
	run  func() error
}

func (o *Orchestrator) activate(ctx context.Context, rule config.WatchRule) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("type", rule.Type))
	scene, source := rule.Broadcast.SceneName, rule.Broadcast.SourceName
	ctx, span := telemetry.StartSpan(ctx, tracerName, "scene_activation",
		attribute.String("scene", scene), attribute.String("source", source))
	defer span.End()

	var steps []activationStep
	if prev := o.reg.Active(); prev != nil && prev.Name != source {
		p := *prev
		steps = append(steps, activationStep{"deactivate_previous_source", func() error {
			return o.ctrl.SetSourceVisible(ctx, p.Scene, p.Name, false)
		}})
	}
	steps = append(steps,
		activationStep{"switch_scene", func() error {
			return o.ctrl.SwitchScene(ctx, scene)
		}},
		activationStep{"activate_source", func() error {
			return o.ctrl.SetSourceVisible(ctx, scene, source, true)
		}},
		activationStep{"record_active_source", func() error {
			o.reg.SetActive(Source{Scene: scene, Name: source})
			return nil
		}},
	)
	if !o.reg.Streaming() {
		steps = append(steps, activationStep{"start_stream", func() error {
			if err := o.ctrl.StartStream(ctx); err != nil {
				return err
			}
			o.reg.MarkStreamStarted(o.now())
			log.Info("stream start command sent")
			return nil
		}})
	}

	for _, st := range steps {
		if err := st.run(); err != nil {
			telemetry.Count(telemetry.ControllerCommandErrors)
			telemetry.RecordError(span, err)
			log.Error("scene activation step failed", slog.String("step", st.name), slog.Any("err", err))
		}
	}
}

func (o *Orchestrator) handleLeave(ctx context.Context, rule config.WatchRule) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("type", rule.Type), slog.String("channel", rule.ChannelID))

	// Confirm against live membership, not just the event payload; a stale or
	// out-of-order event must never stop a running stream.
	present, err := o.members.UserInChannel(ctx, rule.ServerID, rule.ChannelID, rule.UserID)
	if err != nil {
		log.Error("membership check failed; leave ignored", slog.Any("err", err))
		return
	}
	if present || !o.reg.Streaming() {
		return
	}
	telemetry.Count(telemetry.GraceTimersArmed)
	log.Info("presenter left; grace period started", slog.Duration("grace", o.gate.grace))
	o.gate.ArmStop(rule.ChannelID, func(tok *StopToken) {
		o.dispatch(func() { o.finishStop(rule, tok) })
	})
}

// finishStop runs when a grace timer fires with no rejoin. The local
// active-source record is cleared even if the remote calls fail, so a dead
// controller can't wedge the engine in a stuck "on air" state.
func (o *Orchestrator) finishStop(rule config.WatchRule, tok *StopToken) {
	if !o.gate.Consume(tok) {
		return
	}
	ctx := telemetry.WithCorrelation(context.Background(), uuid.NewString())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("type", rule.Type), slog.String("channel", rule.ChannelID))
	log.Info("grace period elapsed without rejoin; shutting down broadcast")

	if o.ctrl != nil {
		if err := o.ctrl.SetSourceVisible(ctx, rule.Broadcast.SceneName, rule.Broadcast.SourceName, false); err != nil {
			telemetry.Count(telemetry.ControllerCommandErrors)
			log.Error("failed to hide source", slog.Any("err", err))
		}
	}
	o.reg.ClearActive()
	if o.reg.Streaming() && o.ctrl != nil {
		if err := o.ctrl.StopStream(ctx); err != nil {
			telemetry.Count(telemetry.ControllerCommandErrors)
			log.Error("failed to stop stream", slog.Any("err", err))
			return
		}
		log.Info("stream stop command sent")
	}
}

func (o *Orchestrator) handleStreamState(active bool) {
	o.reg.ObserveStreamState(active)
	slog.Info("stream state changed", slog.Bool("live", active))
}

func (o *Orchestrator) send(ctx context.Context, text string) {
	if err := o.notify.Send(ctx, text); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("failed to send notification", slog.Any("err", err))
		return
	}
	telemetry.Count(telemetry.NotificationsSent)
}
