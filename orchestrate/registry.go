package orchestrate

import (
	"time"

	"github.com/onnwee/stagehand/telemetry"
)

// Source identifies one scene/source pair on the broadcast controller.
type Source struct {
	Scene string
	Name  string
}

// Registry holds the single "on air" source and stream timing state. It is
// only ever touched from the orchestrator's run loop.
//
// The streaming flag mirrors the controller's reported output state and is
// authoritative over anything we assumed locally: when the controller reports
// the stream stopped, the active source and start timestamp are reset no
// matter which component (or operator) caused the stop.
type Registry struct {
	active          *Source
	streaming       bool
	streamStartedAt time.Time
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Active returns the source currently on air, or nil.
func (r *Registry) Active() *Source {
	return r.active
}

func (r *Registry) SetActive(s Source) {
	r.active = &s
	telemetry.SetSourceActive(true)
}

func (r *Registry) ClearActive() {
	r.active = nil
	telemetry.SetSourceActive(false)
}

func (r *Registry) Streaming() bool {
	return r.streaming
}

func (r *Registry) StreamStartedAt() time.Time {
	return r.streamStartedAt
}

func (r *Registry) MarkStreamStarted(t time.Time) {
	r.streamStartedAt = t
}

func (r *Registry) ClearStreamStart() {
	r.streamStartedAt = time.Time{}
}

// ObserveStreamState applies a controller stream-state-changed report. A stop
// resets the active source and start timestamp regardless of cause.
func (r *Registry) ObserveStreamState(active bool) {
	r.streaming = active
	telemetry.SetStreamLive(active)
	if !active {
		r.ClearActive()
		r.ClearStreamStart()
	}
}
