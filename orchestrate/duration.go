package orchestrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/stagehand/telemetry"
)

// sweepOnce is the duration-cap check, run from the loop on every sweep tick.
// It is the only path that stops a stream purely on elapsed time. On stop
// failure the start timestamp is kept, so the next tick tries again.
func (o *Orchestrator) sweepOnce(ctx context.Context) {
	started := o.reg.StreamStartedAt()
	if !o.reg.Streaming() || started.IsZero() {
		return
	}
	elapsed := o.now().Sub(started)
	if elapsed < o.maxDuration {
		return
	}
	slog.Info("stream duration cap reached; stopping stream",
		slog.Duration("elapsed", elapsed), slog.Duration("cap", o.maxDuration))
	if err := o.ctrl.StopStream(ctx); err != nil {
		telemetry.Count(telemetry.ControllerCommandErrors)
		slog.Error("failed to auto-stop stream", slog.Any("err", err))
		return
	}
	o.reg.ClearStreamStart()
	telemetry.Count(telemetry.StreamAutoStops)
	o.send(ctx, fmt.Sprintf("The stream ran for %s and was stopped automatically.", o.maxDuration))
}
