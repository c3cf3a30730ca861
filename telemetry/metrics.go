// Package telemetry provides Prometheus metrics, OpenTelemetry tracing setup,
// and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	TransitionsProcessed    prometheus.Counter
	NotificationsSent       prometheus.Counter
	NotificationsSuppressed prometheus.Counter
	GraceTimersArmed        prometheus.Counter
	GraceTimersCancelled    prometheus.Counter
	ControllerCommandErrors prometheus.Counter
	StreamAutoStops         prometheus.Counter
	FeedPollCycles          prometheus.Counter
	FeedPollErrors          prometheus.Counter

	// Histograms (seconds)
	FeedPollDuration prometheus.Observer

	// Gauges
	StreamLiveGauge   prometheus.Gauge // 1=streaming,0=offline
	ActiveSourceGauge prometheus.Gauge // 1=a source is on air
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TransitionsProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "stagehand_transitions_total", Help: "Number of voice presence transitions processed"})
		NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "stagehand_notifications_sent_total", Help: "Number of notifications delivered"})
		NotificationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "stagehand_notifications_suppressed_total", Help: "Number of join notifications suppressed by the cooldown window"})
		GraceTimersArmed = promauto.NewCounter(prometheus.CounterOpts{Name: "stagehand_grace_timers_armed_total", Help: "Number of grace-period stop timers armed"})
		GraceTimersCancelled = promauto.NewCounter(prometheus.CounterOpts{Name: "stagehand_grace_timers_cancelled_total", Help: "Number of grace-period stop timers cancelled by a rejoin"})
		ControllerCommandErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "stagehand_controller_command_errors_total", Help: "Number of failed broadcast controller commands"})
		StreamAutoStops = promauto.NewCounter(prometheus.CounterOpts{Name: "stagehand_stream_auto_stops_total", Help: "Number of streams stopped by the duration cap"})
		FeedPollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "stagehand_feed_poll_cycles_total", Help: "Number of feed poll cycles"})
		FeedPollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "stagehand_feed_poll_errors_total", Help: "Number of failed feed polls"})
		FeedPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "stagehand_feed_poll_duration_seconds", Help: "Feed poll duration seconds", Buckets: prometheus.DefBuckets})
		StreamLiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "stagehand_stream_live", Help: "Stream live=1 offline=0"})
		ActiveSourceGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "stagehand_active_source", Help: "A broadcast source is on air=1 none=0"})
	})
}

// SetStreamLive mirrors the controller's output-active state onto the gauge.
func SetStreamLive(live bool) {
	if StreamLiveGauge != nil {
		if live {
			StreamLiveGauge.Set(1)
		} else {
			StreamLiveGauge.Set(0)
		}
	}
}

// SetSourceActive records whether any source is currently on air.
func SetSourceActive(active bool) {
	if ActiveSourceGauge != nil {
		if active {
			ActiveSourceGauge.Set(1)
		} else {
			ActiveSourceGauge.Set(0)
		}
	}
}

// Count is a nil-safe counter bump so callers work before Init (tests).
func Count(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
