// Command stagehand watches a Discord voice channel for a designated
// presenter and drives an OBS instance from their comings and goings: scene
// switching, source visibility, stream start/stop, with debounced
// notifications and a maximum stream duration. A secondary watcher polls an
// RSS feed and announces new posts exactly once.
//
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the Discord gateway (fatal on failure) and, if enabled, the
//     obs-websocket connection (non-fatal; scene control is disabled for the
//     session when unreachable).
//   - Starts the orchestration run loop, the feed watcher, and a minimal HTTP
//     server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/stagehand/broadcast"
	"github.com/onnwee/stagehand/config"
	"github.com/onnwee/stagehand/discordapi"
	"github.com/onnwee/stagehand/feedwatch"
	"github.com/onnwee/stagehand/orchestrate"
	"github.com/onnwee/stagehand/server"
	"github.com/onnwee/stagehand/state"
	"github.com/onnwee/stagehand/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	tuning := config.LoadTuning()

	// Metrics / telemetry init
	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("stagehand", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Discord gateway. The whole service hangs off this event source, so a
	// failure here terminates the process.
	session, err := discordapi.New(cfg.DiscordToken, cfg.NotificationChannelID)
	if err != nil {
		slog.Error("discord session setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := session.Open(); err != nil {
		slog.Error("discord login failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Error("failed to close discord session", slog.Any("err", err))
		}
	}()

	// Broadcast controller. Unreachable OBS only disables scene control for
	// this session; notifications keep working.
	var ctrl orchestrate.Controller
	var obs *broadcast.Client
	if cfg.Broadcast.Enabled {
		obs, err = broadcast.Connect(cfg.Broadcast.Address, cfg.OBSPassword)
		if err != nil {
			slog.Error("obs-websocket connect failed; continuing without broadcast control", slog.Any("err", err))
		} else {
			slog.Info("connected to obs-websocket", slog.String("address", cfg.Broadcast.Address))
			ctrl = obs
			defer func() {
				if err := obs.Close(); err != nil {
					slog.Error("failed to close obs connection", slog.Any("err", err))
				}
			}()
		}
	} else {
		slog.Info("broadcast integration disabled in config")
	}

	orch := orchestrate.New(orchestrate.Options{
		Rules:         cfg.EnabledRules(),
		Controller:    ctrl,
		Notifier:      session,
		Members:       session,
		Cooldown:      tuning.Cooldown,
		Grace:         tuning.Grace,
		MaxDuration:   tuning.MaxDuration,
		SweepInterval: tuning.SweepInterval,
	})
	session.WatchVoice(orch)
	session.WatchScheduledEvents(cfg.EventCreation)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go orch.Run(ctx)

	if obs != nil {
		obs.OnStreamStateChanged(orch.OnStreamStateChanged)
		// Seed the live flag from the controller's current state.
		initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if active, err := obs.StreamActive(initCtx); err != nil {
			slog.Warn("initial stream status query failed", slog.Any("err", err))
		} else {
			slog.Info("initial stream state", slog.Bool("live", active))
			orch.OnStreamStateChanged(active)
		}
		cancel()
	}

	if cfg.Feed.Enabled {
		store := state.NewStore(tuning.StateFile)
		watcher := feedwatch.New(cfg.Feed.RSSURL, cfg.Feed.RoleID, cfg.CheckInterval(), store, session)
		go watcher.Run(ctx)
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, orch, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
