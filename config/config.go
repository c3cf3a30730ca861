// Package config loads the stagehand configuration file and environment knobs
// and provides a typed, validated Config used across the service.
// Secrets (Discord token, OBS password) are never part of the file; they come
// from the environment only.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// BroadcastSettings names the scene/source pair a watch rule activates on the
// broadcast controller.
type BroadcastSettings struct {
	SceneName  string `json:"sceneName" validate:"required"`
	SourceName string `json:"sourceName" validate:"required"`
}

// WatchRule binds one (server, channel, user) triple to a notification role
// and a broadcast scene/source pair. Rules are immutable after load.
type WatchRule struct {
	Enabled   bool              `json:"enabled"`
	ServerID  string            `json:"serverId" validate:"required"`
	ChannelID string            `json:"channelId" validate:"required"`
	UserID    string            `json:"userId" validate:"required"`
	RoleID    string            `json:"roleId" validate:"required"`
	Type      string            `json:"type" validate:"required"`
	Broadcast BroadcastSettings `json:"broadcastSettings"`
}

// BroadcastIntegration controls whether/where to reach the obs-websocket server.
type BroadcastIntegration struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address" validate:"required_if=Enabled true"`
}

// FeedWatch configures the RSS post watcher.
type FeedWatch struct {
	Enabled bool   `json:"enabled"`
	RSSURL  string `json:"rssUrl" validate:"required_if=Enabled true,omitempty,url"`
	RoleID  string `json:"roleId" validate:"required_if=Enabled true"`
}

// EventCreationWatch configures scheduled-event-created notifications.
type EventCreationWatch struct {
	Enabled  bool   `json:"enabled"`
	ServerID string `json:"serverId" validate:"required_if=Enabled true"`
	RoleID   string `json:"roleId" validate:"required_if=Enabled true"`
}

type Config struct {
	NotificationChannelID string               `json:"notificationChannelId" validate:"required"`
	Broadcast             BroadcastIntegration `json:"broadcastIntegration"`
	Feed                  FeedWatch            `json:"feedWatch"`
	CheckIntervalSeconds  int                  `json:"checkIntervalSeconds" validate:"omitempty,gte=10"`
	EventCreation         EventCreationWatch   `json:"eventCreationWatch"`
	VoiceWatchRules       []WatchRule          `json:"voiceWatchRules" validate:"dive"`

	// Env-provided secrets, filled by Load.
	DiscordToken string `json:"-" validate:"required"`
	OBSPassword  string `json:"-"`
}

// Load reads the JSON config file (CONFIG_PATH, default config.json), merges
// env-provided secrets, and validates the result. Every recognized field is
// enumerated above; unknown fields in the file are rejected.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.json"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := &Config{CheckIntervalSeconds: 300}
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.DiscordToken = os.Getenv("DISCORD_TOKEN")
	cfg.OBSPassword = os.Getenv("OBS_PASSWORD")

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := validateRuleChannels(cfg.VoiceWatchRules); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateRuleChannels rejects two enabled rules targeting the same channel:
// the orchestrator keys cooldown and grace state per channel, so a second rule
// on the same channel would fight over one timer slot.
func validateRuleChannels(rules []WatchRule) error {
	enabled := lo.Filter(rules, func(r WatchRule, _ int) bool { return r.Enabled })
	seen := make(map[string]string, len(enabled))
	for _, r := range enabled {
		if prior, ok := seen[r.ChannelID]; ok {
			return fmt.Errorf("voice watch rules %q and %q both target channel %s", prior, r.Type, r.ChannelID)
		}
		seen[r.ChannelID] = r.Type
	}
	return nil
}

// EnabledRules returns the subset of watch rules that are switched on.
func (c *Config) EnabledRules() []WatchRule {
	return lo.Filter(c.VoiceWatchRules, func(r WatchRule, _ int) bool { return r.Enabled })
}

// CheckInterval returns the feed poll interval.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// Tuning holds the timing knobs of the presence orchestration core. All have
// production defaults and env overrides for tests and odd deployments.
type Tuning struct {
	Cooldown      time.Duration // suppression window after a notified join
	Grace         time.Duration // wait after a confirmed leave before stopping
	MaxDuration   time.Duration // stream duration cap
	SweepInterval time.Duration // duration monitor tick
	StateFile     string        // feed cursor file
}

// LoadTuning reads orchestration knobs from the environment, falling back to
// the stock values (3m cooldown, 3m grace, 11h30m cap, 60s sweep).
func LoadTuning() Tuning {
	t := Tuning{
		Cooldown:      3 * time.Minute,
		Grace:         3 * time.Minute,
		MaxDuration:   11*time.Hour + 30*time.Minute,
		SweepInterval: time.Minute,
		StateFile:     "state.json",
	}
	if d := envDuration("VOICE_COOLDOWN"); d > 0 {
		t.Cooldown = d
	}
	if d := envDuration("VOICE_GRACE"); d > 0 {
		t.Grace = d
	}
	if d := envDuration("STREAM_MAX_DURATION"); d > 0 {
		t.MaxDuration = d
	}
	if d := envDuration("STREAM_SWEEP_INTERVAL"); d > 0 {
		t.SweepInterval = d
	}
	if v := os.Getenv("STATE_FILE"); v != "" {
		t.StateFile = v
	}
	return t
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}
