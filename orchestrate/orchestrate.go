// Package orchestrate contains the presence-triggered broadcast engine: it
// turns raw, bursty voice-channel transitions into a clean, idempotent
// sequence of broadcast-controller commands, with per-channel cooldown and
// grace-period debouncing and a duration-capped auto-stop sweep.
//
// All state in this package is owned by a single run loop. Discord callbacks,
// controller events and timer fires are enqueued as tasks and executed one at
// a time, so none of the registries need locks.
package orchestrate

import "context"

// Transition is one raw presence update for one user: the channel they were
// in before (empty if none) and the channel they are in now (empty if none).
type Transition struct {
	GuildID       string
	UserID        string
	PrevChannelID string
	ChannelID     string
}

// Controller is the broadcast-control surface the orchestrator drives. A nil
// Controller disables scene/stream control while keeping notifications.
type Controller interface {
	SetSourceVisible(ctx context.Context, scene, source string, visible bool) error
	SwitchScene(ctx context.Context, scene string) error
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
}

// Notifier delivers outbound notification text to the configured channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Members answers whether a user is currently in a voice channel. It is
// queried on leave to confirm the event payload against live state.
type Members interface {
	UserInChannel(ctx context.Context, guildID, channelID, userID string) (bool, error)
}
