// Package discordapi adapts the Discord gateway to the rest of the service:
// it translates voice state updates into presence transitions, answers live
// membership queries from the session state cache, and delivers notifications
// to the configured channel.
package discordapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/stagehand/config"
	"github.com/onnwee/stagehand/orchestrate"
)

// Session wraps one gateway connection plus the notification target.
type Session struct {
	dg              *discordgo.Session
	notifyChannelID string
}

// New builds the gateway session with the intents this service needs. The
// connection is not opened yet; call Open.
func New(token, notifyChannelID string) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildScheduledEvents
	dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord session ready", slog.String("user", r.User.Username))
	})
	return &Session{dg: dg, notifyChannelID: notifyChannelID}, nil
}

// Open connects to the gateway. The process cannot function without the event
// source, so callers treat an error here as fatal.
func (s *Session) Open() error {
	if err := s.dg.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	return s.dg.Close()
}

// WatchVoice forwards every voice state update to the orchestrator as a
// presence transition.
func (s *Session) WatchVoice(o *orchestrate.Orchestrator) {
	s.dg.AddHandler(func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		o.OnVoiceState(transitionFromUpdate(vs))
	})
}

func transitionFromUpdate(vs *discordgo.VoiceStateUpdate) orchestrate.Transition {
	prev := ""
	if vs.BeforeUpdate != nil {
		prev = vs.BeforeUpdate.ChannelID
	}
	return orchestrate.Transition{
		GuildID:       vs.GuildID,
		UserID:        vs.UserID,
		PrevChannelID: prev,
		ChannelID:     vs.ChannelID,
	}
}

// WatchScheduledEvents sends one notification per scheduled event created in
// the configured guild.
func (s *Session) WatchScheduledEvents(cfg config.EventCreationWatch) {
	if !cfg.Enabled {
		return
	}
	s.dg.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildScheduledEventCreate) {
		if e.GuildID != cfg.ServerID {
			return
		}
		slog.Info("scheduled event created", slog.String("name", e.Name))
		if err := s.Send(context.Background(), eventMessage(cfg.RoleID, e.GuildID, e.ID)); err != nil {
			slog.Error("failed to send event notification", slog.Any("err", err))
		}
	})
}

func eventMessage(roleID, guildID, eventID string) string {
	return fmt.Sprintf("<@&%s>\nA new event was scheduled\nhttps://discord.com/events/%s/%s", roleID, guildID, eventID)
}

// Send delivers a notification to the configured channel.
func (s *Session) Send(ctx context.Context, text string) error {
	if _, err := s.dg.ChannelMessageSend(s.notifyChannelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// UserInChannel reports whether the user is currently in the voice channel,
// according to the gateway state cache. Errors mean the answer is unknown, at
// which point callers must not assume anything.
func (s *Session) UserInChannel(_ context.Context, guildID, channelID, userID string) (bool, error) {
	g, err := s.dg.State.Guild(guildID)
	if err != nil {
		return false, fmt.Errorf("guild %s not in state cache: %w", guildID, err)
	}
	return userInVoiceStates(g.VoiceStates, channelID, userID), nil
}

func userInVoiceStates(states []*discordgo.VoiceState, channelID, userID string) bool {
	for _, vs := range states {
		if vs.UserID == userID && vs.ChannelID == channelID {
			return true
		}
	}
	return false
}
