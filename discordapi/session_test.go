package discordapi

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestTransitionFromUpdate(t *testing.T) {
	tests := []struct {
		name     string
		update   *discordgo.VoiceStateUpdate
		wantPrev string
		wantNext string
	}{
		{
			name: "join_from_nowhere",
			update: &discordgo.VoiceStateUpdate{
				VoiceState: &discordgo.VoiceState{GuildID: "1", UserID: "99", ChannelID: "10"},
			},
			wantPrev: "",
			wantNext: "10",
		},
		{
			name: "leave_to_nowhere",
			update: &discordgo.VoiceStateUpdate{
				VoiceState:   &discordgo.VoiceState{GuildID: "1", UserID: "99", ChannelID: ""},
				BeforeUpdate: &discordgo.VoiceState{GuildID: "1", UserID: "99", ChannelID: "10"},
			},
			wantPrev: "10",
			wantNext: "",
		},
		{
			name: "channel_switch",
			update: &discordgo.VoiceStateUpdate{
				VoiceState:   &discordgo.VoiceState{GuildID: "1", UserID: "99", ChannelID: "11"},
				BeforeUpdate: &discordgo.VoiceState{GuildID: "1", UserID: "99", ChannelID: "10"},
			},
			wantPrev: "10",
			wantNext: "11",
		},
		{
			name: "mute_toggle_same_channel",
			update: &discordgo.VoiceStateUpdate{
				VoiceState:   &discordgo.VoiceState{GuildID: "1", UserID: "99", ChannelID: "10", SelfMute: true},
				BeforeUpdate: &discordgo.VoiceState{GuildID: "1", UserID: "99", ChannelID: "10"},
			},
			wantPrev: "10",
			wantNext: "10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transitionFromUpdate(tt.update)
			if got.PrevChannelID != tt.wantPrev || got.ChannelID != tt.wantNext {
				t.Errorf("transition = %+v, want prev=%q next=%q", got, tt.wantPrev, tt.wantNext)
			}
			if got.GuildID != "1" || got.UserID != "99" {
				t.Errorf("identity fields = %+v", got)
			}
		})
	}
}

func TestUserInVoiceStates(t *testing.T) {
	states := []*discordgo.VoiceState{
		{UserID: "98", ChannelID: "10"},
		{UserID: "99", ChannelID: "11"},
	}
	if userInVoiceStates(states, "10", "99") {
		t.Error("user 99 reported in channel 10")
	}
	if !userInVoiceStates(states, "11", "99") {
		t.Error("user 99 not found in channel 11")
	}
	if userInVoiceStates(nil, "10", "99") {
		t.Error("match in empty state list")
	}
}

func TestEventMessage(t *testing.T) {
	got := eventMessage("500", "1", "event-7")
	want := "<@&500>\nA new event was scheduled\nhttps://discord.com/events/1/event-7"
	if got != want {
		t.Errorf("eventMessage = %q, want %q", got, want)
	}
}
