package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"streambot/internal/eventbus"
	kit "streambot/internal/transport"
	logx "streambot/pkg/logx"
)

type sentMessage struct {
	channelID string
	content   string
	embed     *kit.Embed
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (s *fakeSender) Send(_ context.Context, channelID, content string, embed *kit.Embed) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{channelID: channelID, content: content, embed: embed})
	return nil
}

type fakeOccupancy struct{ n int }

func (o fakeOccupancy) VoiceOccupants(string, string) int { return o.n }

type fixture struct {
	svc    *Service
	reg    *Registry
	cd     *Cooldown
	sender *fakeSender
	now    *time.Time
}

func newFixture(t *testing.T, occupants int) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	dir := &fakeDirectory{
		byID: map[string]kit.Channel{
			"v1": voice("v1", "遊戲房"),
		},
		channels: []kit.Channel{
			voice("v1", "遊戲房"),
			text("c1", "general"),
		},
	}
	sender := &fakeSender{}
	reg := NewRegistry()
	cd := NewCooldown(5*time.Minute, func() time.Time { return now })
	bus := eventbus.New()
	res := NewResolver(dir, logx.Nop())
	opts := func() Options { return Options{MentionRoleID: "r1"} }
	disp := NewDispatcher(res, cd, sender, fakeOccupancy{n: occupants}, bus, clock, opts, logx.Nop())
	svc := NewService(reg, disp, dir, bus, clock, logx.Nop())

	return &fixture{svc: svc, reg: reg, cd: cd, sender: sender, now: &now}
}

func voiceUpdate(member kit.Member, old, new kit.VoiceState) *kit.VoiceUpdate {
	return &kit.VoiceUpdate{Member: &member, Old: old, New: new}
}

func TestStartAnnouncement(t *testing.T) {
	f := newFixture(t, 3)
	alice := kit.Member{ID: "u1", DisplayName: "Alice"}

	f.svc.HandleVoice(context.Background(), voiceUpdate(alice,
		kit.VoiceState{GuildID: "g", ChannelID: "v1"},
		kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
	))

	if len(f.sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(f.sender.sent))
	}
	msg := f.sender.sent[0]
	if msg.channelID != "c1" {
		t.Fatalf("announcement went to %q, want c1", msg.channelID)
	}
	if !strings.Contains(msg.content, "<@&r1>") {
		t.Fatalf("content %q missing role mention", msg.content)
	}
	if msg.embed == nil {
		t.Fatalf("announcement carried no embed")
	}
	if !strings.Contains(msg.embed.Description, "Alice") || !strings.Contains(msg.embed.Description, "遊戲房") {
		t.Fatalf("embed description %q missing member or channel name", msg.embed.Description)
	}
	foundCount := false
	for _, field := range msg.embed.Fields {
		if strings.Contains(field.Value, "3") {
			foundCount = true
		}
	}
	if !foundCount {
		t.Fatalf("embed fields %+v missing occupant count", msg.embed.Fields)
	}

	sessions := f.reg.Sessions()
	if len(sessions) != 1 || sessions[0].UserID != "u1" || sessions[0].ChannelName != "遊戲房" {
		t.Fatalf("registry = %+v, want one session for u1", sessions)
	}
}

func TestStartWithinCooldownSuppressesSendButTracksSession(t *testing.T) {
	f := newFixture(t, 3)
	alice := kit.Member{ID: "u1", DisplayName: "Alice"}
	start := voiceUpdate(alice,
		kit.VoiceState{GuildID: "g", ChannelID: "v1"},
		kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
	)
	stop := voiceUpdate(alice,
		kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
		kit.VoiceState{GuildID: "g", ChannelID: "v1"},
	)

	f.svc.HandleVoice(context.Background(), start)
	f.svc.HandleVoice(context.Background(), stop)

	// Second start 2 minutes later, still inside the 5 minute window.
	*f.now = f.now.Add(2 * time.Minute)
	f.svc.HandleVoice(context.Background(), start)

	var starts int
	for _, msg := range f.sender.sent {
		if msg.embed != nil && strings.Contains(msg.embed.Title, "開始") {
			starts++
		}
	}
	if starts != 1 {
		t.Fatalf("sent %d start announcements, want 1 (second suppressed by cooldown)", starts)
	}
	if f.reg.Len() != 1 {
		t.Fatalf("registry len = %d, want 1 (suppressed start still tracked)", f.reg.Len())
	}
}

func TestStopViaLeaveAnnouncesAndClearsRegistry(t *testing.T) {
	f := newFixture(t, 2)
	alice := kit.Member{ID: "u1", DisplayName: "Alice"}

	f.svc.HandleVoice(context.Background(), voiceUpdate(alice,
		kit.VoiceState{GuildID: "g", ChannelID: "v1"},
		kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
	))
	// Member drops out of voice entirely with the streaming flag still set.
	f.svc.HandleVoice(context.Background(), voiceUpdate(alice,
		kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
		kit.VoiceState{GuildID: "g", Streaming: true},
	))

	if len(f.sender.sent) != 2 {
		t.Fatalf("sent %d messages, want start + stop", len(f.sender.sent))
	}
	stopMsg := f.sender.sent[1]
	if stopMsg.embed == nil || !strings.Contains(stopMsg.embed.Title, "結束") {
		t.Fatalf("second message is not a stop announcement: %+v", stopMsg.embed)
	}
	if !strings.Contains(stopMsg.embed.Description, "Alice") {
		t.Fatalf("stop description %q missing member name", stopMsg.embed.Description)
	}
	if f.reg.Len() != 0 {
		t.Fatalf("registry len = %d after leave, want 0", f.reg.Len())
	}
}

func TestExplicitStopWithoutSessionIsSilent(t *testing.T) {
	f := newFixture(t, 1)
	alice := kit.Member{ID: "u1", DisplayName: "Alice"}

	f.svc.HandleVoice(context.Background(), voiceUpdate(alice,
		kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
		kit.VoiceState{GuildID: "g", ChannelID: "v1"},
	))

	if len(f.sender.sent) != 0 {
		t.Fatalf("sent %d messages for untracked stop, want 0", len(f.sender.sent))
	}
}

func TestBotAndNilMemberIgnored(t *testing.T) {
	f := newFixture(t, 1)
	bot := kit.Member{ID: "b1", DisplayName: "Bot", Bot: true}

	f.svc.HandleVoice(context.Background(), voiceUpdate(bot,
		kit.VoiceState{GuildID: "g", ChannelID: "v1"},
		kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
	))
	f.svc.HandleVoice(context.Background(), &kit.VoiceUpdate{
		Old: kit.VoiceState{GuildID: "g", ChannelID: "v1"},
		New: kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
	})

	if len(f.sender.sent) != 0 || f.reg.Len() != 0 {
		t.Fatalf("bot or memberless update was processed: sent=%d registry=%d", len(f.sender.sent), f.reg.Len())
	}
}

func TestCooldownRecordedOnlyOnSuccessfulSend(t *testing.T) {
	f := newFixture(t, 1)
	f.sender.err = errors.New("rate limited by platform")
	alice := kit.Member{ID: "u1", DisplayName: "Alice"}

	f.svc.HandleVoice(context.Background(), voiceUpdate(alice,
		kit.VoiceState{GuildID: "g", ChannelID: "v1"},
		kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
	))

	if f.cd.OnCooldown("u1") {
		t.Fatalf("cooldown recorded despite failed send")
	}

	// Once the platform recovers, the next start announces normally.
	f.sender.err = nil
	f.svc.HandleVoice(context.Background(), voiceUpdate(alice,
		kit.VoiceState{GuildID: "g", ChannelID: "v1"},
		kit.VoiceState{GuildID: "g", ChannelID: "v1", Streaming: true},
	))
	if len(f.sender.sent) != 1 {
		t.Fatalf("sent %d messages after recovery, want 1", len(f.sender.sent))
	}
	if !f.cd.OnCooldown("u1") {
		t.Fatalf("cooldown not recorded after successful send")
	}
}
