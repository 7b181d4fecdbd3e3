package stream

import (
	"context"

	"streambot/internal/eventbus"
	kit "streambot/internal/transport"
	logx "streambot/pkg/logx"
)

// SessionEvent is the bus payload for stream lifecycle events.
type SessionEvent struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	GuildID     string `json:"guild_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

// Service owns the live registry and drives the dispatcher from raw voice
// updates. Voice updates are handled sequentially by the app's event loop, so
// transitions for one member are never processed concurrently.
type Service struct {
	log   logx.Logger
	reg   *Registry
	disp  *Dispatcher
	dir   Directory
	bus   eventbus.Bus
	clock Clock
}

func NewService(reg *Registry, disp *Dispatcher, dir Directory, bus eventbus.Bus, clock Clock, log logx.Logger) *Service {
	if clock == nil {
		clock = systemClock
	}
	return &Service{
		log:   log,
		reg:   reg,
		disp:  disp,
		dir:   dir,
		bus:   bus,
		clock: clock,
	}
}

func (s *Service) Registry() *Registry { return s.reg }

// HandleVoice classifies one voice-state update and applies the resulting
// transitions. Bot accounts and unresolvable members are ignored.
func (s *Service) HandleVoice(ctx context.Context, up *kit.VoiceUpdate) {
	if up == nil || up.Member == nil || up.Member.Bot {
		return
	}
	member := *up.Member
	guildID := up.New.GuildID
	if guildID == "" {
		guildID = up.Old.GuildID
	}

	for _, tr := range Classify(up.Old, up.New) {
		switch tr.Kind {
		case TransitionStart:
			s.handleStart(ctx, member, guildID, tr.ChannelID)
		case TransitionStop:
			s.handleStop(ctx, member, guildID)
		case TransitionStopViaLeave:
			s.handleStopViaLeave(ctx, member, guildID, tr.ChannelID)
		}
	}
}

func (s *Service) handleStart(ctx context.Context, member kit.Member, guildID, channelID string) {
	voice := kit.Channel{ID: channelID, GuildID: guildID, Kind: kit.ChannelVoice}
	if ch, err := s.dir.FetchChannel(ctx, channelID); err == nil {
		voice = ch
	} else {
		s.log.Warn("voice channel lookup failed",
			logx.String("channel_id", channelID),
			logx.Err(err),
		)
	}

	sess := Session{
		UserID:      member.ID,
		DisplayName: member.DisplayName,
		GuildID:     guildID,
		ChannelID:   voice.ID,
		ChannelName: voice.Name,
		StartedAt:   s.clock(),
	}
	// The registry gains the session before the announcement is attempted, so
	// a cooldown-suppressed start is still tracked as live.
	s.reg.RecordStart(sess)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeStreamStarted, Data: sessionEvent(sess)})

	s.log.Info("stream started",
		logx.String("user", member.DisplayName),
		logx.String("voice_channel", voice.Name),
	)
	s.disp.OnStart(ctx, member, guildID, voice)
}

func (s *Service) handleStop(ctx context.Context, member kit.Member, guildID string) {
	sess, ok := s.reg.RecordStop(member.ID)
	if !ok {
		// Duplicate or out-of-order stop; nothing was tracked.
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeStreamStopped, Data: sessionEvent(sess)})
	s.log.Info("stream stopped",
		logx.String("user", member.DisplayName),
		logx.String("voice_channel", sess.ChannelName),
	)
	s.disp.OnStop(ctx, member, guildID)
}

func (s *Service) handleStopViaLeave(ctx context.Context, member kit.Member, guildID, oldChannelID string) {
	s.log.Info("stream stopped (left voice channel)",
		logx.String("user", member.DisplayName),
		logx.String("channel_id", oldChannelID),
	)
	// Unlike the explicit stop path this announces even when no session was
	// tracked, matching the classification rule rather than registry state.
	s.disp.OnStop(ctx, member, guildID)
	if sess, ok := s.reg.RecordStop(member.ID); ok {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeStreamStopped, Data: sessionEvent(sess)})
	}
}

func sessionEvent(s Session) SessionEvent {
	return SessionEvent{
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		GuildID:     s.GuildID,
		ChannelID:   s.ChannelID,
		ChannelName: s.ChannelName,
	}
}
