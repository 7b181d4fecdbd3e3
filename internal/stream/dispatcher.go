package stream

import (
	"context"
	"fmt"
	"time"

	"streambot/internal/eventbus"
	kit "streambot/internal/transport"
	logx "streambot/pkg/logx"
)

const (
	colorLive  = 0xFF0000
	colorEnded = 0x808080
)

// Options are the announcement knobs read per dispatch so config reloads take
// effect without restarting anything.
type Options struct {
	NotifyChannelID string
	MentionRoleID   string
	ChannelHints    []string
}

// Sender delivers a formatted announcement. Implemented by the notifier
// service (rate limited).
type Sender interface {
	Send(ctx context.Context, channelID, content string, embed *kit.Embed) error
}

// Occupancy answers "how many members are in this voice channel right now".
type Occupancy interface {
	VoiceOccupants(guildID, channelID string) int
}

// NotifyOutcome is the bus payload for suppressed/skipped announcements.
type NotifyOutcome struct {
	Kind        string `json:"kind"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	GuildID     string `json:"guild_id"`
	ChannelID   string `json:"channel_id,omitempty"`
	Reason      string `json:"reason"`
}

// Dispatcher turns classified transitions into channel announcements.
type Dispatcher struct {
	log    logx.Logger
	res    *Resolver
	cd     *Cooldown
	sender Sender
	occ    Occupancy
	bus    eventbus.Bus
	clock  Clock
	opts   func() Options
}

func NewDispatcher(res *Resolver, cd *Cooldown, sender Sender, occ Occupancy, bus eventbus.Bus, clock Clock, opts func() Options, log logx.Logger) *Dispatcher {
	if clock == nil {
		clock = systemClock
	}
	return &Dispatcher{
		log:    log,
		res:    res,
		cd:     cd,
		sender: sender,
		occ:    occ,
		bus:    bus,
		clock:  clock,
		opts:   opts,
	}
}

// OnStart announces a new screen share. Failures are logged and swallowed so
// the event loop never sees them. The cooldown is recorded only after the
// send succeeded.
func (d *Dispatcher) OnStart(ctx context.Context, member kit.Member, guildID string, voice kit.Channel) {
	opts := d.opts()

	target, ok := d.res.Resolve(ctx, guildID, opts.NotifyChannelID, opts.ChannelHints)
	if !ok {
		d.log.Warn("no usable notification channel, skipping start announcement",
			logx.String("guild_id", guildID),
			logx.String("user", member.DisplayName),
		)
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySkipped, Data: NotifyOutcome{
			Kind: "start", UserID: member.ID, DisplayName: member.DisplayName,
			GuildID: guildID, Reason: "no notification channel",
		}})
		return
	}

	if d.cd.OnCooldown(member.ID) {
		d.log.Debug("start announcement suppressed by cooldown",
			logx.String("user", member.DisplayName),
			logx.Duration("remaining", d.cd.Remaining(member.ID)),
		)
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySuppressed, Data: NotifyOutcome{
			Kind: "start", UserID: member.ID, DisplayName: member.DisplayName,
			GuildID: guildID, ChannelID: target.ID, Reason: "cooldown",
		}})
		return
	}

	occupants := d.occ.VoiceOccupants(guildID, voice.ID)
	embed := &kit.Embed{
		Title:       "🔴 有人開始直播了！",
		Description: fmt.Sprintf("**%s** 正在 **%s** 語音頻道中直播分享畫面", member.DisplayName, voice.Name),
		Fields: []kit.EmbedField{
			{Name: "🎮 直播者", Value: fmt.Sprintf("<@%s>", member.ID), Inline: true},
			{Name: "📢 語音頻道", Value: voice.Name, Inline: true},
			{Name: "👥 目前人數", Value: fmt.Sprintf("%d 人", occupants), Inline: true},
		},
		Color:     colorLive,
		Thumbnail: member.AvatarURL,
		Footer:    "點擊加入語音頻道一起觀看！",
		Timestamp: d.clock(),
	}

	content := "有人開始直播了！"
	if opts.MentionRoleID != "" {
		content = fmt.Sprintf("<@&%s> 有人開始直播了！", opts.MentionRoleID)
	}

	if err := d.sender.Send(ctx, target.ID, content, embed); err != nil {
		d.log.Error("start announcement failed",
			logx.String("user", member.DisplayName),
			logx.String("channel_id", target.ID),
			logx.Err(err),
		)
		return
	}

	d.cd.Set(member.ID)
	d.log.Info("start announcement sent",
		logx.String("user", member.DisplayName),
		logx.String("voice_channel", voice.Name),
		logx.Int("occupants", occupants),
	)
}

// OnStop announces the end of a share. No cooldown gate applies.
func (d *Dispatcher) OnStop(ctx context.Context, member kit.Member, guildID string) {
	opts := d.opts()

	target, ok := d.res.Resolve(ctx, guildID, opts.NotifyChannelID, opts.ChannelHints)
	if !ok {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySkipped, Data: NotifyOutcome{
			Kind: "stop", UserID: member.ID, DisplayName: member.DisplayName,
			GuildID: guildID, Reason: "no notification channel",
		}})
		return
	}

	embed := &kit.Embed{
		Title:       "⚫ 直播已結束",
		Description: fmt.Sprintf("**%s** 的直播已結束", member.DisplayName),
		Color:       colorEnded,
		Timestamp:   d.clock(),
	}

	if err := d.sender.Send(ctx, target.ID, "", embed); err != nil {
		d.log.Error("stop announcement failed",
			logx.String("user", member.DisplayName),
			logx.String("channel_id", target.ID),
			logx.Err(err),
		)
		return
	}
	d.log.Info("stop announcement sent", logx.String("user", member.DisplayName))
}

// ElapsedMinutes is the whole-minute duration used by the live listing.
func ElapsedMinutes(now, start time.Time) int {
	m := int(now.Sub(start) / time.Minute)
	if m < 0 {
		return 0
	}
	return m
}
