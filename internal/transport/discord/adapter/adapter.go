// Package adapter wraps the Discord gateway session behind the transport
// kit interface. It owns all discordgo types; nothing above this package
// imports the platform SDK.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	kit "streambot/internal/transport"
	logx "streambot/pkg/logx"
)

type Options struct {
	Token string
	Log   logx.Logger
}

type Discord struct {
	log  logx.Logger
	sess *discordgo.Session

	out     chan<- kit.Update
	remove  []func()
	dropped atomic.Uint64
	selfID  atomic.Value // string
}

func New(opts Options) (*Discord, error) {
	if opts.Token == "" {
		return nil, errors.New("discord token is required")
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	sess, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	return &Discord{log: log, sess: sess}, nil
}

// Start registers the gateway handlers and opens the websocket connection.
// Events are pushed to out without blocking; when the consumer falls behind,
// updates are dropped and counted.
func (d *Discord) Start(ctx context.Context, out chan<- kit.Update) error {
	_ = ctx
	d.out = out

	d.remove = append(d.remove,
		d.sess.AddHandler(d.onReady),
		d.sess.AddHandler(d.onMessageCreate),
		d.sess.AddHandler(d.onVoiceStateUpdate),
	)

	if err := d.sess.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

func (d *Discord) Stop(ctx context.Context) error {
	_ = ctx
	for _, rm := range d.remove {
		rm()
	}
	d.remove = nil
	return d.sess.Close()
}

// Dropped returns how many updates were discarded because the event queue
// was full.
func (d *Discord) Dropped() uint64 { return d.dropped.Load() }

func (d *Discord) push(u kit.Update) {
	select {
	case d.out <- u:
	default:
		n := d.dropped.Add(1)
		d.log.Warn("update dropped (event queue full)", logx.Uint64("dropped_total", n))
	}
}

func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.selfID.Store(r.User.ID)
	d.log.Info("gateway ready",
		logx.String("user", r.User.Username),
		logx.Int("guilds", len(r.Guilds)),
	)
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	if self, _ := d.selfID.Load().(string); self != "" && m.Author.ID == self {
		return
	}

	isAdmin := false
	if m.GuildID != "" {
		if perms, err := s.State.UserChannelPermissions(m.Author.ID, m.ChannelID); err == nil {
			isAdmin = perms&discordgo.PermissionAdministrator != 0
		}
	}

	d.push(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Author:    memberFrom(m.Member, m.Author),
		Content:   m.Content,
		IsAdmin:   isAdmin,
	}})
}

func (d *Discord) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil {
		return
	}

	newState := kit.VoiceState{
		GuildID:   v.GuildID,
		ChannelID: v.ChannelID,
		Streaming: v.SelfStream,
	}
	var oldState kit.VoiceState
	if v.BeforeUpdate != nil {
		oldState = kit.VoiceState{
			GuildID:   v.BeforeUpdate.GuildID,
			ChannelID: v.BeforeUpdate.ChannelID,
			Streaming: v.BeforeUpdate.SelfStream,
		}
	}
	if oldState.GuildID == "" {
		oldState.GuildID = v.GuildID
	}

	d.push(kit.Update{Kind: kit.UpdateVoice, Voice: &kit.VoiceUpdate{
		Member: d.resolveMember(s, v),
		Old:    oldState,
		New:    newState,
	}})
}

// resolveMember pulls the member from the event payload, falling back to
// cached guild state. Returns nil when neither source knows the user.
func (d *Discord) resolveMember(s *discordgo.Session, v *discordgo.VoiceStateUpdate) *kit.Member {
	if v.Member != nil && v.Member.User != nil {
		m := memberFrom(v.Member, v.Member.User)
		return &m
	}
	if v.BeforeUpdate != nil && v.BeforeUpdate.Member != nil && v.BeforeUpdate.Member.User != nil {
		m := memberFrom(v.BeforeUpdate.Member, v.BeforeUpdate.Member.User)
		return &m
	}
	if gm, err := s.State.Member(v.GuildID, v.UserID); err == nil && gm != nil && gm.User != nil {
		m := memberFrom(gm, gm.User)
		return &m
	}
	return nil
}

func (d *Discord) SendMessage(ctx context.Context, channelID, content string, embed *kit.Embed) (kit.MessageRef, error) {
	send := &discordgo.MessageSend{Content: content}
	if embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{embedFrom(embed)}
	}
	msg, err := d.sess.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (d *Discord) Reply(ctx context.Context, to *kit.Message, content string, embed *kit.Embed) error {
	send := &discordgo.MessageSend{
		Content: content,
		Reference: &discordgo.MessageReference{
			MessageID: to.ID,
			ChannelID: to.ChannelID,
			GuildID:   to.GuildID,
		},
	}
	if embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{embedFrom(embed)}
	}
	_, err := d.sess.ChannelMessageSendComplex(to.ChannelID, send, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) FetchChannel(ctx context.Context, id string) (kit.Channel, error) {
	if ch, err := d.sess.State.Channel(id); err == nil {
		return channelFrom(ch), nil
	}
	ch, err := d.sess.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return kit.Channel{}, err
	}
	return channelFrom(ch), nil
}

func (d *Discord) GuildChannels(guildID string) []kit.Channel {
	g, err := d.sess.State.Guild(guildID)
	if err != nil || g == nil {
		return nil
	}
	out := make([]kit.Channel, 0, len(g.Channels))
	for _, ch := range g.Channels {
		out = append(out, channelFrom(ch))
	}
	return out
}

func (d *Discord) GuildMember(guildID, userID string) (kit.Member, bool) {
	gm, err := d.sess.State.Member(guildID, userID)
	if err != nil || gm == nil || gm.User == nil {
		return kit.Member{}, false
	}
	return memberFrom(gm, gm.User), true
}

func (d *Discord) VoiceOccupants(guildID, channelID string) int {
	g, err := d.sess.State.Guild(guildID)
	if err != nil || g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			n++
		}
	}
	return n
}

func memberFrom(m *discordgo.Member, u *discordgo.User) kit.Member {
	out := kit.Member{
		ID:        u.ID,
		Bot:       u.Bot,
		AvatarURL: u.AvatarURL(""),
	}
	out.DisplayName = u.Username
	if u.GlobalName != "" {
		out.DisplayName = u.GlobalName
	}
	if m != nil && m.Nick != "" {
		out.DisplayName = m.Nick
	}
	return out
}

func channelFrom(ch *discordgo.Channel) kit.Channel {
	kind := kit.ChannelOther
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		kind = kit.ChannelText
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		kind = kit.ChannelVoice
	}
	return kit.Channel{
		ID:      ch.ID,
		GuildID: ch.GuildID,
		Name:    ch.Name,
		Kind:    kind,
	}
}

func embedFrom(e *kit.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if e.Thumbnail != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}
