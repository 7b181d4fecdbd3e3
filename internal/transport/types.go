package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateVoice   UpdateKind = "voice"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Voice   *VoiceUpdate
}

// Member is a guild member as seen at event time.
type Member struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Bot         bool
}

type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	Author    Member
	Content   string

	// IsAdmin reports whether the author holds the Administrator permission
	// in the channel the message was posted to, resolved from cached guild
	// state at event time.
	IsAdmin bool
}

// VoiceState is the slice of a member's voice state the presence monitor
// cares about. ChannelID is empty when the member is not in a voice channel.
type VoiceState struct {
	GuildID   string
	ChannelID string
	Streaming bool
}

// VoiceUpdate carries the old and new voice state of one member.
// Member is nil when it cannot be resolved from either state.
type VoiceUpdate struct {
	Member *Member
	Old    VoiceState
	New    VoiceState
}

type ChannelKind int

const (
	ChannelText ChannelKind = iota
	ChannelVoice
	ChannelOther
)

type Channel struct {
	ID      string
	GuildID string
	Name    string
	Kind    ChannelKind
}

// TextCapable reports whether messages can be posted to the channel.
func (c Channel) TextCapable() bool { return c.Kind == ChannelText }

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Thumbnail   string
	Footer      string
	Timestamp   time.Time
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SendMessage posts content and/or an embed to a channel.
	SendMessage(ctx context.Context, channelID, content string, embed *Embed) (MessageRef, error)
	// Reply posts a message referencing the given inbound message.
	Reply(ctx context.Context, to *Message, content string, embed *Embed) error

	// FetchChannel resolves a channel by id (cached state first, REST fallback).
	FetchChannel(ctx context.Context, id string) (Channel, error)
	// GuildChannels returns a snapshot of the guild's channels from cached state.
	GuildChannels(guildID string) []Channel
	// GuildMember resolves a member from cached guild state.
	GuildMember(guildID, userID string) (Member, bool)
	// VoiceOccupants counts members currently in the given voice channel.
	VoiceOccupants(guildID, channelID string) int
}
