package stream

import (
	"context"
	"strings"

	kit "streambot/internal/transport"
	logx "streambot/pkg/logx"
)

// DefaultChannelHints are matched against guild channel names, in priority
// order, when no notification channel is configured.
var DefaultChannelHints = []string{"一般", "general", "通知", "notifications", "大廳", "lobby"}

// Directory is the slice of the platform adapter the resolver needs.
type Directory interface {
	FetchChannel(ctx context.Context, id string) (kit.Channel, error)
	GuildChannels(guildID string) []kit.Channel
}

// Resolver picks the text channel announcements go to. Resolution runs per
// notification and is never cached; guild channel membership can change
// between calls.
type Resolver struct {
	dir Directory
	log logx.Logger
}

func NewResolver(dir Directory, log logx.Logger) *Resolver {
	return &Resolver{dir: dir, log: log}
}

// Resolve returns the notification channel for guildID.
//
// Priority:
//  1. configuredID, when set and it resolves to a text-capable channel
//  2. the first hint token (priority order) matching a channel name,
//     case-insensitive substring
//  3. the first text-capable channel in the guild list
//
// The second return is false when nothing matched; callers treat that as
// "notification skipped", not an error.
func (r *Resolver) Resolve(ctx context.Context, guildID, configuredID string, hints []string) (kit.Channel, bool) {
	if configuredID != "" {
		ch, err := r.dir.FetchChannel(ctx, configuredID)
		if err == nil && ch.TextCapable() {
			r.log.Debug("using configured notification channel",
				logx.String("channel_id", ch.ID),
				logx.String("channel", ch.Name),
			)
			return ch, true
		}
		r.log.Warn("configured notification channel unusable, falling back",
			logx.String("channel_id", configuredID),
			logx.Err(err),
		)
	}

	channels := r.dir.GuildChannels(guildID)

	if len(hints) == 0 {
		hints = DefaultChannelHints
	}
	for _, hint := range hints {
		h := strings.ToLower(hint)
		for _, ch := range channels {
			if !ch.TextCapable() {
				continue
			}
			if strings.Contains(strings.ToLower(ch.Name), h) {
				r.log.Debug("notification channel matched by name",
					logx.String("hint", hint),
					logx.String("channel", ch.Name),
				)
				return ch, true
			}
		}
	}

	for _, ch := range channels {
		if ch.TextCapable() {
			r.log.Debug("falling back to first text channel", logx.String("channel", ch.Name))
			return ch, true
		}
	}
	return kit.Channel{}, false
}
