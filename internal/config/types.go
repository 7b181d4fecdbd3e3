package config

// Config is the on-disk bot configuration. JSON and YAML are both accepted;
// YAML is coerced to JSON and decoded strictly (unknown fields rejected) so
// stale keys are caught during hot reload.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Stream    StreamConfig    `json:"stream"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Heartbeat HeartbeatConfig `json:"heartbeat,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

type DiscordConfig struct {
	// Token is the bot token. May be left empty and supplied via the
	// DISCORD_TOKEN environment variable instead.
	Token string `json:"token,omitempty"`

	// CommandPrefix is the chat command prefix. Default "!".
	CommandPrefix string `json:"command_prefix,omitempty"`

	// AdminUserIDs are treated as administrators for permission-gated
	// commands, in addition to members holding the Administrator permission.
	AdminUserIDs []string `json:"admin_user_ids,omitempty"`
}

type StreamConfig struct {
	// NotifyChannelID, when set, is the preferred announcement channel.
	// May be supplied via the NOTIFICATION_CHANNEL_ID environment variable.
	NotifyChannelID string `json:"notify_channel_id,omitempty"`

	// MentionRoleID is mentioned in start announcements when set.
	MentionRoleID string `json:"mention_role_id,omitempty"`

	// Cooldown is a Go duration string (e.g. "5m"). Minimum gap between two
	// start announcements for the same user. Default "5m".
	Cooldown string `json:"cooldown,omitempty"`

	// ChannelHints overrides the announcement-channel name hints, scanned in
	// priority order when no configured channel resolves.
	ChannelHints []string `json:"channel_hints,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int `json:"rate_per_sec,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
	// SendTimeout is a Go duration string bounding a single send call.
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type HeartbeatConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (robfig/cron, descriptors allowed).
	// Default "@hourly".
	Schedule string `json:"schedule,omitempty"`
}

// StorageConfig configures the optional notification audit log.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (build tag "sqlite")
//
// If Driver is empty or "none", the audit log is disabled.
type StorageConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
