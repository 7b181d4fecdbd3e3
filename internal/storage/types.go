package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config selects the audit backend. Driver "file" appends JSON lines with no
// extra dependencies; "sqlite" writes a database file and needs the sqlite
// build tag. Empty or "none" disables the audit trail.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only, 0 uses the driver default
}

// AuditEntry is one recorded event. The field set is shared by the jsonl and
// sqlite backends, so additions need a migration.
type AuditEntry struct {
	At          time.Time
	Event       string
	UserID      string
	DisplayName string
	GuildID     string
	ChannelID   string
	Detail      string
}
