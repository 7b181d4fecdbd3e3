package notifier

import "time"

// Config controls outbound delivery. All fields have working defaults.
type Config struct {
	// RatePerSec caps outbound sends across all channels.
	RatePerSec float64
	// HistorySize bounds the in-memory delivery history (oldest dropped).
	HistorySize int
	// SendTimeout bounds a single platform send call.
	SendTimeout time.Duration
}

const (
	defaultRatePerSec  = 1.0
	defaultHistorySize = 50
	defaultSendTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// HistoryItem is one delivered announcement kept for the status command.
type HistoryItem struct {
	At        time.Time
	ChannelID string
	Title     string
}

// DeliveryEvent is the bus payload for sent/failed deliveries.
type DeliveryEvent struct {
	ChannelID string `json:"channel_id"`
	Title     string `json:"title,omitempty"`
	Error     string `json:"error,omitempty"`
}
