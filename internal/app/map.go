package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"streambot/internal/config"
	"streambot/internal/notifier"
	"streambot/internal/observability/pprof"
	"streambot/internal/storage"
	"streambot/internal/stream"
	logx "streambot/pkg/logx"
)

// discordToken resolves the bot token, preferring the config file and falling
// back to the DISCORD_TOKEN environment variable.
func discordToken(cfg *config.Config) string {
	if t := strings.TrimSpace(cfg.Discord.Token); t != "" {
		return t
	}
	return strings.TrimSpace(os.Getenv("DISCORD_TOKEN"))
}

// mapStreamOptions builds the per-dispatch announcement knobs. The configured
// channel id falls back to the NOTIFICATION_CHANNEL_ID environment variable.
func mapStreamOptions(cfg *config.Config) stream.Options {
	id := strings.TrimSpace(cfg.Stream.NotifyChannelID)
	if id == "" {
		id = strings.TrimSpace(os.Getenv("NOTIFICATION_CHANNEL_ID"))
	}
	return stream.Options{
		NotifyChannelID: id,
		MentionRoleID:   strings.TrimSpace(cfg.Stream.MentionRoleID),
		ChannelHints:    cfg.Stream.ChannelHints,
	}
}

func mapCooldownWindow(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("stream.cooldown", cfg.Stream.Cooldown, stream.DefaultCooldownWindow)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			ChannelID:  cfg.Logging.Discord.ChannelID,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if cfg.Notifier.HistorySize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.history_size must be >= 0")
	}
	timeout, err := config.ParseDurationField("notifier.send_timeout", cfg.Notifier.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  float64(cfg.Notifier.RatePerSec),
		HistorySize: cfg.Notifier.HistorySize,
		SendTimeout: timeout,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}
}
