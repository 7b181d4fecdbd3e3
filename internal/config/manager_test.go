package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
discord:
  token: abc
  command_prefix: "?"
  admin_user_ids: ["1", "2"]
stream:
  notify_channel_id: "555"
  cooldown: 10m
  channel_hints: ["直播", "live"]
logging:
  level: DEBUG
  console: true
  file:
    enabled: false
    path: ""
  discord:
    enabled: false
heartbeat:
  enabled: true
  schedule: "@hourly"
`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "abc" || cfg.Discord.CommandPrefix != "?" {
		t.Fatalf("discord section = %+v", cfg.Discord)
	}
	if len(cfg.Discord.AdminUserIDs) != 2 || cfg.Discord.AdminUserIDs[1] != "2" {
		t.Fatalf("admin ids = %v", cfg.Discord.AdminUserIDs)
	}
	if cfg.Stream.NotifyChannelID != "555" || cfg.Stream.Cooldown != "10m" {
		t.Fatalf("stream section = %+v", cfg.Stream)
	}
	if len(cfg.Stream.ChannelHints) != 2 || cfg.Stream.ChannelHints[0] != "直播" {
		t.Fatalf("channel hints = %v", cfg.Stream.ChannelHints)
	}
	if !cfg.Heartbeat.Enabled || cfg.Heartbeat.Schedule != "@hourly" {
		t.Fatalf("heartbeat section = %+v", cfg.Heartbeat)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different config pointer")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "discord": {"token": "abc"},
  "stream": {},
  "logging": {"level": "INFO", "console": true, "file": {"enabled": false, "path": ""}, "discord": {"enabled": false}}
}`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "abc" || cfg.Logging.Level != "INFO" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.yaml", `
discord:
  token: abc
  comand_prefix: "!"
logging:
  level: INFO
  console: true
  file:
    enabled: false
    path: ""
  discord:
    enabled: false
`)

	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("expected error for misspelled key")
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"discord":{"token":"a"},"stream":{},"logging":{"level":"INFO","console":true,"file":{"enabled":false,"path":""},"discord":{"enabled":false}}}{}`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", " 5m "); err != nil || d != 5*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "banana"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("expected negative error")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2s", time.Minute); err != nil || d != 2*time.Second {
		t.Fatalf("explicit: got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "nope", time.Minute); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	m := NewConfigManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatalf("got wrong config pointer")
		}
	default:
		t.Fatalf("no config delivered")
	}

	// A full buffer keeps the newest config.
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("expected newest config after overflow")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
}
