package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "streambot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("Open with unknown driver returned nil error")
	}
}

func TestFileStoreAppend(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entries := []AuditEntry{
		{At: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), Event: "stream.started", UserID: "u1", DisplayName: "Alice", ChannelID: "v1"},
		{At: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC), Event: "notify.sent", UserID: "u1", ChannelID: "c1"},
	}
	for _, e := range entries {
		if err := st.AppendAudit(context.Background(), e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "bot.audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("read %d entries, want 2", len(got))
	}
	if got[0].Event != "stream.started" || got[0].DisplayName != "Alice" {
		t.Fatalf("first entry = %+v", got[0])
	}
	if got[1].Event != "notify.sent" {
		t.Fatalf("second entry = %+v", got[1])
	}
}

func TestFileStoreAppendAfterClose(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendAudit(context.Background(), AuditEntry{Event: "x", UserID: "u"}); err == nil {
		t.Fatalf("AppendAudit after Close returned nil error")
	}
}
