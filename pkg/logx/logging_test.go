package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevelOrDefault(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" INFO ", zerolog.InfoLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := levelOrDefault(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("levelOrDefault(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRenderChatLine(t *testing.T) {
	got := renderChatLine([]byte(`{"level":"warn","message":"send failed","channel_id":"42","attempt":2}`))
	if !strings.HasPrefix(got, "[WARN] send failed") {
		t.Fatalf("rendered = %q", got)
	}
	// Extra keys come out sorted, one per line.
	if !strings.Contains(got, "\n- attempt=2\n- channel_id=42") {
		t.Fatalf("rendered = %q", got)
	}

	// Non-JSON input passes through trimmed.
	if got := renderChatLine([]byte("  plain text\n")); got != "plain text" {
		t.Fatalf("plain = %q", got)
	}
}

func TestClip(t *testing.T) {
	if got := clip("short", 100); got != "short" {
		t.Fatalf("clip noop = %q", got)
	}
	long := strings.Repeat("x", 50)
	got := clip(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("clip = %q (len %d)", got, len(got))
	}
}

func TestNopAndZeroLoggerAreSilent(t *testing.T) {
	// Must not panic.
	Nop().Info("dropped")
	var zero Logger
	zero.Error("dropped", String("k", "v"))
	if !zero.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
}

func TestWithCopiesFields(t *testing.T) {
	base := Nop().With(String("a", "1"))
	derived := base.With(String("b", "2"))
	if len(base.fields) != 1 || len(derived.fields) != 2 {
		t.Fatalf("fields: base=%d derived=%d", len(base.fields), len(derived.fields))
	}
}
