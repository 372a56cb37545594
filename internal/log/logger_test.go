package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	logger.Info().Msg("quiet info")
	logger.Warn().Msg("loud warn")

	out := buf.String()
	if strings.Contains(out, "quiet info") {
		t.Fatalf("info line leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "loud warn") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestLevelAliasesAndFallback(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"INFO", "info"},
		{"warning", "warn"},
		{"error", "error"},
		{"verbose", "info"},
		{"", "info"},
	}
	for _, c := range cases {
		if got := parseLevel(c.in); got.String() != c.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
