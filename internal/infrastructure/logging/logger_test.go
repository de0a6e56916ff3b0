package logging

import (
	"log/slog"
	"testing"

	"github.com/sortline/sortline-core/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewReturnsUsableLogger(t *testing.T) {
	cfg := config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}
	logger := New(cfg, "test")
	if logger == nil || logger.Logger == nil {
		t.Fatal("expected a non-nil logger")
	}

	child := logger.With("component", "test")
	if child == nil || child.Logger == nil {
		t.Fatal("expected a non-nil child logger")
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected a non-nil default logger")
	}
}
