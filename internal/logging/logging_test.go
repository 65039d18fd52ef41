package logging

import (
	"testing"

	"go.uber.org/zap"

	"github.com/stellarlinkco/ircrelay/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zap.AtomicLevel
		wantErr bool
	}{
		{"debug", zap.NewAtomicLevelAt(zap.DebugLevel), false},
		{"", zap.NewAtomicLevelAt(zap.InfoLevel), false},
		{"INFO", zap.NewAtomicLevelAt(zap.InfoLevel), false},
		{"warning", zap.NewAtomicLevelAt(zap.WarnLevel), false},
		{"error", zap.NewAtomicLevelAt(zap.ErrorLevel), false},
		{"loud", zap.NewAtomicLevelAt(zap.InfoLevel), true},
	}

	for _, tt := range tests {
		got, err := parseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want.Level() {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want.Level())
		}
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		logger, err := New(config.LogConfig{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("New(%s) error: %v", format, err)
		}
		if !logger.Core().Enabled(zap.DebugLevel) {
			t.Errorf("%s logger should enable debug", format)
		}
	}

	if _, err := New(config.LogConfig{Level: "nope"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
