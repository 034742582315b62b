package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"explicit json", Config{Level: "debug", Format: "json"}, false},
		{"text format", Config{Format: "text"}, false},
		{"bad level", Config{Level: "loud"}, true},
		{"bad format", Config{Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phasetrack.log")
	logger, err := New(Config{Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("activity transitioned", "phase", "scoping", "activity", "Tester Review")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "activity transitioned", entry["msg"])
	assert.Equal(t, "scoping", entry["phase"])
	// RFC3339 timestamps parse as strings without fractional reformatting.
	assert.NotEmpty(t, entry["time"])
}

func TestNew_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phasetrack.log")
	logger, err := New(Config{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestCaptureHandler(t *testing.T) {
	capture := NewCaptureHandler()
	logger := slog.New(capture)

	logger.Info("first", "key", "value")
	logger.With("component", "engine").Warn("second", "n", 2)

	entries := capture.Entries()
	require.Len(t, entries, 2)

	assert.Equal(t, slog.LevelInfo, entries[0].Level)
	assert.Equal(t, "value", entries[0].Attributes["key"])

	assert.Equal(t, slog.LevelWarn, entries[1].Level)
	assert.Equal(t, "engine", entries[1].Attributes["component"])
	assert.Equal(t, int64(2), entries[1].Attributes["n"])

	assert.Equal(t, []string{"first", "second"}, capture.Messages())
}
