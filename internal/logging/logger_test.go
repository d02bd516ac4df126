package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/brittybidari/FashionRecSys/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewLogger verifies basic logger creation
func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  string
	}{
		{"JSON Info", "json", "info"},
		{"JSON Debug", "json", "debug"},
		{"JSON Error", "json", "error"},
		{"Console Info", "console", "info"},
		{"Text Debug", "text", "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(Config{
				Format: tt.format,
				Level:  tt.level,
				Output: &buf,
			})
			require.NoError(t, err)
			logger.Error().Msg("heartbeat")
			assert.Contains(t, buf.String(), "heartbeat")
		})
	}
}

func TestNewLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Format: "json", Level: "info", Output: &buf, Component: "api"})
	require.NoError(t, err)

	logger.Info().Str("filename", "a.jpg").Msg("served")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "api", entry["component"])
	assert.Equal(t, "a.jpg", entry["filename"])
	assert.Contains(t, entry, "time")
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Format: "json", Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.True(t, strings.Contains(out, "shown"))
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(Config{Format: "xml", Level: "info"})
	assert.Error(t, err)

	_, err = NewLogger(Config{Format: "json", Level: "verbose"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestMetricsHook(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Format: "json", Level: "debug", Output: &buf})
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.LogErrorsTotal)
	beforeWarn := testutil.ToFloat64(metrics.LogEntriesTotal.WithLabelValues("warn"))

	logger.Error().Msg("boom")
	logger.Warn().Msg("careful")

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LogErrorsTotal))
	assert.Equal(t, beforeWarn+1, testutil.ToFloat64(metrics.LogEntriesTotal.WithLabelValues("warn")))
}

func TestDiscardLogger(t *testing.T) {
	logger := DiscardLogger()
	logger.Info().Msg("nothing")
	assert.Equal(t, zerolog.Disabled, logger.GetLevel())
}
