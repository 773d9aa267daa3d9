package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"default info", "", zerolog.InfoLevel},
		{"garbage falls back", "loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := InitWithWriter(&bytes.Buffer{}, "test", "prod", tt.level)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestFromContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := InitWithWriter(&buf, "scheduler", "prod", "info")

	ctx := WithRequestID(context.Background(), "req-123")
	FromContext(ctx, base).Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-123", line["request_id"])
	assert.Equal(t, "scheduler", line["service"])
	assert.Equal(t, "hello", line["message"])
}

func TestRequestIDMissing(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestBootstrapWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	Bootstrap(&buf, "api-server").Error().Msg("config load error")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "api-server", entry["service"])
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "config load error", entry["message"])
}
