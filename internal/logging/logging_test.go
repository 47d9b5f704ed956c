package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "warn")

	logger.Info().Msg("hidden")
	logger.Warn().Str("sale", "V-1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "V-1", entry["sale"])
	require.Contains(t, entry, "time")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "loud")

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	require.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestConsoleFormatIsNotJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "console", "info")

	logger.Info().Msg("listening")

	require.Contains(t, buf.String(), "listening")
	require.False(t, json.Valid(buf.Bytes()))
}
