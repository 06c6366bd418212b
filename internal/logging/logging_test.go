package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNew_RuntimeWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(ProfileRuntime, Options{}, &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("session", "s1").Msg("connected")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "s1", entry["session"])
	require.Equal(t, "connected", entry["message"])
	require.Contains(t, entry, "time")
}

func TestNew_Overrides(t *testing.T) {
	var buf bytes.Buffer
	logger := New(ProfileRuntime, Options{Level: "warn", Format: "console"}, &buf)

	logger.Info().Msg("skipped")
	logger.Warn().Msg("kept")

	out := buf.String()
	require.NotContains(t, out, "skipped")
	require.Contains(t, out, "kept")
	require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNew_TestProfile(t *testing.T) {
	var buf bytes.Buffer
	logger := New(ProfileTest, Options{Format: "json"}, &buf)
	logger.Debug().Msg("visible")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.NotContains(t, entry, "time")
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel(" Warning ")
	require.True(t, ok)
	require.Equal(t, zerolog.WarnLevel, lvl)

	_, ok = ParseLevel("loud")
	require.False(t, ok)

	lvl, ok = ParseLevel("off")
	require.True(t, ok)
	require.Equal(t, zerolog.Disabled, lvl)
}
