package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_IncludesServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "calsync", "debug")
	log.Debug().Str("event_uid", "abc").Msg("parsed")

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, "calsync", payload["service"])
	assert.Equal(t, "debug", payload["level"])
	assert.Equal(t, "abc", payload["event_uid"])
	assert.Contains(t, payload, "time")
}

func TestLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "calsync", "chatty")
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
