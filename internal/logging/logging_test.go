package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Not parallel: Setup replaces the global logger.
func TestSetup(t *testing.T) {
	t.Cleanup(func() { Setup(Options{}) })

	var buf bytes.Buffer
	Setup(Options{Debug: true, JSON: true, Out: &buf})
	assert.True(t, DebugEnabled())
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Debug().Str("analysis_id", "a1").Msg("step done")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "mdia", line["service"])
	assert.Equal(t, "a1", line["analysis_id"])
	assert.Equal(t, "step done", line["message"])

	buf.Reset()
	Setup(Options{Out: &buf})
	assert.False(t, DebugEnabled())
	log.Debug().Msg("hidden")
	log.Info().Msg("visible")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}
