package logx

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "WARN")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Warn().Str("scale", "cycle").Msg("visible")
	assert.Contains(t, buf.String(), `"scale":"cycle"`)
}

func TestNewWithWriter_FallbackLevel(t *testing.T) {
	for _, lvl := range []string{"", "loud"} {
		log := NewWithWriter(&bytes.Buffer{}, lvl)
		assert.Equal(t, zerolog.InfoLevel, log.GetLevel(), "level %q", lvl)
	}
}
