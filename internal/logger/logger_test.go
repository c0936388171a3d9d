package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugGate(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(false, &buf)
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Info().Str("component", "test").Msg("shown")
	assert.Contains(t, buf.String(), `"component":"test"`)

	buf.Reset()
	log = NewWithWriter(true, &buf)
	log.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}
