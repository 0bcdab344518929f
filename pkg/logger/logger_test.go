package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud"))
}

func TestInitSetsLevel(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	Init("error", false)
	assert.Equal(t, zerolog.ErrorLevel, Log.GetLevel())
	assert.Equal(t, zerolog.ErrorLevel, With("test").GetLevel())
}
