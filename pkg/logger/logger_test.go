package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONWithService(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var buf bytes.Buffer
	lg := Init(Options{Level: "debug", Output: &buf, Service: "ride-tracker"})
	lg.Debug().Str("booking_id", "r1").Msg("hello")

	require.Contains(t, buf.String(), `"service":"ride-tracker"`)
	require.Contains(t, buf.String(), `"booking_id":"r1"`)
	require.Equal(t, zerolog.DebugLevel, Get().GetLevel())
}

func TestInit_OnlyFirstCallCounts(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var a, b bytes.Buffer
	Init(Options{Level: "warn", Output: &a})
	Init(Options{Level: "debug", Output: &b})

	lg := Get()
	lg.Info().Msg("dropped")
	lg.Warn().Msg("kept")
	require.NotContains(t, a.String(), "dropped")
	require.Contains(t, a.String(), "kept")
	require.Empty(t, b.String())
}

func TestGet_PanicsBeforeInit(t *testing.T) {
	Reset()
	require.Panics(t, func() { Get() })
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.TraceLevel, parseLevel("TRACE"))
	require.Equal(t, zerolog.WarnLevel, parseLevel(" warning "))
	require.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	require.Equal(t, zerolog.InfoLevel, parseLevel("nonsense"))
}
