package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{input: "", want: zerolog.InfoLevel},
		{input: "info", want: zerolog.InfoLevel},
		{input: "INFO", want: zerolog.InfoLevel},
		{input: "  debug  ", want: zerolog.DebugLevel},
		{input: "trace", want: zerolog.TraceLevel},
		{input: "warn", want: zerolog.WarnLevel},
		{input: "warning", want: zerolog.WarnLevel},
		{input: "error", want: zerolog.ErrorLevel},
		{input: "fatal", want: zerolog.FatalLevel},
		{input: "disabled", want: zerolog.Disabled},
		{input: "bogus", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestSelectWriterConsole(t *testing.T) {
	writer := selectWriter("console")
	_, ok := writer.(zerolog.ConsoleWriter)
	assert.True(t, ok)
}

func TestSelectWriterJSON(t *testing.T) {
	writer := selectWriter("json")
	_, ok := writer.(zerolog.ConsoleWriter)
	assert.False(t, ok)
}

func TestSelectWriterAutoNonTerminal(t *testing.T) {
	orig := isTerminalFn
	defer func() { isTerminalFn = orig }()
	isTerminalFn = func(int) bool { return false }

	writer := selectWriter("auto")
	_, ok := writer.(zerolog.ConsoleWriter)
	assert.False(t, ok)

	isTerminalFn = func(int) bool { return true }
	writer = selectWriter("auto")
	_, ok = writer.(zerolog.ConsoleWriter)
	assert.True(t, ok)
}

func TestInitSetsGlobalLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	Init(Config{Format: "json", Level: "debug", Component: "test"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
