package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		want  Level
		valid bool
	}{
		{"debug", LevelDebug, true},
		{"info", LevelInfo, true},
		{"warn", LevelWarn, true},
		{"error", LevelError, true},
		{"fatal", LevelFatal, true},
		{"DEBUG", LevelDebug, true},
		{"", 0, false},
		{"chatty", 0, false},
	}

	for _, tt := range tests {
		level, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.valid, ok, "input %q", tt.in)
		if tt.valid {
			assert.Equal(t, tt.want, level, "input %q", tt.in)
		}
	}
}

func TestSetLevelGates(t *testing.T) {
	orig := GetLevel()
	defer SetLevel(orig)

	SetLevel(LevelError)
	assert.False(t, shouldLog(LevelDebug))
	assert.False(t, shouldLog(LevelWarn))
	assert.True(t, shouldLog(LevelError))
	assert.True(t, shouldLog(LevelFatal))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "FATAL", LevelFatal.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}
