package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerbosity(t *testing.T) {
	tests := []struct {
		in   string
		want Verbosity
		ok   bool
	}{
		{"quiet", VerbosityQuiet, true},
		{"VERBOSE", VerbosityVerbose, true},
		{"", VerbosityVerbose, true},
		{" debug ", VerbosityDebug, true},
		{"loud", VerbosityVerbose, false},
	}
	for _, tt := range tests {
		got, err := ParseVerbosity(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestVerbosity_JSON(t *testing.T) {
	var cfg struct {
		V Verbosity `json:"v"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"v":"debug"}`), &cfg))
	assert.Equal(t, VerbosityDebug, cfg.V)
	assert.Error(t, json.Unmarshal([]byte(`{"v":"loud"}`), &cfg), "解析时即校验")
}

func TestSetup_Levels(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, VerbosityQuiet, "json")
	defer Setup(nil, VerbosityVerbose, "text")

	l := Logger("test")
	l.Info("隐藏")
	l.Error("可见", "k", 1)
	assert.NotContains(t, buf.String(), "隐藏")
	assert.Contains(t, buf.String(), `"component":"test"`)
	assert.Contains(t, buf.String(), `"ts"`)

	SetVerbosity(VerbosityDebug)
	assert.True(t, l.Enabled(LevelDebug))
}
