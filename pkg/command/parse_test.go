package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
		err   error
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, nil},
		{"prose around", "Sure! {\"a\": {\"b\": 2}} Hope this helps.", `{"a": {"b": 2}}`, nil},
		{"one unmatched brace", `I think {"command": {"name": "finalDecision", "input": {"action": "fortify"}}`, `{"command": {"name": "finalDecision", "input": {"action": "fortify"}}}`, nil},
		{"no closing brace", `{"a": 1`, `{"a": 1}`, nil},
		{"closing before opening", `} then {"a": 1`, `{"a": 1`, nil},
		{"no object", "I will fortify.", "", ErrNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.reply)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	cmd, err := Parse(`{"thoughts": {"thought": "safe"}, "command": {"name": "finalDecision", "input": {"action": "fortify"}}`)
	require.NoError(t, err)
	assert.Equal(t, "finalDecision", cmd.Name)
	action, ok := cmd.Input.String("action")
	assert.True(t, ok)
	assert.Equal(t, "fortify", action)
}

func TestParseRejectsNonCommands(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"no json", "fortify", ErrNoJSON},
		{"invalid json", `{"command": [}`, ErrMalformed},
		{"no command", `{"action": "fortify"}`, ErrMalformed},
		{"no name", `{"command": {"input": {}}}`, ErrMalformed},
		{"no input", `{"command": {"name": "finalDecision"}}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.reply)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestInputStringRejectsNonStrings(t *testing.T) {
	in := Input{"action": 3}
	_, ok := in.String("action")
	assert.False(t, ok)
	_, ok = in.String("missing")
	assert.False(t, ok)
}

func TestKindNames(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("doStuff")
	assert.False(t, ok)
	assert.Equal(t, "unknown", Kind(42).String())
}
