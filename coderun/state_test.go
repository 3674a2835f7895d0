package coderun

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractState(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		wantVisible string
		wantState   map[string]string
	}{
		{
			name:        "no marker",
			output:      "hello world",
			wantVisible: "hello world",
			wantState:   nil,
		},
		{
			name:        "trailing marker",
			output:      "result: 3\n---SESSION_STATE_BEGIN---\nx=3\ny=hello\n---SESSION_STATE_END---",
			wantVisible: "result: 3",
			wantState:   map[string]string{"x": "3", "y": "hello"},
		},
		{
			name:        "value containing equals",
			output:      "---SESSION_STATE_BEGIN---\nexpr=a=b\n---SESSION_STATE_END---",
			wantVisible: "",
			wantState:   map[string]string{"expr": "a=b"},
		},
		{
			name:        "unterminated marker left as-is",
			output:      "out\n---SESSION_STATE_BEGIN---\nx=1",
			wantVisible: "out\n---SESSION_STATE_BEGIN---\nx=1",
			wantState:   nil,
		},
		{
			name:        "empty block",
			output:      "out\n---SESSION_STATE_BEGIN---\n---SESSION_STATE_END---",
			wantVisible: "out",
			wantState:   nil,
		},
		{
			name:        "malformed lines skipped",
			output:      "---SESSION_STATE_BEGIN---\nnovalue\n=nokey\nok=1\n---SESSION_STATE_END---",
			wantVisible: "",
			wantState:   map[string]string{"ok": "1"},
		},
		{
			name:        "last marker wins",
			output:      "---SESSION_STATE_BEGIN---\nx=1\n---SESSION_STATE_END---\nmore\n---SESSION_STATE_BEGIN---\nx=2\n---SESSION_STATE_END---",
			wantVisible: "---SESSION_STATE_BEGIN---\nx=1\n---SESSION_STATE_END---\nmore",
			wantState:   map[string]string{"x": "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			visible, state := extractState(tt.output)
			assert.Equal(t, tt.wantVisible, visible)
			assert.Equal(t, tt.wantState, state)
		})
	}
}

func TestExtractState_IdempotentOnCleanOutput(t *testing.T) {
	visible, state := extractState("plain text, no markers")
	assert.Nil(t, state)

	again, state2 := extractState(visible)
	assert.Equal(t, visible, again)
	assert.Nil(t, state2)
}
