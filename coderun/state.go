package coderun

import "strings"

// State marker protocol: the execution runtime appends a trailing block
//
//	---SESSION_STATE_BEGIN---
//	name=value
//	other=value
//	---SESSION_STATE_END---
//
// to its text output. extractState pulls the block out and returns the
// user-visible output with the marker stripped. A malformed or missing
// marker means "no state update", never an error.
const (
	stateMarkerBegin = "---SESSION_STATE_BEGIN---"
	stateMarkerEnd   = "---SESSION_STATE_END---"
)

// extractState splits output into the visible portion and the flat
// key→value state block carried by the trailing sentinel marker.
func extractState(output string) (visible string, state map[string]string) {
	begin := strings.LastIndex(output, stateMarkerBegin)
	if begin < 0 {
		return output, nil
	}
	rest := output[begin+len(stateMarkerBegin):]
	end := strings.Index(rest, stateMarkerEnd)
	if end < 0 {
		// Unterminated marker: leave the output untouched.
		return output, nil
	}

	block := rest[:end]
	state = make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		state[key] = value
	}

	visible = output[:begin] + rest[end+len(stateMarkerEnd):]
	visible = strings.TrimRight(visible, " \t\n")
	if len(state) == 0 {
		state = nil
	}
	return visible, state
}
