package apitool

import (
	"encoding/json"
	"sort"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Rule normalizes one vendor's request and response shapes. Vendors
// disagree about field naming and ordering; a rule set smooths those
// over so callers see one shape regardless of the upstream.
type Rule struct {
	// Tool restricts the rule to one tool name; empty applies to all.
	Tool string `yaml:"tool" json:"tool"`

	// RenameFields maps a gjson source path in the response to a new
	// top-level field. The source may be nested ("data.items"); the
	// original top-level segment is removed.
	RenameFields map[string]string `yaml:"rename_fields" json:"rename_fields"`

	// InjectSessionField, when set, stores the calling session id under
	// this top-level response field.
	InjectSessionField string `yaml:"inject_session_field" json:"inject_session_field"`

	// SortField names a top-level response array to sort; SortKey is
	// the gjson path of the sort key inside each element.
	SortField string `yaml:"sort_field" json:"sort_field"`
	SortKey   string `yaml:"sort_key" json:"sort_key"`

	// RequestRenameFields and RequestInjectSessionField are the same
	// reshaping applied to the outgoing request body before dispatch,
	// for vendors whose payload naming differs from the tool schema or
	// that require a session-derived identifier in the payload.
	RequestRenameFields       map[string]string `yaml:"request_rename_fields" json:"request_rename_fields"`
	RequestInjectSessionField string            `yaml:"request_inject_session_field" json:"request_inject_session_field"`
}

// Transform applies vendor normalization rules to request and response
// bodies.
type Transform struct {
	rules  []Rule
	logger *zap.Logger
}

// NewTransform creates a body transformer.
func NewTransform(rules []Rule, logger *zap.Logger) *Transform {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transform{rules: rules, logger: logger.With(zap.String("component", "api_transform"))}
}

// Apply runs every matching rule's response-side reshaping over body.
// A body that is not a JSON object passes through untouched, as does
// anything a rule cannot reshape; transforms are best-effort
// normalization, never a failure source.
func (t *Transform) Apply(tool, sessionID string, body json.RawMessage) json.RawMessage {
	return t.run(tool, body, func(rule Rule, parsed gjson.Result, doc map[string]any) bool {
		changed := applyRenames(parsed, doc, rule.RenameFields)
		if rule.InjectSessionField != "" {
			doc[rule.InjectSessionField] = sessionID
			changed = true
		}
		if rule.SortField != "" && rule.SortKey != "" {
			if arr, ok := doc[rule.SortField].([]any); ok && len(arr) > 1 {
				sortByKey(arr, rule.SortKey)
				changed = true
			}
		}
		return changed
	})
}

// ApplyRequest runs every matching rule's request-side reshaping over
// the outgoing body, under the same best-effort contract as Apply.
func (t *Transform) ApplyRequest(tool, sessionID string, body json.RawMessage) json.RawMessage {
	return t.run(tool, body, func(rule Rule, parsed gjson.Result, doc map[string]any) bool {
		changed := applyRenames(parsed, doc, rule.RequestRenameFields)
		if rule.RequestInjectSessionField != "" {
			doc[rule.RequestInjectSessionField] = sessionID
			changed = true
		}
		return changed
	})
}

func (t *Transform) run(tool string, body json.RawMessage, reshape func(Rule, gjson.Result, map[string]any) bool) json.RawMessage {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return body
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}

	changed := false
	for _, rule := range t.rules {
		if rule.Tool != "" && rule.Tool != tool {
			continue
		}
		if reshape(rule, parsed, doc) {
			changed = true
		}
	}

	if !changed {
		return body
	}
	out, err := json.Marshal(doc)
	if err != nil {
		t.logger.Warn("transform re-encode failed, returning original", zap.Error(err))
		return body
	}
	return out
}

// applyRenames moves each gjson source path to a top-level destination
// field, dropping the original top-level segment.
func applyRenames(parsed gjson.Result, doc map[string]any, renames map[string]string) bool {
	changed := false
	for src, dst := range renames {
		val := parsed.Get(src)
		if !val.Exists() {
			continue
		}
		doc[dst] = val.Value()
		if top, _, _ := cutPath(src); top != dst {
			delete(doc, top)
		}
		changed = true
	}
	return changed
}

// sortByKey orders arr by the gjson key extracted from each element,
// numbers before strings, ascending.
func sortByKey(arr []any, key string) {
	sort.SliceStable(arr, func(i, j int) bool {
		a, b := elementKey(arr[i], key), elementKey(arr[j], key)
		if a.Type == gjson.Number && b.Type == gjson.Number {
			return a.Float() < b.Float()
		}
		return a.String() < b.String()
	})
}

func elementKey(elem any, key string) gjson.Result {
	raw, err := json.Marshal(elem)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(raw, key)
}

func cutPath(path string) (top, rest string, nested bool) {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i], path[i+1:], true
		}
	}
	return path, "", false
}
