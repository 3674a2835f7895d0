package apitool

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/types"
)

// GenerateOptions narrows which operations become tools.
type GenerateOptions struct {
	// BaseURL overrides the document's first server URL.
	BaseURL string

	// IncludeTags keeps only operations carrying at least one of these
	// tags; empty means keep everything.
	IncludeTags []string

	// ExcludeTags drops operations carrying any of these tags.
	ExcludeTags []string

	// Prefix is prepended to every generated tool name.
	Prefix string
}

// Generate turns every operation of doc into an invocable tool. Tool
// names come from operationId, falling back to method_path.
func Generate(doc *Document, opts GenerateOptions, logger *zap.Logger) ([]*Tool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := ""
	if len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	if baseURL == "" {
		return nil, types.NewError(types.ErrSchema, "api document names no server and no base url given")
	}

	var tools []*Tool
	seen := make(map[string]string)
	for path, item := range doc.Paths {
		for method, op := range item.operations() {
			if len(opts.IncludeTags) > 0 && !hasAnyTag(op.Tags, opts.IncludeTags) {
				continue
			}
			if len(opts.ExcludeTags) > 0 && hasAnyTag(op.Tags, opts.ExcludeTags) {
				continue
			}

			name := op.OperationID
			if name == "" {
				name = fmt.Sprintf("%s_%s", strings.ToLower(method), sanitizePath(path))
			}
			name = opts.Prefix + name
			if prev, dup := seen[name]; dup {
				return nil, types.Errorf(types.ErrSchema, "duplicate tool name %q (%s and %s %s)", name, prev, method, path)
			}
			seen[name] = method + " " + path

			tools = append(tools, buildTool(name, baseURL, path, method, op))
		}
	}

	logger.Info("generated api tools",
		zap.String("api", doc.Info.Title),
		zap.Int("count", len(tools)))
	return tools, nil
}

func buildTool(name, baseURL, path, method string, op *Operation) *Tool {
	description := op.Summary
	if description == "" {
		description = op.Description
	}
	if description == "" {
		description = fmt.Sprintf("%s %s", method, path)
	}

	properties := make(map[string]*Schema)
	var required []string
	for i := range op.Parameters {
		p := op.Parameters[i]
		s := p.Schema
		if s == nil {
			s = &Schema{Type: "string"}
		}
		if s.Description == "" {
			s.Description = p.Description
		}
		properties[p.Name] = s
		if p.Required || p.In == "path" {
			required = append(required, p.Name)
		}
	}
	if op.RequestBody != nil {
		if media, ok := op.RequestBody.Content["application/json"]; ok && media.Schema != nil {
			properties["body"] = media.Schema
			if op.RequestBody.Required {
				required = append(required, "body")
			}
		}
	}

	paramsJSON, _ := json.Marshal(&Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	})

	return &Tool{
		Schema: types.ToolSchema{
			Name:        name,
			Description: description,
			Parameters:  paramsJSON,
		},
		Method:      method,
		Path:        path,
		BaseURL:     baseURL,
		Parameters:  op.Parameters,
		RequestBody: op.RequestBody,
		required:    required,
	}
}

func hasAnyTag(tags, targets []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, t := range targets {
		if set[t] {
			return true
		}
	}
	return false
}

func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "/", "_")
	path = strings.ReplaceAll(path, "{", "")
	path = strings.ReplaceAll(path, "}", "")
	return strings.Trim(path, "_")
}
