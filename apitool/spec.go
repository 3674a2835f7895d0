package apitool

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentsphere/toolgate/types"
)

// Document is a parsed OpenAPI-style API description.
type Document struct {
	OpenAPI    string              `json:"openapi" yaml:"openapi"`
	Info       Info                `json:"info" yaml:"info"`
	Servers    []Server            `json:"servers,omitempty" yaml:"servers,omitempty"`
	Paths      map[string]PathItem `json:"paths" yaml:"paths"`
	Components *Components         `json:"components,omitempty" yaml:"components,omitempty"`
}

// Info contains API metadata.
type Info struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version"`
}

// Server names one API base URL.
type Server struct {
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Components holds reusable schema definitions addressed by $ref.
type Components struct {
	Schemas map[string]*Schema `json:"schemas,omitempty" yaml:"schemas,omitempty"`
}

// PathItem groups the operations on one path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty" yaml:"get,omitempty"`
	Post   *Operation `json:"post,omitempty" yaml:"post,omitempty"`
	Put    *Operation `json:"put,omitempty" yaml:"put,omitempty"`
	Delete *Operation `json:"delete,omitempty" yaml:"delete,omitempty"`
	Patch  *Operation `json:"patch,omitempty" yaml:"patch,omitempty"`
}

// operations returns the defined method→operation pairs.
func (p PathItem) operations() map[string]*Operation {
	ops := make(map[string]*Operation, 5)
	for method, op := range map[string]*Operation{
		"GET": p.Get, "POST": p.Post, "PUT": p.Put, "DELETE": p.Delete, "PATCH": p.Patch,
	} {
		if op != nil {
			ops[method] = op
		}
	}
	return ops
}

// Operation is one API operation.
type Operation struct {
	OperationID string       `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	Summary     string       `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	Tags        []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Parameter is one operation parameter.
type Parameter struct {
	Name        string  `json:"name" yaml:"name"`
	In          string  `json:"in" yaml:"in"` // query, path, header
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool    `json:"required,omitempty" yaml:"required,omitempty"`
	Schema      *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// RequestBody describes an operation's body payload.
type RequestBody struct {
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool                 `json:"required,omitempty" yaml:"required,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

// MediaType carries the schema for one content type.
type MediaType struct {
	Schema *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Schema is a JSON Schema fragment, possibly a $ref into
// components/schemas.
type Schema struct {
	Ref         string             `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Type        string             `json:"type,omitempty" yaml:"type,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default     any                `json:"default,omitempty" yaml:"default,omitempty"`
}

const refPrefix = "#/components/schemas/"

// ParseDocument decodes an API description from JSON or YAML and
// resolves every $ref eagerly. A reference chain that revisits a
// schema is reported as SCHEMA_CYCLE rather than looping forever.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	trimmed := strings.TrimLeftFunc(string(data), func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' })
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, types.NewError(types.ErrSchema, "parsing api document as json").WithCause(err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, types.NewError(types.ErrSchema, "parsing api document as yaml").WithCause(err)
		}
	}
	if len(doc.Paths) == 0 {
		return nil, types.NewError(types.ErrSchema, "api document defines no paths")
	}

	r := &refResolver{doc: &doc}
	for path, item := range doc.Paths {
		for method, op := range item.operations() {
			if err := r.resolveOperation(op); err != nil {
				return nil, types.Errorf(types.GetErrorCode(err), "%s %s: %s", method, path, err.Error())
			}
		}
	}
	return &doc, nil
}

// refResolver replaces $ref schemas with their resolved definitions,
// tracking the active chain for cycle detection.
type refResolver struct {
	doc   *Document
	chain []string
}

func (r *refResolver) resolveOperation(op *Operation) error {
	for i := range op.Parameters {
		resolved, err := r.resolve(op.Parameters[i].Schema)
		if err != nil {
			return err
		}
		op.Parameters[i].Schema = resolved
	}
	if op.RequestBody != nil {
		for ct, media := range op.RequestBody.Content {
			resolved, err := r.resolve(media.Schema)
			if err != nil {
				return err
			}
			op.RequestBody.Content[ct] = MediaType{Schema: resolved}
		}
	}
	return nil
}

func (r *refResolver) resolve(s *Schema) (*Schema, error) {
	if s == nil {
		return nil, nil
	}
	if s.Ref != "" {
		name := strings.TrimPrefix(s.Ref, refPrefix)
		if name == s.Ref {
			return nil, types.Errorf(types.ErrSchema, "unsupported $ref %q", s.Ref)
		}
		for _, seen := range r.chain {
			if seen == name {
				return nil, types.Errorf(types.ErrSchemaCycle, "schema reference cycle through %q", name)
			}
		}
		target := r.lookup(name)
		if target == nil {
			return nil, types.Errorf(types.ErrSchema, "unresolved $ref %q", s.Ref)
		}
		r.chain = append(r.chain, name)
		resolved, err := r.resolve(target)
		r.chain = r.chain[:len(r.chain)-1]
		return resolved, err
	}

	// Resolve nested refs in place.
	for name, prop := range s.Properties {
		resolved, err := r.resolve(prop)
		if err != nil {
			return nil, err
		}
		s.Properties[name] = resolved
	}
	if s.Items != nil {
		resolved, err := r.resolve(s.Items)
		if err != nil {
			return nil, err
		}
		s.Items = resolved
	}
	return s, nil
}

func (r *refResolver) lookup(name string) *Schema {
	if r.doc.Components == nil {
		return nil
	}
	return r.doc.Components.Schemas[name]
}
