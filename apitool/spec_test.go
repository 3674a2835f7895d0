package apitool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsphere/toolgate/types"
)

const petstoreJSON = `{
	"openapi": "3.0.0",
	"info": {"title": "Petstore", "version": "1.0.0"},
	"servers": [{"url": "https://pets.example/v1"}],
	"paths": {
		"/pets/{petId}": {
			"get": {
				"operationId": "getPet",
				"summary": "Fetch one pet",
				"parameters": [
					{"name": "petId", "in": "path", "required": true, "schema": {"type": "string"}}
				]
			}
		},
		"/pets": {
			"post": {
				"operationId": "createPet",
				"requestBody": {
					"required": true,
					"content": {"application/json": {"schema": {"$ref": "#/components/schemas/Pet"}}}
				}
			}
		}
	},
	"components": {
		"schemas": {
			"Pet": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"tag": {"$ref": "#/components/schemas/Tag"}
				},
				"required": ["name"]
			},
			"Tag": {"type": "string"}
		}
	}
}`

func TestParseDocument_JSONWithRefs(t *testing.T) {
	doc, err := ParseDocument([]byte(petstoreJSON))
	require.NoError(t, err)

	assert.Equal(t, "Petstore", doc.Info.Title)
	require.Contains(t, doc.Paths, "/pets")

	body := doc.Paths["/pets"].Post.RequestBody
	require.NotNil(t, body)
	schema := body.Content["application/json"].Schema
	require.NotNil(t, schema)
	assert.Empty(t, schema.Ref, "refs must be resolved away")
	assert.Equal(t, "object", schema.Type)
	require.Contains(t, schema.Properties, "tag")
	assert.Equal(t, "string", schema.Properties["tag"].Type)
}

func TestParseDocument_YAML(t *testing.T) {
	yamlDoc := `
openapi: "3.0.0"
info:
  title: Weather
  version: "2.0"
servers:
  - url: https://weather.example
paths:
  /forecast:
    get:
      operationId: getForecast
      parameters:
        - name: city
          in: query
          required: true
          schema:
            type: string
`
	doc, err := ParseDocument([]byte(yamlDoc))
	require.NoError(t, err)
	assert.Equal(t, "Weather", doc.Info.Title)
	require.NotNil(t, doc.Paths["/forecast"].Get)
	assert.Equal(t, "getForecast", doc.Paths["/forecast"].Get.OperationID)
}

func TestParseDocument_RefCycle(t *testing.T) {
	cyclic := `{
		"openapi": "3.0.0",
		"info": {"title": "x", "version": "1"},
		"paths": {
			"/a": {"post": {
				"operationId": "a",
				"requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/A"}}}}
			}}
		},
		"components": {"schemas": {
			"A": {"type": "object", "properties": {"b": {"$ref": "#/components/schemas/B"}}},
			"B": {"type": "object", "properties": {"a": {"$ref": "#/components/schemas/A"}}}
		}}
	}`
	_, err := ParseDocument([]byte(cyclic))
	assert.Equal(t, types.ErrSchemaCycle, types.GetErrorCode(err))
}

func TestParseDocument_BadInput(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want types.ErrorCode
	}{
		{"not json or yaml", "{broken", types.ErrSchema},
		{"no paths", `{"openapi":"3.0.0","info":{"title":"x","version":"1"},"paths":{}}`, types.ErrSchema},
		{
			"unresolved ref",
			`{"openapi":"3.0.0","info":{"title":"x","version":"1"},"paths":{"/a":{"post":{
				"requestBody":{"content":{"application/json":{"schema":{"$ref":"#/components/schemas/Missing"}}}}
			}}}}`,
			types.ErrSchema,
		},
		{
			"external ref unsupported",
			`{"openapi":"3.0.0","info":{"title":"x","version":"1"},"paths":{"/a":{"post":{
				"requestBody":{"content":{"application/json":{"schema":{"$ref":"other.json#/Pet"}}}}
			}}}}`,
			types.ErrSchema,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.doc))
			assert.Equal(t, tt.want, types.GetErrorCode(err))
		})
	}
}
