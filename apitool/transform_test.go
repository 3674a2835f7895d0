package apitool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransform_SortNormalization(t *testing.T) {
	tr := NewTransform([]Rule{{
		SortField: "items",
		SortKey:   "rank",
	}}, zap.NewNop())

	body := json.RawMessage(`{"items":[
		{"name":"c","rank":3},
		{"name":"a","rank":1},
		{"name":"b","rank":2}
	]}`)
	out := tr.Apply("anyTool", "s1", body)

	var got struct {
		Items []struct {
			Name string  `json:"name"`
			Rank float64 `json:"rank"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(out, &got))
	require.Len(t, got.Items, 3)
	assert.Equal(t, []string{"a", "b", "c"},
		[]string{got.Items[0].Name, got.Items[1].Name, got.Items[2].Name})
}

func TestTransform_ToolScoping(t *testing.T) {
	tr := NewTransform([]Rule{{
		Tool:         "other",
		RenameFields: map[string]string{"x": "y"},
	}}, zap.NewNop())

	body := json.RawMessage(`{"x":1}`)
	out := tr.Apply("mine", "s1", body)
	assert.JSONEq(t, `{"x":1}`, string(out))
}

func TestTransform_PassthroughOnNonObject(t *testing.T) {
	tr := NewTransform([]Rule{{InjectSessionField: "sid"}}, zap.NewNop())

	for _, body := range []string{`[1,2,3]`, `"text"`, `not json at all`} {
		out := tr.Apply("t", "s1", json.RawMessage(body))
		assert.Equal(t, body, string(out))
	}
}

func TestTransform_RequestSideReshaping(t *testing.T) {
	tr := NewTransform([]Rule{{
		Tool:                      "createPet",
		RequestRenameFields:       map[string]string{"name": "pet_name"},
		RequestInjectSessionField: "owner_session",
	}}, zap.NewNop())

	out := tr.ApplyRequest("createPet", "sess-3", json.RawMessage(`{"name":"fido"}`))
	assert.JSONEq(t, `{"pet_name":"fido","owner_session":"sess-3"}`, string(out))

	// Response-side rules leave the request body alone.
	tr = NewTransform([]Rule{{
		Tool:               "createPet",
		RenameFields:       map[string]string{"name": "pet_name"},
		InjectSessionField: "session_id",
	}}, zap.NewNop())
	out = tr.ApplyRequest("createPet", "sess-3", json.RawMessage(`{"name":"fido"}`))
	assert.JSONEq(t, `{"name":"fido"}`, string(out))
}

func TestTransform_MissingSourceFieldIgnored(t *testing.T) {
	tr := NewTransform([]Rule{{
		RenameFields: map[string]string{"absent": "present"},
	}}, zap.NewNop())

	body := json.RawMessage(`{"kept":true}`)
	out := tr.Apply("t", "s1", body)
	assert.JSONEq(t, `{"kept":true}`, string(out))
}
