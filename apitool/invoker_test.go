package apitool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/resilience"
	"github.com/agentsphere/toolgate/types"
)

func testTools(t *testing.T, baseURL string) []*Tool {
	t.Helper()
	doc := mustParse(t, petstoreJSON)
	tools, err := Generate(doc, GenerateOptions{BaseURL: baseURL}, zap.NewNop())
	require.NoError(t, err)
	return tools
}

// ---------------------------------------------------------------------------
// Request construction
// ---------------------------------------------------------------------------

func TestInvoke_PathAndBodyBinding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET":
			assert.Equal(t, "/pets/rex", r.URL.Path)
			fmt.Fprint(w, `{"name":"rex"}`)
		case r.Method == "POST":
			assert.Equal(t, "/pets", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"name":"fido"}`, string(body))
			fmt.Fprint(w, `{"id":7}`)
		}
	}))
	defer srv.Close()

	tools := testTools(t, srv.URL)
	inv := NewInvoker(InvokerConfig{}, tools, nil, nil, zap.NewNop())

	out, err := inv.Invoke(context.Background(), toolByName(tools, "getPet"), "s1",
		map[string]any{"petId": "rex"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"rex"}`, string(out))

	out, err = inv.Invoke(context.Background(), toolByName(tools, "createPet"), "s1",
		map[string]any{"body": map[string]any{"name": "fido"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(out))
}

func TestInvoke_QueryAndHeaderParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Trace"))
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	doc := mustParse(t, `{"openapi":"3.0.0","info":{"title":"x","version":"1"},
		"paths":{"/items":{"get":{"operationId":"listItems","parameters":[
			{"name":"limit","in":"query","schema":{"type":"integer"}},
			{"name":"X-Trace","in":"header","schema":{"type":"string"}}
		]}}}}`)
	tools, err := Generate(doc, GenerateOptions{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	inv := NewInvoker(InvokerConfig{}, tools, nil, nil, zap.NewNop())
	_, err = inv.Invoke(context.Background(), tools[0], "s1",
		map[string]any{"limit": 10, "X-Trace": "trace-1"})
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Auth injection
// ---------------------------------------------------------------------------

func TestInvoke_AuthModes(t *testing.T) {
	tests := []struct {
		name  string
		auth  AuthConfig
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: "bearer",
			auth: AuthConfig{Type: AuthBearer, Token: "sk-123"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer sk-123", r.Header.Get("Authorization"))
			},
		},
		{
			name: "api key header",
			auth: AuthConfig{Type: AuthAPIKeyHeader, Name: "X-Api-Key", Token: "k-9"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k-9", r.Header.Get("X-Api-Key"))
			},
		},
		{
			name: "api key query",
			auth: AuthConfig{Type: AuthAPIKeyQuery, Name: "apikey", Token: "k-9"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k-9", r.URL.Query().Get("apikey"))
			},
		},
		{
			name: "basic",
			auth: AuthConfig{Type: AuthBasic, Username: "bob", Password: "hunter2"},
			check: func(t *testing.T, r *http.Request) {
				user, pass, ok := r.BasicAuth()
				require.True(t, ok)
				assert.Equal(t, "bob", user)
				assert.Equal(t, "hunter2", pass)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.check(t, r)
				fmt.Fprint(w, `{}`)
			}))
			defer srv.Close()

			tools := testTools(t, srv.URL)
			inv := NewInvoker(InvokerConfig{Auth: tt.auth}, tools, nil, nil, zap.NewNop())
			_, err := inv.Invoke(context.Background(), toolByName(tools, "getPet"), "s1",
				map[string]any{"petId": "rex"})
			require.NoError(t, err)
		})
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestInvoke_ArgumentValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be reached for invalid arguments")
	}))
	defer srv.Close()

	doc := mustParse(t, `{"openapi":"3.0.0","info":{"title":"x","version":"1"},
		"paths":{"/q":{"get":{"operationId":"q","parameters":[
			{"name":"n","in":"query","required":true,"schema":{"type":"integer"}},
			{"name":"mode","in":"query","schema":{"type":"string","enum":["fast","slow"]}}
		]}}}}`)
	tools, err := Generate(doc, GenerateOptions{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	inv := NewInvoker(InvokerConfig{}, tools, nil, nil, zap.NewNop())

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"wrong type", map[string]any{"n": "ten"}},
		{"non-integral number", map[string]any{"n": 1.5}},
		{"enum violation", map[string]any{"n": 1, "mode": "warp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inv.Invoke(context.Background(), tools[0], "s1", tt.args)
			assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
		})
	}

	// JSON-decoded integers arrive as float64 and must pass.
	srvOK := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srvOK.Close()
	toolsOK, err := Generate(doc, GenerateOptions{BaseURL: srvOK.URL}, zap.NewNop())
	require.NoError(t, err)
	invOK := NewInvoker(InvokerConfig{}, toolsOK, nil, nil, zap.NewNop())
	_, err = invOK.Invoke(context.Background(), toolsOK[0], "s1", map[string]any{"n": float64(3), "mode": "fast"})
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Resilience
// ---------------------------------------------------------------------------

func TestInvoke_BreakerOpensPerTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			fmt.Fprint(w, `{}`)
			return
		}
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	tools := testTools(t, srv.URL)
	inv := NewInvoker(InvokerConfig{
		Breaker: resilience.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour},
	}, tools, nil, nil, zap.NewNop())

	get := toolByName(tools, "getPet")
	for i := 0; i < 2; i++ {
		_, err := inv.Invoke(context.Background(), get, "s1", map[string]any{"petId": "x"})
		assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
	}

	// Third call is short-circuited without touching the upstream.
	_, err := inv.Invoke(context.Background(), get, "s1", map[string]any{"petId": "x"})
	assert.Equal(t, types.ErrCircuitOpen, types.GetErrorCode(err))

	// The sibling tool's breaker is unaffected.
	_, err = inv.Invoke(context.Background(), toolByName(tools, "createPet"), "s1",
		map[string]any{"body": map[string]any{"name": "ok"}})
	require.NoError(t, err)
}

func TestInvoke_RateWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	tools := testTools(t, srv.URL)
	inv := NewInvoker(InvokerConfig{
		RateWindow: resilience.WindowConfig{Calls: 2, Window: time.Hour},
	}, tools, nil, nil, zap.NewNop())

	get := toolByName(tools, "getPet")
	for i := 0; i < 2; i++ {
		_, err := inv.Invoke(context.Background(), get, "s1", map[string]any{"petId": "x"})
		require.NoError(t, err)
	}
	_, err := inv.Invoke(context.Background(), get, "s1", map[string]any{"petId": "x"})
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
}

func TestInvoke_UpstreamRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tools := testTools(t, srv.URL)
	inv := NewInvoker(InvokerConfig{}, tools, nil, nil, zap.NewNop())
	_, err := inv.Invoke(context.Background(), toolByName(tools, "getPet"), "s1",
		map[string]any{"petId": "x"})
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestInvoke_UpstreamRateLimitIsBreakerNeutral(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tools := testTools(t, srv.URL)
	inv := NewInvoker(InvokerConfig{
		Breaker: resilience.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour},
	}, tools, nil, nil, zap.NewNop())

	get := toolByName(tools, "getPet")
	args := map[string]any{"petId": "x"}

	// failure, then a 429, then a second failure: the 429 must not have
	// reset the consecutive-failure count, so the circuit opens.
	_, err := inv.Invoke(context.Background(), get, "s1", args)
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
	_, err = inv.Invoke(context.Background(), get, "s1", args)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
	_, err = inv.Invoke(context.Background(), get, "s1", args)
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))

	_, err = inv.Invoke(context.Background(), get, "s1", args)
	assert.Equal(t, types.ErrCircuitOpen, types.GetErrorCode(err))
}

func TestInvoke_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	tools := testTools(t, srv.URL)
	inv := NewInvoker(InvokerConfig{Timeout: 30 * time.Millisecond}, tools, nil, nil, zap.NewNop())
	_, err := inv.Invoke(context.Background(), toolByName(tools, "getPet"), "s1",
		map[string]any{"petId": "x"})
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// Vendor transforms
// ---------------------------------------------------------------------------

func TestInvoke_TransformsRequestBodyBeforeDispatch(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	tools := testTools(t, srv.URL)
	transform := NewTransform([]Rule{{
		Tool:                      "createPet",
		RequestRenameFields:       map[string]string{"name": "pet_name"},
		RequestInjectSessionField: "owner_session",
	}}, zap.NewNop())
	inv := NewInvoker(InvokerConfig{}, tools, transform, nil, zap.NewNop())

	args := map[string]any{"body": map[string]any{"name": "fido"}}
	_, err := inv.Invoke(context.Background(), toolByName(tools, "createPet"), "sess-3", args)
	require.NoError(t, err)

	// The wire payload carries the vendor shape plus the session id.
	assert.JSONEq(t, `{"pet_name":"fido","owner_session":"sess-3"}`, received)

	// The caller's argument map stays untouched.
	assert.Equal(t, map[string]any{"name": "fido"}, args["body"])
}

func TestInvoke_AppliesTransform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"petName":"rex","data":{"age":4}}`)
	}))
	defer srv.Close()

	tools := testTools(t, srv.URL)
	transform := NewTransform([]Rule{{
		Tool:               "getPet",
		RenameFields:       map[string]string{"petName": "name", "data.age": "age"},
		InjectSessionField: "session_id",
	}}, zap.NewNop())
	inv := NewInvoker(InvokerConfig{}, tools, transform, nil, zap.NewNop())

	out, err := inv.Invoke(context.Background(), toolByName(tools, "getPet"), "sess-9",
		map[string]any{"petId": "rex"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "rex", got["name"])
	assert.Equal(t, float64(4), got["age"])
	assert.Equal(t, "sess-9", got["session_id"])
	assert.NotContains(t, got, "petName")
	assert.NotContains(t, got, "data")
}
