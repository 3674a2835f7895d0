package coderun

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/sandboxrpc"
	"github.com/agentsphere/toolgate/session"
	"github.com/agentsphere/toolgate/types"
	"github.com/agentsphere/toolgate/workspace"
)

// fakeRuntime simulates the external execution runtime: it keeps a
// per-session variable table and answers with a state marker.
type fakeRuntime struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	handler  func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse
}

func (f *fakeRuntime) serve(w http.ResponseWriter, r *http.Request) {
	var req sandboxrpc.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	resp := f.handler(req)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	json.NewEncoder(w).Encode(resp)
}

func newTestRunner(t *testing.T, cfg RunnerConfig, rt *fakeRuntime) (*Runner, *session.Registry) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(rt.serve))
	t.Cleanup(srv.Close)

	resolver, err := workspace.NewResolver(workspace.ResolverConfig{Root: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	registry := session.NewRegistry(session.RegistryConfig{}, resolver, zap.NewNop())
	rpc := sandboxrpc.NewClient(sandboxrpc.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	return NewRunner(cfg, registry, rpc, nil, zap.NewNop()), registry
}

// ---------------------------------------------------------------------------
// State persistence
// ---------------------------------------------------------------------------

func TestRunner_VariablesPersistAcrossTurns(t *testing.T) {
	rt := &fakeRuntime{handler: func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
		return sandboxrpc.ExecuteResponse{
			Success: true,
			Stdout:  "done\n---SESSION_STATE_BEGIN---\nx=42\n---SESSION_STATE_END---",
		}
	}}
	r, _ := newTestRunner(t, RunnerConfig{}, rt)

	result, err := r.Execute(context.Background(), "s", "x = 42", 0)
	require.NoError(t, err)
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, "42", result.Variables["x"])
	assert.NotContains(t, result.Output, "SESSION_STATE")

	// Visible on the next turn for the same session.
	vars, err := r.Variables("s")
	require.NoError(t, err)
	assert.Equal(t, "42", vars["x"])
	assert.Equal(t, int64(1), result.ExecutionCount)
}

func TestRunner_MissingMarkerMeansNoUpdate(t *testing.T) {
	rt := &fakeRuntime{handler: func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
		return sandboxrpc.ExecuteResponse{Success: true, Stdout: "plain output"}
	}}
	r, _ := newTestRunner(t, RunnerConfig{}, rt)

	result, err := r.Execute(context.Background(), "s", "print(1)", 0)
	require.NoError(t, err)
	assert.Equal(t, "plain output", result.Output)
	assert.Empty(t, result.Variables)
}

func TestRunner_FailureMergesNoState(t *testing.T) {
	fail := false
	rt := &fakeRuntime{handler: func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
		if fail {
			return sandboxrpc.ExecuteResponse{
				Success:   false,
				Error:     "boom",
				ErrorKind: "runtime_error",
				Stdout:    "---SESSION_STATE_BEGIN---\nx=999\n---SESSION_STATE_END---",
			}
		}
		return sandboxrpc.ExecuteResponse{
			Success: true,
			Stdout:  "---SESSION_STATE_BEGIN---\nx=1\n---SESSION_STATE_END---",
		}
	}}
	r, _ := newTestRunner(t, RunnerConfig{}, rt)

	_, err := r.Execute(context.Background(), "s", "x = 1", 0)
	require.NoError(t, err)

	fail = true
	_, err = r.Execute(context.Background(), "s", "x = explode()", 0)
	assert.Equal(t, types.ErrRuntime, types.GetErrorCode(err))

	// The failing turn must not have touched x.
	vars, err := r.Variables("s")
	require.NoError(t, err)
	assert.Equal(t, "1", vars["x"])
}

// ---------------------------------------------------------------------------
// Failure taxonomy
// ---------------------------------------------------------------------------

func TestRunner_ErrorKinds(t *testing.T) {
	tests := []struct {
		kind string
		want types.ErrorCode
	}{
		{"timeout", types.ErrTimeout},
		{"syntax_error", types.ErrSyntax},
		{"memory_exceeded", types.ErrResourceExhausted},
		{"recursion_limit", types.ErrResourceExhausted},
		{"restricted_import", types.ErrPermissionDenied},
		{"something_else", types.ErrRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			rt := &fakeRuntime{handler: func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
				return sandboxrpc.ExecuteResponse{Success: false, Error: "failed", ErrorKind: tt.kind}
			}}
			r, _ := newTestRunner(t, RunnerConfig{}, rt)

			_, err := r.Execute(context.Background(), "s", "code", 0)
			assert.Equal(t, tt.want, types.GetErrorCode(err))
		})
	}
}

func TestRunner_EmptyCode(t *testing.T) {
	rt := &fakeRuntime{handler: func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
		t.Fatal("runtime must not be called for empty code")
		return sandboxrpc.ExecuteResponse{}
	}}
	r, _ := newTestRunner(t, RunnerConfig{}, rt)

	_, err := r.Execute(context.Background(), "s", "   ", 0)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestRunner_RPCTimeout(t *testing.T) {
	rt := &fakeRuntime{handler: func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
		time.Sleep(300 * time.Millisecond)
		return sandboxrpc.ExecuteResponse{Success: true}
	}}
	r, _ := newTestRunner(t, RunnerConfig{DefaultTimeout: 30 * time.Millisecond}, rt)

	_, err := r.Execute(context.Background(), "s", "slow()", 0)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestRunner_TimeoutClampedToMax(t *testing.T) {
	var seen int
	rt := &fakeRuntime{}
	rt.handler = func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
		seen = req.TimeoutSeconds
		return sandboxrpc.ExecuteResponse{Success: true}
	}
	r, _ := newTestRunner(t, RunnerConfig{MaxTimeout: 10 * time.Second}, rt)

	_, err := r.Execute(context.Background(), "s", "x", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, seen)
}

// ---------------------------------------------------------------------------
// Concurrency and eviction
// ---------------------------------------------------------------------------

func TestRunner_SameSessionSerialized(t *testing.T) {
	rt := &fakeRuntime{}
	rt.handler = func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
		time.Sleep(30 * time.Millisecond)
		return sandboxrpc.ExecuteResponse{Success: true}
	}
	r, _ := newTestRunner(t, RunnerConfig{}, rt)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Execute(context.Background(), "same", "x", 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	assert.Equal(t, 1, rt.maxSeen, "same-session calls must never overlap")
}

func TestRunner_DifferentSessionsParallel(t *testing.T) {
	rt := &fakeRuntime{}
	rt.handler = func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
		time.Sleep(50 * time.Millisecond)
		return sandboxrpc.ExecuteResponse{Success: true}
	}
	r, _ := newTestRunner(t, RunnerConfig{}, rt)

	var wg sync.WaitGroup
	for _, id := range []string{"p1", "p2", "p3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := r.Execute(context.Background(), id, "x", 0)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	assert.Greater(t, rt.maxSeen, 1, "different sessions should overlap")
}

func TestRunner_EvictedSessionStartsFresh(t *testing.T) {
	rt := &fakeRuntime{handler: func(req sandboxrpc.ExecuteRequest) sandboxrpc.ExecuteResponse {
		return sandboxrpc.ExecuteResponse{
			Success: true,
			Stdout:  "---SESSION_STATE_BEGIN---\nkeep=me\n---SESSION_STATE_END---",
		}
	}}

	srv := httptest.NewServer(http.HandlerFunc(rt.serve))
	t.Cleanup(srv.Close)
	resolver, err := workspace.NewResolver(workspace.ResolverConfig{Root: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	registry := session.NewRegistry(session.RegistryConfig{IdleTTL: 20 * time.Millisecond}, resolver, zap.NewNop())
	rpc := sandboxrpc.NewClient(sandboxrpc.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	r := NewRunner(RunnerConfig{}, registry, rpc, nil, zap.NewNop())

	_, err = r.Execute(context.Background(), "ttl", "x", 0)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	registry.Sweep()

	// Absent on next lookup; a fresh session is created with no variables.
	_, err = r.Variables("ttl")
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	result, err := r.Execute(context.Background(), "ttl", "y", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ExecutionCount)
}
