package sandboxrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/types"
)

func newRPCServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, zap.NewNop())
}

func TestClient_FileRoundTrip(t *testing.T) {
	// A tiny in-memory runtime: content written through the write path
	// is returned byte-identical through the read path.
	files := map[string]string{}

	client := newRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/file/write":
			var req FileWriteRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			files[req.SessionID+":"+req.Path] = req.Content
			json.NewEncoder(w).Encode(FileWriteResponse{
				Success:      true,
				BytesWritten: int64(len(req.Content)),
				AbsolutePath: "/work/" + req.SessionID + "/" + req.Path,
			})
		case "/v1/file/read":
			var req FileReadRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			content := files[req.SessionID+":"+req.Path]
			json.NewEncoder(w).Encode(FileReadResponse{
				Success: true,
				Content: content,
				Size:    int64(len(content)),
			})
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()
	payload := "héllo wörld\nline two\ttabbed"

	wrote, err := client.FileWrite(ctx, FileWriteRequest{SessionID: "s1", Path: "notes.txt", Content: payload})
	require.NoError(t, err)
	assert.True(t, wrote.Success)
	assert.Equal(t, int64(len(payload)), wrote.BytesWritten)

	read, err := client.FileRead(ctx, FileReadRequest{SessionID: "s1", Path: "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, payload, read.Content)
}

func TestClient_ExecuteCommand(t *testing.T) {
	client := newRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/execute", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		var req ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(ExecuteResponse{
			Success:  true,
			Stdout:   "ran: " + req.Command,
			ExitCode: 0,
		})
	})

	resp, err := client.ExecuteCommand(context.Background(), ExecuteRequest{SessionID: "s", Command: "print(1)"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "ran: print(1)", resp.Stdout)
}

func TestClient_FileList(t *testing.T) {
	client := newRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(FileListResponse{
			Success: true,
			Entries: []FileEntry{{Name: "a.txt", Path: "a.txt", Size: 3}, {Name: "sub", IsDir: true}},
			Files:   1,
			Dirs:    1,
		})
	})

	resp, err := client.FileList(context.Background(), FileListRequest{SessionID: "s", Path: "."})
	require.NoError(t, err)
	assert.Len(t, resp.Entries, 2)
	assert.Equal(t, 1, resp.Files)
}

func TestClient_HTTPErrorMapsToUpstream(t *testing.T) {
	client := newRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.ExecuteCommand(context.Background(), ExecuteRequest{SessionID: "s", Command: "x"})
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
}

func TestClient_TimeoutMapsToTimeout(t *testing.T) {
	client := newRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(ExecuteResponse{Success: true})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.ExecuteCommand(ctx, ExecuteRequest{SessionID: "s", Command: "x"})
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestClient_ConnectionRefusedIsRetryable(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, zap.NewNop())

	_, err := client.FileRead(context.Background(), FileReadRequest{SessionID: "s", Path: "f"})
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}
