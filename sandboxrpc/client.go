package sandboxrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/types"
)

// Client is a thin RPC facade for the externalized sandbox runtime. Heavy
// code execution and file I/O happen in that runtime; this client only
// ships requests over JSON/HTTP and maps failures onto the sandbox error
// taxonomy.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// Config configures the RPC client.
type Config struct {
	// BaseURL is the sandbox runtime endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Timeout bounds each RPC round trip.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8194",
		Timeout: 60 * time.Second,
	}
}

// NewClient creates a sandbox RPC client.
func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Client{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger.With(zap.String("component", "sandbox_rpc")),
	}
}

// FileReadRequest asks the runtime to read a file inside a session
// workspace.
type FileReadRequest struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	MaxBytes  int64  `json:"max_bytes,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
}

// FileReadResponse is the runtime's answer to a FileRead.
type FileReadResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Size    int64  `json:"size"`
	Type    string `json:"type,omitempty"`
}

// FileWriteRequest asks the runtime to write a file inside a session
// workspace.
type FileWriteRequest struct {
	SessionID  string `json:"session_id"`
	Path       string `json:"path"`
	Content    string `json:"content"`
	Append     bool   `json:"append,omitempty"`
	CreateDirs bool   `json:"create_dirs,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

// FileWriteResponse is the runtime's answer to a FileWrite.
type FileWriteResponse struct {
	Success      bool   `json:"success"`
	BytesWritten int64  `json:"bytes_written"`
	Error        string `json:"error,omitempty"`
	AbsolutePath string `json:"absolute_path,omitempty"`
}

// FileListRequest asks the runtime for a directory listing.
type FileListRequest struct {
	SessionID     string `json:"session_id"`
	Path          string `json:"path"`
	Pattern       string `json:"pattern,omitempty"`
	Recursive     bool   `json:"recursive,omitempty"`
	IncludeHidden bool   `json:"include_hidden,omitempty"`
}

// FileEntry is one listed file or directory.
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

// FileListResponse is the runtime's answer to a FileList.
type FileListResponse struct {
	Success bool        `json:"success"`
	Entries []FileEntry `json:"entries,omitempty"`
	Error   string      `json:"error,omitempty"`
	Files   int         `json:"files"`
	Dirs    int         `json:"dirs"`
}

// ExecuteRequest asks the runtime to execute code or a command.
type ExecuteRequest struct {
	SessionID      string `json:"session_id"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ExecuteResponse is the runtime's answer to an Execute.
type ExecuteResponse struct {
	Success    bool    `json:"success"`
	Stdout     string  `json:"stdout,omitempty"`
	Stderr     string  `json:"stderr,omitempty"`
	ExitCode   int     `json:"exit_code"`
	Error      string  `json:"error,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// FileRead reads a file from a session workspace through the runtime.
func (c *Client) FileRead(ctx context.Context, req FileReadRequest) (*FileReadResponse, error) {
	var resp FileReadResponse
	if err := c.call(ctx, "/v1/file/read", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FileWrite writes a file into a session workspace through the runtime.
func (c *Client) FileWrite(ctx context.Context, req FileWriteRequest) (*FileWriteResponse, error) {
	var resp FileWriteResponse
	if err := c.call(ctx, "/v1/file/write", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FileList lists a session workspace directory through the runtime.
func (c *Client) FileList(ctx context.Context, req FileListRequest) (*FileListResponse, error) {
	var resp FileListResponse
	if err := c.call(ctx, "/v1/file/list", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecuteCommand runs code or a command in the runtime.
func (c *Client) ExecuteCommand(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.call(ctx, "/v1/execute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call ships one JSON request and decodes the JSON response. Transport
// failures map onto the sandbox error taxonomy: deadline exceeded is
// TIMEOUT, everything else UPSTREAM_ERROR.
func (c *Client) call(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewError(types.ErrInternal, "encode rpc request").WithCause(err)
	}

	endpoint := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.ErrInternal, "build rpc request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return types.Errorf(types.ErrTimeout, "sandbox rpc %s timed out", path)
		}
		return types.Errorf(types.ErrUpstream, "sandbox rpc %s failed", path).WithCause(err).WithRetryable(true)
	}
	defer httpResp.Body.Close()

	c.logger.Debug("sandbox rpc call",
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return types.Errorf(types.ErrUpstream, "sandbox rpc %s: %s", path, httpResp.Status).
			WithHTTPStatus(httpResp.StatusCode).
			WithCause(fmt.Errorf("%s", snippet))
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrUpstream, "decode rpc response").WithCause(err)
	}
	return nil
}
