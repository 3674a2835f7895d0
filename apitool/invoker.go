package apitool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/audit"
	"github.com/agentsphere/toolgate/resilience"
	"github.com/agentsphere/toolgate/types"
)

// AuthType selects how credentials are attached to outbound calls.
type AuthType string

const (
	AuthNone         AuthType = ""
	AuthBearer       AuthType = "bearer"
	AuthAPIKeyHeader AuthType = "api_key_header"
	AuthAPIKeyQuery  AuthType = "api_key_query"
	AuthBasic        AuthType = "basic"
)

// AuthConfig 出站调用的凭据注入配置
type AuthConfig struct {
	Type AuthType `yaml:"type" json:"type"`

	// Token 用于 bearer 与 api key 两种方式
	Token string `yaml:"token" json:"token"`

	// Name 是 api key 的请求头名或查询参数名
	Name string `yaml:"name" json:"name"`

	// Username / Password 用于 basic 认证
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// InvokerConfig 工具调用配置
type InvokerConfig struct {
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// 每个工具的熔断配置
	Breaker resilience.BreakerConfig `yaml:"breaker" json:"breaker"`

	// 每个工具的限流窗口配置
	RateWindow resilience.WindowConfig `yaml:"rate_window" json:"rate_window"`

	// 凭据注入
	Auth AuthConfig `yaml:"auth" json:"auth"`
}

// DefaultInvokerConfig 返回默认调用配置
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		Timeout:    30 * time.Second,
		Breaker:    resilience.DefaultBreakerConfig(),
		RateWindow: resilience.DefaultWindowConfig(),
	}
}

// Tool is one invocable API operation generated from a document.
type Tool struct {
	Schema      types.ToolSchema
	Method      string
	Path        string
	BaseURL     string
	Parameters  []Parameter
	RequestBody *RequestBody

	required []string
}

// Invoker dispatches tool calls over HTTP with per-tool circuit
// breaking and rate limiting. Each distinct tool name gets its own
// breaker and window, so one misbehaving upstream operation cannot
// starve the rest.
type Invoker struct {
	config    InvokerConfig
	client    *http.Client
	transform *Transform
	auditor   *audit.Store
	logger    *zap.Logger

	breakers map[string]*resilience.Breaker
	windows  map[string]*resilience.Window
}

// NewInvoker creates a tool invoker for tools. transform and auditor
// may be nil.
func NewInvoker(config InvokerConfig, tools []*Tool, transform *Transform, auditor *audit.Store, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultInvokerConfig().Timeout
	}

	inv := &Invoker{
		config:    config,
		client:    &http.Client{Timeout: config.Timeout},
		transform: transform,
		auditor:   auditor,
		logger:    logger.With(zap.String("component", "api_invoker")),
		breakers:  make(map[string]*resilience.Breaker, len(tools)),
		windows:   make(map[string]*resilience.Window, len(tools)),
	}
	for _, t := range tools {
		inv.breakers[t.Schema.Name] = resilience.NewBreaker(t.Schema.Name, config.Breaker, logger)
		inv.windows[t.Schema.Name] = resilience.NewWindow(t.Schema.Name, config.RateWindow)
	}
	return inv
}

// Invoke validates args against the tool's schema, applies rate and
// breaker gates, issues the HTTP call and returns the (optionally
// transformed) response body.
func (inv *Invoker) Invoke(ctx context.Context, tool *Tool, sessionID string, args map[string]any) (json.RawMessage, error) {
	if err := tool.validateArgs(args); err != nil {
		return nil, err
	}

	window, breaker := inv.windows[tool.Schema.Name], inv.breakers[tool.Schema.Name]
	if window == nil || breaker == nil {
		return nil, types.Errorf(types.ErrNotFound, "tool %q not registered with this invoker", tool.Schema.Name)
	}
	if err := window.Allow(); err != nil {
		return nil, err
	}
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	if inv.transform != nil {
		args = inv.transformRequest(tool, sessionID, args)
	}

	start := time.Now()
	body, err := inv.dispatch(ctx, tool, args)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		breaker.RecordSuccess()
	case types.IsCode(err, types.ErrUpstream) || types.IsCode(err, types.ErrTimeout):
		breaker.RecordFailure()
	case types.IsCode(err, types.ErrRateLimited):
		// Upstream throttling says nothing about the upstream's health
		// either way; it must neither trip nor close the circuit.
		breaker.RecordNeutral()
	default:
		// Client-side argument and quota errors never count against
		// the upstream's health.
		breaker.RecordSuccess()
	}

	entry := audit.Entry{
		SessionID: sessionID,
		Kind:      audit.KindAPICall,
		Input:     tool.Schema.Name,
		Duration:  elapsed.Milliseconds(),
	}
	if err != nil {
		entry.ErrorCode = string(types.GetErrorCode(err))
	}
	inv.auditor.Record(ctx, entry)

	if err != nil {
		return nil, err
	}

	if inv.transform != nil {
		body = inv.transform.Apply(tool.Schema.Name, sessionID, body)
	}
	inv.logger.Debug("api tool invoked",
		zap.String("tool", tool.Schema.Name),
		zap.Duration("duration", elapsed))
	return body, nil
}

// transformRequest applies request-side vendor rules to args["body"],
// returning a shallow copy so the caller's map is never mutated.
// Reshaping is best-effort: anything that cannot round-trip through
// JSON leaves the arguments untouched.
func (inv *Invoker) transformRequest(tool *Tool, sessionID string, args map[string]any) map[string]any {
	body, ok := args["body"]
	if !ok {
		return args
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return args
	}
	reshaped := inv.transform.ApplyRequest(tool.Schema.Name, sessionID, raw)
	if bytes.Equal(reshaped, raw) {
		return args
	}
	var doc map[string]any
	if err := json.Unmarshal(reshaped, &doc); err != nil {
		return args
	}
	clone := make(map[string]any, len(args))
	for k, v := range args {
		clone[k] = v
	}
	clone["body"] = doc
	return clone
}

// dispatch builds and executes the HTTP request for one call.
func (inv *Invoker) dispatch(ctx context.Context, tool *Tool, args map[string]any) (json.RawMessage, error) {
	path := tool.Path
	query := url.Values{}
	headers := http.Header{}

	for _, p := range tool.Parameters {
		val, ok := args[p.Name]
		if !ok {
			continue
		}
		str := fmt.Sprintf("%v", val)
		switch p.In {
		case "path":
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(str))
		case "query":
			query.Set(p.Name, str)
		case "header":
			headers.Set(p.Name, str)
		}
	}

	var reqBody io.Reader
	if body, ok := args["body"]; ok {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidInput, "encoding request body").WithCause(err)
		}
		reqBody = bytes.NewReader(raw)
	}

	target := strings.TrimRight(tool.BaseURL, "/") + path
	if a := inv.config.Auth; a.Type == AuthAPIKeyQuery {
		query.Set(a.Name, a.Token)
	}
	if enc := query.Encode(); enc != "" {
		target += "?" + enc
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, tool.Method, target, reqBody)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "building request").WithCause(err)
	}
	for name, vals := range headers {
		req.Header[name] = vals
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	inv.injectAuth(req)

	resp, err := inv.client.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, types.Errorf(types.ErrTimeout, "calling %s", tool.Schema.Name).WithCause(err)
		}
		return nil, types.Errorf(types.ErrUpstream, "calling %s", tool.Schema.Name).WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Errorf(types.ErrUpstream, "reading response of %s", tool.Schema.Name).WithCause(err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, types.Errorf(types.ErrRateLimited, "%s rate limited upstream", tool.Schema.Name).
			WithHTTPStatus(resp.StatusCode).WithRetryable(true)
	}
	if resp.StatusCode >= 400 {
		return nil, types.Errorf(types.ErrUpstream, "%s returned HTTP %d", tool.Schema.Name, resp.StatusCode).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500)
	}
	return raw, nil
}

func (inv *Invoker) injectAuth(req *http.Request) {
	switch a := inv.config.Auth; a.Type {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthAPIKeyHeader:
		req.Header.Set(a.Name, a.Token)
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	}
}

// validateArgs enforces required fields and primitive types declared by
// the tool's parameter schema.
func (t *Tool) validateArgs(args map[string]any) error {
	for _, name := range t.required {
		if _, ok := args[name]; !ok {
			return types.Errorf(types.ErrInvalidInput, "missing required argument %q", name)
		}
	}
	for _, p := range t.Parameters {
		val, ok := args[p.Name]
		if !ok || p.Schema == nil || p.Schema.Type == "" {
			continue
		}
		if err := checkType(p.Name, p.Schema, val); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, s *Schema, val any) error {
	ok := true
	switch s.Type {
	case "string":
		_, ok = val.(string)
	case "integer":
		switch v := val.(type) {
		case int, int32, int64:
		case float64:
			ok = v == float64(int64(v))
		default:
			ok = false
		}
	case "number":
		switch val.(type) {
		case int, int32, int64, float32, float64:
		default:
			ok = false
		}
	case "boolean":
		_, ok = val.(bool)
	case "array":
		_, ok = val.([]any)
	case "object":
		_, ok = val.(map[string]any)
	}
	if !ok {
		return types.Errorf(types.ErrInvalidInput, "argument %q must be of type %s", name, s.Type)
	}
	if len(s.Enum) > 0 {
		for _, allowed := range s.Enum {
			if fmt.Sprintf("%v", allowed) == fmt.Sprintf("%v", val) {
				return nil
			}
		}
		return types.Errorf(types.ErrInvalidInput, "argument %q is not one of the allowed values", name)
	}
	return nil
}
