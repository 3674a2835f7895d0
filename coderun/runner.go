package coderun

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/audit"
	"github.com/agentsphere/toolgate/internal/metrics"
	"github.com/agentsphere/toolgate/sandboxrpc"
	"github.com/agentsphere/toolgate/session"
	"github.com/agentsphere/toolgate/types"
)

// RunnerConfig configures sandboxed code execution.
type RunnerConfig struct {
	// DefaultTimeout applies when the caller passes no timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`

	// MaxTimeout clamps any requested timeout, regardless of caller input.
	MaxTimeout time.Duration `yaml:"max_timeout" json:"max_timeout"`
}

// DefaultRunnerConfig returns sensible defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     120 * time.Second,
	}
}

// Result is the outcome of one code execution turn.
type Result struct {
	Output         string            `json:"output"`
	Variables      map[string]string `json:"variables"`
	ExecutionCount int64             `json:"execution_count"`
	Duration       time.Duration     `json:"duration"`
}

// Runner persists variable state across turns of sandboxed code
// execution, delegating the actual execution to the external runtime via
// sandboxrpc. Calls against different session ids run fully in parallel;
// calls against the same session id are serialized by the session slot.
type Runner struct {
	config   RunnerConfig
	registry *session.Registry
	rpc      *sandboxrpc.Client
	auditor  *audit.Store
	logger   *zap.Logger
}

// NewRunner creates a code execution runner. auditor may be nil.
func NewRunner(config RunnerConfig, registry *session.Registry, rpc *sandboxrpc.Client, auditor *audit.Store, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRunnerConfig()
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = def.DefaultTimeout
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = def.MaxTimeout
	}
	return &Runner{
		config:   config,
		registry: registry,
		rpc:      rpc,
		auditor:  auditor,
		logger:   logger.With(zap.String("component", "code_runner")),
	}
}

// Create establishes the session eagerly. Creation also gives the
// registry a chance to sweep idle sessions.
func (r *Runner) Create(sessionID string) error {
	_, err := r.registry.GetOrCreate(sessionID)
	return err
}

// Close destroys the session's variables and workspace.
func (r *Runner) Close(sessionID string) error {
	return r.registry.Close(sessionID)
}

// Variables returns the current variable snapshot for a live session.
func (r *Runner) Variables(sessionID string) (map[string]string, error) {
	s, ok := r.registry.Lookup(sessionID)
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "session %q not found", sessionID)
	}
	return s.Variables(), nil
}

// Execute runs one code turn. The requested timeout is clamped to the
// hard maximum. On failure no partial state is merged; on success the
// trailing state marker is extracted, merged into the session variables,
// and stripped from the user-visible output.
func (r *Runner) Execute(ctx context.Context, sessionID, code string, timeout time.Duration) (*Result, error) {
	if strings.TrimSpace(code) == "" {
		return nil, types.NewError(types.ErrInvalidInput, "code is empty")
	}

	sess, err := r.registry.GetOrCreate(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Acquire(ctx); err != nil {
		return nil, types.NewError(types.ErrTimeout, "waiting for session slot").WithCause(err)
	}
	defer sess.Release()

	if timeout <= 0 {
		timeout = r.config.DefaultTimeout
	}
	if timeout > r.config.MaxTimeout {
		timeout = r.config.MaxTimeout
	}

	rpcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.rpc.ExecuteCommand(rpcCtx, sandboxrpc.ExecuteRequest{
		SessionID:      sessionID,
		Command:        code,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	elapsed := time.Since(start)

	if err == nil && !resp.Success {
		err = mapRuntimeError(resp)
	}

	outcome := "success"
	entry := audit.Entry{
		SessionID: sessionID,
		Kind:      audit.KindCode,
		Input:     code,
		Duration:  elapsed.Milliseconds(),
	}
	if err != nil {
		outcome = "error"
		if types.IsCode(err, types.ErrTimeout) {
			outcome = "timeout"
		}
		entry.ErrorCode = string(types.GetErrorCode(err))
	}
	metrics.Default().ExecutionsTotal.WithLabelValues("code", outcome).Inc()
	metrics.Default().ExecutionDuration.WithLabelValues("code").Observe(elapsed.Seconds())
	r.auditor.Record(ctx, entry)

	if err != nil {
		// Non-committal failure: session variables stay exactly as they
		// were before this turn.
		return nil, err
	}

	visible, state := extractState(resp.Stdout)
	sess.MergeVariables(state)
	sess.RecordExecution()

	r.logger.Debug("code turn completed",
		zap.String("session_id", sessionID),
		zap.Int("state_updates", len(state)),
		zap.Duration("duration", elapsed))

	return &Result{
		Output:         visible,
		Variables:      sess.Variables(),
		ExecutionCount: sess.ExecutionCount(),
		Duration:       elapsed,
	}, nil
}

// mapRuntimeError converts the runtime's failure taxonomy into sandbox
// error codes.
func mapRuntimeError(resp *sandboxrpc.ExecuteResponse) error {
	msg := resp.Error
	if msg == "" {
		msg = "execution failed"
	}
	switch resp.ErrorKind {
	case "timeout":
		return types.NewError(types.ErrTimeout, msg)
	case "syntax_error":
		return types.NewError(types.ErrSyntax, msg)
	case "memory_exceeded", "recursion_limit":
		return types.NewError(types.ErrResourceExhausted, msg)
	case "restricted_import":
		return types.NewError(types.ErrPermissionDenied, msg)
	default:
		return types.NewError(types.ErrRuntime, msg)
	}
}
