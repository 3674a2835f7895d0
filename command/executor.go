package command

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/audit"
	"github.com/agentsphere/toolgate/internal/metrics"
	"github.com/agentsphere/toolgate/session"
	"github.com/agentsphere/toolgate/types"
)

// metacharacters that are rejected on the raw command text before any
// tokenization. Catching them at the source closes the shell-escape class
// of bugs: no token-level check can be fooled into passing one through.
var metacharacters = []string{"&&", "||", "|", ";", ">", "<", "`", "$(", "\n"}

// defaultAllowlist is the fixed set of permitted binaries. Shells and
// network-fetch binaries are deliberately absent: a shell would reopen
// every metacharacter hole, and curl/wget would bypass the SSRF guard.
var defaultAllowlist = []string{
	"echo", "cat", "ls", "pwd", "head", "tail", "wc",
	"grep", "sort", "uniq", "cut", "tr", "date",
	"basename", "dirname", "stat", "du", "sha256sum",
	"mkdir", "touch", "cp", "mv", "rm",
}

// DefaultAllowlist returns a copy of the built-in binary allowlist,
// for callers that want to extend rather than replace it.
func DefaultAllowlist() []string {
	return append([]string(nil), defaultAllowlist...)
}

// ExecutorConfig configures command execution limits.
type ExecutorConfig struct {
	// DefaultTimeout applies when the caller passes no timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`

	// MaxTimeout clamps any requested timeout.
	MaxTimeout time.Duration `yaml:"max_timeout" json:"max_timeout"`

	// MaxOutputBytes caps captured stdout/stderr, each.
	MaxOutputBytes int `yaml:"max_output_bytes" json:"max_output_bytes"`

	// AllowedBinaries overrides the default binary allowlist.
	AllowedBinaries []string `yaml:"allowed_binaries" json:"allowed_binaries"`
}

// DefaultExecutorConfig returns secure defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     5 * time.Minute,
		MaxOutputBytes: 1024 * 1024, // 1MB
	}
}

// Result is the outcome of one command execution. A non-zero exit code is
// a successful execution of a failing command, not an error.
type Result struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated,omitempty"`
}

// Executor validates and runs allowlisted commands inside a session
// workspace.
type Executor struct {
	config    ExecutorConfig
	registry  *session.Registry
	auditor   *audit.Store
	allowlist map[string]struct{}
	logger    *zap.Logger
}

// NewExecutor creates a command executor. auditor may be nil.
func NewExecutor(config ExecutorConfig, registry *session.Registry, auditor *audit.Store, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultExecutorConfig()
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = def.DefaultTimeout
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = def.MaxTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = def.MaxOutputBytes
	}

	names := config.AllowedBinaries
	if len(names) == 0 {
		names = defaultAllowlist
	}
	allowlist := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowlist[n] = struct{}{}
	}

	return &Executor{
		config:    config,
		registry:  registry,
		auditor:   auditor,
		allowlist: allowlist,
		logger:    logger.With(zap.String("component", "command_executor")),
	}
}

// Execute runs commandLine in the session's workspace under a hard
// wall-clock timeout. The validation pipeline rejects before any side
// effect; first failure wins.
func (e *Executor) Execute(ctx context.Context, sessionID, commandLine string, timeout time.Duration) (*Result, error) {
	argv, err := e.validate(commandLine)
	if err != nil {
		return nil, err
	}

	sess, err := e.registry.GetOrCreate(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Acquire(ctx); err != nil {
		return nil, types.NewError(types.ErrTimeout, "waiting for session slot").WithCause(err)
	}
	defer sess.Release()

	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > e.config.MaxTimeout {
		timeout = e.config.MaxTimeout
	}

	start := time.Now()
	result, err := e.run(ctx, sess.WorkspaceRoot, argv, timeout)
	elapsed := time.Since(start)

	outcome := "success"
	entry := audit.Entry{
		SessionID: sessionID,
		Kind:      audit.KindCommand,
		Input:     commandLine,
		Duration:  elapsed.Milliseconds(),
	}
	if err != nil {
		outcome = "error"
		if types.IsCode(err, types.ErrTimeout) {
			outcome = "timeout"
		}
		entry.ErrorCode = string(types.GetErrorCode(err))
	} else {
		entry.ExitCode = result.ExitCode
	}
	metrics.Default().ExecutionsTotal.WithLabelValues("command", outcome).Inc()
	metrics.Default().ExecutionDuration.WithLabelValues("command").Observe(elapsed.Seconds())
	e.auditor.Record(ctx, entry)

	if err != nil {
		return nil, err
	}
	sess.RecordExecution()
	result.Duration = elapsed
	return result, nil
}

// validate applies the pipeline: empty check, raw metacharacter scan,
// tokenization, allowlist. Returns the parsed argv on success.
func (e *Executor) validate(commandLine string) ([]string, error) {
	if strings.TrimSpace(commandLine) == "" {
		return nil, types.NewError(types.ErrInvalidInput, "command is empty")
	}

	for _, meta := range metacharacters {
		if strings.Contains(commandLine, meta) {
			return nil, types.Errorf(types.ErrCommandBlocked, "command contains disallowed metacharacter %q", meta)
		}
	}

	argv, err := shellquote.Split(commandLine)
	if err != nil {
		return nil, types.NewError(types.ErrQuoting, "unbalanced quoting in command").WithCause(err)
	}
	if len(argv) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "command is empty")
	}

	binary := argv[0]
	if strings.ContainsAny(binary, "/\\") {
		return nil, types.Errorf(types.ErrCommandBlocked, "binary must be a bare name, got %q", binary)
	}
	if _, ok := e.allowlist[binary]; !ok {
		return nil, types.Errorf(types.ErrCommandBlocked, "binary %q is not allowlisted", binary)
	}
	return argv, nil
}

// run executes argv with the working directory forced to the session
// workspace. On timeout the whole process tree is terminated and a
// distinct timeout error is returned, never a truncated success.
func (e *Executor) run(ctx context.Context, workdir string, argv []string, timeout time.Duration) (*Result, error) {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, types.Errorf(types.ErrNotFound, "binary %q not found on execution path", argv[0])
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, argv[1:]...)
	cmd.Dir = workdir
	configureProcessGroup(cmd)

	stdout := &capWriter{max: e.config.MaxOutputBytes}
	stderr := &capWriter{max: e.config.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		e.logger.Warn("command timed out",
			zap.String("binary", argv[0]),
			zap.Duration("timeout", timeout))
		return nil, types.Errorf(types.ErrTimeout, "command exceeded %s", timeout)
	}

	result := &Result{
		Stdout:    stdout.buf.String(),
		Stderr:    stderr.buf.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, types.NewError(types.ErrInternal, "command failed to start").WithCause(runErr)
	}
	return result, nil
}

// capWriter keeps at most max bytes and discards the rest, so a
// runaway command's output never inflates memory past the cap. Writes
// always report full success; the producing process must not see a
// write error just because its output stopped being interesting.
type capWriter struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	if remaining := w.max - w.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
			w.truncated = true
		} else {
			w.buf.Write(p)
		}
	} else if len(p) > 0 {
		w.truncated = true
	}
	return len(p), nil
}
