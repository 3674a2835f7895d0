package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/types"
)

// sessionIDPattern restricts session identifiers to a filesystem-safe
// charset. No separators, no dots, so an identifier can never be a
// traversal vector.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ResolverConfig configures workspace resolution.
type ResolverConfig struct {
	// Root is the directory under which all session workspaces live.
	Root string `yaml:"root" json:"root"`

	// SharedRoot is an optional directory readable by every session.
	SharedRoot string `yaml:"shared_root" json:"shared_root"`

	// Guard carries the path validation policy flags.
	Guard GuardConfig `yaml:"guard" json:"guard"`
}

// DefaultResolverConfig returns secure defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Root: filepath.Join(os.TempDir(), "toolgate-workspaces"),
	}
}

// Resolver creates and locates per-session workspace directories and
// builds the allowed-root set for each session's I/O.
type Resolver struct {
	config ResolverConfig
	guard  *Guard
	logger *zap.Logger
}

// NewResolver creates a workspace resolver.
func NewResolver(config ResolverConfig, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Root == "" {
		config.Root = DefaultResolverConfig().Root
	}
	if err := os.MkdirAll(config.Root, 0o700); err != nil {
		return nil, types.Errorf(types.ErrInternal, "create workspaces root %q", config.Root).WithCause(err)
	}
	canonical, err := Canonical(config.Root)
	if err != nil {
		return nil, types.Errorf(types.ErrInternal, "canonicalize workspaces root %q", config.Root).WithCause(err)
	}
	config.Root = canonical

	return &Resolver{
		config: config,
		guard:  NewGuard(config.Guard, logger),
		logger: logger.With(zap.String("component", "workspace_resolver")),
	}, nil
}

// Guard exposes the resolver's path guard.
func (r *Resolver) Guard() *Guard { return r.guard }

// Root returns the canonical workspaces root.
func (r *Resolver) Root() string { return r.config.Root }

// ValidSessionID reports whether id is acceptable as a session identifier.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Resolve creates the session's workspace directory if absent and returns
// its canonical path.
func (r *Resolver) Resolve(sessionID string) (string, error) {
	if !ValidSessionID(sessionID) {
		return "", types.Errorf(types.ErrInvalidInput, "invalid session id %q", sessionID)
	}

	dir := filepath.Join(r.config.Root, sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", types.Errorf(types.ErrInternal, "create workspace for session %s", sessionID).WithCause(err)
		}
		r.logger.Debug("created session workspace",
			zap.String("session_id", sessionID),
			zap.String("dir", dir))
	}

	canonical, err := Canonical(dir)
	if err != nil {
		return "", types.Errorf(types.ErrInternal, "canonicalize workspace for session %s", sessionID).WithCause(err)
	}
	// The created directory must still sit under the workspaces root.
	if !containsPath(r.config.Root, canonical) {
		return "", types.Errorf(types.ErrPermissionDenied, "workspace for session %s escapes the root", sessionID)
	}
	return canonical, nil
}

// AllowedRoots builds the ordered allowed-root set for a session: its own
// workspace first, then the shared workspace and the caller's working
// directory when those are opted in.
func (r *Resolver) AllowedRoots(sessionID string) ([]string, error) {
	ws, err := r.Resolve(sessionID)
	if err != nil {
		return nil, err
	}
	roots := []string{ws}

	if r.config.SharedRoot != "" {
		if shared, err := Canonical(r.config.SharedRoot); err == nil {
			roots = append(roots, shared)
		}
	}
	if r.guard.TempAllowed() {
		if tmp, err := Canonical(os.TempDir()); err == nil {
			roots = append(roots, tmp)
		}
	}
	if r.guard.CallerCwdAllowed() {
		if cwd, err := os.Getwd(); err == nil {
			if canonical, err := Canonical(cwd); err == nil {
				roots = append(roots, canonical)
			}
		}
	}
	return roots, nil
}

// Remove deletes a session's workspace directory and all its contents.
// Used on explicit session close.
func (r *Resolver) Remove(sessionID string) error {
	if !ValidSessionID(sessionID) {
		return types.Errorf(types.ErrInvalidInput, "invalid session id %q", sessionID)
	}
	dir := filepath.Join(r.config.Root, sessionID)
	canonical, err := Canonical(dir)
	if err != nil {
		return nil // already gone
	}
	if !containsPath(r.config.Root, canonical) {
		return types.Errorf(types.ErrPermissionDenied, "refusing to remove %q outside the workspaces root", dir)
	}
	if err := os.RemoveAll(canonical); err != nil {
		return types.Errorf(types.ErrInternal, "remove workspace for session %s", sessionID).WithCause(err)
	}
	r.logger.Debug("removed session workspace",
		zap.String("session_id", sessionID),
		zap.Time("at", time.Now()))
	return nil
}
