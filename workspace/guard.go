package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/types"
)

// Guard validates candidate filesystem paths against a set of allowed
// directory roots. All comparisons happen on canonical paths, so symlinks
// and ".." segments cannot escape the allowed set.
type Guard struct {
	allowTemp      bool
	allowCallerCwd bool
	logger         *zap.Logger
}

// GuardConfig configures path validation policy.
type GuardConfig struct {
	// AllowTemp opts in to access under the global temp directory.
	// Denied by default.
	AllowTemp bool `yaml:"allow_temp" json:"allow_temp"`

	// AllowCallerCwd opts in to access under the caller's working
	// directory. Development only, denied by default.
	AllowCallerCwd bool `yaml:"allow_caller_cwd" json:"allow_caller_cwd"`
}

// NewGuard creates a path guard.
func NewGuard(config GuardConfig, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		allowTemp:      config.AllowTemp,
		allowCallerCwd: config.AllowCallerCwd,
		logger:         logger.With(zap.String("component", "pathguard")),
	}
}

// Canonical resolves path to its canonical absolute form: absolute,
// cleaned, with symlinks resolved. For paths that do not exist yet (e.g.
// a file about to be written), the longest existing ancestor is resolved
// and the remaining segments are re-joined, so a symlinked parent still
// cannot smuggle the result outside an allowed root.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	// Walk up to the nearest existing ancestor.
	dir := abs
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
	}
	return abs, nil
}

// IsAllowed reports whether path, once canonicalized, equals one of the
// allowed roots or sits strictly below one (separator-bounded prefix).
func (g *Guard) IsAllowed(path string, roots []string) bool {
	canonical, err := Canonical(path)
	if err != nil {
		return false
	}
	for _, root := range roots {
		canonicalRoot, err := Canonical(root)
		if err != nil {
			continue
		}
		if containsPath(canonicalRoot, canonical) {
			return true
		}
	}
	return false
}

// CheckAllowed validates path against roots and returns a structured error
// describing why access was denied.
func (g *Guard) CheckAllowed(path string, roots []string) error {
	if path == "" {
		return types.NewError(types.ErrInvalidInput, "path is empty")
	}
	if !g.IsAllowed(path, roots) {
		g.logger.Warn("path outside allowed roots",
			zap.String("path", path),
			zap.Strings("roots", roots))
		return types.Errorf(types.ErrPermissionDenied, "path %q is outside the allowed workspace", path)
	}
	return nil
}

// CheckExists validates that the target exists after passing the
// containment check. Missing targets yield NOT_FOUND, so callers can tell
// policy denials apart from absent files.
func (g *Guard) CheckExists(path string, roots []string) error {
	if err := g.CheckAllowed(path, roots); err != nil {
		return err
	}
	canonical, err := Canonical(path)
	if err != nil {
		return types.Errorf(types.ErrNotFound, "cannot resolve %q", path).WithCause(err)
	}
	if _, err := os.Stat(canonical); err != nil {
		if os.IsNotExist(err) {
			return types.Errorf(types.ErrNotFound, "path %q does not exist", path)
		}
		return types.Errorf(types.ErrInternal, "stat %q failed", path).WithCause(err)
	}
	return nil
}

// TempAllowed reports whether global temp access was opted in.
func (g *Guard) TempAllowed() bool { return g.allowTemp }

// CallerCwdAllowed reports whether caller-cwd access was opted in.
func (g *Guard) CallerCwdAllowed() bool { return g.allowCallerCwd }

// containsPath reports whether target equals root or has root as a
// path-separator-bounded prefix. Both arguments must already be canonical.
func containsPath(root, target string) bool {
	if target == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(target, prefix)
}
