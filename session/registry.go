package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/internal/metrics"
	"github.com/agentsphere/toolgate/types"
	"github.com/agentsphere/toolgate/workspace"
)

// RegistryConfig configures session lifecycle limits.
type RegistryConfig struct {
	// MaxSessions caps the number of live sessions. Zero means the
	// default cap.
	MaxSessions int `yaml:"max_sessions" json:"max_sessions"`

	// IdleTTL evicts sessions not touched for this long.
	IdleTTL time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxSessions: 100,
		IdleTTL:     30 * time.Minute,
	}
}

// Registry owns every session-scoped piece of state. The internal map is
// guarded by a single mutex scoped strictly to structural mutation
// (insert/evict/lookup); operation bodies run outside it under the
// per-session slot, so slow I/O in one session never blocks registry
// access for others.
type Registry struct {
	config   RegistryConfig
	resolver *workspace.Resolver
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry.
func NewRegistry(config RegistryConfig, resolver *workspace.Resolver, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRegistryConfig()
	if config.MaxSessions <= 0 {
		config.MaxSessions = def.MaxSessions
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}
	return &Registry{
		config:   config,
		resolver: resolver,
		logger:   logger.With(zap.String("component", "session_registry")),
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating it on first reference.
// The workspace directory is resolved before the registry lock is taken,
// so filesystem I/O never happens inside the critical section.
func (r *Registry) GetOrCreate(id string) (*Session, error) {
	if !workspace.ValidSessionID(id) {
		return nil, types.Errorf(types.ErrInvalidInput, "invalid session id %q", id)
	}

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		s.Touch()
		return s, nil
	}
	r.mu.Unlock()

	ws, err := r.resolver.Resolve(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	fresh := newSession(id, ws, now)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check: another caller may have created it while we resolved.
	if s, ok := r.sessions[id]; ok {
		s.Touch()
		return s, nil
	}

	r.sweepLocked(now)
	if len(r.sessions) >= r.config.MaxSessions {
		if !r.evictOneLocked(now) {
			return nil, types.Errorf(types.ErrSessionLimit, "session cap of %d reached", r.config.MaxSessions)
		}
	}

	r.sessions[id] = fresh
	metrics.Default().SessionsActive.Set(float64(len(r.sessions)))
	r.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("workspace", ws),
		zap.Int("live_sessions", len(r.sessions)))
	return fresh, nil
}

// Lookup returns the session for id if it is live, touching it.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// Close destroys the session's variable state, removes it from the
// registry, and deletes its workspace directory.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		metrics.Default().SessionsActive.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()

	if !ok {
		return types.Errorf(types.ErrNotFound, "session %q not found", id)
	}
	s.clearVariables()
	metrics.Default().EvictionsTotal.WithLabelValues("explicit").Inc()
	r.logger.Info("session closed", zap.String("session_id", id))
	return r.resolver.Remove(id)
}

// CloseAll closes every live session, keeping the first error.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := r.Close(id); err != nil && firstErr == nil && !types.IsCode(err, types.ErrNotFound) {
			firstErr = err
		}
	}
	return firstErr
}

// Sweep evicts every session idle beyond the TTL and returns the count.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(time.Now())
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// sweepLocked removes expired sessions. Caller holds the registry lock.
func (r *Registry) sweepLocked(now time.Time) int {
	evicted := 0
	for id, s := range r.sessions {
		if now.Sub(s.LastAccessed()) > r.config.IdleTTL {
			delete(r.sessions, id)
			s.clearVariables()
			evicted++
			metrics.Default().EvictionsTotal.WithLabelValues("ttl").Inc()
			r.logger.Info("session evicted (idle TTL)",
				zap.String("session_id", id),
				zap.Duration("idle_ttl", r.config.IdleTTL))
		}
	}
	if evicted > 0 {
		metrics.Default().SessionsActive.Set(float64(len(r.sessions)))
	}
	return evicted
}

// evictOneLocked frees one slot when the cap is reached: an expired
// session if any survived the sweep race, otherwise the least recently
// used one. Caller holds the registry lock.
func (r *Registry) evictOneLocked(now time.Time) bool {
	var victim *Session
	for _, s := range r.sessions {
		if now.Sub(s.LastAccessed()) > r.config.IdleTTL {
			victim = s
			break
		}
		if victim == nil || s.LastAccessed().Before(victim.LastAccessed()) {
			victim = s
		}
	}
	if victim == nil {
		return false
	}
	delete(r.sessions, victim.ID)
	victim.clearVariables()
	metrics.Default().EvictionsTotal.WithLabelValues("cap").Inc()
	metrics.Default().SessionsActive.Set(float64(len(r.sessions)))
	r.logger.Info("session evicted (cap reached)",
		zap.String("session_id", victim.ID))
	return true
}
