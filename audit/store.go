package audit

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agentsphere/toolgate/types"
)

// Kind labels what produced an audit entry.
type Kind string

const (
	KindCommand Kind = "command"
	KindCode    Kind = "code"
	KindFetch   Kind = "fetch"
	KindAPICall Kind = "api_call"
)

// Entry is one recorded sandbox execution.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"index" json:"session_id"`
	Kind      Kind      `gorm:"index" json:"kind"`
	Input     string    `json:"input"`
	ExitCode  int       `json:"exit_code"`
	ErrorCode string    `json:"error_code,omitempty"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the table name stable.
func (Entry) TableName() string { return "audit_entries" }

// Config configures the audit store.
type Config struct {
	// Path is the SQLite database file. ":memory:" for tests.
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Path: "toolgate-audit.db"}
}

// Store persists an append-only log of sandbox executions. Uses the
// pure-Go SQLite driver so the module stays cgo-free.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore opens (and migrates) the audit database.
func NewStore(config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Path == "" {
		config.Path = DefaultConfig().Path
	}

	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, types.Errorf(types.ErrInternal, "open audit db %q", config.Path).WithCause(err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, types.Errorf(types.ErrInternal, "migrate audit db").WithCause(err)
	}

	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "audit")),
	}, nil
}

// Record appends one entry. Failures are logged, never propagated: an
// audit hiccup must not fail the execution it describes.
func (s *Store) Record(ctx context.Context, entry Entry) {
	if s == nil {
		return
	}
	entry.CreatedAt = time.Now()
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Warn("audit record failed",
			zap.String("session_id", entry.SessionID),
			zap.Error(err))
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// BySession returns the most recent entries for a session, newest first.
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, types.Errorf(types.ErrInternal, "query audit entries").WithCause(err)
	}
	return entries, nil
}
