package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_RecordAndQuery(t *testing.T) {
	store, err := NewStore(Config{Path: filepath.Join(t.TempDir(), "audit.db")}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	store.Record(ctx, Entry{SessionID: "s1", Kind: KindCommand, Input: "echo hello", ExitCode: 0, Duration: 12})
	store.Record(ctx, Entry{SessionID: "s1", Kind: KindCode, Input: "x = 1", ErrorCode: "TIMEOUT", Duration: 30000})
	store.Record(ctx, Entry{SessionID: "s2", Kind: KindCommand, Input: "ls", ExitCode: 0})

	entries, err := store.BySession(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, KindCode, entries[0].Kind)
	assert.Equal(t, "TIMEOUT", entries[0].ErrorCode)
	assert.Equal(t, "echo hello", entries[1].Input)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestStore_NilStoreIsNoop(t *testing.T) {
	var s *Store
	// Must not panic.
	s.Record(context.Background(), Entry{SessionID: "s", Kind: KindCommand})
}
