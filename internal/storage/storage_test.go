package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/steveyegge/convmerge/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStorageSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "nested", "convmerge.db")

	s, err := NewStorage(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*sqlite.SQLiteStorage)
	assert.True(t, ok, "expected the sqlite backend, got %T", s)

	require.NoError(t, s.SetConfig(ctx, "k", "v"))
	got, err := s.GetConfig(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewStorageMemory(t *testing.T) {
	s, err := NewStorage(context.Background(), &Config{Path: sqlite.MemoryPath})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestNewStorageUnknownBackend(t *testing.T) {
	_, err := NewStorage(context.Background(), &Config{Backend: "mysql"})
	assert.Error(t, err)
}
