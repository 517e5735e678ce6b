package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikimannia/refreshstats/internal/model"
)

func TestSnapshotTo_CreatesCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "wiki.duckdb")
	s, err := Open(Config{Driver: DriverDuckDB, DSN: dbPath, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.InsertUsers(ctx, "Alice"))
	require.NoError(t, s.SetSummary(ctx, model.FieldUsers, 1))

	dst := SnapshotName(filepath.Join(t.TempDir(), "snapshots"), time.Now())
	require.NoError(t, s.SnapshotTo(ctx, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	_, err = os.Stat(dst + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	snap, err := Open(Config{Driver: DriverDuckDB, DSN: dst})
	require.NoError(t, err)
	defer snap.Close()
	users, err := snap.SummaryValue(ctx, model.FieldUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(1), users)
}

func TestSnapshotTo_InMemoryStore(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.SnapshotTo(context.Background(), filepath.Join(t.TempDir(), "snap.duckdb"))
	assert.ErrorIs(t, err, ErrNotSnapshottable)
	assert.Empty(t, s.Path())
}

func TestSnapshotName(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, filepath.Join("snaps", "site_stats-20260304T050607Z.duckdb"), SnapshotName("snaps", at))
}
