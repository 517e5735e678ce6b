package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotSnapshottable indicates the store is not a file-backed DuckDB database.
var ErrNotSnapshottable = errors.New("store: only file-backed duckdb stores can be snapshotted")

// Path returns the DuckDB database file. Empty for in-memory and remote stores.
func (s *Store) Path() string {
	if s.dialect.name != DriverDuckDB {
		return ""
	}
	path, _, _ := strings.Cut(s.dsn, "?")
	return path
}

// SnapshotTo checkpoints the database and copies its file to dstPath.
// CHECKPOINT runs under the write lock so no summary update lands mid-copy.
func (s *Store) SnapshotTo(ctx context.Context, dstPath string) error {
	src := s.Path()
	if src == "" {
		return ErrNotSnapshottable
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("store: create snapshot dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(qctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("store: checkpoint: %w", err)
	}
	if err := copyFile(src, dstPath); err != nil {
		return fmt.Errorf("store: copy database file: %w", err)
	}
	return nil
}

// SnapshotName builds a timestamped snapshot file name inside dir.
func SnapshotName(dir string, now time.Time) string {
	return filepath.Join(dir, "site_stats-"+now.UTC().Format("20060102T150405Z")+".duckdb")
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}
