// Package roster holds the in-memory versioned roster snapshot and its
// persistence. The snapshot is replaced wholesale by each ingestion and
// reloaded at process start.
package roster

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"scanhub/pkg/storage"
	"scanhub/pkg/types"
)

const cacheFileName = "students_cache.json"

// Cache is the roster snapshot guarded by a RWMutex: Replace is exclusive,
// CurrentSnapshot is a concurrent read.
type Cache struct {
	mu       sync.RWMutex
	snapshot types.RosterSnapshot
	path     string
	logger   *slog.Logger
}

// New loads the persisted snapshot from dir, falling back to an empty
// version-0 snapshot when none exists.
func New(dir string, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}

	c := &Cache{
		path:     filepath.Join(dir, cacheFileName),
		snapshot: types.RosterSnapshot{Version: 0, Students: []types.StudentRosterRow{}},
		logger:   logger,
	}

	var persisted types.RosterSnapshot
	err := storage.ReadJSON(c.path, &persisted)
	switch {
	case err == nil:
		if persisted.Students == nil {
			persisted.Students = []types.StudentRosterRow{}
		}
		c.snapshot = persisted
		logger.Info("roster snapshot loaded", "version", persisted.Version, "students", len(persisted.Students))
	case errors.Is(err, os.ErrNotExist):
		// First start, empty snapshot stands.
	default:
		return nil, err
	}
	return c, nil
}

// Replace installs a new snapshot, increments the version by exactly one
// and persists atomically. Duplicate studentIds are dropped, first
// occurrence wins, so the snapshot invariant holds regardless of the
// ingested file.
func (c *Cache) Replace(rows []types.StudentRosterRow) (types.RosterSnapshot, error) {
	deduped := make([]types.StudentRosterRow, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.StudentID]; dup {
			continue
		}
		seen[row.StudentID] = struct{}{}
		deduped = append(deduped, row)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := types.RosterSnapshot{
		Version:  c.snapshot.Version + 1,
		Students: deduped,
	}
	if err := storage.WriteJSONAtomic(c.path, next); err != nil {
		return types.RosterSnapshot{}, err
	}
	c.snapshot = next
	c.logger.Info("roster snapshot replaced", "version", next.Version, "students", len(next.Students))
	return c.copySnapshotLocked(), nil
}

// CurrentSnapshot returns a copy of the in-memory snapshot. It is always
// available: version 0 with no students before any ingestion.
func (c *Cache) CurrentSnapshot() types.RosterSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copySnapshotLocked()
}

// Reset restores the empty version-0 snapshot and persists it.
func (c *Cache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	empty := types.RosterSnapshot{Version: 0, Students: []types.StudentRosterRow{}}
	if err := storage.WriteJSONAtomic(c.path, empty); err != nil {
		return err
	}
	c.snapshot = empty
	c.logger.Info("roster cache reset")
	return nil
}

func (c *Cache) copySnapshotLocked() types.RosterSnapshot {
	students := make([]types.StudentRosterRow, len(c.snapshot.Students))
	copy(students, c.snapshot.Students)
	return types.RosterSnapshot{Version: c.snapshot.Version, Students: students}
}
