// Package snapshot provides point-in-time copies of tracked workspace
// files for rollback, with LRU retention.
package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// trackedExtensions are the file types captured in a snapshot: source
// plus manifests.
var trackedExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rs": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".mod": true, ".sum": true, ".md": true,
}

// skippedDirs are never walked into when creating a snapshot; the
// agent's own data directories come from config.AgentDataDir.
var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "dist": true, "vendor": true,
}

// Meta describes one snapshot.
type Meta struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	FileCount   int       `json:"fileCount"`
	Description string    `json:"description,omitempty"`
}

// Manager creates and restores snapshots under <root>/snapshots/<id>/,
// retaining at most maxSnapshots by LRU on timestamp.
type Manager struct {
	projectRoot  string
	snapshotsDir string
	maxSnapshots int
	logger       logger.Logger
}

// NewManager creates a Manager snapshotting projectRoot into
// snapshotsDir.
func NewManager(projectRoot, snapshotsDir string, maxSnapshots int, log logger.Logger) *Manager {
	if maxSnapshots <= 0 {
		maxSnapshots = 10
	}
	return &Manager{
		projectRoot:  projectRoot,
		snapshotsDir: snapshotsDir,
		maxSnapshots: maxSnapshots,
		logger:       log,
	}
}

// Create copies all tracked files into a new snapshot directory and
// writes its meta.json. Old snapshots beyond the retention limit are
// pruned. Returns the new snapshot id.
func (m *Manager) Create(description string) (string, error) {
	id := fmt.Sprintf("snap_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	dir := filepath.Join(m.snapshotsDir, id)

	fileCount := 0
	err := filepath.WalkDir(m.projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != m.projectRoot &&
				(skippedDirs[d.Name()] || config.AgentDataDir(d.Name()) || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		// Agent bookkeeping is excluded: restoring a snapshot must not
		// rewind learning state.
		if !trackedExtensions[filepath.Ext(path)] || config.AgentStateFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(m.projectRoot, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		dest := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
		fileCount++
		return nil
	})
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("create snapshot: %w", err)
	}

	meta := Meta{ID: id, Timestamp: time.Now(), FileCount: fileCount, Description: description}
	metaStore, err := store.New(filepath.Join(dir, "meta.json"), "", m.logger)
	if err != nil {
		return "", err
	}
	if err := metaStore.Save(meta); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	if err := m.prune(); err != nil && m.logger != nil {
		m.logger.Warnf("snapshot: prune failed: %v", err)
	}
	if m.logger != nil {
		m.logger.Infof("snapshot: created %s (%d files)", id, fileCount)
	}
	return id, nil
}

// Restore rewrites the workspace files from the snapshot. Each file is
// written atomically.
func (m *Manager) Restore(id string) error {
	dir := filepath.Join(m.snapshotsDir, id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("snapshot %s not found: %w", id, err)
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == "meta.json" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read snapshot file %s: %w", path, err)
		}
		dest := filepath.Join(m.projectRoot, rel)
		if err := store.AtomicWrite(dest, data); err != nil {
			return fmt.Errorf("restore %s: %w", dest, err)
		}
		return nil
	})
}

// List returns metadata of all snapshots, newest first.
func (m *Manager) List() ([]Meta, error) {
	entries, err := os.ReadDir(m.snapshotsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var metas []Meta
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var meta Meta
		metaStore, err := store.New(filepath.Join(m.snapshotsDir, entry.Name(), "meta.json"), "", m.logger)
		if err != nil {
			continue
		}
		if ok, _ := metaStore.Load(&meta); ok {
			metas = append(metas, meta)
		}
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Timestamp.After(metas[j].Timestamp)
	})
	return metas, nil
}

// prune removes the oldest snapshots beyond the retention limit.
func (m *Manager) prune() error {
	metas, err := m.List()
	if err != nil {
		return err
	}
	for i := m.maxSnapshots; i < len(metas); i++ {
		if err := os.RemoveAll(filepath.Join(m.snapshotsDir, metas[i].ID)); err != nil {
			return err
		}
		if m.logger != nil {
			m.logger.Debugf("snapshot: pruned %s", metas[i].ID)
		}
	}
	return nil
}
