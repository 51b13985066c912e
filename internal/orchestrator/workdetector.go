package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/goal"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
)

// WorkDetector decides whether a cycle is worth starting at all: a
// workspace with no pending queue items, no unresolved troubles, no
// active goals and no file changes since the last look can be skipped
// cheaply.
type WorkDetector struct {
	cfg      *config.Config
	queue    *queue.ImprovementQueue
	troubles *trouble.Repository
	goals    *goal.Repository

	mu          sync.Mutex
	lastModTime time.Time
	primed      bool
}

// NewWorkDetector creates a detector. goals may be nil. The first call
// to HasWork always reports work, priming the modification clock.
func NewWorkDetector(cfg *config.Config, q *queue.ImprovementQueue, troubles *trouble.Repository, goals *goal.Repository) *WorkDetector {
	return &WorkDetector{cfg: cfg, queue: q, troubles: troubles, goals: goals}
}

// HasWork reports whether anything warrants a full cycle, with a short
// reason for the decision.
func (d *WorkDetector) HasWork() (bool, string) {
	if d.queue.PendingCount() > 0 {
		d.observe()
		return true, "pending queue items"
	}

	for _, t := range d.troubles.Recent(20) {
		if !t.Resolved {
			d.observe()
			return true, "unresolved troubles"
		}
	}

	if d.goals != nil && len(d.goals.Active()) > 0 {
		d.observe()
		return true, "active goals"
	}

	latest := d.latestModTime()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.primed {
		d.primed = true
		d.lastModTime = latest
		return true, "first run"
	}
	if latest.After(d.lastModTime) {
		d.lastModTime = latest
		return true, "workspace changed"
	}
	return false, "no pending work and workspace unchanged"
}

func (d *WorkDetector) observe() {
	latest := d.latestModTime()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.primed = true
	if latest.After(d.lastModTime) {
		d.lastModTime = latest
	}
}

// skipDirs are build and dependency directories never worth watching;
// the agent's own data directories come from config.AgentDataDir.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "dist": true, "vendor": true,
}

// latestModTime returns the newest mtime among workspace source files.
// The agent's own bookkeeping never counts as workspace activity.
func (d *WorkDetector) latestModTime() time.Time {
	var latest time.Time
	filepath.WalkDir(d.cfg.Workspace, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if path != d.cfg.Workspace &&
				(skipDirs[entry.Name()] || config.AgentDataDir(entry.Name()) || strings.HasPrefix(entry.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if config.AgentStateFile(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest
}
