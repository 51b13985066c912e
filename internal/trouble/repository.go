// Package trouble implements the structured incident log: a per-cycle
// collector buffering captures, and a persistent repository with
// rotation into dated archive files.
package trouble

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/similarity"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// troublesSchema validates the active troubles file on load.
const troublesSchema = `{
	"type": "object",
	"properties": {
		"troubles": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "category", "severity", "message", "occurredAt"]
			}
		}
	},
	"required": ["troubles"]
}`

// troublesDoc is the persisted shape of the active troubles file.
type troublesDoc struct {
	Troubles []models.Trouble `json:"troubles"`
}

// archiveDoc is the persisted shape of one archive file.
type archiveDoc struct {
	ArchivedAt time.Time        `json:"archivedAt"`
	Troubles   []models.Trouble `json:"troubles"`
}

// Repository is the append-only trouble log. Saves rotate the overflow
// tail into a dated archive when the active set exceeds maxActive.
type Repository struct {
	store      *store.Store
	archiveDir string
	maxActive  int
	logger     logger.Logger

	mu       sync.Mutex
	troubles []models.Trouble
	loaded   bool
}

// NewRepository creates a Repository persisting to path, archiving under
// archiveDir, keeping at most maxActive entries in the active file.
func NewRepository(path, archiveDir string, maxActive int, log logger.Logger) (*Repository, error) {
	st, err := store.New(path, troublesSchema, log)
	if err != nil {
		return nil, err
	}
	if maxActive <= 0 {
		maxActive = 1000
	}
	return &Repository{
		store:      st,
		archiveDir: archiveDir,
		maxActive:  maxActive,
		logger:     log,
	}, nil
}

// load populates the in-memory image once.
func (r *Repository) load() {
	if r.loaded {
		return
	}
	var doc troublesDoc
	if ok, _ := r.store.Load(&doc); ok {
		r.troubles = doc.Troubles
	}
	r.loaded = true
}

// Append adds troubles and saves, rotating if the active set grew past
// the limit.
func (r *Repository) Append(troubles []models.Trouble) error {
	if len(troubles) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	r.troubles = append(r.troubles, troubles...)
	return r.saveLocked()
}

// saveLocked rotates if needed and writes the active file atomically.
func (r *Repository) saveLocked() error {
	if len(r.troubles) > r.maxActive {
		if err := r.rotateLocked(); err != nil {
			return err
		}
	}
	return r.store.Save(troublesDoc{Troubles: r.troubles})
}

// rotateLocked moves the oldest overflow (by occurredAt) into a dated
// archive file, keeping the newest maxActive entries active.
func (r *Repository) rotateLocked() error {
	sorted := make([]models.Trouble, len(r.troubles))
	copy(sorted, r.troubles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	overflow := len(sorted) - r.maxActive
	archived := sorted[:overflow]
	r.troubles = sorted[overflow:]

	archivePath := filepath.Join(r.archiveDir,
		fmt.Sprintf("archive-%s.json", time.Now().Format("2006-01-02")))

	// Merge with an existing archive for the same day.
	archiveStore, err := store.New(archivePath, "", r.logger)
	if err != nil {
		return err
	}
	var existing archiveDoc
	archiveStore.Load(&existing)
	existing.ArchivedAt = time.Now()
	existing.Troubles = append(existing.Troubles, archived...)
	if err := archiveStore.Save(existing); err != nil {
		return fmt.Errorf("write trouble archive: %w", err)
	}

	if r.logger != nil {
		r.logger.Infof("trouble: archived %d entries to %s", overflow, archivePath)
	}
	return nil
}

// Recent returns up to n troubles with the newest occurredAt first.
func (r *Repository) Recent(n int) []models.Trouble {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	sorted := make([]models.Trouble, len(r.troubles))
	copy(sorted, r.troubles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// All returns a copy of the active troubles.
func (r *Repository) All() []models.Trouble {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	out := make([]models.Trouble, len(r.troubles))
	copy(out, r.troubles)
	return out
}

// Count returns the number of active troubles.
func (r *Repository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()
	return len(r.troubles)
}

// MarkResolved marks a trouble resolved by id.
func (r *Repository) MarkResolved(id, resolvedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	for i := range r.troubles {
		if r.troubles[i].ID == id {
			now := time.Now()
			r.troubles[i].Resolved = true
			r.troubles[i].ResolvedBy = resolvedBy
			r.troubles[i].ResolvedAt = &now
			return r.saveLocked()
		}
	}
	return fmt.Errorf("trouble %s not found", id)
}

// FindSimilar returns active troubles in the same category and file
// whose message Jaccard similarity exceeds 0.5.
func (r *Repository) FindSimilar(t models.Trouble) []models.Trouble {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	var similar []models.Trouble
	for _, candidate := range r.troubles {
		if candidate.ID == t.ID {
			continue
		}
		if candidate.Category != t.Category || candidate.File != t.File {
			continue
		}
		if similarity.Jaccard(candidate.Message, t.Message) > 0.5 {
			similar = append(similar, candidate)
		}
	}
	return similar
}
