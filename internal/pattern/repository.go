// Package pattern implements the learning subsystem: the persistent
// repository of learned patterns with usage statistics, the rule engine
// matching patterns against files, and the extractor deriving new
// patterns (and failure patterns) from cycle outcomes.
package pattern

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// Phase transition thresholds by usage count.
const (
	trialThreshold       = 5
	establishedThreshold = 20
)

// Deprecation and staleness bounds.
const (
	deprecationMinUsage      = 10
	deprecationMaxConfidence = 0.1
	staleAge                 = 90 * 24 * time.Hour
	staleMaxUsage            = 5
)

const patternsSchema = `{
	"type": "object",
	"properties": {
		"patterns": {"type": "array"},
		"failurePatterns": {"type": "array"}
	},
	"required": ["patterns"]
}`

// patternsDoc is the persisted shape of patterns.json.
type patternsDoc struct {
	Patterns        []models.LearnedPattern `json:"patterns"`
	FailurePatterns []models.FailurePattern `json:"failurePatterns,omitempty"`
}

// Repository owns the learned patterns and their statistics. Reads
// return copies; every mutation writes through atomically.
type Repository struct {
	store      *store.Store
	statsStore *store.Store
	historyMax int
	logger     logger.Logger

	mu       sync.Mutex
	patterns []models.LearnedPattern
	failures []models.FailurePattern
	stats    models.LearningStats
	loaded   bool
}

// NewRepository creates a Repository persisting patterns to patternsPath
// and global stats to statsPath.
func NewRepository(patternsPath, statsPath string, historyMax int, log logger.Logger) (*Repository, error) {
	st, err := store.New(patternsPath, patternsSchema, log)
	if err != nil {
		return nil, err
	}
	statsStore, err := store.New(statsPath, "", log)
	if err != nil {
		return nil, err
	}
	if historyMax <= 0 {
		historyMax = 20
	}
	return &Repository{
		store:      st,
		statsStore: statsStore,
		historyMax: historyMax,
		logger:     log,
	}, nil
}

func (r *Repository) load() {
	if r.loaded {
		return
	}
	var doc patternsDoc
	if ok, _ := r.store.Load(&doc); ok {
		r.patterns = doc.Patterns
		r.failures = doc.FailurePatterns
	}
	r.statsStore.Load(&r.stats)
	r.loaded = true
}

func (r *Repository) saveLocked() error {
	return r.store.Save(patternsDoc{Patterns: r.patterns, FailurePatterns: r.failures})
}

// Snapshot returns a copy of all patterns. The rule engine consumes this
// immutable view at phase entry.
func (r *Repository) Snapshot() []models.LearnedPattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	out := make([]models.LearnedPattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Get returns a copy of one pattern by id.
func (r *Repository) Get(id string) (models.LearnedPattern, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	for _, p := range r.patterns {
		if p.ID == id {
			return p, true
		}
	}
	return models.LearnedPattern{}, false
}

// Add inserts a new pattern and persists.
func (r *Repository) Add(p models.LearnedPattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	if p.Version == 0 {
		p.Version = 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Stats.Phase == "" {
		p.Stats.Phase = models.PatternPhaseInitial
	}
	r.patterns = append(r.patterns, p)
	return r.saveLocked()
}

// Update replaces a pattern in place, bumping its version and recording
// a history entry capped at historyMax.
func (r *Repository) Update(p models.LearnedPattern, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	for i := range r.patterns {
		if r.patterns[i].ID == p.ID {
			p.Version = r.patterns[i].Version + 1
			p.History = append(r.patterns[i].History, models.PatternVersion{
				Version:   p.Version,
				ChangedAt: time.Now(),
				Note:      note,
			})
			if len(p.History) > r.historyMax {
				p.History = p.History[len(p.History)-r.historyMax:]
			}
			r.patterns[i] = p
			return r.saveLocked()
		}
	}
	return fmt.Errorf("pattern %s not found", p.ID)
}

// UpdateConfidence records one use of a pattern. Usage always
// increments; success increments only on success. Confidence is
// recomputed as success/usage, the maturity phase transitions by usage
// thresholds, and deprecation candidates are flagged with a warning.
func (r *Repository) UpdateConfidence(id string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	for i := range r.patterns {
		if r.patterns[i].ID != id {
			continue
		}
		stats := &r.patterns[i].Stats
		stats.UsageCount++
		if success {
			stats.SuccessCount++
		}
		stats.Confidence = float64(stats.SuccessCount) / float64(stats.UsageCount)
		stats.LastUsed = time.Now()

		switch {
		case stats.UsageCount >= establishedThreshold:
			stats.Phase = models.PatternPhaseEstablished
		case stats.UsageCount >= trialThreshold:
			stats.Phase = models.PatternPhaseTrial
		default:
			stats.Phase = models.PatternPhaseInitial
		}

		if stats.UsageCount >= deprecationMinUsage && stats.Confidence < deprecationMaxConfidence {
			if r.logger != nil {
				r.logger.Warnf("pattern: %s (%s) is a deprecation candidate (usage=%d confidence=%.2f)",
					r.patterns[i].Name, id, stats.UsageCount, stats.Confidence)
			}
		}
		return r.saveLocked()
	}
	return fmt.Errorf("pattern %s not found", id)
}

// RecordCycleCompletion updates the global learning counters and the
// top-patterns list after a cycle.
func (r *Repository) RecordCycleCompletion(patternHits, aiCalls int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	r.stats.TotalCycles++
	r.stats.PatternHits += patternHits
	r.stats.AICalls += aiCalls
	if total := r.stats.PatternHits + r.stats.AICalls; total > 0 {
		r.stats.HitRate = float64(r.stats.PatternHits) / float64(total)
	}
	r.stats.TopPatternIDs = r.topPatternsLocked(5)
	r.stats.LastUpdatedAt = time.Now()
	return r.statsStore.Save(r.stats)
}

// topPatternsLocked returns the ids of the n most used patterns.
func (r *Repository) topPatternsLocked(n int) []string {
	sorted := make([]models.LearnedPattern, len(r.patterns))
	copy(sorted, r.patterns)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Stats.UsageCount > sorted[j].Stats.UsageCount
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	ids := make([]string, 0, n)
	for _, p := range sorted[:n] {
		ids = append(ids, p.ID)
	}
	return ids
}

// Stats returns a copy of the global learning stats.
func (r *Repository) Stats() models.LearningStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()
	return r.stats
}

// PruneIneffectivePatterns removes patterns with usage >= 10 and
// confidence < 0.1. Returns how many were removed.
func (r *Repository) PruneIneffectivePatterns() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	kept := r.patterns[:0]
	removed := 0
	for _, p := range r.patterns {
		if p.Stats.UsageCount >= deprecationMinUsage && p.Stats.Confidence < deprecationMaxConfidence {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	r.patterns = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, r.saveLocked()
}

// PruneStalePatterns removes patterns last used 90+ days ago with fewer
// than 5 uses. Returns how many were removed.
func (r *Repository) PruneStalePatterns() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	cutoff := time.Now().Add(-staleAge)
	kept := r.patterns[:0]
	removed := 0
	for _, p := range r.patterns {
		lastUsed := p.Stats.LastUsed
		if lastUsed.IsZero() {
			lastUsed = p.CreatedAt
		}
		if lastUsed.Before(cutoff) && p.Stats.UsageCount < staleMaxUsage {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	r.patterns = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, r.saveLocked()
}

// FailurePatterns returns a copy of the recorded failure patterns.
func (r *Repository) FailurePatterns() []models.FailurePattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	out := make([]models.FailurePattern, len(r.failures))
	copy(out, r.failures)
	return out
}

// upsertFailure merges or appends a failure pattern (used by the
// extractor, which holds the bucketing logic).
func (r *Repository) upsertFailure(merge func(existing []models.FailurePattern) []models.FailurePattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	r.failures = merge(r.failures)
	return r.saveLocked()
}
