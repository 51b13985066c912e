// Package goal persists the agent's standing goals and the progress
// cycles make toward them.
package goal

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// goalsSchema validates the goals file on load.
const goalsSchema = `{
	"type": "object",
	"properties": {
		"goals": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "title", "status"]
			}
		}
	},
	"required": ["goals"]
}`

// goalsDoc is the persisted shape of the goals file.
type goalsDoc struct {
	Goals []models.Goal `json:"goals"`
}

// Repository is the persistent goal store.
type Repository struct {
	store  *store.Store
	logger logger.Logger

	mu     sync.Mutex
	goals  []models.Goal
	loaded bool
}

// NewRepository creates a Repository persisting to path.
func NewRepository(path string, log logger.Logger) (*Repository, error) {
	st, err := store.New(path, goalsSchema, log)
	if err != nil {
		return nil, err
	}
	return &Repository{store: st, logger: log}, nil
}

func (r *Repository) load() {
	if r.loaded {
		return
	}
	var doc goalsDoc
	if ok, _ := r.store.Load(&doc); ok {
		r.goals = doc.Goals
	}
	r.loaded = true
}

func (r *Repository) saveLocked() error {
	return r.store.Save(goalsDoc{Goals: r.goals})
}

// Add registers a new active goal and returns its id. Priority is
// clamped to [0,100] and progress starts at 0.
func (r *Repository) Add(g models.Goal) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Priority < 0 {
		g.Priority = 0
	}
	if g.Priority > 100 {
		g.Priority = 100
	}
	g.Status = models.GoalActive
	g.Progress = 0
	g.CreatedAt = time.Now()
	g.UpdatedAt = g.CreatedAt

	r.goals = append(r.goals, g)
	return g.ID, r.saveLocked()
}

// Active returns the active goals, highest priority first.
func (r *Repository) Active() []models.Goal {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	var out []models.Goal
	for _, g := range r.goals {
		if g.Status == models.GoalActive {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// All returns every goal, newest first.
func (r *Repository) All() []models.Goal {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	out := make([]models.Goal, len(r.goals))
	copy(out, r.goals)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Get returns one goal by id.
func (r *Repository) Get(id string) (models.Goal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	for _, g := range r.goals {
		if g.ID == id {
			return g, true
		}
	}
	return models.Goal{}, false
}

// Advance adds delta to a goal's progress, clamped to [0,1]. Reaching 1
// completes the goal. Returns the new progress value.
func (r *Repository) Advance(id string, delta float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	for i := range r.goals {
		if r.goals[i].ID != id {
			continue
		}
		g := &r.goals[i]
		if g.Status != models.GoalActive {
			return g.Progress, fmt.Errorf("goal %s is %s", id, g.Status)
		}
		g.Progress += delta
		if g.Progress < 0 {
			g.Progress = 0
		}
		if g.Progress >= 1 {
			g.Progress = 1
			g.Status = models.GoalCompleted
			now := time.Now()
			g.CompletedAt = &now
		}
		g.UpdatedAt = time.Now()
		return g.Progress, r.saveLocked()
	}
	return 0, fmt.Errorf("goal %s not found", id)
}

// Abandon marks an active goal abandoned.
func (r *Repository) Abandon(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	for i := range r.goals {
		if r.goals[i].ID != id {
			continue
		}
		if r.goals[i].Status != models.GoalActive {
			return fmt.Errorf("goal %s is %s", id, r.goals[i].Status)
		}
		r.goals[i].Status = models.GoalAbandoned
		r.goals[i].UpdatedAt = time.Now()
		return r.saveLocked()
	}
	return fmt.Errorf("goal %s not found", id)
}
