package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/events"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/orchestrator"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/pattern"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/phase"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
)

type scriptedPhase struct {
	name    string
	runs    int
	started chan struct{}
	block   chan struct{}
	result  models.PhaseResult
}

func (p *scriptedPhase) Name() string { return p.name }

func (p *scriptedPhase) Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult {
	p.runs++
	if p.started != nil && p.runs == 1 {
		close(p.started)
	}
	if p.block != nil {
		<-p.block
	}
	return p.result
}

func newTestOrchestrator(t *testing.T, p phase.Phase) (*orchestrator.Orchestrator, *queue.ImprovementQueue) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Workspace = filepath.Join(dir, "workspace")
	require.NoError(t, os.MkdirAll(cfg.Workspace, 0755))
	cfg.Docs.Enabled = false
	cfg.Research.Enabled = false
	cfg.Fallback.AutoReview = false

	repo, err := trouble.NewRepository(
		filepath.Join(dir, "troubles.json"), filepath.Join(dir, "archive"), 100, nil)
	require.NoError(t, err)
	bus := events.NewBus()

	patterns, err := pattern.NewRepository(
		filepath.Join(dir, "patterns.json"), filepath.Join(dir, "stats.json"), 50, nil)
	require.NoError(t, err)

	q, err := queue.New(filepath.Join(dir, "queue.json"), 50, nil)
	require.NoError(t, err)

	state, err := store.New(filepath.Join(dir, "state.json"), "", nil)
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Bus:       bus,
		Phases:    []phase.Phase{p},
		Collector: trouble.NewCollector(repo, bus, nil),
		Troubles:  repo,
		Patterns:  patterns,
		Queue:     q,
		Detector:  orchestrator.NewWorkDetector(cfg, q, repo, nil),
		State:     state,
	})
	return orch, q
}

func TestRegister(t *testing.T) {
	s := New(nil)

	require.NoError(t, s.Register("cycle", time.Minute, func() {}))
	assert.Equal(t, 1, s.TaskCount())

	// Re-registering replaces, not duplicates.
	require.NoError(t, s.Register("cycle", 2*time.Minute, func() {}))
	assert.Equal(t, 1, s.TaskCount())

	require.NoError(t, s.Register("repair-sweep", time.Hour, func() {}))
	assert.Equal(t, 2, s.TaskCount())
}

func TestRegisterRejectsSubSecondInterval(t *testing.T) {
	s := New(nil)
	assert.Error(t, s.Register("cycle", 100*time.Millisecond, func() {}))
	assert.Zero(t, s.TaskCount())
}

func TestCycleTaskRunsOneCycle(t *testing.T) {
	p := &scriptedPhase{name: "detect", result: models.PhaseResult{Success: true}}
	orch, _ := newTestOrchestrator(t, p)

	CycleTask(orch, nil)()

	assert.Equal(t, 1, p.runs)
	assert.Equal(t, 1, orch.Status().CycleCount)
}

func TestCycleTaskRetriesTransientFailureOnce(t *testing.T) {
	p := &scriptedPhase{
		name: "implement",
		result: models.PhaseResult{
			Success: false, Message: "rate limited",
			Fault: models.NewFault(models.FaultTransient, "rate limited", nil),
		},
	}
	orch, q := newTestOrchestrator(t, p)

	// Pending work keeps the retry cycle from skipping early.
	_, _, err := q.Enqueue(models.QueuedImprovement{Title: "a"})
	require.NoError(t, err)
	_, _, err = q.Enqueue(models.QueuedImprovement{Title: "b"})
	require.NoError(t, err)

	CycleTask(orch, nil)()

	assert.Equal(t, 2, p.runs, "one immediate retry after a retriable failure")
	assert.Equal(t, 2, orch.Status().CycleCount)
}

func TestCycleTaskDroppedWhileCycleRunning(t *testing.T) {
	p := &scriptedPhase{
		name:    "slow",
		started: make(chan struct{}),
		block:   make(chan struct{}),
		result:  models.PhaseResult{Success: true},
	}
	orch, _ := newTestOrchestrator(t, p)

	done := make(chan struct{})
	go func() {
		orch.RunCycle(context.Background())
		close(done)
	}()

	<-p.started
	CycleTask(orch, nil)()

	close(p.block)
	<-done
	assert.Equal(t, 1, p.runs, "overlapping tick is dropped, not queued")
}

func TestStartStop(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register("noop", time.Hour, func() {}))

	s.Start()
	assert.NotPanics(t, s.Stop)
}
