// Package scheduler is the time-triggered task registry. The app
// registers the improvement cycle here; other periodic work (repair
// sweeps, report aggregation) can join the same registry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/orchestrator"
)

// Scheduler runs registered tasks on their intervals. A tick that lands
// while the task's previous run is still active is the task's own
// problem; the cycle task drops such ticks.
type Scheduler struct {
	cron   *cron.Cron
	logger logger.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates an empty Scheduler.
func New(log logger.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logger:  log,
		entries: map[string]cron.EntryID{},
	}
}

// Register adds a named task firing every interval. Registering an
// existing name replaces the old schedule.
func (s *Scheduler) Register(name string, interval time.Duration, task func()) error {
	if interval < time.Second {
		return fmt.Errorf("register %s: interval %s is below one second", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old)
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), task)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.entries[name] = id
	if s.logger != nil {
		s.logger.Debugf("scheduler: registered %s every %s", name, interval)
	}
	return nil
}

// TaskCount returns the number of registered tasks.
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start begins firing ticks. It returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
	if s.logger != nil {
		s.logger.Infof("scheduler started")
	}
}

// Stop stops the schedule and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	if s.logger != nil {
		s.logger.Infof("scheduler stopped")
	}
}

// CycleTask wraps the orchestrator as a schedulable task: overlapping
// ticks are dropped, and a retriable failure gets one immediate retry.
func CycleTask(orch *orchestrator.Orchestrator, log logger.Logger) func() {
	return func() {
		result, err := orch.RunCycle(context.Background())
		if errors.Is(err, orchestrator.ErrCycleInProgress) {
			if log != nil {
				log.Debugf("scheduler: tick dropped, cycle already running")
			}
			return
		}
		if err != nil {
			if log != nil {
				log.Errorf("scheduler: cycle failed: %v", err)
			}
			return
		}

		if result.ShouldRetry {
			if log != nil {
				log.Infof("scheduler: retrying cycle (%s)", result.RetryReason)
			}
			if _, err := orch.RunCycle(context.Background()); err != nil &&
				!errors.Is(err, orchestrator.ErrCycleInProgress) && log != nil {
				log.Errorf("scheduler: retry failed: %v", err)
			}
		}
	}
}
