package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/goal"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
)

// ErrorDetect runs the build to surface existing errors as issues for
// the planner. A failing build is a finding, not a phase failure. A
// clean build with nothing queued and no active goals ends the cycle:
// the remaining phases would have nothing to work on.
type ErrorDetect struct {
	cfg       *config.Config
	collector *trouble.Collector
	queue     *queue.ImprovementQueue
	goals     *goal.Repository
	logger    logger.Logger
}

// NewErrorDetect creates the error-detect phase. q and goals may be
// nil.
func NewErrorDetect(cfg *config.Config, collector *trouble.Collector,
	q *queue.ImprovementQueue, goals *goal.Repository, log logger.Logger) *ErrorDetect {
	return &ErrorDetect{cfg: cfg, collector: collector, queue: q, goals: goals, logger: log}
}

func (p *ErrorDetect) Name() string { return "error-detect" }

func (p *ErrorDetect) Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult {
	output, err := runCommand(ctx, p.cfg.Workspace, p.cfg.Commands.Build, 5*time.Minute)
	if err == nil {
		if p.idle() {
			return models.PhaseResult{Success: true, ShouldStop: true, Message: "build clean, no queued work"}
		}
		return success("build clean")
	}

	parsed := trouble.ParseBuildOutput(output)
	p.collector.CaptureBuildOutput(p.Name(), output)

	for _, e := range parsed {
		cycle.Issues = append(cycle.Issues, models.Issue{
			ID:      uuid.NewString(),
			Type:    "build-error",
			Message: e.Message,
			File:    e.File,
			Line:    e.Line,
		})
	}
	if len(parsed) == 0 {
		// Build failed but nothing parsed; keep the raw failure so the
		// planner still sees it.
		cycle.Issues = append(cycle.Issues, models.Issue{
			ID:      uuid.NewString(),
			Type:    "build-error",
			Message: err.Error(),
		})
	}

	return success(fmt.Sprintf("detected %d build error(s)", len(cycle.Issues)))
}

// idle reports whether nothing is waiting on the later phases: no
// pending queue items and no active goals.
func (p *ErrorDetect) idle() bool {
	if p.queue != nil && p.queue.PendingCount() > 0 {
		return false
	}
	if p.goals != nil && len(p.goals.Active()) > 0 {
		return false
	}
	return true
}
