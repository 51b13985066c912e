// Package orchestrator drives the improvement cycle: the phase
// pipeline, the learning feedback loop and cycle finalization.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/abstraction"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/events"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/goal"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/history"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/pattern"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/phase"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/report"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
)

// StateDoc is the persisted orchestrator state, shared with the CLI so
// pause and failure counters survive restarts.
type StateDoc struct {
	CycleCount          int                 `json:"cycleCount"`
	ConsecutiveFailures int                 `json:"consecutiveFailures"`
	Paused              bool                `json:"paused"`
	PausedReason        string              `json:"pausedReason,omitempty"`
	LastCycleAt         time.Time           `json:"lastCycleAt"`
	LastResult          *models.CycleResult `json:"lastResult,omitempty"`
}

// ErrCycleInProgress is returned when a cycle is requested while one is
// already running. At most one cycle runs at a time.
var ErrCycleInProgress = errors.New("a cycle is already in progress")

// Deps bundles everything the orchestrator needs.
type Deps struct {
	Config        *config.Config
	Logger        logger.Logger
	Bus           *events.Bus
	Phases        []phase.Phase
	Collector     *trouble.Collector
	Troubles      *trouble.Repository
	Patterns      *pattern.Repository
	Extractor     *pattern.Extractor
	Abstraction   *abstraction.Engine
	Queue         *queue.ImprovementQueue
	Goals         *goal.Repository
	History       *history.Store
	Reports       *report.Writer
	Confirmations *ai.ConfirmationQueue
	Router        *ai.Router
	Detector      *WorkDetector
	State         *store.Store
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Running             bool                `json:"running"`
	Paused              bool                `json:"paused"`
	PausedReason        string              `json:"pausedReason,omitempty"`
	CycleCount          int                 `json:"cycleCount"`
	ConsecutiveFailures int                 `json:"consecutiveFailures"`
	PendingQueueItems   int                 `json:"pendingQueueItems"`
	ActiveTroubles      int                 `json:"activeTroubles"`
	LastCycleAt         time.Time           `json:"lastCycleAt"`
	LastResult          *models.CycleResult `json:"lastResult,omitempty"`
}

// Orchestrator owns the cycle lifecycle.
type Orchestrator struct {
	deps Deps

	mu                  sync.Mutex
	running             bool
	paused              bool
	pausedReason        string
	cycleCount          int
	consecutiveFailures int
	lastResult          *models.CycleResult
	lastCycleAt         time.Time
}

// New creates an Orchestrator, restoring persisted state when a state
// store is provided.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{deps: deps}
	if deps.State != nil {
		var doc StateDoc
		if ok, _ := deps.State.Load(&doc); ok {
			o.cycleCount = doc.CycleCount
			o.consecutiveFailures = doc.ConsecutiveFailures
			o.paused = doc.Paused
			o.pausedReason = doc.PausedReason
			o.lastCycleAt = doc.LastCycleAt
			o.lastResult = doc.LastResult
		}
	}
	return o
}

// saveStateLocked persists the counters; callers hold o.mu.
func (o *Orchestrator) saveStateLocked() {
	if o.deps.State == nil {
		return
	}
	doc := StateDoc{
		CycleCount:          o.cycleCount,
		ConsecutiveFailures: o.consecutiveFailures,
		Paused:              o.paused,
		PausedReason:        o.pausedReason,
		LastCycleAt:         o.lastCycleAt,
		LastResult:          o.lastResult,
	}
	if err := o.deps.State.Save(doc); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Warnf("persist orchestrator state: %v", err)
	}
}

// RunCycle executes one full improvement cycle. Only one cycle may run
// at a time; a second caller gets ErrCycleInProgress.
func (o *Orchestrator) RunCycle(ctx context.Context) (models.CycleResult, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return models.CycleResult{}, ErrCycleInProgress
	}
	if o.paused {
		reason := o.pausedReason
		o.mu.Unlock()
		return models.CycleResult{
			CycleID:      fmt.Sprintf("paused_%d", time.Now().Unix()),
			SkippedEarly: true,
			Quality:      models.QualityNoOp,
			RetryReason:  "system paused: " + reason,
		}, nil
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	if ok, reason := o.deps.Detector.HasWork(); !ok {
		if o.deps.Logger != nil {
			o.deps.Logger.Infof("cycle skipped: %s", reason)
		}
		result := models.CycleResult{
			CycleID:      fmt.Sprintf("skipped_%d", time.Now().Unix()),
			Success:      true,
			SkippedEarly: true,
			Quality:      models.QualityNoOp,
		}
		o.recordResult(result)
		return result, nil
	}

	cycle := &models.CycleContext{
		CycleID:       fmt.Sprintf("cycle_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8]),
		StartTime:     time.Now(),
		QueuedItemIDs: map[string]string{},
	}
	if o.deps.Goals != nil {
		for _, g := range o.deps.Goals.Active() {
			cycle.ActiveGoals = append(cycle.ActiveGoals, g.ID)
		}
	}
	o.deps.Collector.BeginCycle(cycle.CycleID)
	o.deps.Bus.Emit(events.Event{Type: events.CycleStarted, CycleID: cycle.CycleID})
	if o.deps.Logger != nil {
		o.deps.Logger.Infof("cycle %s started", cycle.CycleID)
	}

	o.reviewPendingConfirmations(ctx)

	o.runPipeline(ctx, cycle)
	success := !cycle.CriticalFailure
	o.feedback(cycle, success)

	result := o.finalize(ctx, cycle)
	o.applyFailureAccounting(&result)
	o.recordResult(result)

	o.deps.Bus.Emit(events.Event{
		Type: events.CycleCompleted, CycleID: cycle.CycleID,
		Message: string(result.Quality),
	})
	if o.deps.Logger != nil {
		o.deps.Logger.Infof("cycle %s finished: success=%v quality=%s duration=%s",
			cycle.CycleID, result.Success, result.Quality, result.Duration.Round(time.Second))
	}

	o.afterCycle(ctx, cycle, result)
	cycle.ReleaseLargeFields()
	return result, nil
}

// reviewPendingConfirmations runs the bounded pre-pass over fallback
// confirmations from earlier cycles.
func (o *Orchestrator) reviewPendingConfirmations(ctx context.Context) {
	if !o.deps.Config.Fallback.AutoReview || o.deps.Confirmations == nil ||
		o.deps.Router == nil || o.deps.Router.Primary() == nil {
		return
	}
	reviewed := o.deps.Confirmations.ReviewPending(ctx, o.deps.Router.Primary(),
		o.deps.Config.Limits.MaxConfirmationsPerCycle)
	if reviewed > 0 && o.deps.Logger != nil {
		o.deps.Logger.Infof("reviewed %d pending fallback confirmation(s)", reviewed)
	}
}

// criticalPhases are the phases whose failure marks the whole cycle as
// critically failed. Failures elsewhere are recorded and the pipeline
// keeps going.
var criticalPhases = map[string]bool{"implement": true, "verify": true}

// runPipeline runs the phases in order. A failing phase is recorded and
// the pipeline continues, unless the phase is critical or asked to
// stop; a ShouldStop result ends the pipeline early.
func (o *Orchestrator) runPipeline(ctx context.Context, cycle *models.CycleContext) {
	for _, p := range o.deps.Phases {
		if ctx.Err() != nil {
			cycle.RecordFailure(p.Name(), "cycle cancelled")
			cycle.CriticalFailure = true
			return
		}

		o.deps.Bus.Emit(events.Event{Type: events.PhaseStarted, CycleID: cycle.CycleID, Phase: p.Name()})
		res := p.Run(ctx, cycle)
		o.deps.Bus.Emit(events.Event{
			Type: events.PhaseCompleted, CycleID: cycle.CycleID, Phase: p.Name(),
			Message: res.Message,
			Detail:  map[string]string{"success": fmt.Sprint(res.Success)},
		})
		if o.deps.Logger != nil {
			o.deps.Logger.Debugf("phase %s: success=%v %s", p.Name(), res.Success, res.Message)
		}

		if !res.Success {
			cycle.RecordFailure(p.Name(), res.Message)
			o.deps.Bus.Emit(events.Event{
				Type: events.Error, CycleID: cycle.CycleID, Phase: p.Name(), Message: res.Message,
			})
			if criticalPhases[p.Name()] {
				cycle.CriticalFailure = true
				return
			}
			if res.ShouldStop {
				return
			}
			continue
		}
		if res.ShouldStop {
			return
		}
	}
}

// feedback closes the learning loop: confidence updates for every used
// pattern, extraction on success, an anti-pattern record on failure.
func (o *Orchestrator) feedback(cycle *models.CycleContext, success bool) {
	for _, patternID := range cycle.UsedPatterns {
		if err := o.deps.Patterns.UpdateConfidence(patternID, success); err != nil && o.deps.Logger != nil {
			o.deps.Logger.Debugf("feedback: confidence update %s: %v", patternID, err)
		}
	}

	if o.deps.Extractor == nil || cycle.Plan == nil {
		return
	}

	if success && len(cycle.ImplementedChanges) > 0 {
		for _, change := range cycle.ImplementedChanges {
			if change.ChangeType == models.ChangeDelete || change.Summary == "" {
				continue
			}
			_, err := o.deps.Extractor.Extract(models.ExtractionContext{
				Problem:     cycle.Plan.Description,
				ProblemFile: change.File,
				Solution:    change.Summary,
				Success:     true,
			})
			if err != nil && o.deps.Logger != nil {
				o.deps.Logger.Debugf("feedback: extract: %v", err)
			}
		}
		return
	}

	if !success {
		err := o.deps.Extractor.RecordFailure(
			models.TroubleOther,
			cycle.Plan.Description,
			firstAffectedFile(cycle.Plan),
			cycle.Plan.Steps,
			cycle.FailureReason,
		)
		if err != nil && o.deps.Logger != nil {
			o.deps.Logger.Debugf("feedback: record failure: %v", err)
		}
	}
}

// finalize always runs: troubles are flushed and abstracted, queue
// items settled, learning counters bumped, history and reports written.
func (o *Orchestrator) finalize(ctx context.Context, cycle *models.CycleContext) models.CycleResult {
	success := !cycle.CriticalFailure
	troubles, err := o.deps.Collector.Flush()
	if err != nil && o.deps.Logger != nil {
		o.deps.Logger.Warnf("finalize: flush troubles: %v", err)
	}
	cycle.Troubles = troubles

	if o.deps.Abstraction != nil && len(troubles) > 0 {
		o.deps.Abstraction.Analyze(ctx, troubles)
	}

	o.advanceGoals(cycle, success)
	o.settleQueueItems(cycle, success)

	if err := o.deps.Patterns.RecordCycleCompletion(cycle.PatternMatches, cycle.AICalls); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Debugf("finalize: learning stats: %v", err)
	}

	result := models.CycleResult{
		CycleID:      cycle.CycleID,
		Success:      success,
		Duration:     time.Since(cycle.StartTime),
		TroubleCount: len(troubles),
		FailedPhase:  cycle.FailedPhase,
		Quality:      qualityOf(cycle),
	}
	// Retry when tests failed, troubles were captured or a critical
	// phase failed; the reason names the dominant cause.
	testsFailed := cycle.TestResults != nil && !cycle.TestResults.Passed
	switch {
	case cycle.CriticalFailure:
		result.ShouldRetry = true
		result.RetryReason = cycle.FailureReason
	case testsFailed:
		result.ShouldRetry = true
		result.RetryReason = "tests failed"
	case len(troubles) > 0:
		result.ShouldRetry = true
		result.RetryReason = fmt.Sprintf("%d unresolved trouble(s)", len(troubles))
	}

	if o.deps.History != nil {
		rec := history.Record{
			CycleID:        cycle.CycleID,
			StartedAt:      cycle.StartTime,
			FinishedAt:     time.Now(),
			Success:        success,
			Quality:        result.Quality,
			FailedPhase:    cycle.FailedPhase,
			FailureReason:  cycle.FailureReason,
			TroubleCount:   len(troubles),
			PatternMatches: cycle.PatternMatches,
			AICalls:        cycle.AICalls,
			TokenUsage:     cycle.TokenUsage,
			Summary:        cycleSummary(cycle),
			Changes:        cycle.ImplementedChanges,
		}
		if err := o.deps.History.Append(ctx, rec); err != nil && o.deps.Logger != nil {
			o.deps.Logger.Warnf("finalize: history: %v", err)
		}
	}

	if o.deps.Reports != nil && report.ShouldWrite(cycle, result) {
		if _, err := o.deps.Reports.Write(cycle, result); err != nil && o.deps.Logger != nil {
			o.deps.Logger.Warnf("finalize: report: %v", err)
		}
	}
	return result
}

// goalProgressPerCycle is the progress credited to a goal when a cycle
// implements one of its improvements.
const goalProgressPerCycle = 0.1

// advanceGoals credits the goal behind the plan's target improvement
// and records the new progress on the context.
func (o *Orchestrator) advanceGoals(cycle *models.CycleContext, success bool) {
	if o.deps.Goals == nil || !success || len(cycle.ImplementedChanges) == 0 {
		return
	}
	goalID := plannedGoalID(cycle)
	if goalID == "" {
		return
	}
	progress, err := o.deps.Goals.Advance(goalID, goalProgressPerCycle)
	if err != nil {
		if o.deps.Logger != nil {
			o.deps.Logger.Debugf("finalize: goal progress: %v", err)
		}
		return
	}
	if cycle.GoalProgress == nil {
		cycle.GoalProgress = map[string]float64{}
	}
	cycle.GoalProgress[goalID] = progress
}

// plannedGoalID resolves the goal id behind the plan's target
// improvement, if that improvement came from a goal.
func plannedGoalID(cycle *models.CycleContext) string {
	if cycle.Plan == nil {
		return ""
	}
	for _, imp := range cycle.Improvements {
		if imp.ID == cycle.Plan.TargetImprovement {
			if strings.HasPrefix(imp.Source, "goal:") {
				return strings.TrimPrefix(imp.Source, "goal:")
			}
			return ""
		}
	}
	return ""
}

// settleQueueItems completes or fails the queue item the plan targeted
// and releases the rest back to pending.
func (o *Orchestrator) settleQueueItems(cycle *models.CycleContext, success bool) {
	if len(cycle.QueuedItemIDs) == 0 {
		return
	}

	targetQueueID := ""
	if cycle.Plan != nil && cycle.Plan.TargetImprovement != "" {
		targetQueueID = cycle.QueuedItemIDs[cycle.Plan.TargetImprovement]
	}

	var release []string
	for _, queueID := range cycle.QueuedItemIDs {
		if queueID == targetQueueID {
			continue
		}
		release = append(release, queueID)
	}
	if err := o.deps.Queue.Release(release); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Warnf("finalize: release queue items: %v", err)
	}

	if targetQueueID == "" {
		return
	}
	status := models.QueueCompleted
	resultNote := "completed by cycle"
	if !success {
		status = models.QueueFailed
		resultNote = cycle.FailureReason
	}
	if err := o.deps.Queue.UpdateStatus(targetQueueID, status, cycle.CycleID, resultNote); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Warnf("finalize: queue status: %v", err)
	}
}

// applyFailureAccounting bumps the cycle counter and applies the
// consecutive critical-failure pause. Only critically failed cycles
// count toward the pause threshold; anything else resets the counter.
// Once paused, the result's retry flag is suppressed.
func (o *Orchestrator) applyFailureAccounting(result *models.CycleResult) {
	o.mu.Lock()
	o.cycleCount++
	wasPaused := o.paused
	if result.Quality == models.QualityFailed {
		o.consecutiveFailures++
		if o.consecutiveFailures >= o.deps.Config.Limits.MaxConsecutiveFailures {
			o.paused = true
			o.pausedReason = fmt.Sprintf("%d consecutive critical failures", o.consecutiveFailures)
		}
	} else {
		o.consecutiveFailures = 0
	}
	paused := o.paused
	reason := o.pausedReason
	if paused {
		result.ShouldRetry = false
	}
	o.saveStateLocked()
	o.mu.Unlock()

	if paused && !wasPaused {
		if o.deps.Logger != nil {
			o.deps.Logger.Errorf("system paused: %s", reason)
		}
		o.deps.Bus.Emit(events.Event{Type: events.Error, Message: "system paused: " + reason})
	}
}

// afterCycle runs the periodic doc, research and cleanup triggers.
// Nothing fires while the system is paused.
func (o *Orchestrator) afterCycle(ctx context.Context, cycle *models.CycleContext, result models.CycleResult) {
	o.mu.Lock()
	count := o.cycleCount
	paused := o.paused
	o.mu.Unlock()
	if paused {
		return
	}

	cfg := o.deps.Config
	if result.Success && cfg.Docs.Enabled && cfg.Docs.UpdateFrequency > 0 && count%cfg.Docs.UpdateFrequency == 0 {
		o.updateDocs(ctx, cycle)
	}
	if cfg.Research.Enabled && cfg.Research.Frequency > 0 && count%cfg.Research.Frequency == 0 {
		if err := o.runResearch(ctx); err != nil && o.deps.Logger != nil {
			o.deps.Logger.Warnf("research cycle: %v", err)
		}
	}
	if cfg.Limits.CleanupDays > 0 && count%10 == 0 {
		o.cleanup(ctx)
	}
}

func (o *Orchestrator) cleanup(ctx context.Context) {
	days := o.deps.Config.Limits.CleanupDays
	if _, err := o.deps.Queue.Cleanup(days); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Warnf("cleanup: queue: %v", err)
	}
	if o.deps.History != nil {
		if _, err := o.deps.History.Cleanup(ctx, days); err != nil && o.deps.Logger != nil {
			o.deps.Logger.Warnf("cleanup: history: %v", err)
		}
	}
	if _, err := o.deps.Patterns.PruneIneffectivePatterns(); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Warnf("cleanup: patterns: %v", err)
	}
	if _, err := o.deps.Patterns.PruneStalePatterns(); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Warnf("cleanup: stale patterns: %v", err)
	}
}

func (o *Orchestrator) recordResult(result models.CycleResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastResult = &result
	o.lastCycleAt = time.Now()
	o.saveStateLocked()
}

// Status returns a snapshot of the orchestrator state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Running:             o.running,
		Paused:              o.paused,
		PausedReason:        o.pausedReason,
		CycleCount:          o.cycleCount,
		ConsecutiveFailures: o.consecutiveFailures,
		PendingQueueItems:   o.deps.Queue.PendingCount(),
		ActiveTroubles:      o.deps.Troubles.Count(),
		LastCycleAt:         o.lastCycleAt,
		LastResult:          o.lastResult,
	}
}

// ResumeSystem clears a failure pause and the failure counter.
func (o *Orchestrator) ResumeSystem() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.pausedReason = ""
	o.consecutiveFailures = 0
	o.saveStateLocked()
	if o.deps.Logger != nil {
		o.deps.Logger.Infof("system resumed")
	}
}

// ResetFailureCounter clears the consecutive-failure count without
// touching the pause flag.
func (o *Orchestrator) ResetFailureCounter() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consecutiveFailures = 0
	o.saveStateLocked()
}

// qualityOf tags what the cycle actually accomplished. Only a critical
// failure tanks the tag; a recorded non-critical failure still yields a
// no-op, partial or effective cycle.
func qualityOf(cycle *models.CycleContext) models.Quality {
	switch {
	case cycle.CriticalFailure:
		return models.QualityFailed
	case len(cycle.ImplementedChanges) == 0:
		return models.QualityNoOp
	case len(cycle.Troubles) > 0:
		return models.QualityPartial
	default:
		return models.QualityEffective
	}
}

func cycleSummary(cycle *models.CycleContext) string {
	if cycle.Plan != nil {
		return cycle.Plan.Description
	}
	if len(cycle.Issues) > 0 {
		return fmt.Sprintf("%d issue(s) detected, none planned", len(cycle.Issues))
	}
	return "no actionable work found"
}

func firstAffectedFile(plan *models.Plan) string {
	if len(plan.AffectedFiles) > 0 {
		return plan.AffectedFiles[0]
	}
	return ""
}
