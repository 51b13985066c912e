package repair

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/breaker"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/guard"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
)

// pollInterval is how often the repairer looks for work when idle.
const pollInterval = 30 * time.Second

// AutoRepairer drains the repair queue, one task at a time, behind the
// circuit breaker.
type AutoRepairer struct {
	cfg        *config.Config
	aggregator *Aggregator
	queue      *Queue
	breaker    *breaker.CircuitBreaker
	router     *ai.Router
	guard      *guard.Guard
	logger     logger.Logger

	mu      sync.Mutex
	enabled bool
	running bool
	stop    chan struct{}
}

// NewAutoRepairer wires the repairer. It starts disabled.
func NewAutoRepairer(cfg *config.Config, aggregator *Aggregator, queue *Queue,
	cb *breaker.CircuitBreaker, router *ai.Router, g *guard.Guard, log logger.Logger) *AutoRepairer {
	return &AutoRepairer{
		cfg: cfg, aggregator: aggregator, queue: queue,
		breaker: cb, router: router, guard: g, logger: log,
	}
}

// SetEnabled toggles the repairer. Enabling starts the worker loop;
// disabling stops it after the current task.
func (r *AutoRepairer) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enabled == r.enabled {
		return
	}
	r.enabled = enabled
	if enabled {
		r.stop = make(chan struct{})
		go r.loop(r.stop)
	} else if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// IsEnabled reports whether the worker loop is active.
func (r *AutoRepairer) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// IsRunning reports whether a repair task is executing right now.
func (r *AutoRepairer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *AutoRepairer) loop(stop chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.RunOnce(context.Background())
		}
	}
}

// RunOnce claims and executes at most one repair task. Returns whether
// a task was executed.
func (r *AutoRepairer) RunOnce(ctx context.Context) bool {
	if !r.breaker.Allow() {
		return false
	}

	task, ok := r.queue.Next()
	if !ok {
		return false
	}

	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	aggErr, found := r.aggregator.Get(task.ErrorID)
	if !found {
		r.queue.Complete(task.ID, false, "aggregated error no longer exists")
		return true
	}
	r.aggregator.SetStatus(aggErr.ID, models.ErrorRepairing, "")

	started := time.Now()
	err := r.repair(ctx, task, aggErr)
	attempt := models.RepairAttempt{
		TaskID:     task.ID,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Success:    err == nil,
	}
	if err != nil {
		attempt.Detail = err.Error()
	}
	r.aggregator.RecordAttempt(aggErr.ID, attempt)

	if err == nil {
		r.breaker.RecordSuccess(aggErr.Source, aggErr.ID)
		r.aggregator.SetStatus(aggErr.ID, models.ErrorResolved, "auto-repair")
		r.queue.Complete(task.ID, true, "repaired")
		if r.logger != nil {
			r.logger.Infof("repair: resolved %s (%s)", aggErr.ID, aggErr.Message)
		}
	} else {
		r.breaker.RecordFailure(aggErr.Source, aggErr.ID)
		r.aggregator.SetStatus(aggErr.ID, models.ErrorQueued, "")
		r.queue.Complete(task.ID, false, err.Error())
		if r.logger != nil {
			r.logger.Warnf("repair: attempt on %s failed: %v", aggErr.ID, err)
		}
		if task.CurrentAttempt >= task.MaxAttempts {
			r.aggregator.SetStatus(aggErr.ID, models.ErrorFailed, "")
		}
	}
	return true
}

// repair locates the failing file from the stack trace, generates a
// fixed version and validates it with a build.
func (r *AutoRepairer) repair(ctx context.Context, task models.RepairTask, aggErr models.AggregatedError) error {
	if r.router == nil || !r.router.Available() {
		return fmt.Errorf("no AI provider available")
	}

	file, line, _ := trouble.ParseStackFrame(aggErr.Stack)
	if file == "" {
		file = aggErr.Context["file"]
	}
	if file == "" {
		return fmt.Errorf("no target file identifiable from the error")
	}
	if r.guard.IsStrictlyProtected(file) {
		return fmt.Errorf("target file is strictly protected")
	}

	full := filepath.Join(r.cfg.Workspace, filepath.FromSlash(file))
	original, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	prompt := task.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Fix the following %s error", aggErr.Category)
	}
	prompt += fmt.Sprintf(`.
Error: %s`, aggErr.Message)
	if line > 0 {
		prompt += fmt.Sprintf(" (around line %d)", line)
	}
	if aggErr.Stack != "" {
		prompt += "\nStack:\n" + truncate(aggErr.Stack, 2000)
	}
	prompt += "\n\nReturn the COMPLETE corrected content of " + file +
		", no explanations, no markdown fences.\n\nCurrent content:\n---\n" + string(original) + "\n---"

	resp, _, err := r.router.GenerateTracked(ctx, ai.Request{Prompt: prompt}, "repair", file)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	fixed, err := guard.CleanGeneratedCode(resp.Content)
	if err != nil {
		return fmt.Errorf("sanitize: %w", err)
	}
	if check := r.guard.ValidateCodeContent(fixed); !check.Safe {
		reviewer := r.guard.Reviewer()
		if reviewer == nil {
			return fmt.Errorf("unsafe content, no reviewer")
		}
		review := reviewer.ValidateCodeWithAI(ctx, fixed, "auto-repair "+file, check.Warnings)
		if !review.Approved {
			return fmt.Errorf("security review rejected: %s", review.Reason)
		}
	}
	if r.guard.IsConditionallyProtected(file) {
		reviewer := r.guard.Reviewer()
		if reviewer == nil {
			return fmt.Errorf("protected file, no reviewer")
		}
		review := reviewer.ReviewProtectedFileChange(ctx, file, "auto-repair", fixed)
		if !review.Approved {
			return fmt.Errorf("protected file change rejected: %s", review.Reason)
		}
	}

	if err := store.AtomicWrite(full, []byte(fixed)); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if err := r.validateBuild(ctx); err != nil {
		// Restore the original so a bad fix never lingers.
		store.AtomicWrite(full, original)
		return fmt.Errorf("fix broke the build: %w", err)
	}
	return nil
}

func (r *AutoRepairer) validateBuild(ctx context.Context) error {
	argv := r.cfg.Commands.Build
	if len(argv) == 0 {
		return nil
	}
	buildCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, argv[0], argv[1:]...)
	cmd.Dir = r.cfg.Workspace
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", argv[0], truncate(ai.Scrub(string(out)), 500))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// EnqueueFromReport is the single entry point for external error
// reports: aggregate, classify and queue a repair task in one call.
func EnqueueFromReport(aggregator *Aggregator, queue *Queue, report models.ErrorReport) models.RepairTask {
	entry := aggregator.Report(report)
	aggregator.SetStatus(entry.ID, models.ErrorQueued, "")
	return queue.Enqueue(entry.ID, "", priorityFor(entry.Severity))
}

func priorityFor(severity models.Severity) models.RepairPriority {
	switch severity {
	case models.SeverityCritical:
		return models.RepairUrgent
	case models.SeverityHigh:
		return models.RepairHigh
	case models.SeverityMedium:
		return models.RepairNormal
	default:
		return models.RepairLow
	}
}
