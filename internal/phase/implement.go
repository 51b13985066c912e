package phase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/events"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/guard"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/snapshot"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
)

// generateRetries is how many times one file's generation is retried
// when the output fails sanitization.
const generateRetries = 2

// Implement executes the plan: a snapshot is taken first, then each
// affected file is regenerated by the AI and written through the guard.
type Implement struct {
	cfg       *config.Config
	guard     *guard.Guard
	router    *ai.Router
	snapshots *snapshot.Manager
	collector *trouble.Collector
	bus       *events.Bus
	logger    logger.Logger
}

// NewImplement creates the implement phase.
func NewImplement(cfg *config.Config, g *guard.Guard, router *ai.Router,
	snapshots *snapshot.Manager, collector *trouble.Collector,
	bus *events.Bus, log logger.Logger) *Implement {
	return &Implement{
		cfg: cfg, guard: g, router: router, snapshots: snapshots,
		collector: collector, bus: bus, logger: log,
	}
}

func (p *Implement) Name() string { return "implement" }

func (p *Implement) Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult {
	if cycle.Plan == nil {
		return models.PhaseResult{Success: true, ShouldStop: true, Message: "no plan to implement"}
	}
	if p.router == nil || !p.router.Available() {
		return failure("no AI provider available",
			models.NewFault(models.FaultTransient, "provider unavailable", nil))
	}

	snapID, err := p.snapshots.Create("before cycle " + cycle.CycleID)
	if err != nil {
		return failure("snapshot failed: "+err.Error(),
			models.NewFault(models.FaultFatal, "snapshot failed", err))
	}
	cycle.SnapshotID = snapID

	if v := p.validatePlanPaths(cycle.Plan); v != "" {
		return failure(v, models.NewFault(models.FaultPolicy, v, nil))
	}

	applied := 0
	for _, file := range cycle.Plan.AffectedFiles {
		if err := p.implementFile(ctx, cycle, file); err != nil {
			if p.logger != nil {
				p.logger.Warnf("implement: %s: %v", file, err)
			}
			p.collector.CaptureError(p.Name(), err, "", models.TroubleOther, models.SeverityMedium)
			continue
		}
		applied++
	}

	if applied == 0 {
		return failure("no changes could be applied",
			models.NewFault(models.FaultValidation, "all changes rejected", nil))
	}
	return success(fmt.Sprintf("applied %d change(s)", applied))
}

// validatePlanPaths runs the guard's path and change-set validation over
// the whole plan before any file is touched.
func (p *Implement) validatePlanPaths(plan *models.Plan) string {
	for i, file := range plan.AffectedFiles {
		v := p.guard.ValidatePath(file)
		if !v.Valid {
			return fmt.Sprintf("invalid path %q (%s)", file, v.ErrorType)
		}
		if v.CorrectedPath != "" {
			plan.AffectedFiles[i] = v.CorrectedPath
		}
	}
	check := p.guard.ValidateChange(guard.ChangeSet{Files: plan.AffectedFiles})
	if !check.Valid {
		return "change rejected: " + check.Reason
	}
	return ""
}

func (p *Implement) implementFile(ctx context.Context, cycle *models.CycleContext, file string) error {
	if p.guard.IsStrictlyProtected(file) {
		return fmt.Errorf("file is strictly protected")
	}

	full := filepath.Join(p.cfg.Workspace, filepath.FromSlash(file))
	original, readErr := os.ReadFile(full)
	exists := readErr == nil

	content, err := p.generate(ctx, cycle, file, string(original), exists)
	if err != nil {
		return err
	}

	if lines := strings.Count(content, "\n") + 1; lines > p.cfg.Limits.MaxLinesPerFile {
		return fmt.Errorf("generated file has %d lines, cap is %d", lines, p.cfg.Limits.MaxLinesPerFile)
	}

	if check := p.guard.ValidateCodeContent(content); !check.Safe {
		reviewer := p.guard.Reviewer()
		if reviewer == nil {
			return fmt.Errorf("unsafe content, no reviewer: %s", strings.Join(check.Warnings, ", "))
		}
		review := reviewer.ValidateCodeWithAI(ctx, content, "implement "+file, check.Warnings)
		if !review.Approved {
			return fmt.Errorf("security review rejected: %s", review.Reason)
		}
	}
	if p.guard.IsConditionallyProtected(file) {
		reviewer := p.guard.Reviewer()
		if reviewer == nil {
			return fmt.Errorf("protected file, no reviewer")
		}
		review := reviewer.ReviewProtectedFileChange(ctx, file, cycle.Plan.Description, content)
		if !review.Approved {
			return fmt.Errorf("protected file change rejected: %s", review.Reason)
		}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := store.AtomicWrite(full, []byte(content)); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	changeType := models.ChangeCreate
	if exists {
		changeType = models.ChangeModify
	}
	cycle.ImplementedChanges = append(cycle.ImplementedChanges, models.Change{
		File:         file,
		ChangeType:   changeType,
		Summary:      cycle.Plan.Description,
		RelatedIssue: cycle.Plan.TargetIssue,
	})
	p.bus.Emit(events.Event{
		Type: events.Modification, CycleID: cycle.CycleID, Phase: p.Name(),
		Message: string(changeType) + " " + file,
	})
	return nil
}

// generate asks for the complete file content, retrying sanitization
// failures a bounded number of times.
func (p *Implement) generate(ctx context.Context, cycle *models.CycleContext, file, original string, exists bool) (string, error) {
	var sb strings.Builder
	sb.WriteString("Plan: " + cycle.Plan.Description + "\n")
	for _, step := range cycle.Plan.Steps {
		sb.WriteString("- " + step + "\n")
	}
	if exists {
		sb.WriteString("\nRewrite the file below to carry out the plan. Return the COMPLETE new file content, no explanations, no markdown fences.\n")
		sb.WriteString("\nFile " + file + ":\n---\n" + original + "\n---")
	} else {
		sb.WriteString("\nCreate the file " + file + " to carry out the plan. Return the COMPLETE file content, no explanations, no markdown fences.")
	}
	if cycle.SearchResults != nil && len(cycle.SearchResults.Symbols) > 0 {
		sb.WriteString("\n\nExisting symbols in related files: " + strings.Join(cycle.SearchResults.Symbols, ", "))
	}
	basePrompt := sb.String()

	var lastErr error
	for attempt := 0; attempt <= generateRetries; attempt++ {
		prompt := basePrompt
		if lastErr != nil {
			prompt += "\n\nThe previous attempt was rejected: " + lastErr.Error() +
				"\nReturn only the corrected, complete file content."
		}
		resp, _, err := p.router.GenerateTracked(ctx, ai.Request{Prompt: prompt}, p.Name(), file)
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}
		cycle.AICalls++
		cycle.TokenUsage.Add(resp.Usage)

		content, err := guard.CleanGeneratedCode(resp.Content)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if p.logger != nil {
			p.logger.Debugf("implement: attempt %d for %s: %v", attempt+1, file, err)
		}
	}

	if p.logger != nil {
		p.logger.Warnf("implement: %s unusable after %d attempts, writing placeholder: %v",
			file, generateRetries+1, lastErr)
	}
	return stubContent(file, cycle.Plan.Description), nil
}

// stubContent is the fallback when every generation attempt fails
// sanitization: a comment-only placeholder naming the intended change.
func stubContent(file, description string) string {
	prefix := "//"
	switch filepath.Ext(file) {
	case ".py", ".rb", ".sh", ".yaml", ".yml":
		prefix = "#"
	}
	return fmt.Sprintf("%s Placeholder for: %s\n%s Automatic generation failed; complete this change manually.\n",
		prefix, description, prefix)
}
