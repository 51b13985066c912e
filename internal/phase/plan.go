package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/pattern"
)

const planSchema = `{"type":"object","properties":{"description":{"type":"string"},"steps":{"type":"array","items":{"type":"string"}},"affectedFiles":{"type":"array","items":{"type":"string"}},"risk":{"type":"string","enum":["low","medium","high"]}},"required":["description","steps","affectedFiles","risk"]}`

// Planner chooses exactly one target for this cycle and produces the
// repair plan. Detected issues always take precedence over discovered
// improvements.
type Planner struct {
	cfg      *config.Config
	router   *ai.Router
	patterns *pattern.Extractor
	logger   logger.Logger
}

// NewPlanner creates the plan phase. router and extractor may be nil.
func NewPlanner(cfg *config.Config, router *ai.Router, extractor *pattern.Extractor, log logger.Logger) *Planner {
	return &Planner{cfg: cfg, router: router, patterns: extractor, logger: log}
}

func (p *Planner) Name() string { return "plan" }

func (p *Planner) Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult {
	targetIssue, targetImprovement := p.chooseTarget(cycle)
	if targetIssue == nil && targetImprovement == nil {
		return models.PhaseResult{Success: true, ShouldStop: true, Message: "nothing to plan"}
	}

	plan := p.aiPlan(ctx, cycle, targetIssue, targetImprovement)
	if plan == nil {
		plan = fallbackPlan(targetIssue, targetImprovement)
	}

	if len(plan.AffectedFiles) > p.cfg.Limits.MaxFilesPerChange {
		plan.AffectedFiles = plan.AffectedFiles[:p.cfg.Limits.MaxFilesPerChange]
	}
	if len(plan.AffectedFiles) == 0 {
		return failure("plan names no files",
			models.NewFault(models.FaultValidation, "empty plan", nil))
	}

	cycle.Plan = plan
	return success("planned: " + plan.Description)
}

// chooseTarget returns the single target: the first unresolved issue,
// else the highest-priority improvement.
func (p *Planner) chooseTarget(cycle *models.CycleContext) (*models.Issue, *models.Improvement) {
	for i := range cycle.Issues {
		if !cycle.Issues[i].Resolved && cycle.Issues[i].File != "" {
			return &cycle.Issues[i], nil
		}
	}
	for i := range cycle.Issues {
		if !cycle.Issues[i].Resolved {
			return &cycle.Issues[i], nil
		}
	}

	if len(cycle.Improvements) == 0 {
		return nil, nil
	}
	best := 0
	sorted := make([]int, len(cycle.Improvements))
	for i := range sorted {
		sorted[i] = i
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		return priorityRank(cycle.Improvements[sorted[a]].Priority) >
			priorityRank(cycle.Improvements[sorted[b]].Priority)
	})
	best = sorted[0]
	return nil, &cycle.Improvements[best]
}

// aiPlan asks the provider for a structured plan. Returns nil when the
// provider is unavailable or the response does not parse.
func (p *Planner) aiPlan(ctx context.Context, cycle *models.CycleContext,
	issue *models.Issue, improvement *models.Improvement) *models.Plan {
	if p.router == nil || !p.router.Available() {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Produce a minimal, safe repair plan for exactly this one target.\n\n")
	if issue != nil {
		fmt.Fprintf(&sb, "Issue (%s): %s", issue.Type, issue.Message)
		if issue.File != "" {
			fmt.Fprintf(&sb, " [%s:%d]", issue.File, issue.Line)
		}
	} else {
		fmt.Fprintf(&sb, "Improvement (%s, %s): %s", improvement.Type, improvement.Priority, improvement.Description)
		if improvement.File != "" {
			fmt.Fprintf(&sb, " [%s:%d]", improvement.File, improvement.Line)
		}
	}
	sb.WriteString(fmt.Sprintf("\n\nConstraints: touch at most %d file(s), keep each under %d lines.",
		p.cfg.Limits.MaxFilesPerChange, p.cfg.Limits.MaxLinesPerFile))

	if avoid := p.avoidList(issue); avoid != "" {
		sb.WriteString("\n\nApproaches that already failed, do NOT repeat them:\n" + avoid)
	}

	if cycle.SearchResults != nil {
		for file, content := range cycle.SearchResults.FileContents {
			sb.WriteString("\n\nFile " + file + ":\n---\n" + truncateString(content, 6000) + "\n---")
		}
		if len(cycle.SearchResults.PriorCycles) > 0 {
			sb.WriteString("\n\nPrior related cycles:\n")
			for _, pc := range cycle.SearchResults.PriorCycles {
				sb.WriteString("- " + pc + "\n")
			}
		}
	}

	resp, err := p.router.Generate(ctx, ai.Request{Prompt: sb.String(), Schema: planSchema})
	if err != nil {
		if p.logger != nil {
			p.logger.Warnf("plan: AI planning failed: %v", err)
		}
		return nil
	}
	cycle.AICalls++
	cycle.TokenUsage.Add(resp.Usage)

	content := resp.Content
	if extracted, ok := ai.ExtractJSON(content); ok {
		content = extracted
	}
	var parsed struct {
		Description   string   `json:"description"`
		Steps         []string `json:"steps"`
		AffectedFiles []string `json:"affectedFiles"`
		Risk          string   `json:"risk"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.Description == "" {
		return nil
	}

	plan := &models.Plan{
		ID:            uuid.NewString(),
		Description:   parsed.Description,
		Steps:         parsed.Steps,
		AffectedFiles: parsed.AffectedFiles,
		Risk:          models.Risk(parsed.Risk),
	}
	switch plan.Risk {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
	default:
		plan.Risk = models.RiskMedium
	}
	if issue != nil {
		plan.TargetIssue = issue.ID
	} else {
		plan.TargetImprovement = improvement.ID
	}
	return plan
}

// avoidList summarizes previously failed fixes for the issue, so the
// planner does not retry a known-bad approach.
func (p *Planner) avoidList(issue *models.Issue) string {
	if p.patterns == nil || issue == nil {
		return ""
	}
	tried := p.patterns.AlreadyTried(models.TroubleCategory(issue.Type), issue.Message, issue.File)
	if len(tried) == 0 {
		return ""
	}
	return "- " + strings.Join(tried, "\n- ")
}

// fallbackPlan is the heuristic single-step plan used without AI.
func fallbackPlan(issue *models.Issue, improvement *models.Improvement) *models.Plan {
	plan := &models.Plan{ID: uuid.NewString(), Risk: models.RiskLow}
	if issue != nil {
		plan.Description = "fix " + issue.Type + ": " + issue.Message
		plan.TargetIssue = issue.ID
		if issue.File != "" {
			plan.AffectedFiles = []string{issue.File}
		}
	} else {
		plan.Description = "apply improvement: " + improvement.Description
		plan.TargetImprovement = improvement.ID
		if improvement.File != "" {
			plan.AffectedFiles = []string{improvement.File}
		}
	}
	plan.Steps = []string{plan.Description}
	return plan
}
