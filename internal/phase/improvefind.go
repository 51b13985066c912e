package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/goal"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/pattern"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
)

// Marker priorities for comment-marker findings. Low-priority markers
// are noise and never become improvements.
var markerPriorities = map[string]models.Priority{
	"TODO":     models.PriorityMedium,
	"FIXME":    models.PriorityHigh,
	"HACK":     models.PriorityMedium,
	"NOTE":     models.PriorityLow,
	"OPTIMIZE": models.PriorityLow,
}

var markerRe = regexp.MustCompile(`(?://|#)\s*(TODO|FIXME|HACK|NOTE|OPTIMIZE)\b[:\s]*(.*)`)

// Structural heuristics.
const (
	longFunctionLines     = 50
	veryLongFunctionLines = 100
	longLineChars         = 120
	ruleEngineMinConf     = 0.8
	maxAIScanFiles        = 10
	queueMergeCount       = 5
	goalMergeCount        = 3
)

var funcStartRe = regexp.MustCompile(`^\s*(?:func\s|function\s|def\s|.*=>\s*\{)`)

// ImproveFind discovers improvement candidates from comment markers,
// structural heuristics, the learned-pattern rule engine, a bounded AI
// scan and the persistent improvement queue.
type ImproveFind struct {
	cfg      *config.Config
	patterns *pattern.Repository
	queue    *queue.ImprovementQueue
	goals    *goal.Repository
	router   *ai.Router
	logger   logger.Logger
}

// NewImproveFind creates the improve-find phase. goals and router may
// be nil.
func NewImproveFind(cfg *config.Config, patterns *pattern.Repository,
	q *queue.ImprovementQueue, goals *goal.Repository, router *ai.Router, log logger.Logger) *ImproveFind {
	return &ImproveFind{cfg: cfg, patterns: patterns, queue: q, goals: goals, router: router, logger: log}
}

func (p *ImproveFind) Name() string { return "improve-find" }

func (p *ImproveFind) Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult {
	files, err := listSourceFiles(p.cfg.Workspace, maxScanFiles)
	if err != nil && p.logger != nil {
		p.logger.Warnf("improve-find: scan: %v", err)
	}

	covered := map[string]bool{}
	for _, f := range files {
		found := p.scanMarkers(f)
		found = append(found, p.scanStructure(f)...)
		if len(found) > 0 {
			covered[f.Path] = true
		}
		cycle.Improvements = append(cycle.Improvements, found...)
	}

	p.applyRuleEngine(cycle, files, covered)
	p.aiScan(ctx, cycle, files, covered)
	p.mergeQueue(cycle)
	p.mergeGoals(cycle)
	p.recommendTools(cycle)

	return success(fmt.Sprintf("found %d improvement candidate(s)", len(cycle.Improvements)))
}

func (p *ImproveFind) scanMarkers(f pattern.File) []models.Improvement {
	var out []models.Improvement
	for i, line := range strings.Split(f.Content, "\n") {
		m := markerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		marker := m[1]
		priority := markerPriorities[marker]
		if priority == models.PriorityLow {
			continue
		}
		desc := strings.TrimSpace(m[2])
		if desc == "" {
			desc = marker + " marker"
		}
		out = append(out, models.Improvement{
			ID:          uuid.NewString(),
			Type:        "marker",
			Description: marker + ": " + desc,
			Priority:    priority,
			File:        f.Path,
			Line:        i + 1,
			Source:      "marker-scan",
		})
	}
	return out
}

// scanStructure flags over-long functions and over-long lines.
func (p *ImproveFind) scanStructure(f pattern.File) []models.Improvement {
	var out []models.Improvement
	lines := strings.Split(f.Content, "\n")

	longLines := 0
	for _, line := range lines {
		if len(line) > longLineChars {
			longLines++
		}
	}
	if longLines > 3 {
		out = append(out, models.Improvement{
			ID:          uuid.NewString(),
			Type:        "structure",
			Description: fmt.Sprintf("%d lines exceed %d characters", longLines, longLineChars),
			Priority:    models.PriorityLow,
			File:        f.Path,
			Source:      "structure-scan",
		})
	}

	funcStart := -1
	depth := 0
	for i, line := range lines {
		if funcStart < 0 && funcStartRe.MatchString(line) {
			funcStart = i
			depth = 0
		}
		if funcStart < 0 {
			continue
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= 0 && i > funcStart {
			length := i - funcStart + 1
			if length > longFunctionLines {
				priority := models.PriorityMedium
				if length > veryLongFunctionLines {
					priority = models.PriorityHigh
				}
				out = append(out, models.Improvement{
					ID:          uuid.NewString(),
					Type:        "structure",
					Description: fmt.Sprintf("function of %d lines starting at line %d", length, funcStart+1),
					Priority:    priority,
					File:        f.Path,
					Line:        funcStart + 1,
					Source:      "structure-scan",
				})
			}
			funcStart = -1
		}
	}
	return out
}

// applyRuleEngine runs the learned patterns over the scanned files.
// Hits above the confidence bar become high-priority improvements.
func (p *ImproveFind) applyRuleEngine(cycle *models.CycleContext, files []pattern.File, covered map[string]bool) {
	engine := pattern.NewRuleEngine(p.patterns.Snapshot(), p.logger)
	matches := engine.MatchAll(files)

	for _, m := range matches {
		if m.Confidence <= ruleEngineMinConf {
			continue
		}
		cycle.PatternMatches++
		cycle.UsedPatterns = appendUniqueString(cycle.UsedPatterns, m.PatternID)
		covered[m.File] = true
		cycle.Improvements = append(cycle.Improvements, models.Improvement{
			ID:          uuid.NewString(),
			Type:        "pattern",
			Description: "learned pattern match: " + m.MatchedContent,
			Priority:    models.PriorityHigh,
			File:        m.File,
			Line:        m.Line,
			Source:      "pattern:" + m.PatternID,
		})
	}
}

// aiScan asks the AI for suggestions on the files no other scanner
// covered. Skipped entirely when no provider is available or when more
// than 10 files remain uncovered.
func (p *ImproveFind) aiScan(ctx context.Context, cycle *models.CycleContext, files []pattern.File, covered map[string]bool) {
	if p.router == nil || !p.router.Available() {
		return
	}

	uncovered := uncoveredFiles(files, covered)
	if len(uncovered) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(`Review these source files and suggest concrete, small improvements.
Respond with JSON only: {"improvements":[{"file":string,"line":number,"description":string,"priority":"low"|"medium"|"high"}]}
Suggest at most 5.`)
	for _, f := range uncovered {
		sb.WriteString("\n\nFile " + f.Path + ":\n---\n")
		sb.WriteString(truncateString(f.Content, 4000))
		sb.WriteString("\n---")
	}

	resp, err := p.router.Generate(ctx, ai.Request{Prompt: sb.String()})
	if err != nil {
		if p.logger != nil {
			p.logger.Debugf("improve-find: AI scan failed: %v", err)
		}
		return
	}
	cycle.AICalls++
	cycle.TokenUsage.Add(resp.Usage)

	content := resp.Content
	if extracted, ok := ai.ExtractJSON(content); ok {
		content = extracted
	}
	var parsed struct {
		Improvements []struct {
			File        string `json:"file"`
			Line        int    `json:"line"`
			Description string `json:"description"`
			Priority    string `json:"priority"`
		} `json:"improvements"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return
	}
	for _, s := range parsed.Improvements {
		priority := models.Priority(s.Priority)
		switch priority {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		default:
			priority = models.PriorityLow
		}
		cycle.Improvements = append(cycle.Improvements, models.Improvement{
			ID:          uuid.NewString(),
			Type:        "ai-suggestion",
			Description: s.Description,
			Priority:    priority,
			File:        s.File,
			Line:        s.Line,
			Source:      "ai-scan",
		})
	}
}

// uncoveredFiles returns the files no scanner covered, or nil when
// more than maxAIScanFiles remain uncovered.
func uncoveredFiles(files []pattern.File, covered map[string]bool) []pattern.File {
	var out []pattern.File
	for _, f := range files {
		if !covered[f.Path] {
			out = append(out, f)
		}
	}
	if len(out) > maxAIScanFiles {
		return nil
	}
	return out
}

// mergeQueue pulls the top pending queue items into this cycle.
func (p *ImproveFind) mergeQueue(cycle *models.CycleContext) {
	items, err := p.queue.Dequeue(queueMergeCount)
	if err != nil {
		if p.logger != nil {
			p.logger.Warnf("improve-find: dequeue: %v", err)
		}
		return
	}
	if cycle.QueuedItemIDs == nil {
		cycle.QueuedItemIDs = map[string]string{}
	}
	for _, item := range items {
		improvement := models.Improvement{
			ID:          uuid.NewString(),
			Type:        item.Type,
			Description: item.Title + ": " + item.Description,
			Priority:    queuePriorityToLevel(item.Priority),
			File:        item.RelatedFile,
			Source:      "queue",
		}
		cycle.QueuedItemIDs[improvement.ID] = item.ID
		cycle.Improvements = append(cycle.Improvements, improvement)
	}
}

// mergeGoals surfaces the top active goals as improvement candidates so
// the planner can pick goal work when nothing more urgent exists.
func (p *ImproveFind) mergeGoals(cycle *models.CycleContext) {
	if p.goals == nil {
		return
	}
	active := p.goals.Active()
	if len(active) > goalMergeCount {
		active = active[:goalMergeCount]
	}
	for _, g := range active {
		desc := g.Title
		if g.Description != "" {
			desc += ": " + g.Description
		}
		cycle.Improvements = append(cycle.Improvements, models.Improvement{
			ID:          uuid.NewString(),
			Type:        "goal",
			Description: fmt.Sprintf("%s (progress %.0f%%)", desc, g.Progress*100),
			Priority:    queuePriorityToLevel(g.Priority),
			Source:      "goal:" + g.ID,
		})
	}
}

// toolRules maps a marker file to the tool configs that usually
// accompany it. A workspace with the marker but none of the configs
// gets a low-priority adoption recommendation.
var toolRules = []struct {
	marker      string
	configs     []string
	description string
}{
	{
		marker:      "package.json",
		configs:     []string{".eslintrc", ".eslintrc.json", ".eslintrc.js", "eslint.config.js", "eslint.config.mjs"},
		description: "adopt a linter (no eslint configuration found)",
	},
	{
		marker:      "package.json",
		configs:     []string{".prettierrc", ".prettierrc.json", "prettier.config.js"},
		description: "adopt a code formatter (no prettier configuration found)",
	},
	{
		marker:      "go.mod",
		configs:     []string{".golangci.yml", ".golangci.yaml"},
		description: "adopt a linter (no golangci-lint configuration found)",
	},
}

// recommendTools surfaces missing developer tooling as low-priority
// improvements.
func (p *ImproveFind) recommendTools(cycle *models.CycleContext) {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(p.cfg.Workspace, name))
		return err == nil
	}

	for _, rule := range toolRules {
		if !exists(rule.marker) {
			continue
		}
		found := false
		for _, cfg := range rule.configs {
			if exists(cfg) {
				found = true
				break
			}
		}
		if found {
			continue
		}
		cycle.Improvements = append(cycle.Improvements, models.Improvement{
			ID:          uuid.NewString(),
			Type:        "tooling",
			Description: rule.description,
			Priority:    models.PriorityLow,
			Source:      "tool-scan",
		})
	}
}

func queuePriorityToLevel(p int) models.Priority {
	switch {
	case p >= 70:
		return models.PriorityHigh
	case p >= 40:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func appendUniqueString(dst []string, s string) []string {
	for _, existing := range dst {
		if existing == s {
			return dst
		}
	}
	return append(dst, s)
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
