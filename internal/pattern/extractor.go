package pattern

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/similarity"
)

// templateMaxChars is the largest before/after size still stored as a
// literal template; larger solutions become AI-prompt templates.
const templateMaxChars = 500

// conditionMergeThreshold is the value-level similarity above which two
// condition sets are considered the same pattern.
const conditionMergeThreshold = 0.8

// failureBucketThreshold groups failed fixes for the same underlying
// trouble.
const failureBucketThreshold = 0.7

// keywordRules maps problem keywords to the regex condition learned for
// them.
var keywordRules = []struct {
	keyword string
	regex   string
	name    string
}{
	{"console.log", `console\.log\(`, "console-log-left-in"},
	{"unused import", `^import\s+.*$`, "unused-import"},
	{"any type", `:\s*any\b`, "any-type-usage"},
	{"todo", `(?i)//\s*todo`, "todo-marker"},
	{"empty catch", `catch\s*\([^)]*\)\s*\{\s*\}`, "empty-catch-block"},
	{"magic number", `[^\w.]\d{3,}[^\w.]`, "magic-number"},
	{"long function", `function\s+\w+`, "long-function"},
}

// Extractor derives new learned patterns from successful solutions and
// records failure patterns from failed fixes.
type Extractor struct {
	repo   *Repository
	logger logger.Logger
}

// NewExtractor creates an Extractor writing into repo.
func NewExtractor(repo *Repository, log logger.Logger) *Extractor {
	return &Extractor{repo: repo, logger: log}
}

// Extract derives a pattern from one successful fix and persists it,
// merging into an existing pattern when the condition sets are
// near-identical. Returns the stored pattern's id.
func (e *Extractor) Extract(ec models.ExtractionContext) (string, error) {
	if !ec.Success {
		return "", fmt.Errorf("extraction requires a successful solution")
	}

	conditions := e.deriveConditions(ec)
	if len(conditions) == 0 {
		return "", fmt.Errorf("no conditions derivable from problem %q", ec.Problem)
	}
	solution := e.deriveSolution(ec)

	// Merge with an existing near-identical pattern instead of growing
	// the repository with duplicates.
	if existing, ok := e.findSimilar(conditions); ok {
		existing.Solution = solution
		if err := e.repo.Update(existing, "merged from new extraction"); err != nil {
			return "", err
		}
		if err := e.repo.UpdateConfidence(existing.ID, true); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	p := models.LearnedPattern{
		ID:         uuid.NewString(),
		Name:       e.deriveName(ec),
		Version:    1,
		Conditions: conditions,
		Solution:   solution,
		Stats: models.PatternStats{
			UsageCount:   1,
			SuccessCount: 1,
			Confidence:   1.0,
			LastUsed:     time.Now(),
			Phase:        models.PatternPhaseInitial,
		},
		CreatedAt: time.Now(),
	}
	if err := e.repo.Add(p); err != nil {
		return "", err
	}
	if e.logger != nil {
		e.logger.Infof("pattern: extracted %q from successful fix", p.Name)
	}
	return p.ID, nil
}

// deriveConditions builds the condition set: a generalized file glob, a
// keyword-table regex and the error code when present.
func (e *Extractor) deriveConditions(ec models.ExtractionContext) []models.PatternCondition {
	var conditions []models.PatternCondition

	if glob := generalizeGlob(ec.ProblemFile); glob != "" {
		conditions = append(conditions, models.PatternCondition{
			Type:  models.ConditionFileGlob,
			Value: glob,
		})
	}

	lower := strings.ToLower(ec.Problem)
	for _, rule := range keywordRules {
		if strings.Contains(lower, rule.keyword) {
			conditions = append(conditions, models.PatternCondition{
				Type:  models.ConditionRegex,
				Value: rule.regex,
			})
			break
		}
	}

	if ec.ErrorCode != "" {
		conditions = append(conditions, models.PatternCondition{
			Type:  models.ConditionErrorCode,
			Value: ec.ErrorCode,
		})
	}
	return conditions
}

// generalizeGlob widens a concrete path into a glob keyed by its folder
// class and extension.
func generalizeGlob(path string) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}

	normalized := filepath.ToSlash(path)
	for _, class := range []string{"src", "tests", "lib", "internal", "cmd"} {
		if strings.HasPrefix(normalized, class+"/") {
			return class + "/**/*" + ext
		}
	}
	return "**/*" + ext
}

// deriveSolution stores a literal template when both sides are small,
// otherwise an AI-prompt template referencing the solution summary.
func (e *Extractor) deriveSolution(ec models.ExtractionContext) models.PatternSolution {
	if ec.Before != "" && ec.After != "" &&
		len(ec.Before) <= templateMaxChars && len(ec.After) <= templateMaxChars {
		return models.PatternSolution{
			Type:    models.SolutionTemplate,
			Content: ec.After,
		}
	}
	summary := ec.Solution
	if summary == "" {
		summary = ec.Problem
	}
	return models.PatternSolution{
		Type:    models.SolutionAIPrompt,
		Content: "Apply the previously successful approach: " + summary,
	}
}

func (e *Extractor) deriveName(ec models.ExtractionContext) string {
	lower := strings.ToLower(ec.Problem)
	for _, rule := range keywordRules {
		if strings.Contains(lower, rule.keyword) {
			return rule.name
		}
	}
	name := ec.Problem
	if len(name) > 60 {
		name = name[:60]
	}
	return name
}

// findSimilar looks for an existing pattern whose condition values are
// near-identical (value-level similarity > 0.8, same condition count).
func (e *Extractor) findSimilar(conditions []models.PatternCondition) (models.LearnedPattern, bool) {
	for _, candidate := range e.repo.Snapshot() {
		if len(candidate.Conditions) != len(conditions) {
			continue
		}
		allSimilar := true
		for i, cond := range conditions {
			other := candidate.Conditions[i]
			if other.Type != cond.Type || similarity.Ratio(other.Value, cond.Value) <= conditionMergeThreshold {
				allSimilar = false
				break
			}
		}
		if allSimilar {
			return candidate, true
		}
	}
	return models.LearnedPattern{}, false
}

// RecordFailure stores a failed fix so future phases can query "already
// tried" attempts. Failures with similar messages (>= 0.7) in the same
// category and file bucket together with an occurrence count.
func (e *Extractor) RecordFailure(category models.TroubleCategory, message, file string, attemptedFixes []string, reason string) error {
	return e.repo.upsertFailure(func(existing []models.FailurePattern) []models.FailurePattern {
		for i := range existing {
			if existing[i].TroubleCategory != category || existing[i].TroubleFile != file {
				continue
			}
			if similarity.Jaccard(existing[i].TroubleMessage, message) >= failureBucketThreshold {
				existing[i].OccurrenceCount++
				existing[i].AttemptedFixes = appendUnique(existing[i].AttemptedFixes, attemptedFixes)
				existing[i].FailureReason = reason
				existing[i].LastSeenAt = time.Now()
				return existing
			}
		}
		return append(existing, models.FailurePattern{
			ID:              uuid.NewString(),
			TroubleCategory: category,
			TroubleMessage:  message,
			TroubleFile:     file,
			AttemptedFixes:  attemptedFixes,
			FailureReason:   reason,
			OccurrenceCount: 1,
			LastSeenAt:      time.Now(),
		})
	})
}

// AlreadyTried returns the fixes previously attempted for a similar
// trouble, or nil when no failure bucket matches.
func (e *Extractor) AlreadyTried(category models.TroubleCategory, message, file string) []string {
	for _, fp := range e.repo.FailurePatterns() {
		if fp.TroubleCategory != category || fp.TroubleFile != file {
			continue
		}
		if similarity.Jaccard(fp.TroubleMessage, message) >= failureBucketThreshold {
			return fp.AttemptedFixes
		}
	}
	return nil
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if _, ok := seen[s]; !ok {
			dst = append(dst, s)
			seen[s] = struct{}{}
		}
	}
	return dst
}
