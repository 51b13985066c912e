// Package abstraction groups recurring troubles into trouble patterns
// and generates prevention suggestions that feed the improvement queue.
package abstraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/similarity"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// Matching weights: a trouble joins an existing pattern when the
// combined regex/keyword score exceeds joinThreshold.
const (
	regexWeight      = 0.7
	keywordWeight    = 0.3
	joinThreshold    = 0.5
	groupSimilarity  = 0.5
	aiConsultCeiling = 0.7
	maxAISuggestions = 3
)

type patternsDoc struct {
	Patterns []models.TroublePattern `json:"patterns"`
}

// preventionRules maps trouble categories to canned prevention
// suggestions.
var preventionRules = map[models.TroubleCategory][]models.PreventionSuggestion{
	models.TroubleBuildError: {{
		Title:       "Add a pre-commit build hook",
		Description: "Run the build command in a pre-commit hook so broken builds never land.",
		Automated:   true, Confidence: 0.9,
	}},
	models.TroubleTestFailure: {{
		Title:       "Enforce a coverage threshold and pre-commit tests",
		Description: "Run the test suite in a pre-commit hook and fail below the coverage threshold.",
		Automated:   true, Confidence: 0.85,
	}},
	models.TroubleNamingConflict: {{
		Title:       "Adopt a module-prefix naming convention",
		Description: "Prefix exported identifiers with their module name and add a lint rule enforcing it.",
		Automated:   false, Confidence: 0.7,
	}},
	models.TroubleTypeError: {{
		Title:       "Enable strict type checking",
		Description: "Turn on the compiler's strict mode so type errors surface at build time.",
		Automated:   true, Confidence: 0.9,
	}},
	models.TroubleLintError: {{
		Title:       "Run the linter on staged files",
		Description: "Wire lint-staged so lint errors are caught before commit.",
		Automated:   true, Confidence: 0.8,
	}},
	models.TroubleDependencyError: {{
		Title:       "Schedule a dependency audit",
		Description: "Audit and update dependencies on a recurring schedule.",
		Automated:   true, Confidence: 0.75,
	}},
}

// Engine analyzes flushed troubles, maintains the persistent trouble
// patterns and forwards new prevention suggestions to the queue.
type Engine struct {
	store    *store.Store
	queue    *queue.ImprovementQueue
	provider ai.Provider
	logger   logger.Logger

	mu       sync.Mutex
	patterns []models.TroublePattern
	loaded   bool
}

// NewEngine creates an Engine persisting patterns to path. provider may
// be nil to skip AI consultation; q may be nil to skip queue feeding.
func NewEngine(path string, q *queue.ImprovementQueue, provider ai.Provider, log logger.Logger) (*Engine, error) {
	st, err := store.New(path, "", log)
	if err != nil {
		return nil, err
	}
	return &Engine{store: st, queue: q, provider: provider, logger: log}, nil
}

func (e *Engine) load() {
	if e.loaded {
		return
	}
	var doc patternsDoc
	if ok, _ := e.store.Load(&doc); ok {
		e.patterns = doc.Patterns
	}
	e.loaded = true
}

// Patterns returns a copy of the known trouble patterns.
func (e *Engine) Patterns() []models.TroublePattern {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.load()

	out := make([]models.TroublePattern, len(e.patterns))
	copy(out, e.patterns)
	return out
}

// Analyze groups the cycle's troubles into new or existing patterns,
// regenerates prevention suggestions and enqueues new ones. Returns the
// patterns that were created or updated.
func (e *Engine) Analyze(ctx context.Context, troubles []models.Trouble) []models.TroublePattern {
	if len(troubles) == 0 {
		return nil
	}

	e.mu.Lock()
	e.load()

	var touched []models.TroublePattern
	for _, group := range groupTroubles(troubles) {
		idx := e.matchExistingLocked(group[0])
		if idx >= 0 {
			e.patterns[idx].OccurrenceCount += len(group)
			e.patterns[idx].LastOccurredAt = latestOccurrence(group)
			e.patterns[idx].Confidence = confidenceFor(e.patterns[idx].OccurrenceCount)
			touched = append(touched, e.patterns[idx])
			continue
		}

		pattern := e.newPattern(group)
		e.patterns = append(e.patterns, pattern)
		touched = append(touched, pattern)
	}

	if err := e.store.Save(patternsDoc{Patterns: e.patterns}); err != nil && e.logger != nil {
		e.logger.Warnf("abstraction: persist patterns: %v", err)
	}
	e.mu.Unlock()

	// AI consultation and queue feeding happen outside the lock.
	for i := range touched {
		if touched[i].Confidence < aiConsultCeiling {
			e.consultAI(ctx, &touched[i])
		}
		e.enqueueSuggestions(touched[i])
	}
	return touched
}

// groupTroubles buckets troubles by category and message similarity.
func groupTroubles(troubles []models.Trouble) [][]models.Trouble {
	var groups [][]models.Trouble
	for _, t := range troubles {
		placed := false
		for i, group := range groups {
			if group[0].Category == t.Category &&
				similarity.Jaccard(group[0].Message, t.Message) > groupSimilarity {
				groups[i] = append(groups[i], t)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []models.Trouble{t})
		}
	}
	return groups
}

// matchExistingLocked scores the trouble against known patterns: a
// regex hit weighs 0.7, keyword overlap weighs 0.3.
func (e *Engine) matchExistingLocked(t models.Trouble) int {
	tokens := similarity.TokenSet(t.Message)

	best := -1
	bestScore := 0.0
	for i, p := range e.patterns {
		if p.Category != t.Category {
			continue
		}

		score := 0.0
		if p.Regex != "" {
			if re, err := regexp.Compile(p.Regex); err == nil && re.MatchString(t.Message) {
				score += regexWeight
			}
		}
		if len(p.Keywords) > 0 {
			hits := 0
			for _, kw := range p.Keywords {
				if _, ok := tokens[kw]; ok {
					hits++
				}
			}
			score += keywordWeight * float64(hits) / float64(len(p.Keywords))
		}
		if score > joinThreshold && score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}

// newPattern builds a TroublePattern from a group of similar troubles.
func (e *Engine) newPattern(group []models.Trouble) models.TroublePattern {
	keywords := commonKeywords(group)
	name := string(group[0].Category)
	if len(keywords) > 0 {
		name += ": " + strings.Join(keywords[:minInt(3, len(keywords))], " ")
	}

	pattern := models.TroublePattern{
		ID:              uuid.NewString(),
		Name:            name,
		Category:        group[0].Category,
		Keywords:        keywords,
		Regex:           regexFromKeywords(keywords),
		OccurrenceCount: len(group),
		Confidence:      confidenceFor(len(group)),
		LastOccurredAt:  latestOccurrence(group),
	}

	for _, suggestion := range preventionRules[pattern.Category] {
		suggestion.ID = uuid.NewString()
		pattern.PreventionSuggestions = append(pattern.PreventionSuggestions, suggestion)
	}
	return pattern
}

// consultAI asks the provider for up to 3 additional prevention
// suggestions for a low-confidence pattern. Failures are silent.
func (e *Engine) consultAI(ctx context.Context, p *models.TroublePattern) {
	if e.provider == nil || !e.provider.Available() {
		return
	}

	prompt := fmt.Sprintf(`Recurring development trouble pattern:
Category: %s
Name: %s
Keywords: %s
Occurrences: %d

Suggest up to %d concrete prevention measures.
Respond with JSON only: {"suggestions":[{"title":string,"description":string,"automated":bool,"confidence":number}]}`,
		p.Category, p.Name, strings.Join(p.Keywords, ", "), p.OccurrenceCount, maxAISuggestions)

	resp, err := e.provider.Generate(ctx, ai.Request{Prompt: prompt})
	if err != nil {
		if e.logger != nil {
			e.logger.Debugf("abstraction: AI consult failed: %v", err)
		}
		return
	}

	content := resp.Content
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		if extracted, ok := ai.ExtractJSON(content); ok {
			content = extracted
		}
	}
	var parsed struct {
		Suggestions []models.PreventionSuggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return
	}
	for i, s := range parsed.Suggestions {
		if i >= maxAISuggestions {
			break
		}
		s.ID = uuid.NewString()
		p.PreventionSuggestions = append(p.PreventionSuggestions, s)
	}
}

// enqueueSuggestions forwards the pattern's suggestions into the
// improvement queue with a boosted priority: occurrence count plus
// pattern confidence, automation and suggestion confidence bonuses,
// clamped to [0,100].
func (e *Engine) enqueueSuggestions(p models.TroublePattern) {
	if e.queue == nil {
		return
	}

	for _, s := range p.PreventionSuggestions {
		priority := 40 + p.OccurrenceCount
		priority += int(p.Confidence * 20)
		if s.Automated {
			priority += 10
		}
		priority += int(s.Confidence * 10)

		_, added, err := e.queue.Enqueue(models.QueuedImprovement{
			Source:                 "abstraction",
			Type:                   "prevention",
			Title:                  s.Title,
			Description:            s.Description,
			Priority:               queue.ClampPriority(priority),
			PreventionSuggestionID: s.ID,
			Metadata:               map[string]string{"troublePattern": p.ID},
		})
		if err != nil && e.logger != nil {
			e.logger.Warnf("abstraction: enqueue suggestion: %v", err)
		}
		if added && e.logger != nil {
			e.logger.Infof("abstraction: queued prevention %q", s.Title)
		}
	}
}

// commonKeywords returns tokens shared by a majority of the group,
// longest first.
func commonKeywords(group []models.Trouble) []string {
	counts := make(map[string]int)
	for _, t := range group {
		for tok := range similarity.TokenSet(t.Message) {
			counts[tok]++
		}
	}

	// Strict majority: a token seen in exactly half the group stays out.
	threshold := len(group)/2 + 1
	var keywords []string
	for tok, n := range counts {
		if n >= threshold && len(tok) > 2 {
			keywords = append(keywords, tok)
		}
	}
	sort.Slice(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > 8 {
		keywords = keywords[:8]
	}
	return keywords
}

func regexFromKeywords(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	escaped := make([]string, 0, minInt(3, len(keywords)))
	for _, kw := range keywords[:minInt(3, len(keywords))] {
		escaped = append(escaped, regexp.QuoteMeta(kw))
	}
	return "(?i)" + strings.Join(escaped, ".*")
}

func confidenceFor(occurrences int) float64 {
	c := 0.3 + 0.1*float64(occurrences)
	if c > 1.0 {
		return 1.0
	}
	return c
}

func latestOccurrence(group []models.Trouble) time.Time {
	latest := group[0].OccurredAt
	for _, t := range group[1:] {
		if t.OccurredAt.After(latest) {
			latest = t.OccurredAt
		}
	}
	return latest
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
