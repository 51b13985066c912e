package pattern

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

// File is one candidate for rule matching: a path and its content.
type File struct {
	Path    string
	Content string
}

// compiledPattern pairs a pattern with its precompiled matchers.
type compiledPattern struct {
	pattern models.LearnedPattern
	globs   []string
	regexes []*regexp.Regexp
	codes   []string
}

// RuleEngine matches learned patterns against candidate files. It is
// built from an immutable repository snapshot taken at phase entry;
// patterns whose conditions fail to compile are skipped with a warning.
type RuleEngine struct {
	compiled []compiledPattern
	logger   logger.Logger
}

// NewRuleEngine compiles the given pattern snapshot.
func NewRuleEngine(patterns []models.LearnedPattern, log logger.Logger) *RuleEngine {
	engine := &RuleEngine{logger: log}

	for _, p := range patterns {
		cp := compiledPattern{pattern: p}
		valid := true
		for _, cond := range p.Conditions {
			switch cond.Type {
			case models.ConditionFileGlob:
				if !doublestar.ValidatePattern(cond.Value) {
					valid = false
				} else {
					cp.globs = append(cp.globs, cond.Value)
				}
			case models.ConditionRegex:
				re, err := regexp.Compile(cond.Value)
				if err != nil {
					valid = false
				} else {
					cp.regexes = append(cp.regexes, re)
				}
			case models.ConditionErrorCode:
				cp.codes = append(cp.codes, cond.Value)
			default:
				valid = false
			}
			if !valid {
				break
			}
		}
		if !valid {
			if log != nil {
				log.Warnf("pattern: skipping %s, condition failed to compile", p.ID)
			}
			continue
		}
		engine.compiled = append(engine.compiled, cp)
	}
	return engine
}

// MatchAll runs every pattern against every file. A pattern matches a
// file only when all of its conditions are satisfied; the returned
// confidence is copied from the pattern's stats.
func (e *RuleEngine) MatchAll(files []File) []models.PatternMatch {
	var matches []models.PatternMatch
	for _, f := range files {
		for _, cp := range e.compiled {
			if m, ok := cp.match(f); ok {
				matches = append(matches, m)
			}
		}
	}
	return matches
}

// match evaluates one compiled pattern against one file.
func (cp *compiledPattern) match(f File) (models.PatternMatch, bool) {
	for _, glob := range cp.globs {
		ok, err := doublestar.Match(glob, f.Path)
		if err != nil || !ok {
			return models.PatternMatch{}, false
		}
	}

	line := 0
	matched := ""
	for _, re := range cp.regexes {
		loc := re.FindStringIndex(f.Content)
		if loc == nil {
			return models.PatternMatch{}, false
		}
		line = 1 + strings.Count(f.Content[:loc[0]], "\n")
		matched = f.Content[loc[0]:loc[1]]
	}

	// Error-code conditions match against the file content (build logs
	// embedded in context) since candidate files carry no diagnostics.
	for _, code := range cp.codes {
		if !strings.Contains(f.Content, code) {
			return models.PatternMatch{}, false
		}
	}

	return models.PatternMatch{
		PatternID:      cp.pattern.ID,
		File:           f.Path,
		Line:           line,
		MatchedContent: matched,
		Confidence:     cp.pattern.Stats.Confidence,
	}, true
}
