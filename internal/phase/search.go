package phase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/history"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

// Search context bounds.
const (
	maxSearchFiles     = 5
	maxSearchFileBytes = 50 * 1024
	maxPriorCycles     = 5
)

var symbolRe = regexp.MustCompile(`(?m)^\s*(?:func|function|class|def|type|interface)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// Search gathers context for the planner: contents of the files the
// issues and improvements point at, their exported symbols, and prior
// cycle history touching the same files.
type Search struct {
	cfg     *config.Config
	history *history.Store
	logger  logger.Logger
}

// NewSearch creates the search phase. hist may be nil.
func NewSearch(cfg *config.Config, hist *history.Store, log logger.Logger) *Search {
	return &Search{cfg: cfg, history: hist, logger: log}
}

func (p *Search) Name() string { return "search" }

func (p *Search) Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult {
	results := &models.SearchResults{FileContents: map[string]string{}}

	for _, file := range p.targetFiles(cycle) {
		full := filepath.Join(p.cfg.Workspace, filepath.FromSlash(file))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() || info.Size() > maxSearchFileBytes {
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		results.FileContents[file] = string(data)

		for _, m := range symbolRe.FindAllStringSubmatch(string(data), -1) {
			results.Symbols = appendUniqueString(results.Symbols, m[1])
		}

		if p.history != nil {
			records, err := p.history.ForFile(ctx, file, maxPriorCycles)
			if err == nil {
				for _, rec := range records {
					summary := fmt.Sprintf("cycle %s (%s): %s", rec.CycleID, rec.Quality, rec.Summary)
					results.PriorCycles = appendUniqueString(results.PriorCycles, summary)
				}
			}
		}
	}

	cycle.SearchResults = results
	return success(fmt.Sprintf("gathered context for %d file(s)", len(results.FileContents)))
}

// targetFiles picks the files most relevant to this cycle: issue files
// first, then improvement files by priority.
func (p *Search) targetFiles(cycle *models.CycleContext) []string {
	seen := map[string]bool{}
	var files []string
	add := func(f string) {
		if f != "" && !seen[f] && len(files) < maxSearchFiles {
			seen[f] = true
			files = append(files, f)
		}
	}

	for _, issue := range cycle.Issues {
		add(issue.File)
	}

	improvements := make([]models.Improvement, len(cycle.Improvements))
	copy(improvements, cycle.Improvements)
	sort.SliceStable(improvements, func(i, j int) bool {
		return priorityRank(improvements[i].Priority) > priorityRank(improvements[j].Priority)
	})
	for _, imp := range improvements {
		add(imp.File)
	}
	return files
}
