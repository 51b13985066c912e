// Package report renders per-cycle markdown reports. Reports are only
// written for cycles that performed real work.
package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/text"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// Writer renders cycle reports into a directory.
type Writer struct {
	dir    string
	md     goldmark.Markdown
	logger logger.Logger
}

// NewWriter creates a Writer targeting dir.
func NewWriter(dir string, log logger.Logger) *Writer {
	return &Writer{dir: dir, md: goldmark.New(), logger: log}
}

// ShouldWrite reports whether the cycle did enough to deserve a report:
// at least one implemented change, resolved issue or captured trouble.
func ShouldWrite(cycle *models.CycleContext, result models.CycleResult) bool {
	if result.SkippedEarly {
		return false
	}
	return len(cycle.ImplementedChanges) > 0 ||
		len(cycle.Issues) > 0 ||
		result.TroubleCount > 0
}

// Write renders the cycle report to YYYY-MM-DD-cycle-<shortId>.md and
// returns its path. The rendered markdown is re-parsed before writing;
// a document that fails to parse is rejected rather than written.
func (w *Writer) Write(cycle *models.CycleContext, result models.CycleResult) (string, error) {
	body := w.render(cycle, result)

	// Parse sanity gate: goldmark must accept the document.
	reader := text.NewReader([]byte(body))
	if node := w.md.Parser().Parse(reader); node == nil || !node.HasChildren() {
		return "", fmt.Errorf("generated report is not valid markdown")
	}

	name := time.Now().Format("2006-01-02") + "-cycle-" + shortID(cycle.CycleID) + ".md"
	path := filepath.Join(w.dir, name)
	if err := store.AtomicWrite(path, []byte(body)); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if w.logger != nil {
		w.logger.Infof("report: wrote %s", path)
	}
	return path, nil
}

func (w *Writer) render(cycle *models.CycleContext, result models.CycleResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Cycle %s\n\n", cycle.CycleID)
	fmt.Fprintf(&b, "- Started: %s\n", cycle.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", result.Duration.Round(time.Second))
	fmt.Fprintf(&b, "- Outcome: %s (quality: %s)\n", outcome(result), result.Quality)
	if result.FailedPhase != "" {
		fmt.Fprintf(&b, "- Failed phase: %s\n", result.FailedPhase)
	}
	fmt.Fprintf(&b, "- AI calls: %d (tokens: %d in / %d out)\n\n",
		cycle.AICalls, cycle.TokenUsage.InputTokens, cycle.TokenUsage.OutputTokens)

	if len(cycle.Issues) > 0 {
		b.WriteString("## Issues\n\n")
		for _, issue := range cycle.Issues {
			marker := " "
			if issue.Resolved {
				marker = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s: %s", marker, issue.Type, issue.Message)
			if issue.File != "" {
				fmt.Fprintf(&b, " (`%s`)", issue.File)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if cycle.Plan != nil {
		b.WriteString("## Plan\n\n")
		fmt.Fprintf(&b, "%s (risk: %s)\n\n", cycle.Plan.Description, cycle.Plan.Risk)
		for _, step := range cycle.Plan.Steps {
			fmt.Fprintf(&b, "1. %s\n", step)
		}
		b.WriteString("\n")
	}

	if len(cycle.ImplementedChanges) > 0 {
		b.WriteString("## Changes\n\n")
		for _, change := range cycle.ImplementedChanges {
			fmt.Fprintf(&b, "- %s `%s`", change.ChangeType, change.File)
			if change.Summary != "" {
				fmt.Fprintf(&b, " — %s", change.Summary)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if cycle.TestResults != nil {
		b.WriteString("## Tests\n\n")
		fmt.Fprintf(&b, "- Passed: %d / %d\n", cycle.TestResults.PassedTests, cycle.TestResults.TotalTests)
		for _, e := range cycle.TestResults.Errors {
			fmt.Fprintf(&b, "- Error: %s\n", e)
		}
		b.WriteString("\n")
	}

	if result.TroubleCount > 0 {
		b.WriteString("## Troubles\n\n")
		fmt.Fprintf(&b, "%d trouble(s) captured this cycle.\n\n", result.TroubleCount)
		for _, t := range cycle.Troubles {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", t.Category, t.Severity, t.Message)
		}
		b.WriteString("\n")
	}

	if len(cycle.UsedPatterns) > 0 {
		b.WriteString("## Patterns applied\n\n")
		for _, id := range cycle.UsedPatterns {
			fmt.Fprintf(&b, "- %s\n", id)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// shortID keeps the trailing random segment of a cycle id for the
// report filename; the date prefix already carries the timestamp.
func shortID(id string) string {
	if i := strings.LastIndex(id, "_"); i >= 0 && i+1 < len(id) {
		return id[i+1:]
	}
	return id
}

func outcome(result models.CycleResult) string {
	if result.Success {
		return "success"
	}
	return "failure"
}
