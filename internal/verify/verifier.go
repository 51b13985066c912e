// Package verify runs the post-implementation verification gate: build,
// auto-fix, circular-import check, tests, rollback and commit/push.
package verify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

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

// commandTimeout caps each build/test subprocess.
const commandTimeout = 10 * time.Minute

// noProgressLimit aborts the fix loop after this many consecutive
// attempts that did not reduce the error count.
const noProgressLimit = 2

// gitignoreEntries are the agent's own data directories, kept out of
// the workspace repository when autoUpdateGitignore is on.
var gitignoreEntries = []string{
	"snapshots/",
	"logs/",
	"reports/",
	"troubles/",
	"approvals/",
	"*.db",
}

// Result is the outcome of one verification run.
type Result struct {
	BuildPassed bool
	TestsPassed bool
	FixAttempts int
	RolledBack  bool
	Committed   bool
	Pushed      bool
	TestResult  *models.TestResult
	Message     string
}

// Verifier runs the verification gate for a cycle.
type Verifier struct {
	cfg       *config.Config
	guard     *guard.Guard
	router    *ai.Router
	snapshots *snapshot.Manager
	collector *trouble.Collector
	git       *Git
	bus       *events.Bus
	logger    logger.Logger
}

// NewVerifier wires a Verifier. router may be nil, disabling AI fixes.
func NewVerifier(cfg *config.Config, g *guard.Guard, router *ai.Router,
	snapshots *snapshot.Manager, collector *trouble.Collector,
	bus *events.Bus, log logger.Logger) *Verifier {
	return &Verifier{
		cfg:       cfg,
		guard:     g,
		router:    router,
		snapshots: snapshots,
		collector: collector,
		git:       NewGit(cfg.Workspace, log),
		bus:       bus,
		logger:    log,
	}
}

// Verify runs the full gate. A failing build or test suite rolls the
// workspace back to the cycle's snapshot; a clean run commits and
// optionally pushes.
func (v *Verifier) Verify(ctx context.Context, cycle *models.CycleContext) Result {
	var result Result

	output, err := v.runCommand(ctx, v.cfg.Commands.Build)
	if err != nil {
		v.collector.CaptureBuildOutput("verify", output)
		fixed, attempts := v.fixBuild(ctx, cycle, output)
		result.FixAttempts = attempts
		if !fixed {
			v.rollback(cycle, &result, "build unfixable after "+fmt.Sprint(attempts)+" attempts")
			return result
		}
	}
	result.BuildPassed = true

	if cycles := v.checkCircularImports(ctx); len(cycles) > 0 {
		v.collector.CaptureError("verify",
			fmt.Errorf("circular import: %s", strings.Join(cycles[0], " -> ")),
			"", models.TroubleDependencyError, models.SeverityHigh)
		v.rollback(cycle, &result, "circular import introduced")
		return result
	}

	testOutput, testErr := v.runCommand(ctx, v.cfg.Commands.Test)
	result.TestResult = parseTestOutput(testOutput, testErr)
	cycle.TestResults = result.TestResult
	if !result.TestResult.Passed {
		v.collector.CaptureTestOutput("verify", result.TestResult.Errors)
		v.rollback(cycle, &result, "tests failed")
		return result
	}
	result.TestsPassed = true

	v.commitAndPush(ctx, cycle, &result)
	result.Message = "verification passed"
	return result
}

// fixBuild repeatedly repairs parsed build errors until the build
// passes, attempts run out, or progress stalls. An attempt counts as
// progress when it reduced the error count or landed a change.
func (v *Verifier) fixBuild(ctx context.Context, cycle *models.CycleContext, output string) (bool, int) {
	maxAttempts := v.cfg.Limits.VerifyMaxRetries + 1
	prevCount := len(trouble.ParseBuildOutput(output))
	noProgress := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		errors := trouble.ParseBuildOutput(output)
		if len(errors) == 0 {
			// The build failed but produced nothing parseable; AI
			// repair has no target.
			return false, attempt - 1
		}

		changesBefore := len(cycle.ImplementedChanges)
		backups := v.applyFixes(ctx, cycle, errors)
		applied := len(cycle.ImplementedChanges) - changesBefore

		var err error
		output, err = v.runCommand(ctx, v.cfg.Commands.Build)
		if err == nil {
			return true, attempt
		}

		count := len(trouble.ParseBuildOutput(output))
		if fixProgress(prevCount, count, applied) {
			noProgress = 0
			if count < prevCount {
				prevCount = count
			}
			continue
		}
		noProgress++
		restoreBackups(backups)
		if noProgress >= noProgressLimit {
			if v.logger != nil {
				v.logger.Warnf("verify: no progress after %d attempts, aborting fix loop", noProgress)
			}
			return false, attempt
		}
	}
	return false, maxAttempts
}

// fixProgress reports whether a fix attempt moved the needle: fewer
// remaining errors or at least one newly applied change.
func fixProgress(prevErrors, curErrors, applied int) bool {
	return curErrors < prevErrors || applied > 0
}

// applyFixes repairs each error once, mechanical fixes before AI ones,
// returning backups of every file it touched.
func (v *Verifier) applyFixes(ctx context.Context, cycle *models.CycleContext, errors []trouble.ParsedError) map[string][]byte {
	backups := map[string][]byte{}

	for _, perr := range errors {
		if perr.File == "" {
			continue
		}
		class := Classify(perr)

		var err error
		switch class {
		case ClassDuplicatePath:
			err = v.fixDuplicatePath(cycle, perr.File)
		default:
			err = v.aiRepairFile(ctx, cycle, perr, class, backups)
		}
		if err != nil && v.logger != nil {
			v.logger.Debugf("verify: fix %s (%s): %v", perr.File, class, err)
		}
	}
	return backups
}

// fixDuplicatePath renames a file at a doubled-segment path (src/src/x)
// to its normalized location.
func (v *Verifier) fixDuplicatePath(cycle *models.CycleContext, file string) error {
	normalized := v.guard.NormalizePath(file)
	if normalized == file {
		return fmt.Errorf("path already normalized")
	}

	from := filepath.Join(v.cfg.Workspace, filepath.FromSlash(file))
	to := filepath.Join(v.cfg.Workspace, filepath.FromSlash(normalized))
	if _, err := os.Stat(from); err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	cycle.ImplementedChanges = append(cycle.ImplementedChanges, models.Change{
		File:       normalized,
		ChangeType: models.ChangeModify,
		Summary:    "moved from duplicated path " + file,
	})
	if v.logger != nil {
		v.logger.Infof("verify: renamed %s -> %s", file, normalized)
	}
	return nil
}

// aiRepairFile asks the AI for a whole-file fix, subject to the guard
// tiers: strictly protected files are never touched, conditionally
// protected ones need review approval.
func (v *Verifier) aiRepairFile(ctx context.Context, cycle *models.CycleContext,
	perr trouble.ParsedError, class ErrorClass, backups map[string][]byte) error {
	if v.router == nil || !v.router.Available() {
		return fmt.Errorf("no AI provider available")
	}
	if v.guard.IsStrictlyProtected(perr.File) {
		return fmt.Errorf("file is strictly protected")
	}

	full := filepath.Join(v.cfg.Workspace, filepath.FromSlash(perr.File))
	original, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("read %s: %w", perr.File, err)
	}

	prompt := fmt.Sprintf(`Fix this %s in the file below and return the COMPLETE corrected file content.
Do not add explanations or markdown fences.

Error: %s`, class, perr.Raw)
	if perr.Line > 0 {
		prompt += fmt.Sprintf(" (line %d)", perr.Line)
	}
	prompt += "\n\nFile " + perr.File + ":\n---\n" + string(original) + "\n---"

	resp, usedFallback, err := v.router.GenerateTracked(ctx, ai.Request{Prompt: prompt}, "verify", perr.File)
	if err != nil {
		return fmt.Errorf("generate fix: %w", err)
	}
	cycle.AICalls++
	cycle.TokenUsage.Add(resp.Usage)

	fixed, err := guard.CleanGeneratedCode(resp.Content)
	if err != nil {
		return fmt.Errorf("sanitize fix: %w", err)
	}

	if content := v.guard.ValidateCodeContent(fixed); !content.Safe {
		reviewer := v.guard.Reviewer()
		if reviewer == nil {
			return fmt.Errorf("unsafe content and no reviewer: %s", strings.Join(content.Warnings, ", "))
		}
		review := reviewer.ValidateCodeWithAI(ctx, fixed, "build fix for "+perr.File, content.Warnings)
		if !review.Approved {
			return fmt.Errorf("fix rejected by security review: %s", review.Reason)
		}
	}
	if v.guard.IsConditionallyProtected(perr.File) {
		reviewer := v.guard.Reviewer()
		if reviewer == nil {
			return fmt.Errorf("protected file and no reviewer")
		}
		review := reviewer.ReviewProtectedFileChange(ctx, perr.File, "build fix", fixed)
		if !review.Approved {
			return fmt.Errorf("protected file change rejected: %s", review.Reason)
		}
	}

	if _, ok := backups[full]; !ok {
		backups[full] = original
	}
	if err := store.AtomicWrite(full, []byte(fixed)); err != nil {
		return fmt.Errorf("write fix: %w", err)
	}
	if err := v.checkFile(ctx, perr.File); err != nil {
		store.AtomicWrite(full, original)
		return fmt.Errorf("single-file check: %w", err)
	}

	cycle.ImplementedChanges = append(cycle.ImplementedChanges, models.Change{
		File:       perr.File,
		ChangeType: models.ChangeModify,
		Summary:    fmt.Sprintf("auto-fix %s", class),
	})
	v.bus.Emit(events.Event{
		Type: events.Modification, CycleID: cycle.CycleID, Phase: "verify",
		Message: "auto-fixed " + perr.File,
		Detail:  map[string]string{"class": string(class), "fallback": fmt.Sprint(usedFallback)},
	})
	return nil
}

// checkFile runs the configured single-file check on a freshly
// repaired file so an unbuildable fix is caught before the next full
// build. No configured command means no check.
func (v *Verifier) checkFile(ctx context.Context, file string) error {
	if len(v.cfg.Commands.CheckFile) == 0 {
		return nil
	}
	argv := append(append([]string{}, v.cfg.Commands.CheckFile...), filepath.FromSlash(file))
	if _, err := v.runCommand(ctx, argv); err != nil {
		return err
	}
	return nil
}

func restoreBackups(backups map[string][]byte) {
	for path, data := range backups {
		store.AtomicWrite(path, data)
	}
}

// rollback restores the cycle's snapshot and records the failure.
func (v *Verifier) rollback(cycle *models.CycleContext, result *Result, reason string) {
	result.Message = reason
	cycle.RecordFailure("verify", reason)

	if cycle.SnapshotID == "" {
		return
	}
	if err := v.snapshots.Restore(cycle.SnapshotID); err != nil {
		if v.logger != nil {
			v.logger.Errorf("verify: rollback failed: %v", err)
		}
		return
	}
	result.RolledBack = true
	v.bus.Emit(events.Event{
		Type: events.Rollback, CycleID: cycle.CycleID, Phase: "verify",
		Message: reason, Detail: map[string]string{"snapshot": cycle.SnapshotID},
	})
	if v.logger != nil {
		v.logger.Warnf("verify: rolled back to snapshot %s (%s)", cycle.SnapshotID, reason)
	}
}

// checkCircularImports prefers the configured external checker; without
// one it falls back to the built-in relative-import scan.
func (v *Verifier) checkCircularImports(ctx context.Context) [][]string {
	if len(v.cfg.Commands.CircularCheck) > 0 {
		output, err := v.runCommand(ctx, v.cfg.Commands.CircularCheck)
		if err != nil || strings.Contains(strings.ToLower(output), "circular") {
			return [][]string{{"reported by " + v.cfg.Commands.CircularCheck[0]}}
		}
		return nil
	}

	cycles, err := DetectCircularImports(v.cfg.Workspace)
	if err != nil {
		if v.logger != nil {
			v.logger.Debugf("verify: circular check: %v", err)
		}
		return nil
	}
	return cycles
}

// commitAndPush commits the workspace changes and pushes when enabled.
// Both are best-effort: failures are logged, not fatal.
func (v *Verifier) commitAndPush(ctx context.Context, cycle *models.CycleContext, result *Result) {
	if len(cycle.ImplementedChanges) == 0 || !v.git.IsRepo(ctx) {
		return
	}

	if v.cfg.Git.AutoUpdateGitignore {
		if _, err := v.git.EnsureGitignore(gitignoreEntries); err != nil && v.logger != nil {
			v.logger.Warnf("verify: %v", err)
		}
	}

	changed, err := v.git.HasChanges(ctx)
	if err != nil || !changed {
		return
	}

	message := commitMessage(cycle)
	if err := v.git.CommitAll(ctx, message); err != nil {
		if v.logger != nil {
			v.logger.Warnf("verify: commit failed: %v", err)
		}
		return
	}
	result.Committed = true

	if !v.cfg.Git.AutoPush {
		return
	}
	branch, err := v.git.CurrentBranch(ctx)
	if err != nil {
		if v.logger != nil {
			v.logger.Warnf("verify: %v", err)
		}
		return
	}
	if err := v.git.Push(ctx, v.cfg.Git.PushRemote, branch, v.cfg.Git.AllowProtectedBranchPush); err != nil {
		if v.logger != nil {
			v.logger.Warnf("verify: push failed: %v", err)
		}
		return
	}
	result.Pushed = true
}

func commitMessage(cycle *models.CycleContext) string {
	if cycle.Plan != nil && cycle.Plan.Description != "" {
		return "auto: " + cycle.Plan.Description
	}
	return fmt.Sprintf("auto: improvement cycle %s (%d changes)",
		cycle.CycleID, len(cycle.ImplementedChanges))
}

// runCommand executes an argv command in the workspace with the
// verification timeout, returning scrubbed combined output.
func (v *Verifier) runCommand(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = v.cfg.Workspace
	out, err := cmd.CombinedOutput()
	output := ai.Scrub(string(out))
	if err != nil {
		return output, fmt.Errorf("%s: %w", argv[0], err)
	}
	return output, nil
}

// parseTestOutput extracts pass/fail counts from Go-style test output,
// falling back to the exit status.
func parseTestOutput(output string, runErr error) *models.TestResult {
	result := &models.TestResult{Passed: runErr == nil}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "--- PASS:"):
			result.PassedTests++
		case strings.HasPrefix(line, "--- FAIL:"):
			result.FailedTests++
			if len(result.Errors) < 10 {
				result.Errors = append(result.Errors, line)
			}
		case strings.HasPrefix(line, "FAIL") && len(result.Errors) < 10:
			result.Errors = append(result.Errors, line)
		}
	}
	result.TotalTests = result.PassedTests + result.FailedTests

	if runErr != nil && len(result.Errors) == 0 {
		result.Errors = append(result.Errors, runErr.Error())
	}
	return result
}
