// Package phase implements the stages of the improvement cycle. The
// orchestrator runs them strictly in order, each mutating the shared
// cycle context.
package phase

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/pattern"
)

// Phase is one stage of the cycle pipeline.
type Phase interface {
	Name() string
	Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult
}

// sourceExts are the file types phases scan and modify.
var sourceExts = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true,
}

// skipDirs are never scanned.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "dist": true, "vendor": true,
	"snapshots": true, "logs": true, "reports": true,
}

// maxScanFiles caps how many source files one phase reads.
const maxScanFiles = 200

// maxFileBytes skips files larger than this during scans.
const maxFileBytes = 256 * 1024

// listSourceFiles walks root and returns up to max source files with
// their contents, workspace-relative paths.
func listSourceFiles(root string, max int) ([]pattern.File, error) {
	var files []pattern.File
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= max {
			return filepath.SkipAll
		}
		if !sourceExts[filepath.Ext(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, pattern.File{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	return files, err
}

// runCommand executes an argv command in workdir, returning scrubbed
// combined output.
func runCommand(ctx context.Context, workdir string, argv []string, timeout time.Duration) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	output := ai.Scrub(string(out))
	if err != nil {
		return output, fmt.Errorf("%s: %w", argv[0], err)
	}
	return output, nil
}

// priorityRank orders improvement priorities for target selection.
func priorityRank(p models.Priority) int {
	switch p {
	case models.PriorityHigh:
		return 2
	case models.PriorityMedium:
		return 1
	default:
		return 0
	}
}

func success(message string) models.PhaseResult {
	return models.PhaseResult{Success: true, Message: message}
}

func failure(message string, fault *models.Fault) models.PhaseResult {
	return models.PhaseResult{Success: false, Message: message, Fault: fault}
}
