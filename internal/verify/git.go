package verify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
)

// pushTimeout caps the network portion of a verify run.
const pushTimeout = 60 * time.Second

// protectedBranches may only be pushed with explicit configuration.
var protectedBranches = map[string]bool{"main": true, "master": true}

// Git runs git subcommands in the workspace with argv-only construction.
type Git struct {
	workdir string
	logger  logger.Logger
}

// NewGit creates a Git helper rooted at workdir.
func NewGit(workdir string, log logger.Logger) *Git {
	return &Git{workdir: workdir, logger: log}
}

func (g *Git) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = g.workdir
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("git %s: %w (%s)", args[0], err, output)
	}
	return output, nil
}

// IsRepo reports whether the workspace is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context) bool {
	out, err := g.run(ctx, 10*time.Second, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, 10*time.Second, "rev-parse", "--abbrev-ref", "HEAD")
}

// HasChanges reports whether the work tree has uncommitted changes.
func (g *Git) HasChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, 30*time.Second, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CommitAll stages everything and commits with the given message.
func (g *Git) CommitAll(ctx context.Context, message string) error {
	if _, err := g.run(ctx, 30*time.Second, "add", "-A"); err != nil {
		return err
	}
	if _, err := g.run(ctx, 30*time.Second, "commit", "-m", message); err != nil {
		return err
	}
	return nil
}

// Push pushes the branch to the remote. Pushes to main/master are
// refused unless allowProtected is set.
func (g *Git) Push(ctx context.Context, remote, branch string, allowProtected bool) error {
	if protectedBranches[branch] && !allowProtected {
		return fmt.Errorf("refusing to push protected branch %q", branch)
	}
	_, err := g.run(ctx, pushTimeout, "push", remote, branch)
	return err
}

// EnsureGitignore appends any missing entries to the workspace
// .gitignore, creating the file if needed. Returns true if it changed.
func (g *Git) EnsureGitignore(entries []string) (bool, error) {
	path := filepath.Join(g.workdir, ".gitignore")

	existing := map[string]bool{}
	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		for _, line := range lines {
			existing[strings.TrimSpace(line)] = true
		}
	}

	changed := false
	for _, entry := range entries {
		if !existing[entry] {
			lines = append(lines, entry)
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("update .gitignore: %w", err)
	}
	if g.logger != nil {
		g.logger.Infof("verify: updated .gitignore")
	}
	return true, nil
}
