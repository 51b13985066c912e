package phase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/guard"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// TestGen generates tests for the files the implement phase touched.
// Missing AI or unsupported file types skip silently; test generation
// never fails a cycle on its own.
type TestGen struct {
	cfg    *config.Config
	guard  *guard.Guard
	router *ai.Router
	logger logger.Logger
}

// NewTestGen creates the test-gen phase.
func NewTestGen(cfg *config.Config, g *guard.Guard, router *ai.Router, log logger.Logger) *TestGen {
	return &TestGen{cfg: cfg, guard: g, router: router, logger: log}
}

func (p *TestGen) Name() string { return "test-gen" }

func (p *TestGen) Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult {
	if len(cycle.ImplementedChanges) == 0 {
		return success("no changes to test")
	}
	if p.router == nil || !p.router.Available() {
		return success("skipped: no AI provider")
	}

	generated := 0
	for _, change := range cycle.ImplementedChanges {
		if change.ChangeType == models.ChangeDelete {
			continue
		}
		testPath := testFilePath(change.File)
		if testPath == "" || isTestFile(change.File) {
			continue
		}
		if err := p.generateTest(ctx, cycle, change.File, testPath); err != nil {
			if p.logger != nil {
				p.logger.Warnf("test-gen: %s: %v", change.File, err)
			}
			continue
		}
		generated++
	}
	return success(fmt.Sprintf("generated %d test file(s)", generated))
}

func (p *TestGen) generateTest(ctx context.Context, cycle *models.CycleContext, file, testPath string) error {
	full := filepath.Join(p.cfg.Workspace, filepath.FromSlash(file))
	source, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	existing := ""
	testFull := filepath.Join(p.cfg.Workspace, filepath.FromSlash(testPath))
	if data, err := os.ReadFile(testFull); err == nil {
		existing = string(data)
	}

	var sb strings.Builder
	sb.WriteString("Write unit tests for the file below. Return the COMPLETE test file content for " + testPath + ", no explanations, no markdown fences.\n")
	sb.WriteString("Cover the changed behavior: " + firstChangeSummary(cycle, file) + "\n")
	sb.WriteString("\nSource " + file + ":\n---\n" + truncateString(string(source), 8000) + "\n---")
	if existing != "" {
		sb.WriteString("\n\nExisting tests (extend, do not drop cases):\n---\n" + truncateString(existing, 4000) + "\n---")
	}

	resp, _, err := p.router.GenerateTracked(ctx, ai.Request{Prompt: sb.String()}, p.Name(), testPath)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	cycle.AICalls++
	cycle.TokenUsage.Add(resp.Usage)

	content, err := guard.CleanGeneratedCode(resp.Content)
	if err != nil {
		return fmt.Errorf("sanitize: %w", err)
	}
	if check := p.guard.ValidateCodeContent(content); !check.Safe {
		return fmt.Errorf("unsafe test content: %s", strings.Join(check.Warnings, ", "))
	}

	if err := os.MkdirAll(filepath.Dir(testFull), 0755); err != nil {
		return err
	}
	if err := store.AtomicWrite(testFull, []byte(content)); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	changeType := models.ChangeCreate
	if existing != "" {
		changeType = models.ChangeModify
	}
	cycle.ImplementedChanges = append(cycle.ImplementedChanges, models.Change{
		File:       testPath,
		ChangeType: changeType,
		Summary:    "tests for " + file,
	})
	return nil
}

// testFilePath maps a source file to its conventional test location:
// Go tests sit next to the source, everything else goes under tests/.
func testFilePath(file string) string {
	ext := filepath.Ext(file)
	base := strings.TrimSuffix(file, ext)
	switch ext {
	case ".go":
		return base + "_test.go"
	case ".ts", ".tsx", ".js", ".jsx":
		return "tests/" + filepath.ToSlash(base) + ".test" + ext
	case ".py":
		return "tests/test_" + filepath.Base(base) + ".py"
	}
	return ""
}

func isTestFile(file string) bool {
	name := filepath.Base(file)
	return strings.HasSuffix(name, "_test.go") ||
		strings.Contains(name, ".test.") ||
		strings.HasPrefix(name, "test_") ||
		strings.HasPrefix(filepath.ToSlash(file), "tests/")
}

func firstChangeSummary(cycle *models.CycleContext, file string) string {
	for _, change := range cycle.ImplementedChanges {
		if change.File == file && change.Summary != "" {
			return change.Summary
		}
	}
	return "recent changes"
}
