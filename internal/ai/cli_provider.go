package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

// DefaultSystemPrompt enforces raw output without prose or fences when a
// schema is supplied.
const DefaultSystemPrompt = "You are a developer assistant. When a JSON schema is provided, your ONLY output must be valid JSON matching it. No markdown, no code fences, no prose."

// CLIProvider invokes an AI CLI binary as a subprocess. It covers both
// the Claude CLI flag shape and a generic "-p prompt" fallback CLI.
type CLIProvider struct {
	name       string
	binaryPath string
	runner     *Runner

	// claudeFlags selects the Claude CLI flag set (--system-prompt,
	// --json-schema, --output-format json).
	claudeFlags bool
}

// NewClaudeProvider creates a provider for the Claude CLI.
func NewClaudeProvider(binaryPath string, runner *Runner) *CLIProvider {
	if binaryPath == "" {
		binaryPath = "claude"
	}
	if runner == nil {
		runner = NewRunner()
	}
	return &CLIProvider{name: "claude", binaryPath: binaryPath, runner: runner, claudeFlags: true}
}

// NewFallbackProvider creates a provider for a generic prompt-taking CLI
// such as opencode.
func NewFallbackProvider(name, binaryPath string, runner *Runner) *CLIProvider {
	if runner == nil {
		runner = NewRunner()
	}
	return &CLIProvider{name: name, binaryPath: binaryPath, runner: runner}
}

// Name identifies the provider.
func (p *CLIProvider) Name() string { return p.name }

// Available reports whether the binary can be found.
func (p *CLIProvider) Available() bool {
	_, err := exec.LookPath(p.binaryPath)
	return err == nil
}

// Generate runs the CLI and returns its scrubbed output.
func (p *CLIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	var args []string
	if p.claudeFlags {
		system := req.System
		if system == "" {
			system = DefaultSystemPrompt
		}
		args = append(args, "--system-prompt", system, "-p", req.Prompt)
		if req.Schema != "" {
			args = append(args, "--json-schema", req.Schema)
		}
		args = append(args, "--output-format", "json")
		args = append(args, "--settings", `{"disableAllHooks": true}`)
	} else {
		prompt := req.Prompt
		if req.System != "" {
			prompt = req.System + "\n\n" + prompt
		}
		args = append(args, "-p", prompt)
	}

	output, err := p.runner.Run(ctx, p.binaryPath, args...)
	if err != nil {
		return nil, err
	}

	content, usage := p.parseOutput(output)
	return &Response{Content: content, Usage: usage}, nil
}

// claudeEnvelope is the Claude CLI --output-format json envelope.
type claudeEnvelope struct {
	Result string `json:"result"`
	Usage  struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// parseOutput unwraps the CLI's JSON envelope when present, falling
// back to the raw text.
func (p *CLIProvider) parseOutput(output string) (string, models.TokenUsage) {
	trimmed := strings.TrimSpace(output)
	if p.claudeFlags && strings.HasPrefix(trimmed, "{") {
		var envelope claudeEnvelope
		if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil && envelope.Result != "" {
			return envelope.Result, models.TokenUsage{
				InputTokens:  envelope.Usage.InputTokens,
				OutputTokens: envelope.Usage.OutputTokens,
			}
		}
	}
	return trimmed, models.TokenUsage{}
}

// ExtractJSON pulls the first JSON object out of possibly mixed output.
func ExtractJSON(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1], true
	}
	return "", false
}
