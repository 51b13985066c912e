// Package ai defines the provider capability the core consumes and the
// subprocess CLI implementation used by default. Concrete transports
// beyond the CLI wrapper live outside the core.
package ai

import (
	"context"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

// Request is one generation request.
type Request struct {
	// Prompt is the user prompt (required).
	Prompt string

	// System is an optional system prompt.
	System string

	// Schema is an optional JSON schema enforcing structured output.
	Schema string
}

// Response is the scrubbed output of one generation.
type Response struct {
	Content string
	Usage   models.TokenUsage
}

// Provider is the capability every AI transport implements.
type Provider interface {
	// Name identifies the provider ("claude", "opencode", ...).
	Name() string

	// Available reports whether the provider can currently serve
	// requests (binary present, not rate limited).
	Available() bool

	// Generate produces a completion for the request.
	Generate(ctx context.Context, req Request) (*Response, error)
}
