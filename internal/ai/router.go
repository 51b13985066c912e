package ai

import (
	"context"
	"fmt"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
)

// Router prefers the primary provider and falls back to the secondary
// when the primary is unavailable or fails transiently. Content produced
// by the fallback is recorded for confirmation review on the next cycle.
type Router struct {
	primary       Provider
	fallback      Provider
	confirmations *ConfirmationQueue
	trackChanges  bool
	logger        logger.Logger
}

// NewRouter builds a Router. fallback and confirmations may be nil.
func NewRouter(primary, fallback Provider, confirmations *ConfirmationQueue, trackChanges bool, log logger.Logger) *Router {
	return &Router{
		primary:       primary,
		fallback:      fallback,
		confirmations: confirmations,
		trackChanges:  trackChanges,
		logger:        log,
	}
}

// Name identifies the router as a provider.
func (r *Router) Name() string { return "router" }

// Available reports whether any underlying provider can serve.
func (r *Router) Available() bool {
	if r.primary != nil && r.primary.Available() {
		return true
	}
	return r.fallback != nil && r.fallback.Available()
}

// Primary exposes the high-trust provider (used directly for security
// reviews, which never fall back).
func (r *Router) Primary() Provider { return r.primary }

// Generate tries the primary, then the fallback. The returned response
// notes which provider produced it via UsedFallback.
func (r *Router) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, usedFallback, err := r.GenerateTracked(ctx, req, "", "")
	_ = usedFallback
	return resp, err
}

// GenerateTracked is Generate plus confirmation-queue recording: when
// the fallback produced the content and tracking is enabled, a pending
// confirmation is stored naming the phase and file the artifact is for.
func (r *Router) GenerateTracked(ctx context.Context, req Request, phase, file string) (*Response, bool, error) {
	if r.primary != nil && r.primary.Available() {
		resp, err := r.primary.Generate(ctx, req)
		if err == nil {
			return resp, false, nil
		}
		if r.logger != nil {
			r.logger.Warnf("ai: primary provider %s failed: %v", r.primary.Name(), err)
		}
	}

	if r.fallback == nil || !r.fallback.Available() {
		return nil, false, fmt.Errorf("no AI provider available")
	}

	resp, err := r.fallback.Generate(ctx, req)
	if err != nil {
		return nil, true, fmt.Errorf("fallback provider %s: %w", r.fallback.Name(), err)
	}

	if r.trackChanges && r.confirmations != nil && phase != "" {
		if _, qerr := r.confirmations.Add(phase, file, r.fallback.Name(), resp.Content); qerr != nil && r.logger != nil {
			r.logger.Warnf("ai: record confirmation: %v", qerr)
		}
	}
	return resp, true, nil
}
