package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// updateDocs refreshes the configured documentation targets from the
// cycle's changes. Documentation updates are strictly warn-only: no
// failure here can fail or pause the system.
func (o *Orchestrator) updateDocs(ctx context.Context, cycle *models.CycleContext) {
	if o.deps.Router == nil || !o.deps.Router.Available() || len(cycle.ImplementedChanges) == 0 {
		return
	}

	targets := o.deps.Config.Docs.Targets
	if len(targets) == 0 {
		targets = []string{"README.md"}
	}

	for _, target := range targets {
		if err := o.updateDoc(ctx, cycle, target); err != nil && o.deps.Logger != nil {
			o.deps.Logger.Warnf("docs: %s: %v", target, err)
		}
	}
}

func (o *Orchestrator) updateDoc(ctx context.Context, cycle *models.CycleContext, target string) error {
	full := filepath.Join(o.deps.Config.Workspace, filepath.FromSlash(target))
	current, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	var changes strings.Builder
	for _, c := range cycle.ImplementedChanges {
		fmt.Fprintf(&changes, "- %s %s: %s\n", c.ChangeType, c.File, c.Summary)
	}

	prompt := fmt.Sprintf(`Update this documentation file so it stays accurate after the recent changes.
Keep the existing structure and tone. Return the COMPLETE updated document, no explanations, no markdown fences around the whole document.

Recent changes:
%s
Current %s:
---
%s
---`, changes.String(), target, string(current))

	resp, err := o.deps.Router.Generate(ctx, ai.Request{Prompt: prompt})
	if err != nil {
		return err
	}
	cycle.AICalls++
	cycle.TokenUsage.Add(resp.Usage)

	updated := strings.TrimSpace(resp.Content)
	if updated == "" {
		return fmt.Errorf("empty document generated")
	}
	// A shrunken document usually means the model summarized instead of
	// updating; keep the original.
	if len(updated) < len(current)/2 {
		return fmt.Errorf("generated document suspiciously short (%d -> %d bytes)", len(current), len(updated))
	}

	if err := store.AtomicWrite(full, []byte(updated+"\n")); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if o.deps.Logger != nil {
		o.deps.Logger.Infof("docs: updated %s", target)
	}
	return nil
}
