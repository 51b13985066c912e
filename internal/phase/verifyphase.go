package phase

import (
	"context"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/verify"
)

// Verify is the final gate of the pipeline, delegating to the verifier.
type Verify struct {
	verifier *verify.Verifier
}

// NewVerify wraps the verifier as a pipeline phase.
func NewVerify(verifier *verify.Verifier) *Verify {
	return &Verify{verifier: verifier}
}

func (p *Verify) Name() string { return "verify" }

func (p *Verify) Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult {
	if len(cycle.ImplementedChanges) == 0 {
		return success("nothing to verify")
	}

	result := p.verifier.Verify(ctx, cycle)
	if !result.BuildPassed || !result.TestsPassed {
		kind := models.FaultTransient
		if result.RolledBack {
			// A rolled-back workspace is consistent; retrying the same
			// plan is unlikely to help this cycle.
			kind = models.FaultValidation
		}
		return failure(result.Message, models.NewFault(kind, result.Message, nil))
	}
	return success(result.Message)
}
