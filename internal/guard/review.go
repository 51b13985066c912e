package guard

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// Trust score parameters: agreement rate of the high-trust provider vs.
// the secondary over the most recent reviews.
const (
	trustWindow       = 20
	trustMinSamples   = 5
	trustApproveFloor = 0.8
	reviewRetention   = 30 * 24 * time.Hour
)

// Verdict is one provider's decision on a review.
type Verdict struct {
	Available bool   `json:"available"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

// ReviewRecord is one persisted security review.
type ReviewRecord struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Code              string    `json:"code"`
	Context           string    `json:"context,omitempty"`
	DangerousPatterns []string  `json:"dangerousPatterns,omitempty"`
	Primary           Verdict   `json:"primary"`
	Secondary         Verdict   `json:"secondary"`
	Approved          bool      `json:"approved"`
	DecisionReason    string    `json:"decisionReason"`
}

type reviewLogDoc struct {
	Reviews []ReviewRecord `json:"reviews"`
}

// ReviewResult is the outcome returned to callers.
type ReviewResult struct {
	Approved bool
	Reason   string
}

// Reviewer performs the dual-provider AI security review and persists
// every review to the review log.
type Reviewer struct {
	primary   ai.Provider
	secondary ai.Provider
	store     *store.Store
	logger    logger.Logger

	mu      sync.Mutex
	reviews []ReviewRecord
	loaded  bool
}

// NewReviewer creates a Reviewer. Either provider may be nil.
func NewReviewer(primary, secondary ai.Provider, logPath string, log logger.Logger) (*Reviewer, error) {
	st, err := store.New(logPath, "", log)
	if err != nil {
		return nil, err
	}
	return &Reviewer{primary: primary, secondary: secondary, store: st, logger: log}, nil
}

func (r *Reviewer) load() {
	if r.loaded {
		return
	}
	var doc reviewLogDoc
	if ok, _ := r.store.Load(&doc); ok {
		r.reviews = doc.Reviews
	}
	r.loaded = true
}

const reviewSchema = `{"type":"object","properties":{"approved":{"type":"boolean"},"reason":{"type":"string"}},"required":["approved","reason"]}`

// reviewRubric is the shared policy rubric both providers receive.
const reviewRubric = `You are a security reviewer for an autonomous coding agent.
Approve the code only if ALL of these hold:
- No execution of arbitrary shell commands or dynamic code evaluation.
- No filesystem writes outside the project workspace.
- No network calls to unexpected hosts or file:// URLs.
- No process control (exit, kill) or privilege escalation.
The flagged patterns listed may be false positives; judge the actual code.
Respond with JSON only: {"approved": bool, "reason": string}`

// askProvider requests one verdict; unavailable or failing providers
// return an unavailable verdict rather than an error.
func (r *Reviewer) askProvider(ctx context.Context, p ai.Provider, code, reviewContext string, warnings []string) Verdict {
	if p == nil || !p.Available() {
		return Verdict{}
	}

	prompt := reviewRubric + "\n\nContext: " + reviewContext
	if len(warnings) > 0 {
		prompt += "\nFlagged patterns: " + strings.Join(warnings, ", ")
	}
	prompt += "\n\nCode:\n---\n" + code + "\n---"

	resp, err := p.Generate(ctx, ai.Request{Prompt: prompt, Schema: reviewSchema})
	if err != nil {
		if r.logger != nil {
			r.logger.Warnf("guard: review by %s failed: %v", p.Name(), err)
		}
		return Verdict{}
	}

	content := strings.TrimSpace(resp.Content)
	if !strings.HasPrefix(content, "{") {
		if extracted, ok := ai.ExtractJSON(content); ok {
			content = extracted
		}
	}
	var parsed struct {
		Approved bool   `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return Verdict{}
	}
	return Verdict{Available: true, Approved: parsed.Approved, Reason: parsed.Reason}
}

// ValidateCodeWithAI runs the dual review and applies the decision
// table:
//
//	both approve                        -> approved
//	primary approves, secondary rejects -> approved (primary trumps)
//	primary rejects                     -> rejected
//	only secondary available            -> approved iff trust score >= 0.8
//	neither available                   -> rejected
func (r *Reviewer) ValidateCodeWithAI(ctx context.Context, code, reviewContext string, warnings []string) ReviewResult {
	primary := r.askProvider(ctx, r.primary, code, reviewContext, warnings)
	secondary := r.askProvider(ctx, r.secondary, code, reviewContext, warnings)

	var approved bool
	var reason string
	switch {
	case primary.Available && primary.Approved:
		approved = true
		reason = primary.Reason
		if reason == "" {
			reason = "approved by primary reviewer"
		}
	case primary.Available && !primary.Approved:
		approved = false
		reason = primary.Reason
		if reason == "" {
			reason = "rejected by primary reviewer"
		}
	case secondary.Available:
		trust := r.TrustScore()
		if secondary.Approved && trust >= trustApproveFloor {
			approved = true
			reason = "approved by secondary reviewer (trust " + formatTrust(trust) + ")"
		} else if !secondary.Approved {
			approved = false
			reason = secondary.Reason
			if reason == "" {
				reason = "rejected by secondary reviewer"
			}
		} else {
			approved = false
			reason = "secondary reviewer trust too low (" + formatTrust(trust) + ")"
		}
	default:
		approved = false
		reason = "no reviewer available"
	}

	r.record(ReviewRecord{
		ID:                uuid.NewString(),
		Timestamp:         time.Now(),
		Code:              code,
		Context:           reviewContext,
		DangerousPatterns: warnings,
		Primary:           primary,
		Secondary:         secondary,
		Approved:          approved,
		DecisionReason:    reason,
	})
	return ReviewResult{Approved: approved, Reason: reason}
}

// ReviewProtectedFileChange is the primary-only review required before
// conditionally-protected files may change. Without the primary
// provider it rejects.
func (r *Reviewer) ReviewProtectedFileChange(ctx context.Context, path, description, code string) ReviewResult {
	if r.primary == nil || !r.primary.Available() {
		result := ReviewResult{Approved: false, Reason: "Protected file"}
		r.record(ReviewRecord{
			ID:             uuid.NewString(),
			Timestamp:      time.Now(),
			Code:           code,
			Context:        "protected file change: " + path + " (" + description + ")",
			Approved:       false,
			DecisionReason: result.Reason,
		})
		return result
	}

	verdict := r.askProvider(ctx, r.primary, code,
		"protected file change: "+path+" ("+description+")", nil)

	result := ReviewResult{Approved: verdict.Available && verdict.Approved, Reason: verdict.Reason}
	if !verdict.Available {
		result.Reason = "Protected file"
	} else if result.Reason == "" {
		if result.Approved {
			result.Reason = "approved for protected file change"
		} else {
			result.Reason = "Protected file"
		}
	}

	r.record(ReviewRecord{
		ID:             uuid.NewString(),
		Timestamp:      time.Now(),
		Code:           code,
		Context:        "protected file change: " + path + " (" + description + ")",
		Primary:        verdict,
		Approved:       result.Approved,
		DecisionReason: result.Reason,
	})
	return result
}

// TrustScore is the agreement rate of primary vs. secondary verdicts
// over the last 20 dual reviews; 0.0 under 5 samples.
func (r *Reviewer) TrustScore() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	var samples []ReviewRecord
	for i := len(r.reviews) - 1; i >= 0 && len(samples) < trustWindow; i-- {
		rec := r.reviews[i]
		if rec.Primary.Available && rec.Secondary.Available {
			samples = append(samples, rec)
		}
	}
	if len(samples) < trustMinSamples {
		return 0.0
	}

	agree := 0
	for _, rec := range samples {
		if rec.Primary.Approved == rec.Secondary.Approved {
			agree++
		}
	}
	return float64(agree) / float64(len(samples))
}

// record appends a review, pruning entries older than the retention
// window, and persists.
func (r *Reviewer) record(rec ReviewRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	cutoff := time.Now().Add(-reviewRetention)
	kept := r.reviews[:0]
	for _, existing := range r.reviews {
		if existing.Timestamp.After(cutoff) {
			kept = append(kept, existing)
		}
	}
	r.reviews = append(kept, rec)

	if err := r.store.Save(reviewLogDoc{Reviews: r.reviews}); err != nil && r.logger != nil {
		r.logger.Warnf("guard: persist review log: %v", err)
	}
}

// Records returns a copy of the persisted reviews.
func (r *Reviewer) Records() []ReviewRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load()

	out := make([]ReviewRecord, len(r.reviews))
	copy(out, r.reviews)
	return out
}

func formatTrust(t float64) string {
	switch {
	case t >= 0.95:
		return "very high"
	case t >= trustApproveFloor:
		return "high"
	case t >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
