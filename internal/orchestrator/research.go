package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
)

// RunResearchCycle asks the AI for improvement ideas around the most
// frequent failure topics and enqueues the confident ones. It takes
// the same single-run slot as RunCycle: a research cycle never mutates
// the queue while an improvement cycle is in flight.
func (o *Orchestrator) RunResearchCycle(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrCycleInProgress
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	return o.runResearch(ctx)
}

// runResearch is the body of a research cycle; callers hold the run
// slot.
func (o *Orchestrator) runResearch(ctx context.Context) error {
	if o.deps.Router == nil || !o.deps.Router.Available() {
		return fmt.Errorf("no AI provider available for research")
	}

	topics := o.researchTopics(o.deps.Config.Research.MaxTopicsPerCycle)
	if len(topics) == 0 {
		if o.deps.Logger != nil {
			o.deps.Logger.Infof("research: no topics to investigate")
		}
		return nil
	}

	queued := 0
	for _, topic := range topics {
		n, err := o.researchTopic(ctx, topic)
		if err != nil {
			if o.deps.Logger != nil {
				o.deps.Logger.Warnf("research: %q: %v", topic, err)
			}
			continue
		}
		queued += n
	}
	if o.deps.Logger != nil {
		o.deps.Logger.Infof("research: queued %d suggestion(s) from %d topic(s)", queued, len(topics))
	}
	return nil
}

// researchTopics ranks recurring failures by occurrence count.
func (o *Orchestrator) researchTopics(max int) []string {
	type scored struct {
		topic string
		count int
	}
	var candidates []scored

	for _, fp := range o.deps.Patterns.FailurePatterns() {
		candidates = append(candidates, scored{
			topic: fmt.Sprintf("recurring %s: %s", fp.TroubleCategory, fp.TroubleMessage),
			count: fp.OccurrenceCount,
		})
	}
	if o.deps.Abstraction != nil {
		for _, tp := range o.deps.Abstraction.Patterns() {
			candidates = append(candidates, scored{
				topic: fmt.Sprintf("trouble pattern %s (%s)", tp.Name, tp.Category),
				count: tp.OccurrenceCount,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].count > candidates[j].count
	})
	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}

	topics := make([]string, 0, len(candidates))
	for _, c := range candidates {
		topics = append(topics, c.topic)
	}
	return topics
}

func (o *Orchestrator) researchTopic(ctx context.Context, topic string) (int, error) {
	prompt := fmt.Sprintf(`Research this recurring problem in a software project and propose improvements
that would eliminate its root cause:

%s

Respond with JSON only:
{"suggestions":[{"title":string,"description":string,"confidence":number}]}
Suggest at most 3; confidence is 0.0-1.0.`, topic)

	resp, err := o.deps.Router.Generate(ctx, ai.Request{Prompt: prompt})
	if err != nil {
		return 0, err
	}

	content := resp.Content
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		if extracted, ok := ai.ExtractJSON(content); ok {
			content = extracted
		}
	}
	var parsed struct {
		Suggestions []struct {
			Title       string  `json:"title"`
			Description string  `json:"description"`
			Confidence  float64 `json:"confidence"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return 0, fmt.Errorf("parse suggestions: %w", err)
	}

	minConfidence := o.deps.Config.Research.MinConfidenceToQueue
	queued := 0
	for _, s := range parsed.Suggestions {
		if s.Confidence < minConfidence || s.Title == "" {
			continue
		}
		_, added, err := o.deps.Queue.Enqueue(models.QueuedImprovement{
			Source:      "research",
			Type:        "research",
			Title:       s.Title,
			Description: s.Description,
			Priority:    queue.ClampPriority(30 + int(s.Confidence*40)),
			Metadata:    map[string]string{"topic": topic},
		})
		if err != nil {
			return queued, err
		}
		if added {
			queued++
		}
	}
	return queued, nil
}
