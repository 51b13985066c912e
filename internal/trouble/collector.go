package trouble

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/events"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

// dedupWindowSize is how many recently persisted troubles are loaded
// into the dedup window at cycle start.
const dedupWindowSize = 20

// dedupKey identifies a trouble for dedup purposes.
type dedupKey struct {
	message  string
	file     string
	category models.TroubleCategory
}

func keyOf(t models.Trouble) dedupKey {
	return dedupKey{message: t.Message, file: t.File, category: t.Category}
}

// Collector buffers troubles for the current cycle and flushes them to
// the repository at cycle end. Captures are deduplicated against the
// pending list and a window of recently persisted troubles.
type Collector struct {
	repo   *Repository
	bus    *events.Bus
	logger logger.Logger

	mu      sync.Mutex
	cycleID string
	pending []models.Trouble
	window  map[dedupKey]struct{}
}

// NewCollector creates a Collector flushing into repo. bus may be nil.
func NewCollector(repo *Repository, bus *events.Bus, log logger.Logger) *Collector {
	return &Collector{
		repo:   repo,
		bus:    bus,
		logger: log,
		window: make(map[dedupKey]struct{}),
	}
}

// BeginCycle resets the pending list and primes the dedup window from
// the most recently persisted troubles.
func (c *Collector) BeginCycle(cycleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cycleID = cycleID
	c.pending = nil
	c.window = make(map[dedupKey]struct{})
	for _, t := range c.repo.Recent(dedupWindowSize) {
		c.window[keyOf(t)] = struct{}{}
	}
}

// Capture buffers a trouble, filling in id, cycle id and timestamp.
// Returns nil when the trouble is a duplicate of a pending or recently
// persisted one.
func (c *Collector) Capture(t models.Trouble) *models.Trouble {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := keyOf(t)
	if _, seen := c.window[key]; seen {
		return nil
	}
	for _, p := range c.pending {
		if keyOf(p) == key {
			return nil
		}
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CycleID == "" {
		t.CycleID = c.cycleID
	}
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now()
	}
	if t.Severity == "" {
		t.Severity = models.SeverityMedium
	}
	c.pending = append(c.pending, t)

	if c.bus != nil {
		c.bus.Emit(events.Event{
			Type:    events.TroubleCaptured,
			CycleID: t.CycleID,
			Phase:   t.Phase,
			Message: t.Message,
		})
	}
	return &t
}

// CaptureError converts a Go error into a trouble, extracting the top
// stack frame when a stack trace is supplied.
func (c *Collector) CaptureError(phase string, err error, stack string, category models.TroubleCategory, severity models.Severity) *models.Trouble {
	if err == nil {
		return nil
	}
	file, line, column := ParseStackFrame(stack)
	return c.Capture(models.Trouble{
		Phase:      phase,
		Category:   category,
		Severity:   severity,
		Message:    err.Error(),
		File:       file,
		Line:       line,
		Column:     column,
		StackTrace: stack,
	})
}

// CaptureBuildOutput parses build output and buffers one trouble per
// extracted error.
func (c *Collector) CaptureBuildOutput(phase, output string) []models.Trouble {
	var captured []models.Trouble
	for _, parsed := range ParseBuildOutput(output) {
		category := models.TroubleBuildError
		if parsed.Code != "" && strings.HasPrefix(parsed.Code, "TS") {
			category = models.TroubleTypeError
		}
		if t := c.Capture(models.Trouble{
			Phase:    phase,
			Category: category,
			Severity: models.SeverityHigh,
			Message:  parsed.Message,
			File:     parsed.File,
			Line:     parsed.Line,
			Column:   parsed.Column,
			Context:  parsed.Raw,
		}); t != nil {
			captured = append(captured, *t)
		}
	}
	return captured
}

// CaptureTestOutput buffers one trouble per failing test error line.
func (c *Collector) CaptureTestOutput(phase string, errors []string) []models.Trouble {
	var captured []models.Trouble
	for _, line := range errors {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if t := c.Capture(models.Trouble{
			Phase:    phase,
			Category: models.TroubleTestFailure,
			Severity: models.SeverityHigh,
			Message:  line,
		}); t != nil {
			captured = append(captured, *t)
		}
	}
	return captured
}

// CaptureNamingConflict records a naming conflict between two files.
func (c *Collector) CaptureNamingConflict(phase, name, file, conflictingFile string) *models.Trouble {
	return c.Capture(models.Trouble{
		Phase:    phase,
		Category: models.TroubleNamingConflict,
		Severity: models.SeverityMedium,
		Message:  "naming conflict: " + name + " already defined in " + conflictingFile,
		File:     file,
	})
}

// Pending returns a copy of the unflushed troubles.
func (c *Collector) Pending() []models.Trouble {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Trouble, len(c.pending))
	copy(out, c.pending)
	return out
}

// Flush appends the pending troubles to the repository, ordered by
// occurredAt, and clears the buffer. Returns the flushed set.
func (c *Collector) Flush() ([]models.Trouble, error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil, nil
	}
	if err := c.repo.Append(pending); err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Debugf("trouble: flushed %d troubles", len(pending))
	}
	return pending, nil
}
