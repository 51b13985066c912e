// Package repair implements the asynchronous error pipeline: reported
// errors are aggregated and classified, queued as repair tasks and
// worked off by the auto-repairer behind the circuit breaker.
package repair

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// maxAggregatedErrors bounds the persisted error list.
const maxAggregatedErrors = 500

type errorsDoc struct {
	Errors []models.AggregatedError `json:"errors"`
}

// Aggregator persists reported errors with auto-classification.
type Aggregator struct {
	store  *store.Store
	logger logger.Logger

	mu     sync.Mutex
	errors []models.AggregatedError
	loaded bool
}

// NewAggregator creates an Aggregator persisting to path.
func NewAggregator(path string, log logger.Logger) (*Aggregator, error) {
	st, err := store.New(path, "", log)
	if err != nil {
		return nil, err
	}
	return &Aggregator{store: st, logger: log}, nil
}

func (a *Aggregator) load() {
	if a.loaded {
		return
	}
	var doc errorsDoc
	if ok, _ := a.store.Load(&doc); ok {
		a.errors = doc.Errors
	}
	a.loaded = true
}

func (a *Aggregator) saveLocked() {
	if len(a.errors) > maxAggregatedErrors {
		a.errors = a.errors[len(a.errors)-maxAggregatedErrors:]
	}
	if err := a.store.Save(errorsDoc{Errors: a.errors}); err != nil && a.logger != nil {
		a.logger.Warnf("repair: persist errors: %v", err)
	}
}

// Report ingests an error report, filling in category and severity when
// absent, and returns the stored aggregated error.
func (a *Aggregator) Report(report models.ErrorReport) models.AggregatedError {
	if report.Category == "" {
		report.Category = classifyMessage(report.Message)
	}
	if report.Severity == "" {
		report.Severity = severityFor(report.Category)
	}

	entry := models.AggregatedError{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Source:    report.Source,
		Category:  report.Category,
		Severity:  report.Severity,
		Status:    models.ErrorNew,
		Message:   report.Message,
		Stack:     report.Stack,
		Context:   report.Context,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.load()
	a.errors = append(a.errors, entry)
	a.saveLocked()
	return entry
}

// Get returns one aggregated error by id.
func (a *Aggregator) Get(id string) (models.AggregatedError, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.load()

	for _, e := range a.errors {
		if e.ID == id {
			return e, true
		}
	}
	return models.AggregatedError{}, false
}

// ByStatus returns all errors in the given state, oldest first.
func (a *Aggregator) ByStatus(status models.ErrorStatus) []models.AggregatedError {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.load()

	var out []models.AggregatedError
	for _, e := range a.errors {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// SetStatus transitions an error's status.
func (a *Aggregator) SetStatus(id string, status models.ErrorStatus, resolvedBy string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.load()

	for i := range a.errors {
		if a.errors[i].ID != id {
			continue
		}
		a.errors[i].Status = status
		if status == models.ErrorResolved {
			now := time.Now()
			a.errors[i].ResolvedAt = &now
			a.errors[i].ResolvedBy = resolvedBy
		}
		a.saveLocked()
		return true
	}
	return false
}

// RecordAttempt appends a repair attempt to an error's history.
func (a *Aggregator) RecordAttempt(id string, attempt models.RepairAttempt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.load()

	for i := range a.errors {
		if a.errors[i].ID == id {
			a.errors[i].RepairAttempts = append(a.errors[i].RepairAttempts, attempt)
			a.saveLocked()
			return
		}
	}
}

// classifyMessage buckets a free-form error message by keyword.
func classifyMessage(message string) models.ErrorCategory {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"),
		strings.Contains(lower, "deadline exceeded"):
		return models.ErrorTimeout
	case strings.Contains(lower, "connection"), strings.Contains(lower, "econnrefused"),
		strings.Contains(lower, "network"), strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "temporar"):
		return models.ErrorTransient
	case strings.Contains(lower, "no space"), strings.Contains(lower, "out of memory"),
		strings.Contains(lower, "disk full"), strings.Contains(lower, "too many open files"):
		return models.ErrorResource
	case strings.Contains(lower, "config"), strings.Contains(lower, "env"),
		strings.Contains(lower, "missing key"):
		return models.ErrorConfiguration
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "validation"),
		strings.Contains(lower, "schema"):
		return models.ErrorValidation
	case strings.Contains(lower, "api"), strings.Contains(lower, "upstream"),
		strings.Contains(lower, "503"), strings.Contains(lower, "502"):
		return models.ErrorExternal
	case strings.Contains(lower, "panic"), strings.Contains(lower, "fatal"),
		strings.Contains(lower, "segfault"):
		return models.ErrorPermanent
	}
	return models.ErrorUnknown
}

// severityFor maps a category to its default severity.
func severityFor(category models.ErrorCategory) models.Severity {
	switch category {
	case models.ErrorResource, models.ErrorPermanent:
		return models.SeverityCritical
	case models.ErrorConfiguration, models.ErrorExternal:
		return models.SeverityHigh
	case models.ErrorTimeout, models.ErrorTransient:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
