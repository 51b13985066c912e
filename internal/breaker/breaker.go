// Package breaker implements the persistent circuit breaker guarding
// the auto-repair pipeline against repeated failures.
package breaker

import (
	"sync"
	"time"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// Config tunes the breaker triggers.
type Config struct {
	MaxAttemptsPerError             int
	MaxConsecutiveFailuresPerSource int
	MaxConsecutiveFailuresGlobal    int
	Cooldown                        time.Duration
	HalfOpenTestCount               int
}

// DefaultConfig returns the standard trigger thresholds.
func DefaultConfig() Config {
	return Config{
		MaxAttemptsPerError:             3,
		MaxConsecutiveFailuresPerSource: 5,
		MaxConsecutiveFailuresGlobal:    10,
		Cooldown:                        5 * time.Minute,
		HalfOpenTestCount:               2,
	}
}

// CircuitBreaker tracks consecutive failures globally, per source and
// per error. State survives process restarts through the store.
type CircuitBreaker struct {
	config Config
	store  *store.Store
	logger logger.Logger
	now    func() time.Time

	mu     sync.Mutex
	state  models.CircuitBreakerState
	loaded bool
}

// New creates a CircuitBreaker persisting its state to path.
func New(config Config, path string, log logger.Logger) (*CircuitBreaker, error) {
	st, err := store.New(path, "", log)
	if err != nil {
		return nil, err
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	return &CircuitBreaker{
		config: config,
		store:  st,
		logger: log,
		now:    time.Now,
	}, nil
}

func (cb *CircuitBreaker) load() {
	if cb.loaded {
		return
	}
	if ok, _ := cb.store.Load(&cb.state); !ok {
		cb.state = models.CircuitBreakerState{State: models.BreakerClosed}
	}
	if cb.state.ConsecutiveFailuresPerSource == nil {
		cb.state.ConsecutiveFailuresPerSource = make(map[string]int)
	}
	if cb.state.AttemptsPerError == nil {
		cb.state.AttemptsPerError = make(map[string]int)
	}
	cb.loaded = true
}

func (cb *CircuitBreaker) saveLocked() {
	if err := cb.store.Save(cb.state); err != nil && cb.logger != nil {
		cb.logger.Warnf("breaker: persist state: %v", err)
	}
}

// Allow reports whether a repair attempt may proceed. An open breaker
// transitions to half-open once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.load()

	switch cb.state.State {
	case models.BreakerClosed, models.BreakerHalfOpen:
		return true
	case models.BreakerOpen:
		if cb.state.OpenedAt != nil && cb.now().Sub(*cb.state.OpenedAt) >= cb.config.Cooldown {
			cb.state.State = models.BreakerHalfOpen
			cb.state.HalfOpenTestsRemaining = cb.config.HalfOpenTestCount
			cb.saveLocked()
			if cb.logger != nil {
				cb.logger.Infof("breaker: cooldown elapsed, entering half-open")
			}
			return true
		}
		return false
	}
	return false
}

// RecordSuccess notes a successful repair for the source/error pair.
// In half-open state, enough successes close the breaker.
func (cb *CircuitBreaker) RecordSuccess(source, errorID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.load()

	cb.state.ConsecutiveFailuresGlobal = 0
	delete(cb.state.ConsecutiveFailuresPerSource, source)
	delete(cb.state.AttemptsPerError, errorID)

	if cb.state.State == models.BreakerHalfOpen {
		cb.state.HalfOpenTestsRemaining--
		if cb.state.HalfOpenTestsRemaining <= 0 {
			cb.state.State = models.BreakerClosed
			cb.state.OpenedAt = nil
			if cb.logger != nil {
				cb.logger.Infof("breaker: closed after successful trials")
			}
		}
	}
	cb.saveLocked()
}

// RecordFailure notes a failed repair; any trigger reaching its
// threshold opens the breaker. A half-open failure reopens immediately.
func (cb *CircuitBreaker) RecordFailure(source, errorID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.load()

	now := cb.now()
	cb.state.LastFailureAt = &now
	cb.state.ConsecutiveFailuresGlobal++
	cb.state.ConsecutiveFailuresPerSource[source]++
	cb.state.AttemptsPerError[errorID]++

	if cb.state.State == models.BreakerHalfOpen {
		cb.openLocked(now, "half-open trial failed")
		return
	}

	switch {
	case cb.state.AttemptsPerError[errorID] >= cb.config.MaxAttemptsPerError:
		cb.openLocked(now, "per-error attempts exhausted")
	case cb.state.ConsecutiveFailuresPerSource[source] >= cb.config.MaxConsecutiveFailuresPerSource:
		cb.openLocked(now, "per-source failures exhausted")
	case cb.state.ConsecutiveFailuresGlobal >= cb.config.MaxConsecutiveFailuresGlobal:
		cb.openLocked(now, "global failures exhausted")
	default:
		cb.saveLocked()
	}
}

func (cb *CircuitBreaker) openLocked(now time.Time, reason string) {
	cb.state.State = models.BreakerOpen
	cb.state.OpenedAt = &now
	cb.state.HalfOpenTestsRemaining = 0
	cb.saveLocked()
	if cb.logger != nil {
		cb.logger.Warnf("breaker: opened (%s)", reason)
	}
}

// State returns a copy of the current breaker state.
func (cb *CircuitBreaker) State() models.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.load()

	snapshot := cb.state
	snapshot.ConsecutiveFailuresPerSource = copyMap(cb.state.ConsecutiveFailuresPerSource)
	snapshot.AttemptsPerError = copyMap(cb.state.AttemptsPerError)
	return snapshot
}

// GetRemainingCooldown returns how long until an open breaker may move
// to half-open. Zero when not open.
func (cb *CircuitBreaker) GetRemainingCooldown() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.load()

	if cb.state.State != models.BreakerOpen || cb.state.OpenedAt == nil {
		return 0
	}
	remaining := cb.config.Cooldown - cb.now().Sub(*cb.state.OpenedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.load()

	cb.state = models.CircuitBreakerState{
		State:                        models.BreakerClosed,
		ConsecutiveFailuresPerSource: make(map[string]int),
		AttemptsPerError:             make(map[string]int),
	}
	cb.saveLocked()
}

func copyMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
