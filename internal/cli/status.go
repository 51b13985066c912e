package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/goal"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/orchestrator"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
)

// printCycleReport prints the one-cycle summary used by `kairos once`.
func printCycleReport(result models.CycleResult) {
	fmt.Printf("cycle:    %s\n", result.CycleID)
	if result.Success {
		okColor.Printf("outcome:  success (%s)\n", result.Quality)
	} else {
		failColor.Printf("outcome:  failed (%s)\n", result.Quality)
	}
	if result.FailedPhase != "" {
		fmt.Printf("phase:    %s\n", result.FailedPhase)
	}
	fmt.Printf("duration: %s\n", result.Duration.Round(time.Millisecond))
	if result.TroubleCount > 0 {
		warnColor.Printf("troubles: %d\n", result.TroubleCount)
	}
	if result.SkippedEarly {
		fmt.Println("note:     cycle skipped early")
		if result.RetryReason != "" {
			fmt.Printf("reason:   %s\n", result.RetryReason)
		}
	}
}

// quietLogger is a near-silent logger for the read-only status path.
func quietLogger() logger.Logger {
	return logger.NewConsoleLogger(os.Stderr, "error")
}

// printStatus reads the persisted state files directly, without taking
// the process lock, so it works while a `kairos run` instance is live.
func printStatus(cfg *config.Config) error {
	log := quietLogger()

	var state orchestrator.StateDoc
	stateStore, err := store.New(cfg.WorkspacePath("state.json"), "", log)
	if err != nil {
		return err
	}
	hasState, err := stateStore.Load(&state)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	improvements, err := queue.New(
		cfg.WorkspacePath("improvement-queue.json"),
		cfg.Limits.DefaultImprovementPriority, log)
	if err != nil {
		return err
	}
	troubles, err := trouble.NewRepository(
		cfg.WorkspacePath("troubles.json"),
		cfg.WorkspacePath("troubles-archive"),
		cfg.Limits.MaxActiveTroubles, log)
	if err != nil {
		return err
	}
	goals, err := goal.NewRepository(cfg.WorkspacePath("goals.json"), log)
	if err != nil {
		return err
	}

	var breakerState models.CircuitBreakerState
	breakerState.State = models.BreakerClosed
	breakerStore, err := store.New(cfg.WorkspacePath("repair", "breaker.json"), "", log)
	if err == nil {
		breakerStore.Load(&breakerState)
	}

	fmt.Printf("workspace: %s\n", cfg.Workspace)
	if !hasState {
		fmt.Println("state:     never run")
	} else if state.Paused {
		failColor.Printf("state:     paused (%s)\n", state.PausedReason)
	} else {
		okColor.Println("state:     active")
	}
	fmt.Printf("cycles:    %d total, %d consecutive failure(s)\n",
		state.CycleCount, state.ConsecutiveFailures)
	if !state.LastCycleAt.IsZero() {
		fmt.Printf("last run:  %s\n", state.LastCycleAt.Format(time.RFC3339))
	}
	if last := state.LastResult; last != nil {
		if last.Success {
			okColor.Printf("last cycle: %s (%s)\n", last.CycleID, last.Quality)
		} else {
			failColor.Printf("last cycle: %s failed in %s: %s\n",
				last.CycleID, last.FailedPhase, last.RetryReason)
		}
	}
	fmt.Printf("queue:     %d pending improvement(s)\n", improvements.PendingCount())
	fmt.Printf("troubles:  %d active\n", troubles.Count())
	fmt.Printf("goals:     %d active\n", len(goals.Active()))
	switch breakerState.State {
	case models.BreakerOpen:
		failColor.Println("breaker:   open")
	case models.BreakerHalfOpen:
		warnColor.Println("breaker:   half-open")
	default:
		okColor.Println("breaker:   closed")
	}
	return nil
}

// resumeSystem clears a persisted failure pause so the next cycle runs.
// It writes the state file directly rather than going through a live
// orchestrator, because the paused process may already have exited.
func resumeSystem(cfg *config.Config) error {
	stateStore, err := store.New(cfg.WorkspacePath("state.json"), "", quietLogger())
	if err != nil {
		return err
	}

	var state orchestrator.StateDoc
	if _, err := stateStore.Load(&state); err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	if !state.Paused && state.ConsecutiveFailures == 0 {
		fmt.Println("system is not paused")
		return nil
	}

	state.Paused = false
	state.PausedReason = ""
	state.ConsecutiveFailures = 0
	if err := stateStore.Save(state); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	okColor.Println("system resumed; the next scheduled cycle will run")
	return nil
}
