// Package app wires the full system together from configuration.
package app

import (
	"fmt"
	"os"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/abstraction"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/breaker"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/events"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/goal"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/guard"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/history"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/orchestrator"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/pattern"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/phase"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/repair"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/report"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/scheduler"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/snapshot"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/trouble"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/verify"
)

// App is the assembled system.
type App struct {
	Config        *config.Config
	Logger        logger.Logger
	Bus           *events.Bus
	Orchestrator  *orchestrator.Orchestrator
	Scheduler     *scheduler.Scheduler
	Queue         *queue.ImprovementQueue
	Troubles      *trouble.Repository
	Patterns      *pattern.Repository
	Goals         *goal.Repository
	Aggregator    *repair.Aggregator
	RepairQueue   *repair.Queue
	AutoRepairer  *repair.AutoRepairer
	Breaker       *breaker.CircuitBreaker
	Confirmations *ai.ConfirmationQueue
	History       *history.Store

	fileLogger  *logger.FileLogger
	processLock *store.ProcessLock
}

// New builds the whole dependency graph from the configuration. The
// workspace data directories are created as needed.
func New(cfg *config.Config) (*App, error) {
	for _, dir := range []string{
		cfg.WorkspacePath("logs"),
		cfg.WorkspacePath("troubles-archive"),
		cfg.WorkspacePath("snapshots"),
		cfg.WorkspacePath("approvals"),
		cfg.WorkspacePath("repair"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	console := logger.NewConsoleLogger(os.Stdout, cfg.LogLevel)
	var log logger.Logger = console
	fileLog, err := logger.NewFileLogger(cfg.WorkspacePath("logs"), cfg.LogLevel)
	if err != nil {
		console.Warnf("file logging disabled: %v", err)
		fileLog = nil
	} else {
		log = logger.NewMultiLogger(console, fileLog)
	}

	lock := store.NewProcessLock(cfg.WorkspacePath(".kairos.lock"))
	if ok, err := lock.Acquire(); err != nil {
		return nil, fmt.Errorf("acquire process lock: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("another instance is already running on %s", cfg.Workspace)
	}

	bus := events.NewBus()

	troubles, err := trouble.NewRepository(
		cfg.WorkspacePath("troubles.json"),
		cfg.WorkspacePath("troubles-archive"),
		cfg.Limits.MaxActiveTroubles, log)
	if err != nil {
		return nil, err
	}
	collector := trouble.NewCollector(troubles, bus, log)

	patterns, err := pattern.NewRepository(
		cfg.WorkspacePath("patterns.json"),
		cfg.WorkspacePath("learning-stats.json"),
		cfg.Limits.PatternHistoryMax, log)
	if err != nil {
		return nil, err
	}
	extractor := pattern.NewExtractor(patterns, log)

	improvements, err := queue.New(
		cfg.WorkspacePath("improvement-queue.json"),
		cfg.Limits.DefaultImprovementPriority, log)
	if err != nil {
		return nil, err
	}

	goals, err := goal.NewRepository(cfg.WorkspacePath("goals.json"), log)
	if err != nil {
		return nil, err
	}

	snapshots := snapshot.NewManager(cfg.Workspace,
		cfg.WorkspacePath("snapshots"), cfg.Limits.MaxSnapshots, log)

	runner := ai.NewRunner()
	primary := ai.NewClaudeProvider(cfg.AI.PrimaryPath, runner)
	var fallback ai.Provider
	if cfg.Fallback.Enabled && cfg.AI.FallbackPath != "" {
		fallback = ai.NewFallbackProvider(cfg.Fallback.FallbackProvider, cfg.AI.FallbackPath, runner)
	}
	confirmations, err := ai.NewConfirmationQueue(cfg.WorkspacePath("approvals", "pending.json"), log)
	if err != nil {
		return nil, err
	}
	router := ai.NewRouter(primary, fallback, confirmations, cfg.Fallback.TrackChanges, log)

	policy, err := guard.LoadPolicy(cfg.WorkspacePath("policy.yaml"))
	if err != nil {
		log.Warnf("guard policy: %v", err)
	}
	policy.MaxFilesPerChange = cfg.Limits.MaxFilesPerChange
	policy.MaxLinesPerFile = cfg.Limits.MaxLinesPerFile
	reviewer, err := guard.NewReviewer(primary, fallback,
		cfg.WorkspacePath("ai-review-log.json"), log)
	if err != nil {
		return nil, err
	}
	guardian := guard.New(policy, reviewer, log)

	abstractionEngine, err := abstraction.NewEngine(
		cfg.WorkspacePath("trouble-patterns.json"),
		improvements, router, log)
	if err != nil {
		return nil, err
	}

	hist, err := history.NewStore(cfg.WorkspacePath("history.db"))
	if err != nil {
		return nil, err
	}

	reports := report.NewWriter(cfg.WorkspacePath("logs"), log)

	cb, err := breaker.New(breaker.Config{
		MaxAttemptsPerError:             cfg.Breaker.MaxAttemptsPerError,
		MaxConsecutiveFailuresPerSource: cfg.Breaker.MaxConsecutiveFailuresPerSource,
		MaxConsecutiveFailuresGlobal:    cfg.Breaker.MaxConsecutiveFailuresGlobal,
		Cooldown:                        cfg.Breaker.Cooldown,
		HalfOpenTestCount:               cfg.Breaker.HalfOpenTestCount,
	}, cfg.WorkspacePath("repair", "breaker.json"), log)
	if err != nil {
		return nil, err
	}

	aggregator, err := repair.NewAggregator(cfg.WorkspacePath("repair", "errors.json"), log)
	if err != nil {
		return nil, err
	}
	repairQueue, err := repair.NewQueue(cfg.WorkspacePath("repair", "tasks.json"), log)
	if err != nil {
		return nil, err
	}
	autoRepairer := repair.NewAutoRepairer(cfg, aggregator, repairQueue, cb, router, guardian, log)

	verifier := verify.NewVerifier(cfg, guardian, router, snapshots, collector, bus, log)

	phases := []phase.Phase{
		phase.NewHealthCheck(cfg, log),
		phase.NewErrorDetect(cfg, collector, improvements, goals, log),
		phase.NewImproveFind(cfg, patterns, improvements, goals, router, log),
		phase.NewSearch(cfg, hist, log),
		phase.NewPlanner(cfg, router, extractor, log),
		phase.NewImplement(cfg, guardian, router, snapshots, collector, bus, log),
		phase.NewTestGen(cfg, guardian, router, log),
		phase.NewVerify(verifier),
	}

	stateStore, err := store.New(cfg.WorkspacePath("state.json"), "", log)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Deps{
		Config:        cfg,
		Logger:        log,
		Bus:           bus,
		Phases:        phases,
		Collector:     collector,
		Troubles:      troubles,
		Patterns:      patterns,
		Extractor:     extractor,
		Abstraction:   abstractionEngine,
		Queue:         improvements,
		Goals:         goals,
		History:       hist,
		Reports:       reports,
		Confirmations: confirmations,
		Router:        router,
		Detector:      orchestrator.NewWorkDetector(cfg, improvements, troubles, goals),
		State:         stateStore,
	})

	sched := scheduler.New(log)
	if err := sched.Register("improvement-cycle", cfg.CheckInterval,
		scheduler.CycleTask(orch, log)); err != nil {
		return nil, err
	}

	app := &App{
		Config:        cfg,
		Logger:        log,
		Bus:           bus,
		Orchestrator:  orch,
		Scheduler:     sched,
		Queue:         improvements,
		Troubles:      troubles,
		Patterns:      patterns,
		Goals:         goals,
		Aggregator:    aggregator,
		RepairQueue:   repairQueue,
		AutoRepairer:  autoRepairer,
		Breaker:       cb,
		Confirmations: confirmations,
		History:       hist,
		fileLogger:    fileLog,
		processLock:   lock,
	}
	return app, nil
}

// Run starts the scheduler and auto-repairer and blocks until stop is
// closed.
func (a *App) Run(stop <-chan struct{}) {
	a.Scheduler.Start()
	a.AutoRepairer.SetEnabled(true)
	a.Logger.Infof("agent running, cycle interval %s", a.Config.CheckInterval)

	<-stop

	a.AutoRepairer.SetEnabled(false)
	a.Scheduler.Stop()
}

// Close releases the process lock and flushes logs.
func (a *App) Close() error {
	var firstErr error
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			firstErr = err
		}
	}
	if a.processLock != nil {
		if err := a.processLock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.fileLogger != nil {
		if err := a.fileLogger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
