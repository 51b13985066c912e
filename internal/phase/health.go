package phase

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

// Resource thresholds. Crossing a critical one stops the cycle before
// any modification happens.
const (
	diskWarnPercent     = 85.0
	diskCriticalPercent = 95.0
	memWarnPercent      = 90.0
)

// HealthCheck verifies the workspace and host resources before the
// cycle does any work.
type HealthCheck struct {
	cfg    *config.Config
	logger logger.Logger
}

// NewHealthCheck creates the health-check phase.
func NewHealthCheck(cfg *config.Config, log logger.Logger) *HealthCheck {
	return &HealthCheck{cfg: cfg, logger: log}
}

func (p *HealthCheck) Name() string { return "health-check" }

// Run checks the workspace directory, disk space and memory pressure.
// Degraded resources become issues; critical ones stop the cycle.
func (p *HealthCheck) Run(ctx context.Context, cycle *models.CycleContext) models.PhaseResult {
	info, err := os.Stat(p.cfg.Workspace)
	if err != nil || !info.IsDir() {
		return models.PhaseResult{
			Success: false, ShouldStop: true,
			Message: "workspace directory missing: " + p.cfg.Workspace,
			Fault:   models.NewFault(models.FaultFatal, "workspace missing", err),
		}
	}

	if usage, err := disk.UsageWithContext(ctx, p.cfg.Workspace); err == nil {
		if usage.UsedPercent >= diskCriticalPercent {
			return models.PhaseResult{
				Success: false, ShouldStop: true,
				Message: fmt.Sprintf("disk critically full: %.1f%%", usage.UsedPercent),
				Fault:   models.NewFault(models.FaultFatal, "disk full", nil),
			}
		}
		if usage.UsedPercent >= diskWarnPercent {
			cycle.Issues = append(cycle.Issues, models.Issue{
				ID:      "health-disk",
				Type:    "resource",
				Message: fmt.Sprintf("disk usage high: %.1f%%", usage.UsedPercent),
			})
		}
	} else if p.logger != nil {
		p.logger.Debugf("health: disk usage unavailable: %v", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		if vm.UsedPercent >= memWarnPercent {
			cycle.Issues = append(cycle.Issues, models.Issue{
				ID:      "health-mem",
				Type:    "resource",
				Message: fmt.Sprintf("memory usage high: %.1f%%", vm.UsedPercent),
			})
		}
	} else if p.logger != nil {
		p.logger.Debugf("health: memory stats unavailable: %v", err)
	}

	return success("workspace healthy")
}
