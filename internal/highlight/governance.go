package highlight

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/config"
)

// Governor polls CPU and RSS and blocks the pipeline between steps while
// either is over its limit, so a highlight job never starves the transcoder
// sharing the host.
type Governor struct {
	MaxCPUPercent float64
	MaxMemoryMB   float64
	PollInterval  time.Duration
}

// NewGovernor builds a Governor from the tuning config.
func NewGovernor(cfg config.GovernanceConfig) *Governor {
	poll := time.Duration(cfg.PollInterval) * time.Second
	if poll <= 0 {
		poll = 10 * time.Second
	}
	return &Governor{
		MaxCPUPercent: cfg.MaxCPUPercent,
		MaxMemoryMB:   cfg.MaxMemoryMB,
		PollInterval:  poll,
	}
}

// ApplyNice lowers the process scheduling priority. Best effort: containers
// without CAP_SYS_NICE just log and continue.
func ApplyNice(priority int) {
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, priority); err != nil {
		slog.Warn("could not set nice priority", slog.Int("priority", priority), slog.Any("error", err))
		return
	}
	slog.Info("applied nice priority", slog.Int("priority", priority))
}

// CheckOnce samples CPU and RSS, exports them as gauges and reports whether
// the pipeline should pause. Sampling blocks ~1s for the CPU window.
func (g *Governor) CheckOnce(ctx context.Context) (bool, error) {
	percents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return false, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return false, err
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return false, err
	}
	memMB := float64(memInfo.RSS) / (1024 * 1024)

	observability.GovernanceCPUUsage.Set(cpuPct)
	observability.GovernanceMemoryUsage.Set(memMB)

	if cpuPct > g.MaxCPUPercent || memMB > g.MaxMemoryMB {
		slog.Warn("resource limit breached",
			slog.Float64("cpu_percent", cpuPct),
			slog.Float64("max_cpu_percent", g.MaxCPUPercent),
			slog.Float64("memory_mb", memMB),
			slog.Float64("max_memory_mb", g.MaxMemoryMB))
		observability.GovernanceThrottleTotal.Inc()
		return true, nil
	}
	return false, nil
}

// WaitUntilSafe blocks until both CPU and memory are back under their limits
// or ctx is cancelled. Sampling errors are logged and treated as safe so a
// broken /proc never wedges the pipeline.
func (g *Governor) WaitUntilSafe(ctx context.Context) error {
	for {
		throttle, err := g.CheckOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("governance check failed", slog.Any("error", err))
			return nil
		}
		if !throttle {
			return nil
		}
		slog.Info("throttling, waiting for resources to free up",
			slog.Duration("poll_interval", g.PollInterval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.PollInterval):
		}
	}
}
