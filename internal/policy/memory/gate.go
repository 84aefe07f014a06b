// Package memory implements the memory-adaptive admission gate used by
// crawl workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/metrics"
)

// Config sets the gate threshold.
type Config struct {
	LimitBytes       uint64
	ThresholdPercent float64
	CheckInterval    time.Duration
}

// Gate blocks callers while heap usage is at or above the threshold.
type Gate struct {
	cfg    Config
	read   func() uint64
	logger *zap.Logger
}

// New validates cfg and returns a gate reading the Go heap.
func New(cfg Config, logger *zap.Logger) (*Gate, error) {
	if cfg.LimitBytes == 0 {
		return nil, errors.New("memory limit must be positive")
	}
	if cfg.ThresholdPercent <= 0 || cfg.ThresholdPercent > 100 {
		return nil, fmt.Errorf("memory threshold %.1f must be in (0, 100]", cfg.ThresholdPercent)
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, read: heapInUse, logger: logger.Named("memory_gate")}, nil
}

// UsagePercent returns current usage as a percentage of the limit.
func (g *Gate) UsagePercent() float64 {
	return float64(g.read()) * 100 / float64(g.cfg.LimitBytes)
}

// Wait returns once usage drops below the threshold or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	usage := g.UsagePercent()
	if usage < g.cfg.ThresholdPercent {
		return nil
	}
	metrics.ObserveMemoryGateWait()
	g.logger.Debug("memory above threshold, holding worker",
		zap.Float64("usage_percent", usage),
		zap.Float64("threshold_percent", g.cfg.ThresholdPercent),
	)

	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("memory gate: %w", ctx.Err())
		case <-ticker.C:
			if g.UsagePercent() < g.cfg.ThresholdPercent {
				return nil
			}
		}
	}
}

func heapInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse
}
