// Package scheduler drives the monitor on a fixed interval with support
// for off-schedule manual triggers.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

// Trigger starts a monitor cycle. It reports monitor.ErrAlreadyRunning
// when one is already in flight.
type Trigger interface {
	TriggerAsync(ctx context.Context) error
}

// Config controls the cadence.
type Config struct {
	Interval   time.Duration
	RunOnStart bool
}

// Scheduler owns the ticker loop. Scheduled ticks and manual triggers
// funnel into the same admission gate; a rejected trigger is dropped,
// never queued.
type Scheduler struct {
	cfg     Config
	runner  Trigger
	logger  *zap.Logger
	trigger chan struct{}
}

// New builds a Scheduler around a runner.
func New(cfg Config, runner Trigger, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// TriggerNow requests an off-schedule cycle. If a request is already
// pending the new one is coalesced into it.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs the loop until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("run_on_start", s.cfg.RunOnStart),
	)

	if s.cfg.RunOnStart {
		s.fire(ctx, "startup")
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.fire(ctx, "tick")
		case <-s.trigger:
			s.fire(ctx, "manual")
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, source string) {
	err := s.runner.TriggerAsync(ctx)
	switch {
	case err == nil:
		s.logger.Debug("cycle triggered", zap.String("source", source))
	case errors.Is(err, monitor.ErrAlreadyRunning):
		s.logger.Debug("cycle skipped, previous still running", zap.String("source", source))
	default:
		s.logger.Error("cycle trigger failed", zap.String("source", source), zap.Error(err))
	}
}
