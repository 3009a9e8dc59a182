// Package runner executes monitor cycles: login, fetch, classify,
// notify, persist. It owns the job state and the single admission gate
// that keeps cycles mutually exclusive.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/dedup"
	"github.com/placementwatch/tnp-monitor/internal/metrics"
	"github.com/placementwatch/tnp-monitor/internal/monitor"
	"github.com/placementwatch/tnp-monitor/internal/snapshot"
)

// Config controls cycle execution.
type Config struct {
	// CycleTimeout bounds one full cycle end to end.
	CycleTimeout time.Duration
	// SnapshotPrefix namespaces archived page objects.
	SnapshotPrefix string
}

// Runner drives monitor cycles and owns the process-wide RunState.
type Runner struct {
	cfg        Config
	sessions   monitor.SessionProvider
	fetcher    monitor.Fetcher
	classifier *dedup.Classifier
	store      monitor.SeenStore
	notifier   monitor.Notifier
	snapshots  monitor.SnapshotStore
	clock      monitor.Clock
	logger     *zap.Logger

	running atomic.Bool

	mu    sync.Mutex
	state monitor.RunState
}

// New wires a Runner. The snapshot store may be a noop.
func New(
	cfg Config,
	sessions monitor.SessionProvider,
	fetcher monitor.Fetcher,
	classifier *dedup.Classifier,
	store monitor.SeenStore,
	notifier monitor.Notifier,
	snapshots monitor.SnapshotStore,
	clock monitor.Clock,
	logger *zap.Logger,
) *Runner {
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 5 * time.Minute
	}
	return &Runner{
		cfg:        cfg,
		sessions:   sessions,
		fetcher:    fetcher,
		classifier: classifier,
		store:      store,
		notifier:   notifier,
		snapshots:  snapshots,
		clock:      clock,
		logger:     logger,
		state:      monitor.RunState{LastOutcome: monitor.OutcomeNeverRun},
	}
}

// State returns a copy of the current run state.
func (r *Runner) State() monitor.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TriggerAsync starts a cycle in the background. It returns
// monitor.ErrAlreadyRunning without queueing when one is in flight.
func (r *Runner) TriggerAsync(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return monitor.ErrAlreadyRunning
	}
	go func() {
		defer r.running.Store(false)
		if _, err := r.runLocked(ctx); err != nil {
			r.logger.Error("monitor cycle failed", zap.Error(err))
		}
	}()
	return nil
}

// RunCycle executes one cycle synchronously. It returns
// monitor.ErrAlreadyRunning when another cycle holds the gate.
func (r *Runner) RunCycle(ctx context.Context) (monitor.CycleStats, error) {
	if !r.running.CompareAndSwap(false, true) {
		return monitor.CycleStats{}, monitor.ErrAlreadyRunning
	}
	defer r.running.Store(false)
	return r.runLocked(ctx)
}

// runLocked performs the cycle. The caller holds the admission gate.
func (r *Runner) runLocked(ctx context.Context) (monitor.CycleStats, error) {
	start := r.clock.Now()
	r.beginCycle(start)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeout)
	defer cancel()

	stats, err := r.executeCycle(ctx, start)
	stats.Duration = r.clock.Now().Sub(start)

	outcome := r.finishCycle(stats, err)
	metrics.ObserveCycle(string(outcome), stats.Duration)

	r.logger.Info("monitor cycle finished",
		zap.String("outcome", string(outcome)),
		zap.Int("fetched", stats.Fetched),
		zap.Int("new", stats.New),
		zap.Int("seen", stats.Seen),
		zap.Int("delivered", stats.Delivered),
		zap.Int("failed", stats.Failed),
		zap.Int("parse_errors", stats.ParseErrors),
		zap.Duration("duration", stats.Duration),
	)

	if err != nil {
		r.alert(err)
	}
	return stats, err
}

func (r *Runner) executeCycle(ctx context.Context, start time.Time) (monitor.CycleStats, error) {
	var stats monitor.CycleStats

	session, err := r.sessions.Acquire(ctx)
	if err != nil {
		if monitor.IsAuthError(err) {
			return stats, err
		}
		return stats, fmt.Errorf("acquire portal session: %w", err)
	}
	defer session.Close()

	result, err := r.fetcher.FetchPostings(ctx, session)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(result.Postings)
	stats.ParseErrors = result.ParseErrors
	stats.PageErrors = result.PageErrors
	r.observeFetched(result)
	r.archivePages(ctx, start, result.Pages)

	classified, err := r.classifier.Classify(ctx, result.Postings)
	if err != nil {
		return stats, err
	}
	stats.New = len(classified.New)
	stats.Seen = classified.Seen + classified.Duplicates
	metrics.ObserveClassified(stats.New)

	report := r.notifier.Notify(ctx, classified.New)
	stats.Delivered = report.Delivered()
	stats.Failed = report.Failed()
	metrics.ObserveDelivery(stats.Delivered, stats.Failed)

	// Marking happens after every delivery has been attempted. A posting
	// whose delivery permanently failed is still marked: at most one
	// notification per posting, ever.
	if len(classified.New) > 0 {
		if err := r.store.MarkSeen(ctx, r.classifier.Records(classified.New)); err != nil {
			return stats, fmt.Errorf("persist seen fingerprints: %w", err)
		}
	}

	return stats, nil
}

func (r *Runner) beginCycle(start time.Time) {
	r.mu.Lock()
	r.state.IsRunning = true
	r.state.LastRunAt = start
	r.mu.Unlock()
	metrics.SetCycleRunning(true)
}

// finishCycle folds the cycle result into the run state and returns the
// terminal outcome.
func (r *Runner) finishCycle(stats monitor.CycleStats, err error) monitor.Outcome {
	outcome := monitor.OutcomeSucceeded
	switch {
	case err != nil:
		outcome = monitor.OutcomeFailed
	case stats.Failed > 0 || stats.ParseErrors > 0 || stats.PageErrors > 0:
		outcome = monitor.OutcomePartiallyFailed
	}

	r.mu.Lock()
	r.state.IsRunning = false
	r.state.LastOutcome = outcome
	r.state.TotalCycles++
	r.state.TotalNotified += int64(stats.Delivered)
	if err != nil {
		r.state.LastError = err.Error()
		r.state.ConsecutiveErrors++
	} else {
		// A completed cycle resets the error streak even when some
		// deliveries failed.
		r.state.LastError = ""
		r.state.ConsecutiveErrors = 0
	}
	r.mu.Unlock()
	metrics.SetCycleRunning(false)
	return outcome
}

func (r *Runner) observeFetched(result monitor.FetchResult) {
	counts := map[monitor.Category]int{}
	for _, p := range result.Postings {
		counts[p.Category]++
	}
	for category, n := range counts {
		metrics.ObserveFetched(string(category), n)
	}
	metrics.ObserveParseErrors(result.ParseErrors)
}

// archivePages stores raw listing pages, best effort.
func (r *Runner) archivePages(ctx context.Context, fetchedAt time.Time, pages []monitor.PageSnapshot) {
	for _, page := range pages {
		name := snapshot.ObjectName(r.cfg.SnapshotPrefix, page.Name, fetchedAt)
		if err := r.snapshots.Save(ctx, name, page.Body); err != nil {
			r.logger.Warn("page snapshot archive failed",
				zap.String("object", name),
				zap.Error(err),
			)
		}
	}
}

// alert reports a failed cycle through the notification channel, best
// effort with a short deadline of its own.
func (r *Runner) alert(cycleErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.notifier.Alert(ctx, fmt.Sprintf("monitor cycle failed: %v", cycleErr)); err != nil {
		r.logger.Warn("failure alert not delivered", zap.Error(err))
	}
}
