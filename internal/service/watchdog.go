package service

import (
	"context"
	"time"

	"github.com/oazlabs/photoflow/internal/logger"
	"github.com/oazlabs/photoflow/internal/repository"
)

// Watchdog reclaims items whose worker died mid-processing. It never races
// a live worker: the sweep only touches claims older than the staleness
// threshold, and each reset is a conditional update on the claimed row.
type Watchdog struct {
	items     *repository.ItemRepository
	logger    *logger.Logger
	interval  time.Duration
	staleness time.Duration
}

// NewWatchdog creates a new watchdog.
// Parameters:
//   - items: item repository.
//   - log: structured logger.
//   - interval: how often to sweep.
//   - staleness: claim age after which an item counts as stuck.
// Returns:
//   - *Watchdog: initialized watchdog.
func NewWatchdog(items *repository.ItemRepository, log *logger.Logger, interval, staleness time.Duration) *Watchdog {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleness <= 0 {
		staleness = 5 * time.Minute
	}
	return &Watchdog{
		items:     items,
		logger:    log,
		interval:  interval,
		staleness: staleness,
	}
}

// RecoverOnStartup releases every surviving claim, whatever its age. A
// claim that outlived a process restart belongs to a dead worker.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: items recovered.
//   - error: non-nil if the update fails.
func (w *Watchdog) RecoverOnStartup(ctx context.Context) (int64, error) {
	recovered, err := w.items.RecoverInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		w.logger.WithField(logger.FieldCount, recovered).Warn("Recovered items interrupted by restart")
	}
	return recovered, nil
}

// Run sweeps on the configured interval until the context is cancelled.
// Parameters:
//   - ctx: context governing the loop lifetime.
func (w *Watchdog) Run(ctx context.Context) {
	w.logger.WithFields(logger.Fields{
		"interval":  w.interval.String(),
		"staleness": w.staleness.String(),
	}).Info("Watchdog started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watchdog stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep performs one staleness pass.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: items reset for retry.
//   - int64: items failed for exhausted retries.
func (w *Watchdog) Sweep(ctx context.Context) (int64, int64) {
	cutoff := time.Now().Add(-w.staleness)
	reset, failed, err := w.items.ResetStale(ctx, cutoff)
	if err != nil {
		w.logger.WithError(err).Error("Watchdog sweep failed")
		return 0, 0
	}
	if reset > 0 || failed > 0 {
		w.logger.WithFields(logger.Fields{
			"reset":  reset,
			"failed": failed,
		}).Warn("Watchdog reclaimed stale items")
	}
	return reset, failed
}
