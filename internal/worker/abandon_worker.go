package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/metrics"
)

// Abandoner marks in-progress sessions that ended before cutoff as ABANDONED.
type Abandoner interface {
	AbandonExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// AbandonWorker periodically closes sessions nobody finished. It only touches
// sessions whose end time lies more than grace in the past.
type AbandonWorker struct {
	store    Abandoner
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewAbandonWorker(store Abandoner, interval, grace time.Duration, log zerolog.Logger) *AbandonWorker {
	return &AbandonWorker{
		store:    store,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		log:      log.With().Str("component", "abandon_worker").Logger(),
	}
}

// Start sweeps every interval until ctx is done. A non-positive interval
// disables the worker.
func (w *AbandonWorker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info().Msg("Abandon sweep disabled")
		return
	}
	w.log.Info().Dur("interval", w.interval).Dur("grace", w.grace).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Sweep(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass and returns how many sessions were abandoned.
func (w *AbandonWorker) Sweep(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.grace)

	n, err := w.store.AbandonExpired(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Abandon sweep failed")
		}
		return 0
	}

	if n > 0 {
		metrics.SessionsTotal.WithLabelValues("abandoned").Add(float64(n))
		w.log.Info().Int64("count", n).Time("cutoff", cutoff).Msg("Abandoned stale sessions")
	}
	return n
}
