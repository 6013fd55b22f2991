// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers

import (
	"context"
	"time"

	"github.com/MKhiriev/go-activesync-state/internal/logger"
)

const defaultSweepInterval = time.Hour

// StaleSweeper calls Sweep on a ticker.
type StaleSweeper struct {
	sweeper    Sweeper
	interval   time.Duration
	staleAfter time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

// NewStaleSweeper returns a worker that removes state older than staleAfter
// every interval. A non-positive interval defaults to one hour.
func NewStaleSweeper(s Sweeper, interval, staleAfter time.Duration, logger *logger.Logger) *StaleSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &StaleSweeper{
		sweeper:    s,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Run sweeps once per interval until ctx is cancelled. A failed sweep is
// logged and retried on the next tick. With staleAfter unset Run only waits.
func (w *StaleSweeper) Run(ctx context.Context) error {
	if w.staleAfter <= 0 {
		w.logger.Info().
			Str("func", "StaleSweeper.Run").
			Msg("stale age not configured, sweeper disabled")
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.sweep(ctx)
		}
	}
}

func (w *StaleSweeper) sweep(ctx context.Context) {
	n, err := w.sweeper.Sweep(w.logger.WithContext(ctx), w.now(), w.staleAfter)
	if err != nil {
		w.logger.Err(err).
			Str("func", "StaleSweeper.sweep").
			Msg("error sweeping stale state")
		return
	}
	w.logger.Debug().
		Str("func", "StaleSweeper.sweep").
		Int64("removed", n).
		Dur("stale_after", w.staleAfter).
		Msg("stale state swept")
}
