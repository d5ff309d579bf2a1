package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/temporal"
)

// DefaultSweepInterval is used when the config leaves it unset.
const DefaultSweepInterval = time.Minute

// Sweeper periodically evicts idle sessions.
type Sweeper struct {
	store    *Store
	clock    temporal.Clock
	interval time.Duration
	log      *zap.Logger
}

// NewSweeper creates a sweeper for store.
func NewSweeper(store *Store, clock temporal.Clock, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clock == nil {
		clock = temporal.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{store: store, clock: clock, interval: interval, log: log}
}

// Run sweeps until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := w.store.EvictExpired(w.clock.Now()); n > 0 {
				w.log.Info("session.sweep", zap.Int("evicted", n))
			}
		}
	}
}
