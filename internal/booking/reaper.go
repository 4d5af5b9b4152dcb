package booking

import (
	"context"
	"log/slog"
	"time"
)

// Reaper expires pending appointments whose payment never arrived, so the
// slot goes back on the market. The store applies the cancellation in a
// single conditional update, which makes concurrent reapers and a racing
// reconciliation safe: whichever transition lands first wins.
type Reaper struct {
	store     AppointmentStore
	logger    *slog.Logger
	ttl       time.Duration
	pollEvery time.Duration
	now       func() time.Time
}

func NewReaper(store AppointmentStore, logger *slog.Logger, ttl time.Duration) *Reaper {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Reaper{
		store:     store,
		logger:    logger,
		ttl:       ttl,
		pollEvery: time.Minute,
		now:       time.Now,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	expired, err := r.store.ExpirePending(ctx, r.now().Add(-r.ttl))
	if err != nil {
		r.logger.Error("pending booking sweep failed", "err", err)
		return
	}
	if len(expired) > 0 {
		r.logger.Info("expired unpaid pending bookings", "count", len(expired))
	}
}
