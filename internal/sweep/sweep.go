// Package sweep runs the periodic deadline pass that expires stale
// requests and offers.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKey = "sweep:leader"

// Expirer is implemented by the request and offer modules.
type Expirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Runner ticks on a fixed interval and, when it wins the leader lock,
// runs every registered expirer. Losing the lock is normal: with more
// than one instance exactly one of them sweeps per interval.
type Runner struct {
	redis    *redis.Client
	expirers []Expirer
	interval time.Duration
	lockTTL  time.Duration
	logger   *slog.Logger
}

func NewRunner(rdb *redis.Client, interval, lockTTL time.Duration, logger *slog.Logger, expirers ...Expirer) *Runner {
	return &Runner{
		redis:    rdb,
		expirers: expirers,
		interval: interval,
		lockTTL:  lockTTL,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
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

func (r *Runner) sweep(ctx context.Context) {
	if r.redis != nil {
		ok, err := r.redis.SetNX(ctx, lockKey, "1", r.lockTTL).Result()
		if err != nil {
			// Redis being down should not stop deadlines from firing.
			r.logger.Warn("sweep leader lock unavailable, sweeping anyway", "error", err)
		} else if !ok {
			return
		}
	}

	for _, e := range r.expirers {
		expired, err := e.ExpireStale(ctx)
		if err != nil {
			r.logger.Error("sweep pass failed", "error", err)
			continue
		}
		if expired > 0 {
			r.logger.Info("expired stale records", "count", expired)
		}
	}
}
