package variable

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Worker is the background effect runner. It polls on a fixed interval and
// additionally wakes on enqueue kicks published over Redis.
type Worker struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	logger   *slog.Logger
	interval time.Duration
	batch    int
	lockedBy string
}

// NewWorker creates the effect worker.
func NewWorker(pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger, interval time.Duration) *Worker {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return &Worker{
		pool:     pool,
		rdb:      rdb,
		logger:   logger,
		interval: interval,
		batch:    50,
		lockedBy: host,
	}
}

// Run blocks until ctx is cancelled, draining due effects on every tick or
// kick.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("effect worker started", "interval", w.interval, "locked_by", w.lockedBy)

	pubsub := w.rdb.Subscribe(ctx, effectsKickChannel)
	defer pubsub.Close()
	kicks := pubsub.Channel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("effect worker stopped")
			return nil
		case <-kicks:
			w.drain(ctx)
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain runs passes until a pass comes back empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		result, err := RunEffectsOnce(ctx, w.pool, w.batch, w.lockedBy)
		if err != nil {
			w.logger.Error("effect worker pass", "error", err)
			return
		}
		if result.Processed > 0 {
			w.logger.Info("effects processed",
				"processed", result.Processed,
				"done", result.Done,
				"failed", result.Failed,
			)
		}
		if result.Processed < w.batch {
			return
		}
	}
}
