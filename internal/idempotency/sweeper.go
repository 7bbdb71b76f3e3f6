package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/metrics"
)

// Sweeper deletes idempotency records older than their configured lifetime.
// Retention only; replay correctness does not depend on it.
type Sweeper struct {
	pool     *pgxpool.Pool
	lifetime time.Duration
	interval time.Duration
	log      zerolog.Logger
}

// NewSweeper creates a Sweeper that runs every interval and removes records
// older than lifetime.
func NewSweeper(pool *pgxpool.Pool, lifetime, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{pool: pool, lifetime: lifetime, interval: interval, log: log}
}

// Run loops until ctx is cancelled, sweeping once per interval. Sweep errors
// are logged and the loop continues; a missed sweep only delays retention.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		removed, err := s.SweepOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error().Err(err).Msg("idempotency sweep failed")
		} else if removed > 0 {
			s.log.Info().Int64("removed", removed).Msg("swept outlived idempotency records")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.log.Info().Msg("idempotency sweeper stopping")
			return ctx.Err()
		}
	}
}

// SweepOnce deletes all records older than the configured lifetime and
// returns the number removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency WHERE created_at < now() - make_interval(secs => $1)`,
		s.lifetime.Seconds())
	if err != nil {
		return 0, fmt.Errorf("delete outlived idempotency records: %w", err)
	}

	removed := tag.RowsAffected()
	metrics.IdempotencyKeysSweptTotal.Add(float64(removed))
	return removed, nil
}
