package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Zioo02/Airport-etl/internal/etl"
)

// Retrier retries connection-level operations with exponential backoff. Both
// the scrape cycle's writer and the aggregation cycle acquire their
// connections through the same policy.
type Retrier struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before attempt n is BaseDelay * 2^(n-1)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a retrier with the given bounds. Non-positive values
// fall back to a single attempt with no delay.
func NewRetrier(maxAttempts int, baseDelay time.Duration) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		sleep:       sleepCtx,
	}
}

// Do runs op, retrying on failure with exponentially growing delays. Once
// MaxAttempts have failed the last error is wrapped in
// etl.ErrStoreUnavailable and propagated, never swallowed.
func (r *Retrier) Do(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error
	delay := r.BaseDelay

	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			log.Printf("storage: %s failed (attempt %d/%d), retrying in %s: %v",
				name, attempt, r.MaxAttempts, delay, lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%w: %s: %v", etl.ErrStoreUnavailable, name, err)
			}
			delay *= 2
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %v",
		etl.ErrStoreUnavailable, name, r.MaxAttempts, lastErr)
}

// OpenPostgresRetry opens a PostgreSQL pool under the retry policy.
func OpenPostgresRetry(ctx context.Context, cfg PostgresConfig, r *Retrier) (*PostgresDB, error) {
	var db *PostgresDB
	err := r.Do(ctx, "open postgres", func(ctx context.Context) error {
		var err error
		db, err = OpenPostgres(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
