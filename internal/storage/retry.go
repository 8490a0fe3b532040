package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// statusWriteRetry bounds retries of run status writes. A cycle revisits the
// run a poll interval later anyway, so a few quick attempts are enough.
var statusWriteRetry = retryPolicy{attempts: 3, base: 10 * time.Millisecond}

type retryPolicy struct {
	attempts int
	base     time.Duration
}

// transient reports whether a status write failed for a reason that a fresh
// transaction can clear. ErrStatusConflict is never transient: the run moved
// and the caller must re-read it.
func transient(err error) bool {
	if errors.Is(err, ErrStatusConflict) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03": // lock_not_available
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

// do runs fn until it succeeds, fails permanently, or the attempts run out.
// Waits double from base with up to base of jitter.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	delay := p.base
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !transient(err) || attempt >= p.attempts {
			return err
		}
		jitter := time.Duration(rand.Int63n(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
