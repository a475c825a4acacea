package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrInvalidGuild is returned when a guild id cannot name a ledger
var ErrInvalidGuild = errors.New("invalid guild id")

// A StorageError wraps any failure of the underlying database. Callers must not
// assume any part of the failed operation was applied.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

var (
	maxElapsedTime  = 5 * time.Second
	initialInterval = 20 * time.Millisecond
	maxInterval     = 500 * time.Millisecond
	maxRetries      = uint64(8)
)

// isRetryable reports whether sqlite gave up on a lock held elsewhere
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// retry runs op until it succeeds, fails with a non-busy error, or the backoff
// budget is spent. op must be safe to run more than once.
func retry(ctx context.Context, op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(maxElapsedTime),
		backoff.WithInitialInterval(initialInterval),
		backoff.WithMaxInterval(maxInterval),
	), maxRetries)

	var lastErr error
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil && lastErr != nil {
		return lastErr
	}

	return err
}
