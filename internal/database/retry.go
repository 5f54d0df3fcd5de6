package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"aprsrelay/internal/constants"
	"aprsrelay/internal/retry"

	"github.com/mattn/go-sqlite3"
)

var writeBackoff = retry.BackoffConfig{
	InitialDelay: 25 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
}

// retryableExec runs a write and returns its affected row count, retrying
// while SQLite reports the database as busy or locked.
func retryableExec(ctx context.Context, operation func() (int64, error)) (int64, error) {
	var affected int64
	err := retry.NewBackoff(writeBackoff).RetryWithPredicate(ctx, func() error {
		n, err := operation()
		if err != nil {
			return err
		}
		affected = n
		return nil
	}, isRetryableDBError)
	return affected, err
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "disk I/O error")
}
