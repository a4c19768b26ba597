// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteBusyError reports a SQLITE_BUSY error, raised when another
// connection holds the database lock.
func IsSQLiteBusyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError reports a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports either SQLite concurrency error. Both are
// worth retrying.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// RetryPolicy bounds RetryOnConflict.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy tries three times, waiting 50ms then 100ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 50 * time.Millisecond}

// RetryOnConflict runs op until it succeeds, fails with a non-conflict
// error, or the attempts run out. Delays double after each conflict.
func RetryOnConflict(ctx context.Context, p RetryPolicy, name string, op func() error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	var err error
	for i := 0; i < p.Attempts; i++ {
		if err = op(); err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if i == p.Attempts-1 {
			break
		}
		delay := p.BaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite conflict, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
