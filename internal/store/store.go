// Package store provides durable persistence for learner memory and
// rate-limit counters.
package store

import (
	"context"

	"github.com/dakarenzi/AI-Tutor/internal/memory"
	"github.com/dakarenzi/AI-Tutor/internal/ratelimit"
)

// Repository is the full persistence surface used by the server.
type Repository interface {
	memory.LongTerm
	ratelimit.CounterStore
	ratelimit.Incrementer

	// DeleteExpiredCounters removes rate counters whose window has ended.
	DeleteExpiredCounters(ctx context.Context) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
