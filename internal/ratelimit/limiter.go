// Package ratelimit enforces request quotas per identifier across calendar-aligned
// minute, hour and day windows.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
)

// Scope namespaces counters so the same identifier can be limited independently
// as an IP, a user or a session.
type Scope string

// Supported scopes.
const (
	ScopeIP      Scope = "ip"
	ScopeUser    Scope = "user"
	ScopeSession Scope = "session"
)

// Config holds the per-window limits.
type Config struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		PerMinute: 30,
		PerHour:   500,
		PerDay:    5000,
	}
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	if c.PerMinute <= 0 || c.PerHour <= 0 || c.PerDay <= 0 {
		return fmt.Errorf("rate limits must be > 0 (minute=%d hour=%d day=%d): %w",
			c.PerMinute, c.PerHour, c.PerDay, errdefs.ErrInvalidArgument)
	}
	return nil
}

type window struct {
	name  string
	size  time.Duration
	limit int
}

// Result is the outcome of a quota check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
	// Window names the binding window: "minute", "hour" or "day".
	Window string
}

// Err returns a QuotaExceeded error for rejected results and nil otherwise.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("rate limit exceeded for %s window (limit %d, resets %s): %w",
		r.Window, r.Limit, r.ResetAt.UTC().Format(time.RFC3339), errdefs.ErrResourceExhausted)
}

// Limiter checks and consumes quota. Counters live in the CounterStore, so a
// Limiter holds no mutable state of its own and is safe for concurrent use.
type Limiter struct {
	store   CounterStore
	windows []window
	now     func() time.Time
	logger  *slog.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Limiter over store.
func New(store CounterStore, cfg Config, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required: %w", errdefs.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		store: store,
		windows: []window{
			{name: "minute", size: time.Minute, limit: cfg.PerMinute},
			{name: "hour", size: time.Hour, limit: cfg.PerHour},
			{name: "day", size: 24 * time.Hour, limit: cfg.PerDay},
		},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CounterKey builds the storage key for one window of one identifier.
func CounterKey(scope Scope, identifier, windowName string, index int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", scope, identifier, windowName, index)
}

type windowState struct {
	window
	key   string
	count int
	end   time.Time
}

// Check evaluates identifier against every window. The window with the highest
// usage ratio binds; the request is admitted iff that window still has room,
// and only then are all counters incremented. Store read failures count as
// zero and write failures after admission are logged, so storage trouble never
// rejects a request.
func (l *Limiter) Check(ctx context.Context, identifier string, scope Scope) Result {
	now := l.now()
	states := make([]windowState, len(l.windows))

	for i, w := range l.windows {
		index := now.UnixMilli() / w.size.Milliseconds()
		st := windowState{
			window: w,
			key:    CounterKey(scope, identifier, w.name, index),
			end:    time.UnixMilli((index + 1) * w.size.Milliseconds()),
		}
		count, err := l.store.Get(ctx, st.key)
		if err != nil {
			l.logger.Warn("Rate limit counter read failed, failing open",
				"key", st.key, "scope", scope, "error", err)
			count = 0
		}
		st.count = count
		states[i] = st
	}

	binding := states[0]
	for _, st := range states[1:] {
		if ratio(st) > ratio(binding) {
			binding = st
		}
	}

	allowed := binding.count < binding.limit
	if allowed {
		for _, st := range states {
			if err := increment(ctx, l.store, st.key, st.end.Sub(now)); err != nil {
				l.logger.Warn("Rate limit counter write failed, request still admitted",
					"key", st.key, "scope", scope, "error", err)
			}
		}
	}

	remaining := binding.limit - binding.count
	if allowed {
		remaining--
	}
	return Result{
		Allowed:   allowed,
		Remaining: max(0, remaining),
		ResetAt:   binding.end,
		Limit:     binding.limit,
		Window:    binding.name,
	}
}

func ratio(st windowState) float64 {
	return float64(st.count) / float64(st.limit)
}

func increment(ctx context.Context, store CounterStore, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	if inc, ok := store.(Incrementer); ok {
		_, err := inc.Incr(ctx, key, ttl)
		return err
	}
	current, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read counter: %w", err)
	}
	return store.Put(ctx, key, current+1, ttl)
}
