package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
)

// RetryConfig tunes Retrying.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
}

// DefaultRetryConfig returns 3 retries with 1s doubling backoff capped at 5s
// and a 30s per-attempt timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Timeout:      30 * time.Second,
	}
}

// Observer receives the outcome of every Generate call.
type Observer func(backend, outcome string, elapsed time.Duration)

// Retrying wraps a Generator with a per-attempt timeout and exponential
// backoff. Timeouts and permanent errors are returned immediately.
type Retrying struct {
	next    Generator
	backend string
	cfg     RetryConfig
	logger  *slog.Logger
	observe Observer
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next. backend names it in logs and observations.
func NewRetrying(next Generator, backend string, cfg RetryConfig, logger *slog.Logger, observe Observer) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return &Retrying{
		next:    next,
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		observe: observe,
		sleep:   sleepCtx,
	}
}

var _ Generator = (*Retrying)(nil)

// Backoff returns the wait before retry number attempt (0-based).
func (r *Retrying) Backoff(attempt int) time.Duration {
	d := r.cfg.InitialDelay << attempt
	if d <= 0 || d > r.cfg.MaxDelay {
		return r.cfg.MaxDelay
	}
	return d
}

// Generate implements Generator.
func (r *Retrying) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		resp, err := r.attempt(ctx, req)
		if err == nil {
			r.record("ok", start)
			return resp, nil
		}
		lastErr = err

		if IsTimeout(err) {
			r.record("timeout", start)
			return nil, err
		}
		if ctx.Err() != nil {
			r.record("canceled", start)
			return nil, fmt.Errorf("generate: %w", ctx.Err())
		}
		if isPermanent(err) {
			r.record("error", start)
			return nil, err
		}
		if attempt == r.cfg.MaxRetries {
			break
		}

		wait := r.Backoff(attempt)
		r.logger.Warn("model call failed, retrying",
			"backend", r.backend,
			"attempt", attempt+1,
			"backoff", wait,
			"error", err,
		)
		if err := r.sleep(ctx, wait); err != nil {
			r.record("canceled", start)
			return nil, fmt.Errorf("generate: %w", err)
		}
	}

	r.record("error", start)
	return nil, fmt.Errorf("model request failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}

func (r *Retrying) attempt(ctx context.Context, req Request) (*Response, error) {
	callCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	resp, err := r.next.Generate(callCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
		}
		return nil, err
	}
	if resp == nil || resp.Text == "" {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

func (r *Retrying) record(outcome string, start time.Time) {
	if r.observe != nil {
		r.observe(r.backend, outcome, time.Since(start))
	}
}

func isPermanent(err error) bool {
	return errdefs.IsInvalidArgument(err) ||
		errdefs.IsUnauthorized(err) ||
		errdefs.IsPermissionDenied(err) ||
		errdefs.IsNotImplemented(err)
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
