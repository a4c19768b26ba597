package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepGenerator struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) (*Response, error)
	calls int
}

func (s *stepGenerator) Generate(ctx context.Context, _ Request) (*Response, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i](ctx)
}

func ok(text string) func(context.Context) (*Response, error) {
	return func(context.Context) (*Response, error) { return &Response{Text: text, Model: "m"}, nil }
}

func fail(err error) func(context.Context) (*Response, error) {
	return func(context.Context) (*Response, error) { return nil, err }
}

func newTestRetrying(next Generator, cfg RetryConfig) (*Retrying, *[]time.Duration, *[]string) {
	var waits []time.Duration
	var outcomes []string
	r := NewRetrying(next, "test", cfg, nil, func(_ string, outcome string, _ time.Duration) {
		outcomes = append(outcomes, outcome)
	})
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return r, &waits, &outcomes
}

func TestRetryingRetriesOverloaded(t *testing.T) {
	t.Parallel()

	gen := &stepGenerator{steps: []func(context.Context) (*Response, error){
		fail(ErrOverloaded), fail(ErrOverloaded), ok("done"),
	}}
	r, waits, outcomes := newTestRetrying(gen, DefaultRetryConfig())

	resp, err := r.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
	assert.Equal(t, []string{"ok"}, *outcomes)
}

func TestRetryingGivesUp(t *testing.T) {
	t.Parallel()

	gen := &stepGenerator{steps: []func(context.Context) (*Response, error){fail(ErrOverloaded)}}
	r, waits, _ := newTestRetrying(gen, DefaultRetryConfig())

	_, err := r.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsOverloaded(err))
	assert.Equal(t, 4, gen.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *waits)
}

func TestRetryingBackoffIsCapped(t *testing.T) {
	t.Parallel()

	r := NewRetrying(&stepGenerator{}, "test", DefaultRetryConfig(), nil, nil)
	assert.Equal(t, 5*time.Second, r.Backoff(3))
	assert.Equal(t, 5*time.Second, r.Backoff(10))
}

func TestRetryingDoesNotRetryTimeout(t *testing.T) {
	t.Parallel()

	gen := &stepGenerator{steps: []func(context.Context) (*Response, error){
		func(ctx context.Context) (*Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	cfg := DefaultRetryConfig()
	cfg.Timeout = 10 * time.Millisecond
	r, _, outcomes := newTestRetrying(gen, cfg)

	_, err := r.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, []string{"timeout"}, *outcomes)
}

func TestRetryingDoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	bad := classifyStatus("test", 400, errors.New("bad request"))
	gen := &stepGenerator{steps: []func(context.Context) (*Response, error){fail(bad)}}
	r, _, _ := newTestRetrying(gen, DefaultRetryConfig())

	_, err := r.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.Equal(t, 1, gen.calls)
}

func TestRetryingTreatsEmptyTextAsFailure(t *testing.T) {
	t.Parallel()

	gen := &stepGenerator{steps: []func(context.Context) (*Response, error){ok(""), ok("second")}}
	r, _, _ := newTestRetrying(gen, DefaultRetryConfig())

	resp, err := r.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Text)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	assert.True(t, IsOverloaded(classifyStatus("x", 429, base)))
	assert.True(t, IsOverloaded(classifyStatus("x", 529, base)))
	assert.True(t, IsOverloaded(classifyStatus("x", 503, base)))
	assert.True(t, errdefs.IsUnauthorized(classifyStatus("x", 401, base)))
	assert.False(t, IsOverloaded(classifyStatus("x", 404, base)))
	assert.ErrorIs(t, classifyStatus("x", 404, base), base)
}
