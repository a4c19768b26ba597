package ratelimit

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

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 15, 5, 0, time.UTC)}
	store := NewMemoryStoreWithClock(clock.Now)
	l, err := New(store, cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return l, store, clock
}

func TestLimiterRejectsFourthCallInSameMinute(t *testing.T) {
	t.Parallel()
	l, _, clock := newTestLimiter(t, Config{PerMinute: 3, PerHour: 100, PerDay: 1000})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := l.Check(ctx, "u1", ScopeUser)
		require.True(t, res.Allowed, "call %d", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res := l.Check(ctx, "u1", ScopeUser)
	assert.False(t, res.Allowed)
	assert.Equal(t, "minute", res.Window)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, errdefs.IsResourceExhausted(res.Err()))

	clock.Advance(time.Minute)
	res = l.Check(ctx, "u1", ScopeUser)
	assert.True(t, res.Allowed)
	assert.NoError(t, res.Err())
}

func TestLimiterRejectionDoesNotIncrement(t *testing.T) {
	t.Parallel()
	l, store, clock := newTestLimiter(t, Config{PerMinute: 30, PerHour: 500, PerDay: 5000})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		require.True(t, l.Check(ctx, "learner", ScopeUser).Allowed, "call %d", i+1)
	}
	res := l.Check(ctx, "learner", ScopeUser)
	require.False(t, res.Allowed)

	now := clock.Now()
	minuteKey := CounterKey(ScopeUser, "learner", "minute", now.UnixMilli()/time.Minute.Milliseconds())
	hourKey := CounterKey(ScopeUser, "learner", "hour", now.UnixMilli()/time.Hour.Milliseconds())
	minute, err := store.Get(ctx, minuteKey)
	require.NoError(t, err)
	hour, err := store.Get(ctx, hourKey)
	require.NoError(t, err)
	assert.Equal(t, 30, minute)
	assert.Equal(t, 30, hour)
}

func TestLimiterHighestRatioBinds(t *testing.T) {
	t.Parallel()
	l, store, clock := newTestLimiter(t, Config{PerMinute: 10, PerHour: 20, PerDay: 1000})
	ctx := context.Background()
	now := clock.Now()

	hourKey := CounterKey(ScopeUser, "u", "hour", now.UnixMilli()/time.Hour.Milliseconds())
	require.NoError(t, store.Put(ctx, hourKey, 19, time.Hour))

	res := l.Check(ctx, "u", ScopeUser)
	assert.True(t, res.Allowed)
	assert.Equal(t, "hour", res.Window)
	assert.Equal(t, 20, res.Limit)
	assert.Equal(t, 0, res.Remaining)

	res = l.Check(ctx, "u", ScopeUser)
	assert.False(t, res.Allowed)
	assert.Equal(t, "hour", res.Window)
}

func TestLimiterScopesAreIndependent(t *testing.T) {
	t.Parallel()
	l, _, _ := newTestLimiter(t, Config{PerMinute: 1, PerHour: 10, PerDay: 10})
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "1.2.3.4", ScopeIP).Allowed)
	assert.False(t, l.Check(ctx, "1.2.3.4", ScopeIP).Allowed)
	assert.True(t, l.Check(ctx, "1.2.3.4", ScopeUser).Allowed)
	assert.True(t, l.Check(ctx, "5.6.7.8", ScopeIP).Allowed)
}

func TestLimiterResetAtIsWindowEnd(t *testing.T) {
	t.Parallel()
	l, _, clock := newTestLimiter(t, Config{PerMinute: 5, PerHour: 100, PerDay: 1000})

	res := l.Check(context.Background(), "u", ScopeUser)
	want := clock.Now().Truncate(time.Minute).Add(time.Minute)
	assert.True(t, res.ResetAt.Equal(want), "reset %s want %s", res.ResetAt, want)
}

type brokenStore struct {
	failGet bool
	failPut bool
	puts    int
}

func (s *brokenStore) Get(context.Context, string) (int, error) {
	if s.failGet {
		return 0, errors.New("store down")
	}
	return 0, nil
}

func (s *brokenStore) Put(context.Context, string, int, time.Duration) error {
	s.puts++
	if s.failPut {
		return errors.New("store down")
	}
	return nil
}

func TestLimiterFailsOpenOnReadError(t *testing.T) {
	t.Parallel()
	store := &brokenStore{failGet: true}
	l, err := New(store, Config{PerMinute: 1, PerHour: 1, PerDay: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Check(context.Background(), "u", ScopeUser).Allowed)
	}
}

func TestLimiterAdmitsOnWriteError(t *testing.T) {
	t.Parallel()
	store := &brokenStore{failPut: true}
	l, err := New(store, DefaultConfig())
	require.NoError(t, err)

	res := l.Check(context.Background(), "u", ScopeUser)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, store.puts)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultConfig().Validate())
	err := Config{PerMinute: 0, PerHour: 1, PerDay: 1}.Validate()
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestMemoryStoreExpiry(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	n, err := store.Incr(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clock.Advance(time.Second)
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, v)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
