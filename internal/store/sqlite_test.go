package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/memory"
	"github.com/dakarenzi/AI-Tutor/internal/ratelimit"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "tutor.db"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.True(t, memory.IsNotFound(err))

	hist, err := s.GetHistory(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)

	data := domain.NewMemoryData(time.Now())
	data.CurrentTopic = "fractions"
	data.Goals = []string{"pass exam"}
	require.NoError(t, s.Save(ctx, "s1", data))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "fractions", got.CurrentTopic)
	assert.Equal(t, []string{"pass exam"}, got.Goals)
}

func TestAddMessageKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, c := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"} {
		require.NoError(t, s.AddMessage(ctx, "s1", domain.NewMessage(domain.RoleUser, c)))
	}

	hist, err := s.GetHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 5)
	assert.Equal(t, "m3", hist[0].Content)
	assert.Equal(t, "m7", hist[4].Content)

	last, err := s.GetHistory(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "m6", last[0].Content)
}

func TestUpdateMergesAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	topic := "algebra"
	require.NoError(t, s.Update(ctx, "s1", domain.MemoryUpdate{
		CurrentTopic:   &topic,
		AppendProgress: []domain.ProgressEntry{{Topic: "algebra", Correct: true, Difficulty: domain.DifficultyEasy}},
	}))
	level := "beginner"
	require.NoError(t, s.Update(ctx, "s1", domain.MemoryUpdate{
		Level:          &level,
		AppendProgress: []domain.ProgressEntry{{Topic: "algebra", Correct: false, Difficulty: domain.DifficultyEasy}},
	}))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "algebra", got.CurrentTopic)
	assert.Equal(t, "beginner", got.Level)
	assert.Len(t, got.ProgressHistory, 2)

	require.NoError(t, s.Clear(ctx, "s1"))
	_, err = s.Load(ctx, "s1")
	assert.True(t, memory.IsNotFound(err))
}

func TestConcurrentAddMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AddMessage(ctx, "s1", domain.NewMessage(domain.RoleUser, "hi")))
		}()
	}
	wg.Wait()

	hist, err := s.GetHistory(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, hist, 5)
}

func TestCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for want := 1; want <= 3; want++ {
		n, err := s.Incr(ctx, "user:u1:minute", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := s.Get(ctx, "user:u1:minute")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	now = now.Add(time.Minute)
	n, err = s.Get(ctx, "user:u1:minute")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "expired counter must read as zero")

	n, err = s.Incr(ctx, "user:u1:minute", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "expired counter restarts")

	require.NoError(t, s.Put(ctx, "user:u1:hour", 7, time.Hour))
	n, err = s.Get(ctx, "user:u1:hour")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	now = now.Add(2 * time.Minute)
	removed, err := s.DeleteExpiredCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestLimiterOverSQLite(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return now }
	lim, err := ratelimit.New(s, ratelimit.Config{PerMinute: 2, PerHour: 10, PerDay: 100},
		ratelimit.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, lim.Check(ctx, "u1", ratelimit.ScopeUser).Allowed)
	assert.True(t, lim.Check(ctx, "u1", ratelimit.ScopeUser).Allowed)
	res := lim.Check(ctx, "u1", ratelimit.ScopeUser)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)
}
