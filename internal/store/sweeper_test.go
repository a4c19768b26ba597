package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

func TestSweepRunsEveryJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Incr(ctx, "ip:1.2.3.4:minute:1", time.Second)
	require.NoError(t, err)
	s.now = func() time.Time { return now.Add(time.Minute) }

	jobs := append(RepositoryJobs(s), SweepJob{
		Name: "broken",
		Run:  func(context.Context) (int64, error) { return 0, errors.New("boom") },
	})
	removed := sweep(ctx, jobs)

	assert.Equal(t, int64(1), removed["expired_counters"])
	assert.NotContains(t, removed, "broken")
}

func TestSweepKeepsIdleSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now.Add(-31 * 24 * time.Hour) }
	require.NoError(t, s.AddMessage(ctx, "learner", domain.NewMessage(domain.RoleUser, "What is a cell?")))
	s.now = func() time.Time { return now }

	removed := sweep(ctx, RepositoryJobs(s))
	for job, n := range removed {
		assert.Zero(t, n, "job %s removed records", job)
	}

	data, err := s.Load(ctx, "learner")
	require.NoError(t, err)
	require.Len(t, data.RecentMessages, 1)
	assert.Equal(t, "What is a cell?", data.RecentMessages[0].Content)
}

func TestStartSweeperStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	StartSweeper(ctx, 10*time.Millisecond, SweepJob{
		Name: "tick",
		Run: func(context.Context) (int64, error) {
			select {
			case ran <- struct{}{}:
			default:
			}
			return 0, nil
		},
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()
}
