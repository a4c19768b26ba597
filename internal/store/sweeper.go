package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often StartSweeper runs its jobs.
const DefaultSweepInterval = 5 * time.Minute

// SweepJob is one periodic cleanup. Run returns how many records it removed.
type SweepJob struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// StartSweeper runs jobs every interval in a background goroutine until ctx
// is canceled. A failing job is logged and does not stop the others.
func StartSweeper(ctx context.Context, interval time.Duration, jobs ...SweepJob) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sweeper started", "interval", interval, "jobs", len(jobs))

		for {
			select {
			case <-ticker.C:
				sweep(ctx, jobs)
			case <-ctx.Done():
				slog.Info("Sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, jobs []SweepJob) map[string]int64 {
	removed := make(map[string]int64, len(jobs))
	for _, job := range jobs {
		n, err := job.Run(ctx)
		if err != nil {
			slog.Error("Sweeper job failed", "job", job.Name, "error", err)
			continue
		}
		removed[job.Name] = n
		if n > 0 {
			slog.Info("Sweeper job removed records", "job", job.Name, "count", n)
		}
	}
	return removed
}

// RepositoryJobs returns the cleanup jobs for repo. Only expired rate
// counters are removed; session memory is deleted by an explicit clear only.
func RepositoryJobs(repo Repository) []SweepJob {
	return []SweepJob{{Name: "expired_counters", Run: repo.DeleteExpiredCounters}}
}
