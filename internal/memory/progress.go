package memory

import (
	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// Improvement trends reported by ProgressStats.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

// ProgressStats aggregates a learner's exercise history.
type ProgressStats struct {
	TotalExercises    int      `json:"totalExercises"`
	CorrectExercises  int      `json:"correctExercises"`
	Accuracy          float64  `json:"accuracy"`
	AverageDifficulty string   `json:"averageDifficulty"`
	TopicsCovered     []string `json:"topicsCovered"`
	CurrentStreak     int      `json:"currentStreak"`
	LongestStreak     int      `json:"longestStreak"`
	ConfusionSignals  int      `json:"confusionSignals"`
	ImprovementTrend  string   `json:"improvementTrend"`
}

// ProgressTracker computes statistics over an append-only list of entries.
type ProgressTracker struct {
	entries []domain.ProgressEntry
}

// NewProgressTracker seeds a tracker with existing history.
func NewProgressTracker(history []domain.ProgressEntry) *ProgressTracker {
	return &ProgressTracker{entries: append([]domain.ProgressEntry(nil), history...)}
}

// AddEntry appends one attempt.
func (p *ProgressTracker) AddEntry(e domain.ProgressEntry) {
	p.entries = append(p.entries, e)
}

// Entries returns a copy of the history.
func (p *ProgressTracker) Entries() []domain.ProgressEntry {
	return append([]domain.ProgressEntry(nil), p.entries...)
}

// EntriesForTopic returns the attempts recorded against topic.
func (p *ProgressTracker) EntriesForTopic(topic string) []domain.ProgressEntry {
	var out []domain.ProgressEntry
	for _, e := range p.entries {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// Stats computes the aggregate view.
func (p *ProgressTracker) Stats() ProgressStats {
	stats := ProgressStats{
		TotalExercises:    len(p.entries),
		AverageDifficulty: domain.DifficultyMedium,
		TopicsCovered:     []string{},
		ImprovementTrend:  TrendStable,
	}

	counts := make(map[string]int)
	seen := make(map[string]bool)
	streak := 0
	for _, e := range p.entries {
		if e.Correct {
			stats.CorrectExercises++
			streak++
			stats.LongestStreak = max(stats.LongestStreak, streak)
		} else {
			streak = 0
		}
		if e.Difficulty != "" {
			counts[e.Difficulty]++
		}
		if !seen[e.Topic] {
			seen[e.Topic] = true
			stats.TopicsCovered = append(stats.TopicsCovered, e.Topic)
		}
		if len(e.Errors) > 0 {
			stats.ConfusionSignals++
		}
	}
	stats.CurrentStreak = streak

	if stats.TotalExercises > 0 {
		stats.Accuracy = float64(stats.CorrectExercises) / float64(stats.TotalExercises)
	}

	// Ties keep the earlier ladder position.
	best := 0
	for _, level := range domain.DifficultyLevels {
		if counts[level] > best {
			best = counts[level]
			stats.AverageDifficulty = level
		}
	}

	if n := len(p.entries); n >= 20 {
		recent := accuracy(p.entries[n-10:])
		previous := accuracy(p.entries[n-20 : n-10])
		switch {
		case recent > previous+0.1:
			stats.ImprovementTrend = TrendImproving
		case recent < previous-0.1:
			stats.ImprovementTrend = TrendDeclining
		}
	}

	return stats
}

func accuracy(entries []domain.ProgressEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	correct := 0
	for _, e := range entries {
		if e.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(entries))
}
