package agent

import (
	"context"
	"fmt"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// Trends reported by Analyzer.
const (
	TrendImproving        = "improving"
	TrendNeedsAttention   = "needs_attention"
	TrendInsufficientData = "insufficient_data"
)

// Analyzer summarises per-topic performance. It does not call the model.
type Analyzer struct{}

// NewAnalyzer creates the analytics capability.
func NewAnalyzer() *Analyzer { return &Analyzer{} }

// Name implements Capability.
func (a *Analyzer) Name() domain.Capability { return domain.CapabilityAnalytics }

// Handle implements Capability.
func (a *Analyzer) Handle(_ context.Context, req *domain.CapabilityRequest) (*domain.CapabilityResponse, error) {
	analysis := Analyze(req.Input.PerformanceHistory)
	msg := fmt.Sprintf("Analysis complete. Strengths: %d, Weaknesses: %d", len(analysis.Strengths), len(analysis.Weaknesses))
	return respond(a.Name(), domain.TaskAnalyze, domain.Output{
		Message:  msg,
		Success:  true,
		Analysis: analysis,
	}, domain.ResponseMetadata{}), nil
}

// Analyze groups history by topic. A topic at 80% accuracy or better is a
// strength; below 60% it is a weakness.
func Analyze(history []domain.ProgressEntry) *domain.Analysis {
	res := &domain.Analysis{Strengths: []string{}, Weaknesses: []string{}, Trend: TrendInsufficientData}
	if len(history) == 0 {
		return res
	}

	type tally struct{ correct, total int }
	var order []string
	topics := make(map[string]*tally)
	for _, e := range history {
		topic := orDefault(e.Topic, "general")
		t, ok := topics[topic]
		if !ok {
			t = &tally{}
			topics[topic] = t
			order = append(order, topic)
		}
		t.total++
		if e.Correct {
			t.correct++
		}
	}

	for _, topic := range order {
		t := topics[topic]
		acc := float64(t.correct) / float64(t.total)
		switch {
		case acc >= 0.8:
			res.Strengths = append(res.Strengths, topic)
		case acc < 0.6:
			res.Weaknesses = append(res.Weaknesses, topic)
		}
	}

	res.TotalExercises = len(history)
	res.Trend = TrendNeedsAttention
	if len(res.Strengths) > len(res.Weaknesses) {
		res.Trend = TrendImproving
	}
	return res
}
