package agent

import (
	"context"
	"fmt"
	"slices"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// Recommendations reported by DifficultyAdvisor.
const (
	RecommendIncrease = "increase"
	RecommendDecrease = "decrease"
	RecommendMaintain = "maintain"
)

// DifficultyAdvisor moves the learner along the difficulty ladder based on
// their last five attempts. It does not call the model.
type DifficultyAdvisor struct{}

// NewDifficultyAdvisor creates the difficulty capability.
func NewDifficultyAdvisor() *DifficultyAdvisor { return &DifficultyAdvisor{} }

// Name implements Capability.
func (d *DifficultyAdvisor) Name() domain.Capability { return domain.CapabilityDifficulty }

// Handle implements Capability.
func (d *DifficultyAdvisor) Handle(_ context.Context, req *domain.CapabilityRequest) (*domain.CapabilityResponse, error) {
	in := req.Input
	level := in.CurrentLevel
	if !slices.Contains(domain.DifficultyLevels, level) {
		level = domain.DifficultyMedium
	}

	if len(in.PerformanceHistory) == 0 {
		return respond(d.Name(), domain.TaskAdjust, domain.Output{
			Message:        fmt.Sprintf("Not enough practice yet to adjust difficulty. Staying at %s.", level),
			Recommendation: RecommendMaintain,
			NewLevel:       level,
		}, domain.ResponseMetadata{}), nil
	}

	recent := in.PerformanceHistory
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	correct := 0
	for _, p := range recent {
		if p.Correct {
			correct++
		}
	}
	accuracy := float64(correct) / float64(len(recent))

	o := domain.Output{Success: true, Recommendation: RecommendMaintain, NewLevel: level}
	switch {
	case accuracy >= 0.9 && len(recent) >= 3:
		o.Recommendation = RecommendIncrease
		o.Reason = "Student answered 3+ consecutive questions correctly"
		o.NewLevel = stepLevel(level, 1)
	case accuracy < 0.5 && len(recent) >= 2:
		o.Recommendation = RecommendDecrease
		o.Reason = "Student struggling with current difficulty"
		o.NewLevel = stepLevel(level, -1)
	default:
		o.Reason = "Performance is appropriate for current level"
	}
	o.Message = fmt.Sprintf("Recommendation: %s difficulty (now %s). %s.", o.Recommendation, o.NewLevel, o.Reason)

	return respond(d.Name(), domain.TaskAdjust, o, domain.ResponseMetadata{Accuracy: &accuracy}), nil
}

func stepLevel(level string, delta int) string {
	i := slices.Index(domain.DifficultyLevels, level) + delta
	i = max(0, min(i, len(domain.DifficultyLevels)-1))
	return domain.DifficultyLevels[i]
}
