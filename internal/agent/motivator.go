package agent

import (
	"context"
	"fmt"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/llm"
	"github.com/dakarenzi/AI-Tutor/internal/persona"
)

// Engagement triggers.
const (
	TriggerHardQuestion     = "correct_answer_hard_question"
	TriggerCompletedSession = "completed_session"
	TriggerStreakMilestone  = "streak_milestone"
)

const engagementRole = `You are the Engagement Agent. Your role is to motivate and encourage students.
- Celebrate achievements and progress
- Use positive, uplifting language
- Be genuine and specific
- Keep messages short and impactful
- Time your messages appropriately`

// Motivator writes encouragement for milestones.
type Motivator struct {
	modelBacked
}

// NewMotivator creates the engagement capability.
func NewMotivator(gen llm.Generator, rules *persona.Rules) *Motivator {
	return &Motivator{modelBacked{gen: gen, rules: rules}}
}

// Name implements Capability.
func (m *Motivator) Name() domain.Capability { return domain.CapabilityEngagement }

// Handle implements Capability.
func (m *Motivator) Handle(ctx context.Context, req *domain.CapabilityRequest) (*domain.CapabilityResponse, error) {
	in := req.Input
	out, err := m.generate(ctx, engagementRole, single(MotivationPrompt(in.Trigger, in.StudentName)))
	if err != nil {
		return nil, fmt.Errorf("engagement generate: %w", err)
	}
	return respond(m.Name(), domain.TaskMotivate, domain.Output{Message: out.Text, Success: true},
		domain.ResponseMetadata{Trigger: in.Trigger, ModelUsed: out.Model}), nil
}

// MotivationPrompt picks the prompt for trigger.
func MotivationPrompt(trigger, name string) string {
	name = orDefault(name, "the student")
	switch trigger {
	case TriggerHardQuestion:
		return fmt.Sprintf("Generate an encouraging message for %s who just solved a hard question.", name)
	case TriggerCompletedSession:
		return fmt.Sprintf("Generate a motivational message celebrating %s's completed study session.", name)
	case TriggerStreakMilestone:
		return fmt.Sprintf("Generate a celebration message for %s who reached a study streak milestone.", name)
	default:
		return fmt.Sprintf("Generate a motivational message to encourage %s.", name)
	}
}
