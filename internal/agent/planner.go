package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/llm"
	"github.com/dakarenzi/AI-Tutor/internal/persona"
)

// ActionPlanCreated marks a planner response.
const ActionPlanCreated = "plan_created"

const plannerRole = `You are the Planner Agent. Your role is to create personalized learning plans.
- Build realistic, achievable plans
- Consider student's goals, timeline, and available time
- Sequence topics logically
- Include exercises and checkpoints
- Adapt difficulty based on student level`

// Planner builds study plans from the learner profile.
type Planner struct {
	modelBacked
}

// NewPlanner creates the planner capability.
func NewPlanner(gen llm.Generator, rules *persona.Rules) *Planner {
	return &Planner{modelBacked{gen: gen, rules: rules}}
}

// Name implements Capability.
func (p *Planner) Name() domain.Capability { return domain.CapabilityPlanner }

// Handle implements Capability.
func (p *Planner) Handle(ctx context.Context, req *domain.CapabilityRequest) (*domain.CapabilityResponse, error) {
	in := req.Input
	planType := orDefault(in.PlanType, "weekly")

	profile := in.StudentProfile
	if profile == nil {
		profile = &domain.StudentProfile{}
	}
	encoded, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	prompt := fmt.Sprintf("Create a %s learning plan for:\n%s\n\nProvide a structured plan with clear goals and timeline.", planType, encoded)

	out, err := p.generate(ctx, plannerRole, single(prompt))
	if err != nil {
		return nil, fmt.Errorf("planner generate: %w", err)
	}
	return respond(p.Name(), domain.TaskPlan, domain.Output{
		Message: out.Text,
		Success: true,
		Action:  ActionPlanCreated,
	}, domain.ResponseMetadata{PlanType: planType, ModelUsed: out.Model}), nil
}
