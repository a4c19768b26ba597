package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/llm"
	"github.com/dakarenzi/AI-Tutor/internal/persona"
)

// Diagnoses reported by Evaluator.
const (
	DiagnosisFullyUnderstood     = "fully_understood"
	DiagnosisPartiallyUnderstood = "partially_understood"
)

// MissingEvaluationInput is the message returned when there is nothing to grade.
const MissingEvaluationInput = "Missing exercise or user answer"

const evaluationRole = `You are the Evaluation Agent. Your role is to assess student answers.
- Be gentle and encouraging
- Diagnose understanding level (fully_understood, partially_understood, misunderstood, careless_mistake, confused)
- Provide constructive feedback
- Explain what went wrong if incorrect
- Offer simpler examples if needed
- Always start with positive reinforcement`

// Evaluator grades answers against an exercise.
type Evaluator struct {
	modelBacked
}

// NewEvaluator creates the evaluation capability.
func NewEvaluator(gen llm.Generator, rules *persona.Rules) *Evaluator {
	return &Evaluator{modelBacked{gen: gen, rules: rules}}
}

// Name implements Capability.
func (e *Evaluator) Name() domain.Capability { return domain.CapabilityEvaluation }

// Handle implements Capability. A request without an exercise or answer is
// a graceful failure, not an error.
func (e *Evaluator) Handle(ctx context.Context, req *domain.CapabilityRequest) (*domain.CapabilityResponse, error) {
	in := req.Input
	if in.Exercise == nil || strings.TrimSpace(in.UserAnswer) == "" {
		return respond(e.Name(), domain.TaskEvaluate, domain.Output{Message: MissingEvaluationInput}, domain.ResponseMetadata{}), nil
	}

	level := "intermediate"
	if in.StudentProfile != nil && in.StudentProfile.Level != "" {
		level = in.StudentProfile.Level
	}
	exercise, err := json.Marshal(in.Exercise)
	if err != nil {
		return nil, fmt.Errorf("encode exercise: %w", err)
	}
	prompt := fmt.Sprintf("Evaluate this answer:\n\nExercise: %s\nStudent Answer: %s\nStudent Level: %s\n\nProvide evaluation with diagnosis and feedback.",
		exercise, in.UserAnswer, level)

	out, err := e.generate(ctx, evaluationRole, single(prompt))
	if err != nil {
		return nil, fmt.Errorf("evaluation generate: %w", err)
	}

	correct := IsCorrect(in.Exercise, in.UserAnswer)
	o := domain.Output{
		Message:    out.Text,
		Success:    true,
		IsCorrect:  &correct,
		Diagnosis:  DiagnosisPartiallyUnderstood,
		Confidence: 0.6,
	}
	if correct {
		o.Diagnosis = DiagnosisFullyUnderstood
		o.Confidence = 0.9
	}
	return respond(e.Name(), domain.TaskEvaluate, o, domain.ResponseMetadata{ModelUsed: out.Model}), nil
}

// IsCorrect compares answer with the expected answer, ignoring case and
// surrounding space. An answer containing the expected one counts.
func IsCorrect(ex *domain.Exercise, answer string) bool {
	if ex == nil || strings.TrimSpace(ex.Answer) == "" {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(ex.Answer))
	got := strings.ToLower(strings.TrimSpace(answer))
	return got == want || strings.Contains(got, want)
}
