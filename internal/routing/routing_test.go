package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

func TestRouteSubmitAnswerIgnoresCase(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	for _, msg := range []string{
		"I think the answer is mitochondria",
		"THE ANSWER IS 42",
		"my answer is seven",
		"It's photosynthesis",
		"b) the nucleus",
		"TRUE",
	} {
		d := engine.Route(context.Background(), msg)
		assert.Equal(t, domain.IntentSubmitAnswer, d.Intent, msg)
		assert.Equal(t, domain.CapabilityEvaluation, d.Capability, msg)
		assert.Equal(t, domain.TaskEvaluate, d.Task, msg)
		assert.InDelta(t, MatchedConfidence, d.Confidence, 1e-9, msg)
	}
}

func TestRouteDefaultsToGeneralChat(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	for _, msg := range []string{"", "   ", "hello there", "thanks a lot"} {
		d := engine.Route(context.Background(), msg)
		assert.Equal(t, domain.IntentGeneralChat, d.Intent, "%q", msg)
		assert.Equal(t, domain.CapabilityTutor, d.Capability, "%q", msg)
		assert.Equal(t, domain.TaskTeach, d.Task, "%q", msg)
		assert.InDelta(t, DefaultConfidence, d.Confidence, 1e-9, "%q", msg)
	}
}

func TestRouteIntents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg        string
		intent     domain.Intent
		capability domain.Capability
	}{
		{"I don't understand fractions", domain.IntentSignalConfusion, domain.CapabilityTutor},
		{"huh? I'm lost", domain.IntentSignalConfusion, domain.CapabilityTutor},
		{"Give me an exercise on fractions", domain.IntentRequestExercise, domain.CapabilityContent},
		{"quiz me on cells", domain.IntentRequestExercise, domain.CapabilityContent},
		{"Make a schedule for my exam", domain.IntentRequestPlan, domain.CapabilityPlanner},
		{"why was that wrong", domain.IntentReviewMistake, domain.CapabilityTutor},
		{"I want to learn algebra", domain.IntentDiagnostic, domain.CapabilityTutor},
		{"What is photosynthesis?", domain.IntentAskQuestion, domain.CapabilityTutor},
		{"photosynthesis?", domain.IntentAskQuestion, domain.CapabilityTutor},
	}

	engine := NewEngine()
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			d := engine.Route(context.Background(), tt.msg)
			assert.Equal(t, tt.intent, d.Intent)
			assert.Equal(t, tt.capability, d.Capability)
		})
	}
}

func TestRouteFirstMatchWins(t *testing.T) {
	t.Parallel()

	// Matches both the answer rule and the question rule.
	d := NewEngine().Route(context.Background(), "I think it is the nucleus?")
	assert.Equal(t, domain.IntentSubmitAnswer, d.Intent)
}

func TestRouteMatchesRawMessage(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	for _, msg := range []string{
		"  I think it's X",
		"Is it seven? ",
	} {
		d := engine.Route(context.Background(), msg)
		assert.Equal(t, domain.IntentGeneralChat, d.Intent, "%q", msg)
		assert.InDelta(t, DefaultConfidence, d.Confidence, 1e-9, "%q", msg)
	}
	assert.Equal(t, domain.IntentAskQuestion, engine.Route(context.Background(), "Is it seven?").Intent)
}

func TestRouteConfusionNeedsApostrophe(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	assert.Equal(t, domain.IntentSignalConfusion, engine.Route(context.Background(), "i don't get it").Intent)
	assert.Equal(t, domain.IntentSignalConfusion, engine.Route(context.Background(), "I don' understand").Intent)
	assert.Equal(t, domain.IntentGeneralChat, engine.Route(context.Background(), "I dont understand").Intent)
}

func TestRouteCustomRules(t *testing.T) {
	t.Parallel()

	engine := NewEngine(rule(domain.IntentRequestPlan, domain.CapabilityPlanner, domain.TaskPlan, `(?i)roadmap`))
	assert.Equal(t, domain.IntentRequestPlan, engine.Route(context.Background(), "Roadmap please").Intent)
	assert.Equal(t, domain.IntentGeneralChat, engine.Route(context.Background(), "I think so").Intent)
}

func TestForTask(t *testing.T) {
	t.Parallel()

	d := NewEngine().ForTask("hello", domain.TaskAnalyze)
	assert.Equal(t, domain.TaskAnalyze, d.Task)
	assert.Equal(t, domain.CapabilityAnalytics, d.Capability)
}

func TestExtractEntities(t *testing.T) {
	t.Parallel()

	ent := ExtractEntities("Give me an easy exercise on fractions")
	require.Equal(t, "fractions", ent.Topic)
	require.Equal(t, "easy", ent.Level)

	ent = ExtractEntities("I want to learn Organic Chemistry")
	assert.Equal(t, "organic chemistry", ent.Topic)
	assert.Empty(t, ent.Level)

	assert.Equal(t, Entities{}, ExtractEntities("42"))
}
