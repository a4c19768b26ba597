package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/llm/llmtest"
	"github.com/dakarenzi/AI-Tutor/internal/persona"
)

func request(c domain.Capability, task domain.Task, in domain.CapabilityInput) *domain.CapabilityRequest {
	return &domain.CapabilityRequest{Capability: c, Task: task, Input: in}
}

func history(contents ...string) []domain.Message {
	var out []domain.Message
	for i, c := range contents {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		out = append(out, domain.NewMessage(role, c))
	}
	return out
}

func TestDefaultRegistryHasAllCapabilities(t *testing.T) {
	t.Parallel()

	reg := NewDefaultRegistry(llmtest.New(), nil)
	assert.ElementsMatch(t, []domain.Capability{
		domain.CapabilityTutor, domain.CapabilityContent, domain.CapabilityEvaluation,
		domain.CapabilityDifficulty, domain.CapabilityEngagement, domain.CapabilityAnalytics,
		domain.CapabilityPlanner,
	}, reg.Names())

	_, err := reg.Dispatch(context.Background(), request("astrology", domain.TaskTeach, domain.CapabilityInput{}))
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestTutorPhases(t *testing.T) {
	t.Parallel()

	profile := &domain.StudentProfile{Level: "beginner"}
	assert.Equal(t, PhaseDiagnostic, DeterminePhase(history("a", "b", "c"), nil))
	assert.Equal(t, PhaseDiagnostic, DeterminePhase(history("a", "b"), profile))
	assert.Equal(t, PhasePractice, DeterminePhase(history("a", "Here is an exercise", "c"), profile))
	assert.Equal(t, PhaseTeaching, DeterminePhase(history("a", "b", "c", "d"), profile))
}

func TestTutorDiagnosticUsesPersonaAndHistory(t *testing.T) {
	t.Parallel()

	gen := llmtest.New(llmtest.Reply{Text: "What would you like to learn?"})
	tutor := NewTutor(gen, persona.Default())

	resp, err := tutor.Handle(context.Background(), request(domain.CapabilityTutor, domain.TaskTeach, domain.CapabilityInput{
		Message:             "hi",
		ConversationHistory: history("hello", "hey there"),
	}))
	require.NoError(t, err)
	assert.True(t, resp.Output.Success)
	assert.Equal(t, PhaseDiagnostic, resp.Metadata.Phase)
	assert.Equal(t, domain.CapabilityTutor, resp.Capability)

	call := gen.Calls()[0]
	assert.True(t, strings.HasPrefix(call.SystemInstruction, "You are Kaelo"))
	assert.Contains(t, call.SystemInstruction, "diagnostic phase")
	require.Len(t, call.Messages, 3)
	assert.Equal(t, "hi", call.Messages[2].Content)
}

func TestTutorTeachingExtractsSteps(t *testing.T) {
	t.Parallel()

	gen := llmtest.New(llmtest.Reply{Text: "Let's go:\n1. Find the numerator\n2. Find the denominator\nStep 3: Divide\nReady?"})
	tutor := NewTutor(gen, persona.Default())

	resp, err := tutor.Handle(context.Background(), request(domain.CapabilityTutor, domain.TaskTeach, domain.CapabilityInput{
		Message:             "teach me fractions",
		StudentProfile:      &domain.StudentProfile{Level: "beginner"},
		ConversationHistory: history("a", "b", "c"),
	}))
	require.NoError(t, err)
	assert.Equal(t, PhaseTeaching, resp.Metadata.Phase)
	assert.Equal(t, []string{"Find the numerator", "Find the denominator", "Divide"}, resp.Output.Steps)
}

func TestTutorConfusionAndPracticeFeedback(t *testing.T) {
	t.Parallel()

	gen := llmtest.Echo()
	tutor := NewTutor(gen, persona.Default())
	profile := &domain.StudentProfile{Level: "beginner"}

	resp, err := tutor.Handle(context.Background(), request(domain.CapabilityTutor, domain.TaskTeach, domain.CapabilityInput{
		Message:             "I'm confused",
		StudentProfile:      profile,
		ConversationHistory: history("a", "b", "c"),
	}))
	require.NoError(t, err)
	assert.True(t, resp.Metadata.ConfusionDetected)
	assert.Equal(t, PhaseReExplanation, resp.Metadata.Phase)

	resp, err = tutor.Handle(context.Background(), request(domain.CapabilityTutor, domain.TaskTeach, domain.CapabilityInput{
		Message:             "b) 42",
		StudentProfile:      profile,
		ConversationHistory: history("a", "Try this question", "c"),
	}))
	require.NoError(t, err)
	assert.Equal(t, PhasePractice, resp.Metadata.Phase)
	assert.Equal(t, "My answer: b) 42", gen.LastPrompt())
}

func TestDetectConfusionNeedsApostrophe(t *testing.T) {
	t.Parallel()

	assert.True(t, DetectConfusion("I don't understand", nil))
	assert.False(t, DetectConfusion("I dont understand", nil))
}

func TestTutorInternalRequestSkipsPhases(t *testing.T) {
	t.Parallel()

	gen := llmtest.Echo()
	tutor := NewTutor(gen, persona.Default())
	req := request(domain.CapabilityTutor, domain.TaskTeach, domain.CapabilityInput{Message: "Format this agent response for the student: hi"})
	req.Metadata.Internal = true

	resp, err := tutor.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, resp.Metadata.Phase)
	assert.Equal(t, gen.Calls()[0].SystemInstruction, persona.Default().SystemInstruction())
}

func TestTutorPropagatesModelFailure(t *testing.T) {
	t.Parallel()

	tutor := NewTutor(llmtest.New(llmtest.Reply{Err: errors.New("boom")}), persona.Default())
	_, err := tutor.Handle(context.Background(), request(domain.CapabilityTutor, domain.TaskTeach, domain.CapabilityInput{Message: "hi"}))
	assert.Error(t, err)

	resp, err := tutor.Handle(context.Background(), request(domain.CapabilityTutor, domain.TaskTeach, domain.CapabilityInput{}))
	require.NoError(t, err)
	assert.False(t, resp.Output.Success)
}

func TestContentKeyPoints(t *testing.T) {
	t.Parallel()

	gen := llmtest.New(llmtest.Reply{Text: "a\n\nb\nc\n d \ne\nf\ng"})
	resp, err := NewContentExpert(gen, persona.Default()).Handle(context.Background(),
		request(domain.CapabilityContent, domain.TaskExplain, domain.CapabilityInput{Topic: "cells", Message: "explain cells"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, resp.Output.KeyPoints)
	assert.Equal(t, domain.TaskExplain, resp.Task)
	assert.Contains(t, gen.LastPrompt(), "Topic: cells\nLevel: intermediate")
}

func TestEvaluator(t *testing.T) {
	t.Parallel()

	gen := llmtest.New(llmtest.Reply{Text: "Great work! Want another?"})
	eval := NewEvaluator(gen, persona.Default())

	resp, err := eval.Handle(context.Background(), request(domain.CapabilityEvaluation, domain.TaskEvaluate, domain.CapabilityInput{
		UserAnswer: "I think the answer is mitochondria",
	}))
	require.NoError(t, err)
	assert.False(t, resp.Output.Success)
	assert.Equal(t, MissingEvaluationInput, resp.Output.Message)
	assert.Empty(t, gen.Calls())

	resp, err = eval.Handle(context.Background(), request(domain.CapabilityEvaluation, domain.TaskEvaluate, domain.CapabilityInput{
		Exercise:   &domain.Exercise{Question: "Powerhouse of the cell?", Answer: "Mitochondria"},
		UserAnswer: "I think the answer is mitochondria",
	}))
	require.NoError(t, err)
	require.NotNil(t, resp.Output.IsCorrect)
	assert.True(t, *resp.Output.IsCorrect)
	assert.Equal(t, DiagnosisFullyUnderstood, resp.Output.Diagnosis)
	assert.InDelta(t, 0.9, resp.Output.Confidence, 1e-9)

	assert.False(t, IsCorrect(&domain.Exercise{Answer: "nucleus"}, "ribosome"))
	assert.False(t, IsCorrect(&domain.Exercise{}, "anything"))
}

func TestDifficultyAdvisor(t *testing.T) {
	t.Parallel()

	entries := func(results ...bool) []domain.ProgressEntry {
		var out []domain.ProgressEntry
		for _, r := range results {
			out = append(out, domain.ProgressEntry{Correct: r})
		}
		return out
	}
	adv := NewDifficultyAdvisor()
	run := func(level string, hist []domain.ProgressEntry) domain.Output {
		resp, err := adv.Handle(context.Background(), request(domain.CapabilityDifficulty, domain.TaskAdjust, domain.CapabilityInput{
			CurrentLevel: level, PerformanceHistory: hist,
		}))
		require.NoError(t, err)
		return resp.Output
	}

	out := run("", nil)
	assert.False(t, out.Success)
	assert.Equal(t, RecommendMaintain, out.Recommendation)
	assert.Equal(t, domain.DifficultyMedium, out.NewLevel)

	out = run(domain.DifficultyMedium, entries(false, false, true, true, true))
	assert.Equal(t, RecommendMaintain, out.Recommendation)

	out = run(domain.DifficultyMedium, entries(false, true, true, true, true, true))
	assert.Equal(t, RecommendIncrease, out.Recommendation)
	assert.Equal(t, domain.DifficultyHard, out.NewLevel)

	out = run(domain.DifficultyChallenge, entries(true, true, true))
	assert.Equal(t, domain.DifficultyChallenge, out.NewLevel)

	out = run(domain.DifficultyEasy, entries(false, false))
	assert.Equal(t, RecommendDecrease, out.Recommendation)
	assert.Equal(t, domain.DifficultyEasy, out.NewLevel)
}

func TestMotivatorPrompts(t *testing.T) {
	t.Parallel()

	gen := llmtest.Echo()
	m := NewMotivator(gen, persona.Default())
	resp, err := m.Handle(context.Background(), request(domain.CapabilityEngagement, domain.TaskMotivate, domain.CapabilityInput{
		Trigger: TriggerStreakMilestone, StudentName: "Ama",
	}))
	require.NoError(t, err)
	assert.Equal(t, TriggerStreakMilestone, resp.Metadata.Trigger)
	assert.Equal(t, "Generate a celebration message for Ama who reached a study streak milestone.", resp.Output.Message)
	assert.Equal(t, "Generate a motivational message to encourage the student.", MotivationPrompt("unknown", ""))
}

func TestAnalyzer(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TrendInsufficientData, Analyze(nil).Trend)

	hist := []domain.ProgressEntry{
		{Topic: "algebra", Correct: true},
		{Topic: "algebra", Correct: true},
		{Topic: "geometry", Correct: false},
		{Topic: "", Correct: true},
	}
	a := Analyze(hist)
	assert.Equal(t, []string{"algebra", "general"}, a.Strengths)
	assert.Equal(t, []string{"geometry"}, a.Weaknesses)
	assert.Equal(t, TrendImproving, a.Trend)
	assert.Equal(t, 4, a.TotalExercises)

	resp, err := NewAnalyzer().Handle(context.Background(), request(domain.CapabilityAnalytics, domain.TaskAnalyze, domain.CapabilityInput{PerformanceHistory: hist}))
	require.NoError(t, err)
	assert.Equal(t, "Analysis complete. Strengths: 2, Weaknesses: 1", resp.Output.Message)
}

func TestPlanner(t *testing.T) {
	t.Parallel()

	gen := llmtest.Echo()
	resp, err := NewPlanner(gen, persona.Default()).Handle(context.Background(), request(domain.CapabilityPlanner, domain.TaskPlan, domain.CapabilityInput{
		StudentProfile: &domain.StudentProfile{Level: "advanced"},
	}))
	require.NoError(t, err)
	assert.Equal(t, ActionPlanCreated, resp.Output.Action)
	assert.Equal(t, "weekly", resp.Metadata.PlanType)
	assert.True(t, strings.HasPrefix(gen.LastPrompt(), "Create a weekly learning plan for:\n{\"level\":\"advanced\"}"))
}
