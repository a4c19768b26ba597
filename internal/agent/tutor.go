package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/llm"
	"github.com/dakarenzi/AI-Tutor/internal/persona"
)

// Conversation phases.
const (
	PhaseDiagnostic    = "diagnostic"
	PhaseTeaching      = "teaching"
	PhasePractice      = "practice"
	PhaseReExplanation = "re-explanation"
)

const (
	diagnosticRole = `You are in the diagnostic phase. Ask friendly questions to understand:
- Subject/topic they want to learn
- Their current level (beginner/intermediate/advanced)
- Their goals (exam prep, homework help, etc.)
- Exam timeline if applicable
- Available study time
- Any difficulties they're facing
- Preferred learning pace

Keep questions short and ask one at a time.`

	teachingRole = `Teaching Flow:
1. Start simple - introduce the concept with a concise definition
2. Break into small steps - explain one piece at a time
3. Use examples - provide relatable examples for each step
4. Check understanding - ask a quick question after each piece
5. Adapt based on response - simplify if confused, deepen if understanding
6. Summarize - recap key points at the end
7. Ask if ready to continue - always end with a question

Keep each message short (2-3 sentences max). Use bullet points for clarity.`

	confusionRole = `The student is confused. Use re-explanation strategy:
1. Start with encouragement ("No problem! This can be tricky. Let's try another angle.")
2. Use simpler language - rephrase with basic vocabulary
3. Provide a new analogy - different from before
4. Use a real-world example - something tangible
5. Break into even smaller steps
6. Ask guiding questions to lead them to understanding

Be extra patient and supportive.`

	feedbackRole = `The student has submitted an answer. Provide gentle, encouraging feedback.
- Start with positive reinforcement
- If incorrect, explain gently what went wrong
- Provide a simpler example if needed
- Offer to try another question
- Keep it encouraging and supportive`
)

var (
	confusionSignals = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(i don't? (understand|get it)|confused|not sure|unclear|help)`),
		regexp.MustCompile(`(?i)(what\?|huh\?|i'm lost|doesn't make sense)`),
	}
	answerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(the answer is|it's|it is|i think|i believe|my answer is)`),
		regexp.MustCompile(`(?i)^(a\)|b\)|c\)|d\)|true|false)$`),
		regexp.MustCompile(`(?i)^[a-d]\)`),
	}
	stepPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\d+\.\s+(.+)$`),
		regexp.MustCompile(`(?m)^[-•*]\s+(.+)$`),
		regexp.MustCompile(`(?mi)^Step \d+:\s+(.+)$`),
	}
)

// Tutor is the conversational default capability. Every fallback, repair
// and synthesis pass goes through it.
type Tutor struct {
	modelBacked
}

// NewTutor creates the conversational capability.
func NewTutor(gen llm.Generator, rules *persona.Rules) *Tutor {
	return &Tutor{modelBacked{gen: gen, rules: rules}}
}

// Name implements Capability.
func (t *Tutor) Name() domain.Capability { return domain.CapabilityTutor }

// Handle implements Capability.
func (t *Tutor) Handle(ctx context.Context, req *domain.CapabilityRequest) (*domain.CapabilityResponse, error) {
	in := req.Input
	if strings.TrimSpace(in.Message) == "" {
		msg := "I apologize, but I encountered an issue: No message provided. Let's try again!"
		return respond(t.Name(), domain.TaskTeach, domain.Output{Message: msg}, domain.ResponseMetadata{}), nil
	}

	// Coordinator passes carry their own instruction and skip phase logic.
	if req.Metadata.Internal {
		return t.run(ctx, "", withHistory(nil, in.Message), "", nil)
	}

	history := in.ConversationHistory
	switch DeterminePhase(history, in.StudentProfile) {
	case PhaseDiagnostic:
		return t.run(ctx, diagnosticRole, withHistory(history, in.Message), PhaseDiagnostic, nil)
	case PhasePractice:
		if LooksLikeAnswer(in.Message) {
			return t.run(ctx, feedbackRole, withHistory(history, "My answer: "+in.Message), PhasePractice, nil)
		}
	}
	return t.teach(ctx, in.Message, history)
}

func (t *Tutor) teach(ctx context.Context, message string, history []domain.Message) (*domain.CapabilityResponse, error) {
	if DetectConfusion(message, history) {
		resp, err := t.run(ctx, confusionRole, withHistory(history, message), PhaseReExplanation, nil)
		if err != nil {
			return nil, err
		}
		resp.Metadata.ConfusionDetected = true
		return resp, nil
	}
	return t.run(ctx, teachingRole, withHistory(history, message), PhaseTeaching, ExtractSteps)
}

func (t *Tutor) run(ctx context.Context, role string, messages []domain.Message, phase string, steps func(string) []string) (*domain.CapabilityResponse, error) {
	out, err := t.generate(ctx, role, messages)
	if err != nil {
		return nil, fmt.Errorf("tutor generate: %w", err)
	}
	o := domain.Output{Message: out.Text, Success: true}
	if steps != nil {
		o.Steps = steps(out.Text)
	}
	return respond(t.Name(), domain.TaskTeach, o, domain.ResponseMetadata{
		Phase:     phase,
		ModelUsed: out.Model,
	}), nil
}

// DeterminePhase picks the conversation phase from recent history and the
// learner profile.
func DeterminePhase(history []domain.Message, profile *domain.StudentProfile) string {
	if profile == nil || profile.Level == "" || len(history) < 3 {
		return PhaseDiagnostic
	}
	for _, m := range lastN(history, 3) {
		c := strings.ToLower(m.Content)
		if strings.Contains(c, "exercise") || strings.Contains(c, "question") {
			return PhasePractice
		}
	}
	return PhaseTeaching
}

// DetectConfusion reports whether message signals confusion, or the recent
// history shows repeated mistakes.
func DetectConfusion(message string, history []domain.Message) bool {
	for _, p := range confusionSignals {
		if p.MatchString(message) {
			return true
		}
	}
	errs := 0
	for _, m := range lastN(history, 3) {
		c := strings.ToLower(m.Content)
		if strings.Contains(c, "wrong") || strings.Contains(c, "incorrect") {
			errs++
		}
	}
	return errs >= 2
}

// LooksLikeAnswer reports whether message reads as an answer submission.
func LooksLikeAnswer(message string) bool {
	m := strings.TrimSpace(message)
	for _, p := range answerPatterns {
		if p.MatchString(m) {
			return true
		}
	}
	return false
}

// ExtractSteps collects numbered, bulleted and "Step N:" lines.
func ExtractSteps(text string) []string {
	var steps []string
	for _, p := range stepPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if s := strings.TrimSpace(m[1]); s != "" {
				steps = append(steps, s)
			}
		}
	}
	return steps
}

func lastN(history []domain.Message, n int) []domain.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
