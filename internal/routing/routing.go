// Package routing classifies learner messages into an intent and the
// capability and task that should answer them.
package routing

import (
	"context"
	"regexp"
	"strings"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// Confidence values reported by Engine.
const (
	MatchedConfidence = 0.8
	DefaultConfidence = 0.5
)

// Entities are the optional values pulled out of a message.
// Empty fields were not found.
type Entities struct {
	Topic string `json:"topic,omitempty"`
	Level string `json:"level,omitempty"`
}

// Decision is the classification of one inbound message. It is never persisted.
type Decision struct {
	Intent     domain.Intent     `json:"intent"`
	Capability domain.Capability `json:"capability"`
	Task       domain.Task       `json:"task"`
	Confidence float64           `json:"confidence"`
	Entities   Entities          `json:"entities"`
}

// Classifier turns a message into a Decision. Implementations must not
// perform I/O; ctx carries request-scoped values only.
type Classifier interface {
	Route(ctx context.Context, message string) Decision
}

// Rule maps a set of patterns to a destination.
type Rule struct {
	Intent     domain.Intent
	Capability domain.Capability
	Task       domain.Task
	Patterns   []*regexp.Regexp
}

func rule(intent domain.Intent, capability domain.Capability, task domain.Task, patterns ...string) Rule {
	r := Rule{Intent: intent, Capability: capability, Task: task}
	for _, p := range patterns {
		r.Patterns = append(r.Patterns, regexp.MustCompile(p))
	}
	return r
}

// DefaultRules is the ordered rule table. Earlier rules win.
var DefaultRules = []Rule{
	rule(domain.IntentSubmitAnswer, domain.CapabilityEvaluation, domain.TaskEvaluate,
		`(?i)^(the answer is|it's|it is|i think|i believe|my answer is)`,
		`(?i)^(a\)|b\)|c\)|d\)|true|false)`,
	),
	rule(domain.IntentSignalConfusion, domain.CapabilityTutor, domain.TaskTeach,
		`(?i)(i don't? (understand|get it)|confused|not sure|unclear|help)`,
		`(?i)(what\?|huh\?|i'm lost)`,
	),
	rule(domain.IntentRequestExercise, domain.CapabilityContent, domain.TaskGenerate,
		`(?i)(give me|can i have|i want|generate|create).*(exercise|question|problem|practice)`,
		`(?i)(test|quiz|practice).*(me|my understanding)`,
	),
	rule(domain.IntentRequestPlan, domain.CapabilityPlanner, domain.TaskPlan,
		`(?i)(create|make|generate|give me).*(plan|schedule|study plan|learning plan)`,
		`(?i)(plan|schedule).*(for|to study)`,
	),
	rule(domain.IntentReviewMistake, domain.CapabilityTutor, domain.TaskTeach,
		`(?i)(explain|why|how).*(wrong|mistake|error|incorrect)`,
		`(?i)(what did i do wrong|why was that wrong)`,
	),
	rule(domain.IntentDiagnostic, domain.CapabilityTutor, domain.TaskTeach,
		`(?i)(start|begin|new|first time|first session)`,
		`(?i)(i want to learn|i'm studying|i need help with)`,
	),
	rule(domain.IntentAskQuestion, domain.CapabilityTutor, domain.TaskTeach,
		`(?i)^(what|how|why|when|where|can you|explain|tell me)`,
		`\?$`,
	),
}

var (
	topicPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(about|on|regarding|topic|subject)\b\s+([a-z]+(?:\s+[a-z]+)*)`),
		regexp.MustCompile(`(?i)\b(learn|study|teach|explain)\b\s+([a-z]+(?:\s+[a-z]+)*)`),
	}
	levelPattern = regexp.MustCompile(`(?i)\b(beginner|intermediate|advanced|easy|medium|hard)\b`)
)

// Engine is the regex-backed Classifier.
type Engine struct {
	rules []Rule
}

var _ Classifier = (*Engine)(nil)

// NewEngine returns an Engine using rules, or DefaultRules when none are given.
func NewEngine(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Engine{rules: rules}
}

// Route implements Classifier. The first matching rule wins; with no match
// the message is general chat for the tutor.
func (e *Engine) Route(_ context.Context, message string) Decision {
	entities := ExtractEntities(message)

	if strings.TrimSpace(message) != "" {
		for _, r := range e.rules {
			for _, p := range r.Patterns {
				if p.MatchString(message) {
					return Decision{
						Intent:     r.Intent,
						Capability: r.Capability,
						Task:       r.Task,
						Confidence: MatchedConfidence,
						Entities:   entities,
					}
				}
			}
		}
	}

	return Decision{
		Intent:     domain.IntentGeneralChat,
		Capability: domain.CapabilityTutor,
		Task:       domain.TaskTeach,
		Confidence: DefaultConfidence,
		Entities:   entities,
	}
}

// ForTask builds the Decision for a caller that already knows the task.
func (e *Engine) ForTask(message string, task domain.Task) Decision {
	d := e.Route(context.Background(), message)
	d.Task = task
	d.Capability = domain.CapabilityForTask(task)
	d.Confidence = 1
	return d
}

// ExtractEntities pulls a topic and a level out of message. Missing
// entities are left empty.
func ExtractEntities(message string) Entities {
	var ent Entities
	for _, p := range topicPatterns {
		if m := p.FindStringSubmatch(message); len(m) > 2 && m[2] != "" {
			ent.Topic = strings.ToLower(strings.TrimSpace(m[2]))
			break
		}
	}
	if m := levelPattern.FindStringSubmatch(message); len(m) > 1 {
		ent.Level = strings.ToLower(m[1])
	}
	return ent
}
