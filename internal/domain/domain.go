// Package domain contains core domain types shared by the tutoring pipeline.
package domain

// Capability names a handler that can answer a learner turn.
type Capability string

// Capability tags. CapabilityTutor is the conversational default that every
// fallback, repair and synthesis pass goes through.
const (
	CapabilityTutor      Capability = "tutor"
	CapabilityContent    Capability = "content"
	CapabilityEvaluation Capability = "evaluation"
	CapabilityDifficulty Capability = "difficulty"
	CapabilityEngagement Capability = "engagement"
	CapabilityAnalytics  Capability = "analytics"
	CapabilityPlanner    Capability = "planner"
)

// Task is the unit of work requested from a capability.
type Task string

// Task tags.
const (
	TaskTeach    Task = "teach"
	TaskExplain  Task = "explain"
	TaskEvaluate Task = "evaluate"
	TaskGenerate Task = "generate"
	TaskAdjust   Task = "adjust"
	TaskMotivate Task = "motivate"
	TaskAnalyze  Task = "analyze"
	TaskPlan     Task = "plan"
)

var taskCapabilities = map[Task]Capability{
	TaskTeach:    CapabilityTutor,
	TaskExplain:  CapabilityContent,
	TaskEvaluate: CapabilityEvaluation,
	TaskGenerate: CapabilityContent,
	TaskAdjust:   CapabilityDifficulty,
	TaskMotivate: CapabilityEngagement,
	TaskAnalyze:  CapabilityAnalytics,
	TaskPlan:     CapabilityPlanner,
}

// CapabilityForTask returns the capability that owns a task.
// Unknown tasks belong to the tutor.
func CapabilityForTask(t Task) Capability {
	if c, ok := taskCapabilities[t]; ok {
		return c
	}
	return CapabilityTutor
}

// ParseTask validates a task tag.
func ParseTask(s string) (Task, bool) {
	t := Task(s)
	_, ok := taskCapabilities[t]
	return t, ok
}

// Intent is the classified purpose of an inbound message.
type Intent string

// Intent tags.
const (
	IntentAskQuestion     Intent = "ask_question"
	IntentSubmitAnswer    Intent = "submit_answer"
	IntentSignalConfusion Intent = "signal_confusion"
	IntentRequestExercise Intent = "request_exercise"
	IntentRequestPlan     Intent = "request_plan"
	IntentReviewMistake   Intent = "review_mistake"
	IntentDiagnostic      Intent = "diagnostic"
	IntentGeneralChat     Intent = "general_chat"
)
