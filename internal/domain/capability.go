package domain

import (
	"time"
)

// CapabilityInput carries everything a capability may need to answer a turn.
type CapabilityInput struct {
	Message             string          `json:"message"`
	SessionID           string          `json:"sessionId"`
	UserID              string          `json:"userId"`
	Topic               string          `json:"topic,omitempty"`
	Level               string          `json:"level,omitempty"`
	Exercise            *Exercise       `json:"exercise,omitempty"`
	UserAnswer          string          `json:"userAnswer,omitempty"`
	PerformanceHistory  []ProgressEntry `json:"performanceHistory,omitempty"`
	CurrentLevel        string          `json:"currentLevel,omitempty"`
	StudentProfile      *StudentProfile `json:"studentProfile,omitempty"`
	Trigger             string          `json:"trigger,omitempty"`
	StudentName         string          `json:"studentName,omitempty"`
	PlanType            string          `json:"planType,omitempty"`
	ConversationHistory []Message       `json:"conversationHistory"`
}

// RequestMetadata identifies one pipeline run.
type RequestMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
	// Internal marks requests issued by the coordinator itself (fallback,
	// repair, synthesis) rather than by the learner.
	Internal     bool       `json:"internal,omitempty"`
	Error        string     `json:"error,omitempty"`
	SafetyIssues []string   `json:"safetyIssues,omitempty"`
	OriginalFrom Capability `json:"originalFrom,omitempty"`
}

// CapabilityRequest is the canonical envelope dispatched to a capability.
type CapabilityRequest struct {
	Capability Capability      `json:"capability"`
	Task       Task            `json:"task"`
	Input      CapabilityInput `json:"input"`
	Metadata   RequestMetadata `json:"metadata"`
}

// Output is what a capability produced. Only Message and Success are common
// to every capability; the remaining fields are diagnostics.
type Output struct {
	Message        string    `json:"message"`
	Success        bool      `json:"success"`
	Steps          []string  `json:"steps,omitempty"`
	KeyPoints      []string  `json:"keyPoints,omitempty"`
	IsCorrect      *bool     `json:"isCorrect,omitempty"`
	Diagnosis      string    `json:"diagnosis,omitempty"`
	Confidence     float64   `json:"confidenceScore,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
	NewLevel       string    `json:"newLevel,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Action         string    `json:"action,omitempty"`
	Analysis       *Analysis `json:"analysis,omitempty"`
}

// Analysis is the Analyzer's summary of a learner's history.
type Analysis struct {
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	Trend          string   `json:"trend"`
	TotalExercises int      `json:"totalExercises"`
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	Timestamp         time.Time  `json:"timestamp"`
	ModelUsed         string     `json:"modelUsed,omitempty"`
	Phase             string     `json:"phase,omitempty"`
	ConfusionDetected bool       `json:"confusionDetected,omitempty"`
	SynthesizedFrom   Capability `json:"synthesizedFrom,omitempty"`
	SafetyIssues      []string   `json:"safetyIssues,omitempty"`
	Trigger           string     `json:"trigger,omitempty"`
	PlanType          string     `json:"planType,omitempty"`
	Accuracy          *float64   `json:"accuracy,omitempty"`
}

// CapabilityResponse is returned by a capability. The coordinator never
// mutates one in place; repair and synthesis produce new values.
type CapabilityResponse struct {
	Capability Capability       `json:"capability"`
	Task       Task             `json:"task"`
	Output     Output           `json:"output"`
	Metadata   ResponseMetadata `json:"metadata"`
}

// Text returns the learner-facing text of the response.
func (r *CapabilityResponse) Text() string {
	if r == nil {
		return ""
	}
	return r.Output.Message
}

// WithText returns a copy of r carrying text as its message.
func (r CapabilityResponse) WithText(text string) *CapabilityResponse {
	r.Output.Message = text
	return &r
}
