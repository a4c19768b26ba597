package domain

import (
	"time"
)

// ProgressEntry records the outcome of one exercise attempt. Entries are append-only.
type ProgressEntry struct {
	Timestamp  time.Time     `json:"timestamp"`
	Topic      string        `json:"topic"`
	ExerciseID string        `json:"exerciseId,omitempty"`
	Correct    bool          `json:"correct"`
	Difficulty string        `json:"difficulty"`
	TimeSpent  time.Duration `json:"timeSpent,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
}

// MemoryData is the durable per-session learner state.
type MemoryData struct {
	RecentMessages    []Message       `json:"recentMessages"`
	CurrentTopic      string          `json:"currentTopic,omitempty"`
	CurrentDifficulty string          `json:"currentDifficulty,omitempty"`
	CurrentExerciseID string          `json:"currentExerciseId,omitempty"`
	Level             string          `json:"level,omitempty"`
	Strengths         []string        `json:"strengths"`
	Weaknesses        []string        `json:"weaknesses"`
	ProgressHistory   []ProgressEntry `json:"progressHistory"`
	LearningStyle     string          `json:"learningStyle,omitempty"`
	Goals             []string        `json:"goals"`
	ExamDate          string          `json:"examDate,omitempty"`
	LastUpdated       time.Time       `json:"lastUpdated"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// NewMemoryData returns the defaults used for a session seen for the first time.
func NewMemoryData(now time.Time) *MemoryData {
	return &MemoryData{
		RecentMessages:  []Message{},
		Strengths:       []string{},
		Weaknesses:      []string{},
		ProgressHistory: []ProgressEntry{},
		Goals:           []string{},
		LastUpdated:     now,
		CreatedAt:       now,
	}
}

// MemoryUpdate is a partial MemoryData. Nil fields are left untouched.
type MemoryUpdate struct {
	CurrentTopic      *string         `json:"currentTopic,omitempty"`
	CurrentDifficulty *string         `json:"currentDifficulty,omitempty"`
	CurrentExerciseID *string         `json:"currentExerciseId,omitempty"`
	Level             *string         `json:"level,omitempty"`
	Strengths         []string        `json:"strengths,omitempty"`
	Weaknesses        []string        `json:"weaknesses,omitempty"`
	LearningStyle     *string         `json:"learningStyle,omitempty"`
	Goals             []string        `json:"goals,omitempty"`
	ExamDate          *string         `json:"examDate,omitempty"`
	AppendProgress    []ProgressEntry `json:"appendProgress,omitempty"`
}

// IsEmpty reports whether the update carries no changes.
func (u MemoryUpdate) IsEmpty() bool {
	return u.CurrentTopic == nil && u.CurrentDifficulty == nil && u.CurrentExerciseID == nil &&
		u.Level == nil && u.Strengths == nil && u.Weaknesses == nil && u.LearningStyle == nil &&
		u.Goals == nil && u.ExamDate == nil && len(u.AppendProgress) == 0
}

// Apply merges the update into m and stamps LastUpdated.
func (u MemoryUpdate) Apply(m *MemoryData, now time.Time) {
	if u.CurrentTopic != nil {
		m.CurrentTopic = *u.CurrentTopic
	}
	if u.CurrentDifficulty != nil {
		m.CurrentDifficulty = *u.CurrentDifficulty
	}
	if u.CurrentExerciseID != nil {
		m.CurrentExerciseID = *u.CurrentExerciseID
	}
	if u.Level != nil {
		m.Level = *u.Level
	}
	if u.Strengths != nil {
		m.Strengths = u.Strengths
	}
	if u.Weaknesses != nil {
		m.Weaknesses = u.Weaknesses
	}
	if u.LearningStyle != nil {
		m.LearningStyle = *u.LearningStyle
	}
	if u.Goals != nil {
		m.Goals = u.Goals
	}
	if u.ExamDate != nil {
		m.ExamDate = *u.ExamDate
	}
	m.ProgressHistory = append(m.ProgressHistory, u.AppendProgress...)
	m.LastUpdated = now
}

// StudentProfile is the learner view of MemoryData handed to capabilities.
type StudentProfile struct {
	Level           string          `json:"level,omitempty"`
	Goals           []string        `json:"goals,omitempty"`
	ExamDate        string          `json:"examDate,omitempty"`
	Strengths       []string        `json:"strengths,omitempty"`
	Weaknesses      []string        `json:"weaknesses,omitempty"`
	LearningStyle   string          `json:"learningStyle,omitempty"`
	ProgressHistory []ProgressEntry `json:"progressHistory,omitempty"`
}

// Profile derives the StudentProfile from stored memory.
func (m *MemoryData) Profile() *StudentProfile {
	if m == nil {
		return nil
	}
	return &StudentProfile{
		Level:           m.Level,
		Goals:           m.Goals,
		ExamDate:        m.ExamDate,
		Strengths:       m.Strengths,
		Weaknesses:      m.Weaknesses,
		LearningStyle:   m.LearningStyle,
		ProgressHistory: m.ProgressHistory,
	}
}
