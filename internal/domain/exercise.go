package domain

// Difficulty levels, easiest first.
const (
	DifficultyEasy      = "easy"
	DifficultyMedium    = "medium"
	DifficultyHard      = "hard"
	DifficultyChallenge = "challenge"
)

// DifficultyLevels lists the difficulty ladder in ascending order.
var DifficultyLevels = []string{DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyChallenge}

// Exercise is a practice item a learner can answer.
type Exercise struct {
	ID         string `json:"id,omitempty"`
	Question   string `json:"question,omitempty"`
	Answer     string `json:"answer,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// DifficultyOrDefault returns the exercise difficulty, or medium when unset.
func (e *Exercise) DifficultyOrDefault() string {
	if e == nil || e.Difficulty == "" {
		return DifficultyMedium
	}
	return e.Difficulty
}
