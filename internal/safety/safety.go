// Package safety validates produced responses before they reach a learner.
package safety

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Issue messages.
const (
	IssueCondescending   = "Contains potentially condescending language"
	IssueNegativeFraming = "Contains negative framing - should use positive language"
)

// DefaultMaxResponseLength bounds responses before a length warning is raised.
const DefaultMaxResponseLength = 1000

// DefaultForbiddenPhrases is the configured block-list.
var DefaultForbiddenPhrases = []string{"you are wrong", "that's incorrect"}

var (
	condescendingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)obviously`),
		regexp.MustCompile(`(?i)clearly`),
		regexp.MustCompile(`(?i)you should know`),
		regexp.MustCompile(`(?i)everyone knows`),
	}
	negativePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)you are wrong`),
		regexp.MustCompile(`(?i)that's incorrect`),
		regexp.MustCompile(`(?i)you failed`),
		regexp.MustCompile(`(?i)you can't`),
	}
)

// polarity maps a phrase found in a recorded fact to the phrases that
// contradict it.
var polarity = []struct {
	key       string
	opposites []string
}{
	{"is true", []string{"is false", "is not true", "is incorrect"}},
	{"is false", []string{"is true", "is correct"}},
}

// Result is the outcome of Check. Safe is true iff Issues is empty.
type Result struct {
	Safe     bool     `json:"safe"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

// Config tunes the Engine.
type Config struct {
	MaxResponseLength int
	ForbiddenPhrases  []string
}

// Engine runs the response checks. It holds no per-session state; facts
// live in the FactLedger passed to Check.
type Engine struct {
	maxLen    int
	forbidden []string
}

// NewEngine builds an Engine, applying defaults for zero values.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxResponseLength <= 0 {
		cfg.MaxResponseLength = DefaultMaxResponseLength
	}
	if cfg.ForbiddenPhrases == nil {
		cfg.ForbiddenPhrases = DefaultForbiddenPhrases
	}
	return &Engine{maxLen: cfg.MaxResponseLength, forbidden: cfg.ForbiddenPhrases}
}

// MaxResponseLength returns the configured limit.
func (e *Engine) MaxResponseLength() int { return e.maxLen }

// Check evaluates every rule against text. ledger may be nil.
func (e *Engine) Check(text string, ledger *FactLedger) Result {
	res := Result{Issues: []string{}, Warnings: []string{}}
	lower := strings.ToLower(text)

	if ledger != nil {
		for _, fact := range ledger.Facts() {
			if contradicts(lower, fact) {
				res.Issues = append(res.Issues, "Contradicts previous fact: "+fact)
			}
		}
	}

	if anyMatch(condescendingPatterns, text) {
		res.Issues = append(res.Issues, IssueCondescending)
	}
	if anyMatch(negativePatterns, text) {
		res.Issues = append(res.Issues, IssueNegativeFraming)
	}

	if n := len([]rune(text)); n > e.maxLen {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Response too long (%d chars, max %d)", n, e.maxLen))
	}

	for _, phrase := range e.forbidden {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			res.Issues = append(res.Issues, fmt.Sprintf("Contains forbidden phrase: %q", phrase))
		}
	}

	res.Safe = len(res.Issues) == 0
	return res
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func contradicts(lowerText, fact string) bool {
	f := strings.ToLower(fact)
	for _, p := range polarity {
		if strings.Contains(f, p.key) {
			for _, o := range p.opposites {
				if strings.Contains(lowerText, o) {
					return true
				}
			}
			return false
		}
	}
	return false
}

// PolarityStatements returns the sentences of text that carry a polarity
// phrase and are therefore worth recording as facts.
func PolarityStatements(text string) []string {
	var out []string
	for _, s := range splitSentences(text) {
		lower := strings.ToLower(s)
		for _, p := range polarity {
			if strings.Contains(lower, p.key) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// FactLedger holds the facts asserted in one session.
type FactLedger struct {
	mu    sync.RWMutex
	facts []string
}

// NewFactLedger returns an empty ledger.
func NewFactLedger() *FactLedger { return &FactLedger{} }

// RecordFact appends a fact.
func (l *FactLedger) RecordFact(fact string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.facts = append(l.facts, fact)
}

// Facts returns a copy of the recorded facts.
func (l *FactLedger) Facts() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.facts...)
}

// Len returns the number of recorded facts.
func (l *FactLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.facts)
}

// Clear drops every fact.
func (l *FactLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.facts = nil
}
