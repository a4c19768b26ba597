// Package persona holds the tutor's identity rules: the system instruction
// every prompt carries, and the local checks and fixes applied to replies.
package persona

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Defaults for Rules.
const (
	DefaultName              = "Kaelo"
	DefaultMaxResponseLength = 1000
	DefaultReplacement       = "that's a great attempt"
	DefaultCue               = " Does that make sense?"
)

// IssueNeedsCue is reported when a reply neither asks nor invites anything.
const IssueNeedsCue = "Response should end with a question or clear next step"

// DefaultForbiddenPhrases are never said to a learner.
var DefaultForbiddenPhrases = []string{"you are wrong", "that's incorrect"}

var nextStepWords = regexp.MustCompile(`(?i)\b(ready|try)`)

// Rules is the persona configuration.
type Rules struct {
	Name              string
	MaxResponseLength int
	ForbiddenPhrases  []string
	Replacement       string
	Cue               string

	forbidden []*regexp.Regexp
}

// Default returns the stock persona.
func Default() *Rules {
	return New(Rules{})
}

// New fills zero fields of r with defaults and compiles its phrase list.
func New(r Rules) *Rules {
	if r.Name == "" {
		r.Name = DefaultName
	}
	if r.MaxResponseLength <= 0 {
		r.MaxResponseLength = DefaultMaxResponseLength
	}
	if r.ForbiddenPhrases == nil {
		r.ForbiddenPhrases = DefaultForbiddenPhrases
	}
	if r.Replacement == "" {
		r.Replacement = DefaultReplacement
	}
	if r.Cue == "" {
		r.Cue = DefaultCue
	}
	r.forbidden = make([]*regexp.Regexp, 0, len(r.ForbiddenPhrases))
	for _, p := range r.ForbiddenPhrases {
		r.forbidden = append(r.forbidden, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(p)))
	}
	return &r
}

// SystemInstruction is prepended to every model call.
func (r *Rules) SystemInstruction() string {
	quoted := make([]string, len(r.ForbiddenPhrases))
	for i, p := range r.ForbiddenPhrases {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return fmt.Sprintf(`You are %s, a warm, patient, and encouraging AI tutor.

Your personality: warm, patient, structured, encouraging
Your teaching approach: step-by-step
Your tone: warm, friendly, patient

Key rules:
- Keep messages short and mobile-friendly
- Use bullet points and clear formatting
- Always end with a question
- Be encouraging, never condescending
- Break complex topics into small steps
- Check understanding frequently
- Celebrate effort, not just correct answers

Error correction style:
- Start with encouragement
- Explain what went wrong gently
- Provide simpler examples
- Offer retry opportunities

Never say: %s
Always say: %q or "you're on the right track"`, r.Name, strings.Join(quoted, " or "), r.Replacement)
}

// Validate lists every rule text breaks. An empty result means valid.
func (r *Rules) Validate(text string) []string {
	var issues []string
	if n := len([]rune(text)); n > r.MaxResponseLength {
		issues = append(issues, fmt.Sprintf("Response too long (%d chars, max %d)", n, r.MaxResponseLength))
	}
	for i, re := range r.forbidden {
		if re.MatchString(text) {
			issues = append(issues, fmt.Sprintf("Contains forbidden phrase: %q", r.ForbiddenPhrases[i]))
		}
	}
	if needsCue(text) {
		issues = append(issues, IssueNeedsCue)
	}
	return issues
}

// Enforce rewrites text so that Validate accepts it. It performs no I/O,
// never returns more than MaxResponseLength runes and Enforce(Enforce(x))
// equals Enforce(x).
func (r *Rules) Enforce(text string) string {
	out := strings.TrimSpace(text)
	for _, re := range r.forbidden {
		out = re.ReplaceAllLiteralString(out, r.Replacement)
	}

	if len([]rune(out)) <= r.MaxResponseLength && !needsCue(out) {
		return out
	}

	cueLen := len([]rune(r.Cue))
	limit := r.MaxResponseLength
	if needsCue(truncate(out, limit)) && limit > cueLen {
		limit -= cueLen
	}
	out = truncate(out, limit)
	if needsCue(out) && len([]rune(out))+cueLen <= r.MaxResponseLength {
		out = strings.TrimSpace(out + r.Cue)
	}
	return out
}

func needsCue(text string) bool {
	t := strings.TrimSpace(text)
	if strings.HasSuffix(t, "?") || strings.HasSuffix(t, "!") {
		return false
	}
	return !nextStepWords.MatchString(t)
}

// truncate cuts text to at most limit runes, preferring a sentence end past
// 70% of the limit, then a word boundary.
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 0 {
		return ""
	}
	cut := runes[:limit]

	for i := len(cut) - 1; i >= 0; i-- {
		if cut[i] == '.' || cut[i] == '!' || cut[i] == '?' {
			if float64(i+1) > 0.7*float64(limit) {
				return strings.TrimSpace(string(cut[:i+1]))
			}
			break
		}
	}
	for i := len(cut) - 1; i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			return strings.TrimRightFunc(string(cut[:i]), unicode.IsSpace)
		}
	}
	return string(cut)
}
