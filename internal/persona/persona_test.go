package persona

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	rules := Default()

	assert.Empty(t, rules.Validate("Nice work! Shall we try the next one?"))
	assert.Empty(t, rules.Validate("Give it a try when you're ready."))
	assert.Equal(t, []string{IssueNeedsCue}, rules.Validate("Photosynthesis happens in chloroplasts."))

	issues := rules.Validate("Hmm, you are wrong.")
	assert.Contains(t, issues, `Contains forbidden phrase: "you are wrong"`)
	assert.Contains(t, issues, IssueNeedsCue)
}

func TestEnforceReplacesForbiddenPhrases(t *testing.T) {
	t.Parallel()

	got := Default().Enforce("Hmm, You Are Wrong about that. Want another go?")
	assert.Equal(t, "Hmm, that's a great attempt about that. Want another go?", got)
}

func TestEnforceAddsCue(t *testing.T) {
	t.Parallel()

	got := Default().Enforce("Mitochondria make energy for the cell.")
	assert.Equal(t, "Mitochondria make energy for the cell. Does that make sense?", got)
}

func TestEnforceBoundsLength(t *testing.T) {
	t.Parallel()

	rules := New(Rules{MaxResponseLength: 80})
	long := strings.Repeat("Cells divide often. ", 20)

	got := rules.Enforce(long)
	require.LessOrEqual(t, len([]rune(got)), 80)
	assert.True(t, strings.HasSuffix(got, "?"), got)
	assert.Empty(t, rules.Validate(got))
}

func TestEnforceIsIdempotent(t *testing.T) {
	t.Parallel()

	rules := New(Rules{MaxResponseLength: 60})
	inputs := []string{
		"",
		"Short.",
		"That's incorrect, obviously.",
		strings.Repeat("word ", 40),
		"Great job!",
		strings.Repeat("x", 200),
		"  padded text with a try in it  ",
	}
	for _, in := range inputs {
		once := rules.Enforce(in)
		assert.Equal(t, once, rules.Enforce(once), "input %q", in)
		assert.LessOrEqual(t, len([]rune(once)), 60, "input %q", in)
	}
}

func TestTruncatePrefersSentenceBoundary(t *testing.T) {
	t.Parallel()

	text := "One two three four five six seven. Eight nine ten eleven"
	assert.Equal(t, "One two three four five six seven.", truncate(text, 40))
	assert.Equal(t, "One two", truncate(text, 10))
}

func TestSystemInstructionNamesPersona(t *testing.T) {
	t.Parallel()

	si := New(Rules{Name: "Ada"}).SystemInstruction()
	assert.True(t, strings.HasPrefix(si, "You are Ada,"))
	assert.Contains(t, si, `"you are wrong"`)
}
