package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prompts(s *PromptSchedule) []string {
	var out []string
	for _, e := range s.Entries {
		out = append(out, e.Config.Prompt)
	}
	return out
}

func ends(s *PromptSchedule) []float64 {
	var out []float64
	for _, e := range s.Entries {
		out = append(out, e.End)
	}
	return out
}

func TestParsePlainText(t *testing.T) {
	s := Parse("a cat on a mat")
	require.Len(t, s.Entries, 1)
	assert.Equal(t, 1.0, s.Entries[0].End)
	assert.Equal(t, "a cat on a mat", s.Entries[0].Config.Prompt)
	assert.Empty(t, s.Entries[0].Config.Loras)
}

func TestParseSwitch(t *testing.T) {
	s := Parse("x [cat:dog:0.3] y")
	require.Len(t, s.Entries, 2)
	assert.Equal(t, []float64{0.3, 1.0}, ends(s))
	assert.Equal(t, []string{"x cat y", "x dog y"}, prompts(s))
}

func TestParseAppearAndDisappear(t *testing.T) {
	s := Parse("a[ painting:0.5]")
	assert.Equal(t, []float64{0.5, 1.0}, ends(s))
	assert.Equal(t, []string{"a", "a painting"}, prompts(s))

	s = Parse("a[ painting::0.5]")
	assert.Equal(t, []float64{0.5, 1.0}, ends(s))
	assert.Equal(t, []string{"a painting", "a"}, prompts(s))
}

func TestParseNested(t *testing.T) {
	s := Parse("[[a:b:0.3]:c:0.6]")
	require.Len(t, s.Entries, 3)
	assert.Equal(t, []float64{0.3, 0.6, 1.0}, ends(s))
	assert.Equal(t, []string{"a", "b", "c"}, prompts(s))
}

func TestParseAlternation(t *testing.T) {
	s := Parse("[day|night]")
	require.Len(t, s.Entries, 10)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}, ends(s))
	assert.Equal(t, "day", s.Entries[0].Config.Prompt)
	assert.Equal(t, "night", s.Entries[1].Config.Prompt)
	assert.Equal(t, "day", s.Entries[2].Config.Prompt)
	assert.Equal(t, "night", s.Entries[9].Config.Prompt)
}

func TestParseAlternationWithStep(t *testing.T) {
	s := Parse("[a|b:0.5]")
	assert.Equal(t, []float64{0.5, 1.0}, ends(s))
	assert.Equal(t, []string{"a", "b"}, prompts(s))
}

func TestParseInterpolation(t *testing.T) {
	s := Parse("[a cat:a dog:0.2,0.8]")
	assert.Equal(t, []float64{0.2, 1.0}, ends(s))
	assert.Equal(t, []string{"a cat", "a dog"}, prompts(s))

	require.Len(t, s.Interpolations, 1)
	assert.Equal(t, []float64{0.2, 0.8}, s.Interpolations[0].ControlPoints)
	// Step stays zero until a consumer picks a default
	assert.Equal(t, 0.0, s.Interpolations[0].Step)
	assert.Equal(t, 0.2, s.Interpolations[0].First())
	assert.Equal(t, 0.8, s.Interpolations[0].Last())
}

func TestParseInterpolationWithStep(t *testing.T) {
	s := Parse("[a:b:0.1,0.5,0.9:0.05]")
	require.Len(t, s.Interpolations, 1)
	assert.Equal(t, []float64{0.1, 0.5, 0.9}, s.Interpolations[0].ControlPoints)
	assert.Equal(t, 0.05, s.Interpolations[0].Step)
}

func TestPartitionInvariant(t *testing.T) {
	// Whatever the input, entries must partition (0, 1]:
	// strictly increasing ends, the last one exactly 1.0.
	texts := []string{
		"plain",
		"[a:b:0.3]",
		"[a|b|c]",
		"x [a:b:0.25] y [c:d:0.7] z",
		"[a:b:0.2,0.8] [e|f:0.3]",
		"[a:0.9999]",
		"[[x:y:0.5]|z]",
	}
	for _, text := range texts {
		s := Parse(text)
		require.NotEmpty(t, s.Entries, text)
		prev := 0.0
		for _, e := range s.Entries {
			assert.Greater(t, e.End, prev, text)
			prev = e.End
		}
		assert.Equal(t, 1.0, s.Entries[len(s.Entries)-1].End, text)
	}
}

func TestMergeIdenticalWindows(t *testing.T) {
	// Both sides of the switch resolve to the same text, so the
	// boundary disappears entirely.
	s := Parse("[same:same:0.5] x")
	require.Len(t, s.Entries, 1)
	assert.Equal(t, 1.0, s.Entries[0].End)
}

func TestLoraTags(t *testing.T) {
	s := Parse("<lora:detail:0.8> a cat")
	require.Len(t, s.Entries, 1)
	assert.Equal(t, " a cat", s.Entries[0].Config.Prompt)
	require.Contains(t, s.Entries[0].Config.Loras, "detail")
	assert.Equal(t, LoraSpec{Weight: 0.8, WeightClip: 0.8}, s.Entries[0].Config.Loras["detail"])
}

func TestLoraTagClipWeight(t *testing.T) {
	s := Parse("<lora:detail:1:0.5> x")
	assert.Equal(t, LoraSpec{Weight: 1, WeightClip: 0.5}, s.Entries[0].Config.Loras["detail"])
}

func TestScheduledLora(t *testing.T) {
	// The lora is active only until 50%, so the windows must not merge
	s := Parse("[<lora:detail:1>::0.5]a cat")
	require.Len(t, s.Entries, 2)
	assert.Equal(t, 0.5, s.Entries[0].End)
	require.Contains(t, s.Entries[0].Config.Loras, "detail")
	assert.Empty(t, s.Entries[1].Config.Loras)
	assert.Equal(t, "a cat", s.Entries[1].Config.Prompt)
}

func TestLoraNames(t *testing.T) {
	s := Parse("<lora:zeta:1> [<lora:alpha:0.5>:x:0.5]")
	assert.Equal(t, []string{"alpha", "zeta"}, s.LoraNames())
}

func TestFilterTags(t *testing.T) {
	s := Parse("a cat[, hi-res:HR]")
	require.Len(t, s.Entries, 1)
	assert.Equal(t, "a cat", s.Entries[0].Config.Prompt)

	hr := s.WithFilters("hr")
	require.Len(t, hr.Entries, 1)
	assert.Equal(t, "a cat, hi-res", hr.Entries[0].Config.Prompt)

	// Filters are matched case-insensitively and split on commas
	both := s.WithFilters("XL, HR")
	assert.Equal(t, "a cat, hi-res", both.Entries[0].Config.Prompt)
}

func TestAt(t *testing.T) {
	s := Parse("[a:b:0.3]")

	// Windows are (prev, end]: the boundary belongs to the earlier window
	assert.Equal(t, "a", s.At(0.1).Config.Prompt)
	assert.Equal(t, "a", s.At(0.3).Config.Prompt)
	assert.Equal(t, "b", s.At(0.31).Config.Prompt)
	assert.Equal(t, "b", s.At(1.0).Config.Prompt)
	assert.Equal(t, "b", s.At(1.5).Config.Prompt)
}

func TestUnparseableBracketsStayVerbatim(t *testing.T) {
	for _, text := range []string{"[hands]", "[a:bad%]", "open [bracket"} {
		s := Parse(text)
		require.Len(t, s.Entries, 1, text)
		assert.Equal(t, text, s.Entries[0].Config.Prompt, text)
	}
}

func TestLorasEqual(t *testing.T) {
	a := map[string]LoraSpec{"x": {1, 1}}
	b := map[string]LoraSpec{"x": {1, 1}}
	c := map[string]LoraSpec{"x": {1, 0.5}}

	assert.True(t, LorasEqual(a, b))
	assert.False(t, LorasEqual(a, c))
	assert.False(t, LorasEqual(a, nil))
	assert.True(t, LorasEqual(nil, map[string]LoraSpec{}))
}
