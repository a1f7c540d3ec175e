package directive

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		directive string
		defaults  []string
		wantRest  string
		wantCalls [][]string
	}{
		{
			name:      "no directive",
			text:      "a cat on a mat",
			directive: "AREA",
			defaults:  []string{"0 1", "0 1", "1"},
			wantRest:  "a cat on a mat",
			wantCalls: nil,
		},
		{
			name:      "single call with args",
			text:      "a cat AREA(0 0.5, 0 1, 0.8) on a mat",
			directive: "AREA",
			defaults:  []string{"0 1", "0 1", "1"},
			wantRest:  "a cat  on a mat",
			wantCalls: [][]string{{"0 0.5", "0 1", "0.8"}},
		},
		{
			name:      "missing args take defaults",
			text:      "AREA(0 0.5)",
			directive: "AREA",
			defaults:  []string{"0 1", "0 1", "1"},
			wantRest:  "",
			wantCalls: [][]string{{"0 0.5", "0 1", "1"}},
		},
		{
			name:      "empty body means all defaults",
			text:      "x NOISE() y",
			directive: "NOISE",
			defaults:  []string{"0.0", "none"},
			wantRest:  "x  y",
			wantCalls: [][]string{{"0.0", "none"}},
		},
		{
			name:      "multiple calls",
			text:      "NOISE(0.1) mid NOISE(0.2, 42)",
			directive: "NOISE",
			defaults:  []string{"0.0", "none"},
			wantRest:  " mid ",
			wantCalls: [][]string{{"0.1", "none"}, {"0.2", "42"}},
		},
		{
			name:      "nested parentheses stay inside one argument",
			text:      "CUT(a (small) dog, dog)",
			directive: "CUT",
			defaults:  []string{"", "", "", "", "", ""},
			wantRest:  "",
			wantCalls: [][]string{{"a (small) dog", "dog", "", "", "", ""}},
		},
		{
			name:      "unclosed parenthesis consumes the rest",
			text:      "a MASK(0 1, 0 1",
			directive: "MASK",
			defaults:  []string{"0 1", "0 1", "1"},
			wantRest:  "a ",
			wantCalls: [][]string{{"0 1", "0 1", "1"}},
		},
		{
			name:      "word boundary is respected",
			text:      "MYAREA(1 2)",
			directive: "AREA",
			defaults:  []string{"0 1", "0 1", "1"},
			wantRest:  "MYAREA(1 2)",
			wantCalls: nil,
		},
		{
			name:      "MASK does not match MASK_SIZE",
			text:      "MASK_SIZE(64, 64)",
			directive: "MASK",
			defaults:  []string{"0 1", "0 1", "1"},
			wantRest:  "MASK_SIZE(64, 64)",
			wantCalls: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rest, calls := Extract(tt.text, tt.directive, tt.defaults)
			assert.Equal(t, tt.wantRest, rest)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestExtractRawBody(t *testing.T) {
	// defaults == nil disables argument splitting entirely
	rest, calls := Extract("x CLIP_L(a, b, c) y", "CLIP_L", nil)
	assert.Equal(t, "x  y", rest)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"a, b, c"}, calls[0])
}

func TestSafeFloat(t *testing.T) {
	assert.Equal(t, 1.5, SafeFloat("1.5", 0))
	assert.Equal(t, -2.0, SafeFloat(" -2 ", 0))
	assert.Equal(t, 3.0, SafeFloat("junk", 3))
	assert.Equal(t, 3.0, SafeFloat("", 3))
}

func TestParseFloats(t *testing.T) {
	assert.Equal(t, []float64{0.2, 0.8}, ParseFloats("0.2 0.8", []float64{0, 1}))
	assert.Equal(t, []float64{0.2, 1}, ParseFloats("0.2", []float64{0, 1}))
	assert.Equal(t, []float64{0, 1}, ParseFloats("", []float64{0, 1}))
	assert.Equal(t, []float64{0, 0.7}, ParseFloats("x 0.7", []float64{0, 1}))
}

func TestParseStyle(t *testing.T) {
	style, norm, rest := ParseStyle("STYLE(A1111, mean) a cat", "comfy", "none")
	assert.Equal(t, "A1111", style)
	assert.Equal(t, "mean", norm)
	assert.Equal(t, " a cat", rest)

	// Unknown values fall back to the defaults instead of failing
	style, norm, _ = ParseStyle("STYLE(bogus, alsobogus) x", "comfy", "none")
	assert.Equal(t, "comfy", style)
	assert.Equal(t, "none", norm)

	style, norm, rest = ParseStyle("no style here", "comfy", "none")
	assert.Equal(t, "comfy", style)
	assert.Equal(t, "none", norm)
	assert.Equal(t, "no style here", rest)
}

func TestParseAreaPercent(t *testing.T) {
	rest, area, err := ParseArea("a cat AREA(0 0.5, 0.25 0.75, 0.8)")
	require.NoError(t, err)
	require.NotNil(t, area)
	assert.Equal(t, "a cat ", rest)
	assert.True(t, area.Pct)
	assert.Equal(t, 0.0, area.X)
	assert.Equal(t, 0.5, area.W)
	assert.Equal(t, 0.25, area.Y)
	assert.Equal(t, 0.75, area.H)
	assert.Equal(t, 0.8, area.Weight)
}

func TestParseAreaPixels(t *testing.T) {
	_, area, err := ParseArea("AREA(64 256, 0 128, 1)")
	require.NoError(t, err)
	require.NotNil(t, area)
	assert.False(t, area.Pct)

	// Pixel values are converted to latent units by integer division by 8
	assert.Equal(t, 8.0, area.X)
	assert.Equal(t, 32.0, area.W)
	assert.Equal(t, 0.0, area.Y)
	assert.Equal(t, 16.0, area.H)
}

func TestParseAreaMixedUnits(t *testing.T) {
	_, _, err := ParseArea("AREA(0.2 0.8, 64 256, 1)")
	require.Error(t, err)

	var ferr *FormatError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "AREA", ferr.Directive)
}

func TestParseMaskPercent(t *testing.T) {
	rest, mask, weight, err := ParseMask("a MASK(0 0.5, 0 1, 0.7) b", 8, 4)
	require.NoError(t, err)
	require.NotNil(t, mask)
	assert.Equal(t, "a  b", rest)
	assert.Equal(t, 0.7, weight)
	assert.Equal(t, 4, mask.Rows())
	assert.Equal(t, 8, mask.Cols())

	// Left half of the canvas is masked in, right half stays zero
	assert.Equal(t, float32(1), mask.At(0, 0))
	assert.Equal(t, float32(1), mask.At(3, 3))
	assert.Equal(t, float32(0), mask.At(0, 4))
	assert.Equal(t, float32(0), mask.At(3, 7))
}

func TestParseMaskPixels(t *testing.T) {
	_, mask, _, err := ParseMask("MASK(2 6, 0 2, 1)", 8, 4)
	require.NoError(t, err)
	require.NotNil(t, mask)
	assert.Equal(t, float32(0), mask.At(0, 1))
	assert.Equal(t, float32(1), mask.At(0, 2))
	assert.Equal(t, float32(1), mask.At(1, 5))
	assert.Equal(t, float32(0), mask.At(2, 3))
}

func TestParseMaskMixedUnits(t *testing.T) {
	_, _, _, err := ParseMask("MASK(0.1 0.9, 32 64, 1)", 512, 512)
	var ferr *FormatError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "MASK", ferr.Directive)
}

func TestParseMaskAbsent(t *testing.T) {
	rest, mask, weight, err := ParseMask("plain prompt", 512, 512)
	require.NoError(t, err)
	assert.Nil(t, mask)
	assert.Equal(t, 0.0, weight)
	assert.Equal(t, "plain prompt", rest)
}

func TestParseMaskSize(t *testing.T) {
	rest, w, h := ParseMaskSize("MASK_SIZE(1024, 768) a cat", 512, 512)
	assert.Equal(t, " a cat", rest)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 768, h)

	_, w, h = ParseMaskSize("a cat", 512, 512)
	assert.Equal(t, 512, w)
	assert.Equal(t, 512, h)
}

func TestParseNoise(t *testing.T) {
	rest, n := ParseNoise("a NOISE(0.2, 42) b NOISE(0.3) c")
	require.NotNil(t, n)
	assert.Equal(t, "a  b  c", rest)

	// Weights from all NOISE directives are summed, the seed comes from the first
	assert.InDelta(t, 0.5, n.Weight, 1e-9)
	assert.True(t, n.HasSeed)
	assert.Equal(t, int64(42), n.Seed)
}

func TestParseNoiseClampsWeight(t *testing.T) {
	_, n := ParseNoise("NOISE(0.8) NOISE(0.9)")
	require.NotNil(t, n)
	assert.Equal(t, 1.0, n.Weight)
}

func TestParseNoiseNoSeed(t *testing.T) {
	_, n := ParseNoise("NOISE(0.5)")
	require.NotNil(t, n)
	assert.False(t, n.HasSeed)

	_, n = ParseNoise("no noise")
	assert.Nil(t, n)
}

func TestParseSDXL(t *testing.T) {
	_, opts := ParseSDXL("SDXL(768 1344, 1024 1024, 0 64) a cat")
	require.NotNil(t, opts)
	assert.Equal(t, 768, opts.Width)
	assert.Equal(t, 1344, opts.Height)
	assert.Equal(t, 1024, opts.TargetWidth)
	assert.Equal(t, 1024, opts.TargetHeight)
	assert.Equal(t, 0, opts.CropW)
	assert.Equal(t, 64, opts.CropH)

	_, opts = ParseSDXL("SDXL() a cat")
	require.NotNil(t, opts)
	assert.Equal(t, 1024, opts.Width)
	assert.Equal(t, 1024, opts.Height)
	assert.Equal(t, 0, opts.CropW)

	_, opts = ParseSDXL("a cat")
	assert.Nil(t, opts)
}

func TestParseWeight(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantW       float64
		wantNoScale bool
		wantRest    string
	}{
		{"no weight", "a cat", 1.0, false, "a cat"},
		{"integer weight", "a cat:2", 2.0, false, "a cat"},
		{"fractional weight", "a cat:0.5", 0.5, false, "a cat"},
		{"negative weight", "a cat:-1", -1.0, false, "a cat"},
		{"noscale tag", "a cat:2!noscale", 2.0, true, "a cat"},
		{"unknown tag ignored", "a cat:2!other", 2.0, false, "a cat"},
		{"weight only at end", "a:2 cat", 1.0, false, "a:2 cat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, noScale, rest := ParseWeight(tt.text)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantNoScale, noScale)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestParseCuts(t *testing.T) {
	rest, regions := ParseCuts("a photo CUT(a red dog, dog, 0.5) of CUT(a cat, cat)")
	assert.Equal(t, "a photo  of ", rest)
	require.Len(t, regions, 2)
	assert.Equal(t, "a red dog", regions[0].Text)
	assert.Equal(t, "dog", regions[0].Target)
	assert.Equal(t, "0.5", regions[0].Weight)
	assert.Equal(t, "", regions[0].StrictMask)
	assert.Equal(t, "a cat", regions[1].Text)
	assert.Equal(t, "cat", regions[1].Target)
}
