package cond

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/condsched/pkg/directive"
	"github.com/ilkoid/condsched/pkg/tensor"
)

func TestCodecRoundtrip(t *testing.T) {
	m := tensor.New(2, 2)
	m.Set(0, 0, 1.5)
	m.Set(1, 1, -2.25)
	strength := 0.5
	segs := []Segment{
		{
			Cond: m,
			Meta: Meta{
				Prompt:       "a cat",
				StartPercent: 0.1,
				EndPercent:   0.9,
				Strength:     &strength,
				Area:         &directive.Area{Pct: true, H: 0.5, W: 0.5, Weight: 1},
				Mask:         tensor.RectMask(0, 2, 0, 2, 4, 4),
				MaskStrength: 0.8,
				Pooled:       tensor.Vector{1, 2, 3},
				SDXL:         &directive.SDXLOpts{Width: 1024, Height: 1024},
			},
		},
		// Второй сегмент без опциональных блоков
		{Cond: tensor.New(1, 2), Meta: Meta{Prompt: "b", EndPercent: 1.0}},
	}

	got, err := DecodeSegments(EncodeSegments(segs))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, segs[0].Cond.Data(), got[0].Cond.Data())
	assert.Equal(t, segs[0].Meta.Prompt, got[0].Meta.Prompt)
	require.NotNil(t, got[0].Meta.Strength)
	assert.Equal(t, 0.5, *got[0].Meta.Strength)
	require.NotNil(t, got[0].Meta.Mask)
	assert.Equal(t, segs[0].Meta.Mask.Data(), got[0].Meta.Mask.Data())
	assert.Equal(t, segs[0].Meta.Pooled, got[0].Meta.Pooled)
	assert.Equal(t, segs[0].Meta.Area, got[0].Meta.Area)
	assert.Equal(t, segs[0].Meta.SDXL, got[0].Meta.SDXL)

	assert.Nil(t, got[1].Meta.Mask)
	assert.Nil(t, got[1].Meta.Pooled)
	assert.Nil(t, got[1].Meta.Strength)
	assert.Equal(t, 1.0, got[1].Meta.EndPercent)
}

func TestCodecEmpty(t *testing.T) {
	got, err := DecodeSegments(EncodeSegments(nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := DecodeSegments([]byte("not a codec payload"))
	require.Error(t, err)

	_, err = DecodeSegments(nil)
	require.Error(t, err)
}

func TestCodecRejectsTruncated(t *testing.T) {
	data := EncodeSegments([]Segment{{Cond: tensor.New(2, 4)}})
	_, err := DecodeSegments(data[:len(data)-5])
	require.Error(t, err)
}

func TestLatentMask(t *testing.T) {
	meta := Meta{Mask: tensor.RectMask(0, 256, 0, 256, 512, 512)}

	lm, err := meta.LatentMask()
	require.NoError(t, err)
	require.NotNil(t, lm)

	// Pixel canvas shrinks by LatentScale, the masked quadrant survives
	assert.Equal(t, 64, lm.Rows())
	assert.Equal(t, 64, lm.Cols())
	assert.InDelta(t, 1.0, float64(lm.At(10, 10)), 0.01)
	assert.InDelta(t, 0.0, float64(lm.At(60, 60)), 0.01)

	// The stored mask keeps its pixel resolution
	assert.Equal(t, 512, meta.Mask.Rows())
}

func TestLatentMaskAbsent(t *testing.T) {
	meta := Meta{}
	lm, err := meta.LatentMask()
	require.NoError(t, err)
	assert.Nil(t, lm)
}

func TestSummary(t *testing.T) {
	strength := 2.0
	segs := []Segment{
		{
			Cond: tensor.New(1, 4),
			Meta: Meta{
				Prompt:       "a very long prompt that should get truncated in the summary output",
				StartPercent: 0.0,
				EndPercent:   0.5,
				Strength:     &strength,
				Mask:         tensor.New(8, 8),
				Pooled:       tensor.Vector{1, 2},
			},
		},
		{Cond: tensor.New(2, 4), Meta: Meta{StartPercent: 0.5, EndPercent: 1.0}},
	}

	s := Summary(segs)
	assert.Contains(t, s, "[0.00-0.50] 1x4")
	assert.Contains(t, s, "[0.50-1.00] 2x4")
	assert.Contains(t, s, "strength=2")
	assert.Contains(t, s, "mask=8x8")
	assert.Contains(t, s, "; ")
	// Long prompts are truncated
	assert.Contains(t, s, "...")
	assert.NotContains(t, s, "summary output")
}
