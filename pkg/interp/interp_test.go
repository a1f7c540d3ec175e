package interp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/condsched/pkg/cond"
	"github.com/ilkoid/condsched/pkg/schedule"
	"github.com/ilkoid/condsched/pkg/tensor"
)

func filledSeg(rows, cols int, val float32) cond.Segment {
	m := tensor.New(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, val)
		}
	}
	return cond.Segment{Cond: m}
}

func TestInterpolateSegmentsFullRange(t *testing.T) {
	start := []cond.Segment{filledSeg(1, 4, 0)}
	end := []cond.Segment{filledSeg(1, 4, 10)}

	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.1, 0.0, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 10)

	// Factors walk the grid (s+1)/(total+1) rounded to two decimals
	factors := []float64{0.09, 0.18, 0.27, 0.36, 0.45, 0.55, 0.64, 0.73, 0.82, 0.91}
	for i, seg := range res {
		assert.InDelta(t, float64(i)*0.1, seg.Meta.StartPercent, 1e-9, "start of segment %d", i)
		if i < 9 {
			assert.InDelta(t, float64(i+1)*0.1, seg.Meta.EndPercent, 1e-9, "end of segment %d", i)
		}
		assert.InDelta(t, factors[i]*10, float64(seg.Cond.At(0, 0)), 1e-4, "value of segment %d", i)
	}
	// The final window is stretched to the end of the transition
	assert.Equal(t, 1.0, res[9].Meta.EndPercent)
	assert.Equal(t, "linear:0.91 / 0.09", res[0].Meta.Prompt)
	assert.Equal(t, "linear:0.09 / 0.91", res[9].Meta.Prompt)
}

func TestInterpolateSegmentsIdenticalEndpoints(t *testing.T) {
	start := []cond.Segment{filledSeg(2, 3, 7)}
	end := []cond.Segment{filledSeg(2, 3, 7)}

	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.1, 0.0, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 10)

	// A zero delta stays zero no matter the blend factor
	for i, seg := range res {
		for r := 0; r < 2; r++ {
			for c := 0; c < 3; c++ {
				assert.Equal(t, float32(7), seg.Cond.At(r, c), "segment %d", i)
			}
		}
	}
}

func TestInterpolateSegmentsPartialWindow(t *testing.T) {
	start := []cond.Segment{filledSeg(1, 2, 0)}
	end := []cond.Segment{filledSeg(1, 2, 10)}

	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.1, 0.5, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 5)
	assert.InDelta(t, 0.5, res[0].Meta.StartPercent, 1e-9)
	assert.InDelta(t, 0.6, res[0].Meta.EndPercent, 1e-9)
	// Factors continue the full-transition grid, not a local one
	assert.InDelta(t, 5.5, float64(res[0].Cond.At(0, 0)), 1e-4)
}

func TestInterpolateSegmentsEmptyWindow(t *testing.T) {
	start := []cond.Segment{filledSeg(1, 2, 0)}
	end := []cond.Segment{filledSeg(1, 2, 10)}

	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.1, 0.5, 0.5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestInterpolateSegmentsCountMismatch(t *testing.T) {
	start := []cond.Segment{filledSeg(1, 2, 0), filledSeg(1, 2, 5)}
	end := []cond.Segment{filledSeg(1, 2, 10)}

	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.5, 0.0, 1.0)
	require.NoError(t, err)
	// Only the common prefix of segment pairs is interpolated
	require.Len(t, res, 2)
}

func TestInterpolateSegmentsEqualizesChunkCounts(t *testing.T) {
	start := []cond.Segment{filledSeg(1, 2, 2)}
	end := []cond.Segment{filledSeg(3, 2, 4)}

	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.5, 0.0, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, s := range res {
		assert.Equal(t, 3, s.Cond.Rows())
	}
}

func TestInterpolateSegmentsPooledLerp(t *testing.T) {
	start := []cond.Segment{filledSeg(1, 2, 0)}
	start[0].Meta.Pooled = tensor.Vector{0, 0}
	end := []cond.Segment{filledSeg(1, 2, 10)}
	end[0].Meta.Pooled = tensor.Vector{10, 10}

	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.5, 0.0, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.InDelta(t, 3.3, float64(res[0].Meta.Pooled[0]), 1e-4)
	assert.InDelta(t, 6.7, float64(res[1].Meta.Pooled[0]), 1e-4)
}

func TestInterpolateSegmentsPooledLengthMismatch(t *testing.T) {
	start := []cond.Segment{filledSeg(1, 2, 0)}
	start[0].Meta.Pooled = tensor.Vector{1, 1}
	end := []cond.Segment{filledSeg(1, 2, 10)}
	end[0].Meta.Pooled = tensor.Vector{2, 2, 2}

	// The shorter pooled output is padded by its last element, never an error
	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.5, 0.0, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 2)

	require.Len(t, res[0].Meta.Pooled, 3)
	assert.InDelta(t, 1.33, float64(res[0].Meta.Pooled[2]), 1e-4)
	assert.InDelta(t, 1.67, float64(res[1].Meta.Pooled[0]), 1e-4)
}

func TestInterpolateSegmentsPooledCarriedFromStart(t *testing.T) {
	start := []cond.Segment{filledSeg(1, 2, 0)}
	start[0].Meta.Pooled = tensor.Vector{5, 5}
	end := []cond.Segment{filledSeg(1, 2, 10)}

	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.5, 0.0, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, s := range res {
		assert.Equal(t, tensor.Vector{5, 5}, s.Meta.Pooled)
	}
}

func TestInterpolateSegmentsNoPooled(t *testing.T) {
	start := []cond.Segment{filledSeg(1, 2, 0)}
	end := []cond.Segment{filledSeg(1, 2, 10)}

	res, err := InterpolateSegments(start, end, 0.0, 1.0, 0.5, 0.0, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Nil(t, res[0].Meta.Pooled)
}

func TestInterpolateTwoPoints(t *testing.T) {
	points := []ControlPoint{
		{Pct: 0.0, Segments: []cond.Segment{filledSeg(1, 2, 0)}},
		{Pct: 1.0, Segments: []cond.Segment{filledSeg(1, 2, 10)}},
	}

	res, err := Interpolate(points, 0.1, 0.0, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 10)
	assert.InDelta(t, 0.1, res[0].Meta.EndPercent, 1e-9)
	assert.Equal(t, 1.0, res[9].Meta.EndPercent)
}

func TestInterpolateThreePointsOverlap(t *testing.T) {
	points := []ControlPoint{
		{Pct: 0.0, Segments: []cond.Segment{filledSeg(1, 2, 0)}},
		{Pct: 0.5, Segments: []cond.Segment{filledSeg(1, 2, 5)}},
		{Pct: 1.0, Segments: []cond.Segment{filledSeg(1, 2, 10)}},
	}

	res, err := Interpolate(points, 0.25, 0.0, 1.0)
	require.NoError(t, err)
	// Each pair interpolates up to the global end, so the second half of
	// the range is emitted by both pairs
	require.Len(t, res, 6)
	assert.InDelta(t, 0.0, res[0].Meta.StartPercent, 1e-9)
	assert.InDelta(t, 0.5, res[4].Meta.StartPercent, 1e-9)
	assert.Equal(t, 1.0, res[3].Meta.EndPercent)
	assert.Equal(t, 1.0, res[5].Meta.EndPercent)
}

func TestInterpolateSkipsPairsBeforeStart(t *testing.T) {
	points := []ControlPoint{
		{Pct: 0.0, Segments: []cond.Segment{filledSeg(1, 2, 0)}},
		{Pct: 0.5, Segments: []cond.Segment{filledSeg(1, 2, 5)}},
		{Pct: 1.0, Segments: []cond.Segment{filledSeg(1, 2, 10)}},
	}

	res, err := Interpolate(points, 0.25, 0.5, 1.0)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.InDelta(t, 0.5, res[0].Meta.StartPercent, 1e-9)
}

func TestControlPointsAddScheduleBoundaries(t *testing.T) {
	sched := schedule.Parse("[a:b:0.5]")
	var encoded []string
	encode := func(cfg schedule.SegmentConfig) ([]cond.Segment, error) {
		encoded = append(encoded, cfg.Prompt)
		return []cond.Segment{filledSeg(1, 2, 1)}, nil
	}

	points, err := ControlPoints(sched, []float64{0.2, 1.0}, encode)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 0.2, points[0].Pct)
	assert.Equal(t, 0.5, points[1].Pct)
	assert.Equal(t, 1.0, points[2].Pct)
	assert.Equal(t, []string{"a", "a", "b"}, encoded)
}

func TestControlPointsRequireAtLeastTwo(t *testing.T) {
	sched := schedule.Parse("a")
	_, err := ControlPoints(sched, []float64{0.5}, func(schedule.SegmentConfig) ([]cond.Segment, error) {
		return nil, nil
	})
	require.Error(t, err)
}

func TestControlPointsPropagateEncodeError(t *testing.T) {
	sched := schedule.Parse("a")
	boom := errors.New("boom")
	_, err := ControlPoints(sched, []float64{0.0, 1.0}, func(schedule.SegmentConfig) ([]cond.Segment, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}
