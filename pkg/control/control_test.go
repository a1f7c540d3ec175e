package control_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/condsched/pkg/cache"
	"github.com/ilkoid/condsched/pkg/control"
	"github.com/ilkoid/condsched/pkg/debug"
	"github.com/ilkoid/condsched/pkg/directive"
	"github.com/ilkoid/condsched/pkg/encoder"
	"github.com/ilkoid/condsched/pkg/encoder/encodertest"
	"github.com/ilkoid/condsched/pkg/lora"
	"github.com/ilkoid/condsched/pkg/schedule"
)

const dim = 8

// writeSafetensors drops a minimal F32 safetensors file at path with one
// 2x2 tensor per key.
func writeSafetensors(t *testing.T, path string, keys []string) {
	t.Helper()

	header := map[string]any{}
	var data []byte
	offset := 0
	for _, k := range keys {
		vals := []float32{0.1, 0.2, 0.3, 0.4}
		header[k] = map[string]any{
			"dtype":        "F32",
			"shape":        []int{2, 2},
			"data_offsets": []int{offset, offset + len(vals)*4},
		}
		for _, v := range vals {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
		offset += len(vals) * 4
	}
	head, err := json.Marshal(header)
	require.NoError(t, err)

	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(head)))
	buf = append(buf, head...)
	buf = append(buf, data...)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

// loraDir prepares a directory-backed lora cache with a single
// "detail" file whose tensor keys match the stub key map.
func loraDir(t *testing.T) *lora.Cache {
	t.Helper()
	dir := t.TempDir()
	writeSafetensors(t, filepath.Join(dir, "detail.safetensors"), encodertest.KeyMapKeys()[:1])
	return lora.NewCache(lora.NewDirSource(dir))
}

func TestEncodeSchedulePlainPrompt(t *testing.T) {
	h := encodertest.New(dim)
	s := schedule.Parse("a cat")

	segs, err := control.EncodeSchedule(context.Background(), h, s, control.Options{})
	require.NoError(t, err)
	require.Len(t, segs, 1)

	assert.Equal(t, 0.0, segs[0].Meta.StartPercent)
	assert.Equal(t, 1.0, segs[0].Meta.EndPercent)
	assert.Equal(t, "a cat", segs[0].Meta.Prompt)
	assert.Equal(t, 1, segs[0].Cond.Rows())
	assert.Equal(t, dim, segs[0].Cond.Cols())
	assert.Equal(t, 1, h.EncodeCount())
}

func TestEncodePromptTextStampsFullRange(t *testing.T) {
	h := encodertest.New(dim)

	segs, err := control.EncodePromptText(context.Background(), h, "a cat:2 AND a dog:1", encoder.Defaults{})
	require.NoError(t, err)
	require.Len(t, segs, 1)

	assert.Equal(t, 0.0, segs[0].Meta.StartPercent)
	assert.Equal(t, 1.0, segs[0].Meta.EndPercent)
	assert.Equal(t, "a cat:2 AND a dog:1", segs[0].Meta.Prompt)
	assert.Equal(t, dim, segs[0].Cond.Cols())
	assert.Equal(t, 2, h.EncodeCount())
}

func TestEncodePromptTextKeepsSeparateSegments(t *testing.T) {
	h := encodertest.New(dim)
	text := "MASK(0 0.5, 0 0.5, 0.7)a AND b"

	segs, err := control.EncodePromptText(context.Background(), h, text, encoder.Defaults{})
	require.NoError(t, err)
	require.Len(t, segs, 2)

	// The masked sub-prompt stays its own segment, the sum comes last.
	// Both carry the original text and the full range.
	assert.NotNil(t, segs[0].Meta.Mask)
	assert.Equal(t, 0.7, segs[0].Meta.MaskStrength)
	for _, s := range segs {
		assert.Equal(t, 0.0, s.Meta.StartPercent)
		assert.Equal(t, 1.0, s.Meta.EndPercent)
		assert.Equal(t, text, s.Meta.Prompt)
	}
}

func TestEncodeScheduleStampsWindows(t *testing.T) {
	h := encodertest.New(dim)
	s := schedule.Parse("[a:b:0.3]")

	segs, err := control.EncodeSchedule(context.Background(), h, s, control.Options{})
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, 0.0, segs[0].Meta.StartPercent)
	assert.Equal(t, 0.3, segs[0].Meta.EndPercent)
	assert.Equal(t, "a", segs[0].Meta.Prompt)

	assert.Equal(t, 0.3, segs[1].Meta.StartPercent)
	assert.Equal(t, 1.0, segs[1].Meta.EndPercent)
	assert.Equal(t, "b", segs[1].Meta.Prompt)
}

func TestEncodeScheduleCachesRepeatedPrompts(t *testing.T) {
	h := encodertest.New(dim)
	s := schedule.Parse("[a|b]")
	mem := cache.NewMemory()
	opts := control.Options{Cache: mem}

	segs, err := control.EncodeSchedule(context.Background(), h, s, opts)
	require.NoError(t, err)

	// Ten alternating windows share two distinct prompts
	require.Len(t, segs, 10)
	assert.Equal(t, "a", segs[0].Meta.Prompt)
	assert.Equal(t, "b", segs[1].Meta.Prompt)
	assert.Equal(t, 2, h.EncodeCount())

	// A second pass over the same cache encodes nothing new
	segs, err = control.EncodeSchedule(context.Background(), h, s, opts)
	require.NoError(t, err)
	require.Len(t, segs, 10)
	assert.Equal(t, 2, h.EncodeCount())
}

func TestEncodeScheduleLoraStateSplitsCacheKey(t *testing.T) {
	h := encodertest.New(dim)
	s := schedule.Parse("[<lora:detail:0.5>a:a:0.5]")

	segs, err := control.EncodeSchedule(context.Background(), h, s, control.Options{})
	require.NoError(t, err)
	require.Len(t, segs, 2)

	// Same text on both sides of the switch, the lora tag is stripped
	assert.Equal(t, "a", segs[0].Meta.Prompt)
	assert.Equal(t, "a", segs[1].Meta.Prompt)

	// Different lora state means different cache keys, so two encodes.
	// The lora itself is missing and never applied.
	assert.Equal(t, 2, h.EncodeCount())
	assert.Equal(t, 0, h.ApplyCount())
}

func TestEncodeScheduleAppliesLoraFromDir(t *testing.T) {
	ctx := context.Background()
	lc := loraDir(t)

	h := encodertest.New(dim)
	segs, err := control.EncodeSchedule(ctx, h, schedule.Parse("<lora:detail:0.8>a cat"), control.Options{Loras: lc})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "a cat", segs[0].Meta.Prompt)
	assert.Equal(t, 1, h.ApplyCount())

	// The patched handle encodes differently from a clean one
	clean := encodertest.New(dim)
	base, err := control.EncodeSchedule(ctx, clean, schedule.Parse("a cat"), control.Options{})
	require.NoError(t, err)
	require.Len(t, base, 1)
	assert.NotEqual(t, base[0].Cond.Data(), segs[0].Cond.Data())
}

func TestEncodeScheduleDropsLoraMidSchedule(t *testing.T) {
	h := encodertest.New(dim)
	s := schedule.Parse("[<lora:detail:1>a:a:0.5]")

	segs, err := control.EncodeSchedule(context.Background(), h, s, control.Options{Loras: loraDir(t)})
	require.NoError(t, err)
	require.Len(t, segs, 2)

	// One switch applies the lora, dropping it just rebuilds from the
	// clean clone without any apply call
	assert.Equal(t, 1, h.ApplyCount())
	assert.Equal(t, 2, h.EncodeCount())
	assert.NotEqual(t, segs[0].Cond.Data(), segs[1].Cond.Data())
}

func TestEncodeScheduleZeroClipWeightSkipsApply(t *testing.T) {
	h := encodertest.New(dim)
	s := schedule.Parse("<lora:detail:1:0>a")

	segs, err := control.EncodeSchedule(context.Background(), h, s, control.Options{Loras: loraDir(t)})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, 0, h.ApplyCount())
}

func TestEncodeScheduleInterpolatesTransition(t *testing.T) {
	h := encodertest.New(dim)
	s := schedule.Parse("[a:b:0.2,0.8]")

	segs, err := control.EncodeSchedule(context.Background(), h, s, control.Options{})
	require.NoError(t, err)

	// Plain window to 0.2, six interpolation steps, plain remainder
	require.Len(t, segs, 8)

	assert.Equal(t, 0.0, segs[0].Meta.StartPercent)
	assert.Equal(t, 0.2, segs[0].Meta.EndPercent)
	assert.Equal(t, "a", segs[0].Meta.Prompt)

	wantStarts := []float64{0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	wantPrompts := []string{
		"linear:0.86 / 0.14",
		"linear:0.71 / 0.29",
		"linear:0.57 / 0.43",
		"linear:0.43 / 0.57",
		"linear:0.29 / 0.71",
		"linear:0.14 / 0.86",
	}
	for i := 0; i < 6; i++ {
		seg := segs[1+i]
		assert.Equal(t, wantStarts[i], seg.Meta.StartPercent, "step %d", i)
		assert.Equal(t, wantPrompts[i], seg.Meta.Prompt, "step %d", i)
	}
	assert.Equal(t, 0.8, segs[6].Meta.EndPercent)

	assert.Equal(t, 0.8, segs[7].Meta.StartPercent)
	assert.Equal(t, 1.0, segs[7].Meta.EndPercent)
	assert.Equal(t, "b", segs[7].Meta.Prompt)

	// Both endpoint prompts were encoded exactly once, the control
	// points and the remainder came from the cache
	assert.Equal(t, 2, h.EncodeCount())
}

func TestEncodeScheduleFallbackStepFromOptions(t *testing.T) {
	h := encodertest.New(dim)
	s := schedule.Parse("[a:b:0.2,0.8]")

	segs, err := control.EncodeSchedule(context.Background(), h, s, control.Options{Step: 0.3})
	require.NoError(t, err)

	// Plain window to 0.2, two coarse interpolation steps, plain remainder
	require.Len(t, segs, 4)
	assert.Equal(t, 0.2, segs[1].Meta.StartPercent)
	assert.Equal(t, 0.5, segs[1].Meta.EndPercent)
	assert.Equal(t, 0.8, segs[2].Meta.EndPercent)

	// An explicit step in the prompt wins over the option
	h2 := encodertest.New(dim)
	segs, err = control.EncodeSchedule(context.Background(), h2, schedule.Parse("[a:b:0.2,0.8:0.1]"), control.Options{Step: 0.3})
	require.NoError(t, err)
	require.Len(t, segs, 8)
}

func TestEncodeScheduleRecordsTrace(t *testing.T) {
	dir := t.TempDir()
	rec, err := debug.NewRecorder(debug.RecorderConfig{TraceDir: dir, IncludePrompts: true})
	require.NoError(t, err)

	h := encodertest.New(dim)
	s := schedule.Parse("[a:b:0.5]")
	rec.Start(s.String(), "")

	_, err = control.EncodeSchedule(context.Background(), h, s, control.Options{Recorder: rec})
	require.NoError(t, err)

	path, err := rec.Finalize("ok", nil, time.Second)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var tr debug.Trace
	require.NoError(t, json.Unmarshal(data, &tr))

	require.Len(t, tr.Windows, 2)
	assert.Equal(t, 0.0, tr.Windows[0].Start)
	assert.Equal(t, 0.5, tr.Windows[0].End)
	assert.Equal(t, "a", tr.Windows[0].Prompt)
	assert.False(t, tr.Windows[0].Interpolated)

	assert.Equal(t, 2, tr.Summary.TotalEncodes)
	assert.Equal(t, 2, tr.Summary.CacheMisses)
	assert.Equal(t, 0, tr.Summary.CacheHits)
	assert.Equal(t, 2, tr.Summary.WindowsEmitted)
}

func TestEncodeScheduleEncodeErrorPropagates(t *testing.T) {
	h := encodertest.New(dim)
	s := schedule.Parse("[ok:bad AREA(0.2 0.8, 64 256, 1):0.5]")

	_, err := control.EncodeSchedule(context.Background(), h, s, control.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoding segment")

	var ferr *directive.FormatError
	assert.True(t, errors.As(err, &ferr))
}
