package debug

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderWritesTrace(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(RecorderConfig{TraceDir: dir, IncludePrompts: true})
	require.NoError(t, err)

	FillSampleTrace(r)
	path, err := r.Finalize("0: [0.00-0.40] 1x768", nil, SampleDuration())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, r.GetRunID()+".json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var trace Trace
	require.NoError(t, json.Unmarshal(data, &trace))
	assert.Equal(t, r.GetRunID(), trace.RunID)
	assert.Equal(t, SampleSchedule(), trace.Schedule)
	assert.Len(t, trace.Encodes, 3)
	assert.Len(t, trace.Windows, 3)
	assert.Equal(t, 3, trace.Summary.TotalEncodes)
	assert.Equal(t, 1, trace.Summary.CacheHits)
	assert.Equal(t, 2, trace.Summary.CacheMisses)
	assert.Equal(t, []string{"detail"}, trace.Summary.LorasUsed)
	assert.Equal(t, int64(90), trace.Duration)
}

func TestRecorderExcludesPromptsByDefault(t *testing.T) {
	r, err := NewRecorder(RecorderConfig{TraceDir: t.TempDir()})
	require.NoError(t, err)

	r.RecordEncode(EncodeEvent{Prompt: "secret prompt", Segments: 1})
	r.RecordWindow(Window{Start: 0, End: 1, Prompt: "secret prompt", Segments: 1})

	path, err := r.Finalize("", nil, 0)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret prompt")
}

func TestRecorderTruncatesLongPrompts(t *testing.T) {
	r, err := NewRecorder(RecorderConfig{TraceDir: t.TempDir(), IncludePrompts: true, MaxPromptSize: 5})
	require.NoError(t, err)

	r.RecordEncode(EncodeEvent{Prompt: "0123456789", Segments: 1})
	path, err := r.Finalize("", nil, 0)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var trace Trace
	require.NoError(t, json.Unmarshal(data, &trace))
	require.Len(t, trace.Encodes, 1)
	assert.Equal(t, "01234... (truncated)", trace.Encodes[0].Prompt)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Start("x", "")
	r.RecordEncode(EncodeEvent{})
	r.RecordLoraSwitch(LoraSwitch{})
	r.RecordWindow(Window{})
	path, err := r.Finalize("", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, r.GetRunID())
}
