package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder накапливает трейс одного прогона и сохраняет его в JSON файл.
//
// Потокобезопасен. Все методы записи безопасны на nil-получателе:
// выключенный рекордер просто ничего не пишет, поэтому вызывающему коду
// не нужны проверки.
type Recorder struct {
	mu sync.Mutex

	// config - конфигурация рекордера
	config RecorderConfig

	// trace - накапливаемый трейс прогона
	trace Trace

	// lorasUsed - множество уникальных LoRA
	lorasUsed map[string]struct{}

	// errors - список ошибок прогона
	errors []string
}

// RecorderConfig - конфигурация для создания Recorder.
type RecorderConfig struct {
	// TraceDir - директория для сохранения трейсов
	TraceDir string

	// IncludePrompts - включать тексты промптов в трейс
	IncludePrompts bool

	// MaxPromptSize - максимальная длина текста промпта в трейсе,
	// 0 означает без ограничений
	MaxPromptSize int
}

// NewRecorder создает новый Recorder.
//
// Если TraceDir не существует, пытается создать её.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.TraceDir != "" {
		if err := os.MkdirAll(cfg.TraceDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create trace directory: %w", err)
		}
	}

	return &Recorder{
		config: cfg,
		trace: Trace{
			RunID:     "trace_" + uuid.NewString(),
			Timestamp: time.Now(),
		},
		lorasUsed: make(map[string]struct{}),
		errors:    make([]string, 0),
	}, nil
}

// Start начинает запись прогона для заданного расписания.
func (r *Recorder) Start(scheduleText, filters string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trace.Schedule = scheduleText
	r.trace.Filters = filters
	r.trace.Timestamp = time.Now()
}

// RecordEncode записывает один вызов энкодера сегмента.
func (r *Recorder) RecordEncode(ev EncodeEvent) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Применяем конфигурацию включения и обрезки промптов
	if !r.config.IncludePrompts {
		ev.Prompt = ""
	} else {
		ev.Prompt = truncateString(ev.Prompt, r.config.MaxPromptSize)
	}

	r.trace.Encodes = append(r.trace.Encodes, ev)
	if ev.Error != "" {
		r.errors = append(r.errors, fmt.Sprintf("encode: %s", ev.Error))
	}
}

// RecordLoraSwitch записывает переключение набора LoRA.
func (r *Recorder) RecordLoraSwitch(sw LoraSwitch) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trace.LoraSwitches = append(r.trace.LoraSwitches, sw)
	for _, name := range sw.Names {
		r.lorasUsed[name] = struct{}{}
	}
	for _, name := range sw.Missing {
		r.errors = append(r.errors, fmt.Sprintf("lora %s: not found", name))
	}
}

// RecordWindow записывает эмитированное окно кондиционирования.
func (r *Recorder) RecordWindow(w Window) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.IncludePrompts {
		w.Prompt = truncateString(w.Prompt, r.config.MaxPromptSize)
	} else {
		w.Prompt = ""
	}
	r.trace.Windows = append(r.trace.Windows, w)
}

// Finalize завершает запись и сохраняет трейс в файл.
//
// Возвращает путь к сохраненному файлу или ошибку.
func (r *Recorder) Finalize(result string, runErr error, duration time.Duration) (string, error) {
	if r == nil {
		return "", nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trace.Result = result
	r.trace.Duration = duration.Milliseconds()
	if runErr != nil {
		r.trace.Error = runErr.Error()
		r.errors = append(r.errors, runErr.Error())
	}

	r.buildSummary()

	data, err := json.MarshalIndent(r.trace, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal trace: %w", err)
	}

	filePath := r.getFilePath()
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write trace: %w", err)
	}

	return filePath, nil
}

// buildSummary формирует агрегированную статистику.
func (r *Recorder) buildSummary() {
	summary := Summary{
		Errors:    r.errors,
		LorasUsed: make([]string, 0, len(r.lorasUsed)),
	}

	for name := range r.lorasUsed {
		summary.LorasUsed = append(summary.LorasUsed, name)
	}
	sort.Strings(summary.LorasUsed)

	for _, ev := range r.trace.Encodes {
		summary.TotalEncodes++
		summary.TotalEncodeDuration += ev.Duration
		if ev.CacheHit {
			summary.CacheHits++
		} else {
			summary.CacheMisses++
		}
	}
	summary.WindowsEmitted = len(r.trace.Windows)

	r.trace.Summary = summary
}

// getFilePath возвращает путь к файлу для сохранения.
func (r *Recorder) getFilePath() string {
	if r.config.TraceDir != "" {
		return filepath.Join(r.config.TraceDir, r.trace.RunID+".json")
	}
	return r.trace.RunID + ".json"
}

// truncateString обрезает строку с индикатором обрезки.
func truncateString(s string, maxSize int) string {
	if maxSize <= 0 || len(s) <= maxSize {
		return s
	}
	return s[:maxSize] + "... (truncated)"
}

// GetRunID возвращает идентификатор текущего прогона.
func (r *Recorder) GetRunID() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trace.RunID
}
