// Package debug записывает трейсы энкодинга расписаний в JSON файлы.
//
// Трейс фиксирует весь путь от текста расписания до итоговых сегментов:
// вызовы энкодера с попаданиями в кэш, переключения LoRA, эмиссию окон.
// Файлы складываются в директорию трейсов и анализируются вручную или
// скриптами.
package debug

import (
	"time"
)

// Trace - полный трейс одного прогона энкодинга расписания.
type Trace struct {
	// RunID - уникальный идентификатор прогона, попадает в имя файла
	RunID string `json:"run_id"`

	// Timestamp - время начала прогона
	Timestamp time.Time `json:"timestamp"`

	// Schedule - исходный текст расписания
	Schedule string `json:"schedule"`

	// Filters - активные фильтр-теги, если были
	Filters string `json:"filters,omitempty"`

	// Duration - длительность прогона в миллисекундах
	Duration int64 `json:"duration_ms"`

	// Encodes - вызовы энкодера в порядке выполнения
	Encodes []EncodeEvent `json:"encodes"`

	// LoraSwitches - переключения набора LoRA
	LoraSwitches []LoraSwitch `json:"lora_switches,omitempty"`

	// Windows - эмитированные окна кондиционирования
	Windows []Window `json:"windows"`

	// Summary - агрегированная статистика прогона
	Summary Summary `json:"summary"`

	// Result - текстовая сводка итоговых сегментов
	Result string `json:"result,omitempty"`

	// Error - ошибка, если прогон завершился неудачно
	Error string `json:"error,omitempty"`
}

// EncodeEvent - один вызов энкодера сегмента.
type EncodeEvent struct {
	// Prompt - текст сегмента (может быть обрезан по MaxPromptSize)
	Prompt string `json:"prompt,omitempty"`

	// CacheHit - true, если результат взят из кэша
	CacheHit bool `json:"cache_hit"`

	// Segments - число сегментов в результате
	Segments int `json:"segments"`

	// Duration - длительность вызова в миллисекундах
	Duration int64 `json:"duration_ms"`

	// Error - ошибка энкодинга, если была
	Error string `json:"error,omitempty"`
}

// LoraSwitch - переключение активного набора LoRA перед энкодингом.
type LoraSwitch struct {
	// Names - имена LoRA нового набора
	Names []string `json:"names"`

	// Missing - запрошенные, но не найденные в источнике
	Missing []string `json:"missing,omitempty"`

	// Duration - длительность применения в миллисекундах
	Duration int64 `json:"duration_ms"`
}

// Window - окно кондиционирования в итоговом списке.
type Window struct {
	// Start и End - границы окна в процентах генерации
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Prompt - метка окна (текст сегмента или "linear:...")
	Prompt string `json:"prompt,omitempty"`

	// Interpolated - окно построено интерполятором
	Interpolated bool `json:"interpolated,omitempty"`

	// Segments - число сегментов кондиционирования в окне
	Segments int `json:"segments"`
}

// Summary - агрегированная статистика прогона.
type Summary struct {
	// TotalEncodes - общее число вызовов энкодера
	TotalEncodes int `json:"total_encodes"`

	// CacheHits и CacheMisses - статистика кэша
	CacheHits   int `json:"cache_hits"`
	CacheMisses int `json:"cache_misses"`

	// TotalEncodeDuration - суммарное время энкодинга в миллисекундах
	TotalEncodeDuration int64 `json:"total_encode_duration_ms"`

	// WindowsEmitted - число эмитированных окон
	WindowsEmitted int `json:"windows_emitted"`

	// LorasUsed - уникальные LoRA, встретившиеся в прогоне
	LorasUsed []string `json:"loras_used,omitempty"`

	// Errors - все ошибки прогона
	Errors []string `json:"errors,omitempty"`
}
