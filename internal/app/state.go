package app

import (
	"strings"
	"sync"

	"github.com/ilkoid/condsched/pkg/cond"
	"github.com/ilkoid/condsched/pkg/schedule"
)

// AppState представляет состояние интерактивного интерфейса.
//
// Держит текущее расписание, результат последнего энкодинга и позицию
// предпросмотра. Доступ к полям потокобезопасный: Bubble Tea обновляет
// состояние из update-цикла, а энкодинг выполняется в фоновой команде.
type AppState struct {
	// Components - собранные компоненты приложения
	Components *Components

	// CommandRegistry - реестр интерактивных команд
	CommandRegistry *CommandRegistry

	// mu защищает изменяемые поля ниже
	mu sync.RWMutex

	// scheduleText - исходный текст расписания
	scheduleText string

	// filters - включённые теги фильтрации
	filters string

	// sched - разобранное расписание
	sched *schedule.PromptSchedule

	// segments - сегменты последнего энкодинга
	segments []cond.Segment

	// previewPct - позиция предпросмотра в долях сэмплинга [0, 1]
	previewPct float64

	// processing - флаг занятости для спиннера
	processing bool
}

// NewAppState создает состояние поверх собранных компонентов.
func NewAppState(c *Components) *AppState {
	return &AppState{
		Components:      c,
		CommandRegistry: NewCommandRegistry(),
		previewPct:      0.0,
	}
}

// SetSchedule разбирает и сохраняет новый текст расписания.
// Пустой текст сбрасывает расписание. Предыдущие сегменты
// сбрасываются всегда: они относились к старому тексту.
func (s *AppState) SetSchedule(text, filters string) *schedule.PromptSchedule {
	var parsed *schedule.PromptSchedule
	if strings.TrimSpace(text) != "" {
		parsed = schedule.ParseWithFilters(text, filters)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleText = text
	s.filters = filters
	s.sched = parsed
	s.segments = nil
	return parsed
}

// GetSchedule возвращает текущее расписание и его исходный текст.
func (s *AppState) GetSchedule() (*schedule.PromptSchedule, string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sched, s.scheduleText, s.filters
}

// SetSegments сохраняет результат энкодинга.
func (s *AppState) SetSegments(segs []cond.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = segs
}

// GetSegments возвращает сегменты последнего энкодинга.
func (s *AppState) GetSegments() []cond.Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.segments
}

// SetPreviewPct двигает позицию предпросмотра, значение зажимается в [0, 1].
func (s *AppState) SetPreviewPct(pct float64) float64 {
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previewPct = pct
	return pct
}

// GetPreviewPct возвращает позицию предпросмотра.
func (s *AppState) GetPreviewPct() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previewPct
}

// SetProcessing меняет статус занятости (для спиннера в UI).
func (s *AppState) SetProcessing(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = busy
}

// GetProcessing возвращает текущий статус занятости.
func (s *AppState) GetProcessing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processing
}

// GetCommandRegistry возвращает реестр команд для использования в UI.
func (s *AppState) GetCommandRegistry() *CommandRegistry {
	return s.CommandRegistry
}
