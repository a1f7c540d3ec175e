// Package ui реализует Model компонент Bubble Tea TUI.
//
// Содержит структуру UI и функцию инициализации.
package ui

import (
	"fmt"

	"github.com/ilkoid/condsched/internal/app"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// schedPanelWidth - ширина панели расписания справа от лога.
const schedPanelWidth = 44

// MainModel представляет главную модель UI (Bubble Tea Model).
//
// Содержит все компоненты TUI:
//   - viewport: область лога (только для чтения)
//   - textarea: поле ввода пользователя
//   - appState: состояние приложения (расписание, сегменты, позиция)
//   - logLines: накопленная история лога
//   - ready: флаг первой инициализации размеров окна
type MainModel struct {
	viewport viewport.Model
	textarea textarea.Model

	appState *app.AppState

	// logLines хранит полную историю лога. Viewport показывает только
	// видимую часть, поэтому контент собирается отсюда заново.
	logLines []string

	// ready флаг для первой инициализации размеров
	ready bool
}

// InitialModel создает начальное состояние UI.
//
// Инициализирует:
//   - Поле ввода с placeholder'ом
//   - Вьюпорт для лога с приветственным сообщением
//
// Принимает AppState с зарегистрированными командами.
func InitialModel(appState *app.AppState) MainModel {
	// 1. Настройка поля ввода
	ta := textarea.New()
	ta.Placeholder = "Введите команду (например: load [a:b:0.5])..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 500
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	// 2. Настройка вьюпорта (лог)
	// Размеры (0,0) обновятся при первом событии WindowSizeMsg
	vp := viewport.New(0, 0)
	welcome := []string{
		systemMsgStyle("Condsched v0.1 Initialized."),
		systemMsgStyle("Введите 'help' для списка команд."),
	}
	vp.SetContent(fmt.Sprintf("%s\n%s\n", welcome[0], welcome[1]))

	return MainModel{
		textarea: ta,
		viewport: vp,
		appState: appState,
		logLines: welcome,
		ready:    false,
	}
}

// Init запускается один раз при старте Bubble Tea программы.
//
// Возвращает команду для запуска мигания курсора в поле ввода.
func (m MainModel) Init() tea.Cmd {
	return textarea.Blink
}
