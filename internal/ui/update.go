// Логика - Обрабатывает нажатия клавиш и результаты команд.

package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ilkoid/condsched/internal/app"
	"github.com/muesli/reflow/wrap"
)

func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	switch msg := msg.(type) {

	// 1. Изменение размера окна терминала
	case tea.WindowSizeMsg:
		headerHeight := 1
		footerHeight := m.textarea.Height() + 2 // + граница

		// Панель расписания занимает правую колонку
		logWidth := msg.Width - schedPanelWidth
		if logWidth < 0 {
			logWidth = 0
		}

		// Вычисляем высоту для области контента
		vpHeight := msg.Height - headerHeight - footerHeight
		if vpHeight < 0 {
			vpHeight = 0
		}

		// Обновляем размеры существующего вьюпорта
		m.viewport.Width = logWidth
		m.viewport.Height = vpHeight

		if !m.ready {
			m.ready = true
		}

		m.textarea.SetWidth(logWidth)

		// Переформатируем лог под новую ширину
		m.refreshLog()

	// 2. Клавиши
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			input := m.textarea.Value()
			if strings.TrimSpace(input) == "" {
				return m, nil
			}

			// Очищаем ввод
			m.textarea.Reset()

			// Добавляем команду пользователя в лог
			m.appendLog(userMsgStyle("USER > ") + input)

			// Запускаем асинхронную команду через реестр
			dispatch := m.appState.GetCommandRegistry().Execute(input, m.appState)
			return m, dispatch
		}

	// 3. Результат выполнения команды (прилетел асинхронно)
	case app.CommandResultMsg:
		if msg.Err != nil {
			m.appendLog(errorMsgStyle("ERROR: ") + msg.Err.Error())
		} else {
			m.appendLog(systemMsgStyle("SYSTEM: ") + msg.Output)
		}
		// Возвращаем фокус на ввод
		m.textarea.Focus()
	}

	return m, tea.Batch(tiCmd, vpCmd)
}

// Хелпер для добавления строки в лог и прокрутки вниз
func (m *MainModel) appendLog(str string) {
	m.logLines = append(m.logLines, str)
	m.refreshLog()
}

// refreshLog переносит длинные строки под текущую ширину вьюпорта.
// Исходные строки хранятся без переноса, поэтому ресайз
// переформатирует их заново.
func (m *MainModel) refreshLog() {
	width := m.viewport.Width
	wrapped := make([]string, 0, len(m.logLines))
	for _, line := range m.logLines {
		if width > 0 {
			line = wrap.String(line, width)
		}
		wrapped = append(wrapped, line)
	}
	m.viewport.SetContent(strings.Join(wrapped, "\n"))
	m.viewport.GotoBottom()
}
