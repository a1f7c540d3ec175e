// Рендер
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m MainModel) View() string {
	if !m.ready {
		return "Initializing UI..."
	}

	// Формируем строку статуса (Header)
	sched, text, _ := m.appState.GetSchedule()
	schedLabel := "NONE"
	if sched != nil {
		schedLabel = truncateLabel(text, 40)
	}

	status := fmt.Sprintf(" SCHED: %s | AT: %.2f | SEGS: %d ",
		schedLabel,
		m.appState.GetPreviewPct(),
		len(m.appState.GetSegments()),
	)
	if m.appState.GetProcessing() {
		status += "| ENCODING... "
	}

	// Растягиваем хедер на всю ширину
	header := headerStyle.
		Width(m.viewport.Width).
		Render(status)

	// Разделительная линия
	border := lipgloss.NewStyle().
		Foreground(grayColor).
		Width(m.viewport.Width).
		Render(strings.Repeat("─", m.viewport.Width))

	// Левая колонка: Header + Viewport + Border + Input
	mainContent := fmt.Sprintf("%s\n%s\n%s\n%s",
		header,
		m.viewport.View(),
		border,
		m.textarea.View(),
	)

	// Правая колонка: панель расписания
	schedPanel := RenderSchedulePanel(m.appState, schedPanelWidth)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		mainContent,
		schedPanel,
	)
}

// truncateLabel обрезает текст для строки статуса.
func truncateLabel(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}
