// Панель расписания: окна, таймлайн и позиция предпросмотра.

package ui

import (
	"fmt"
	"strings"

	"github.com/ilkoid/condsched/internal/app"
	"github.com/ilkoid/condsched/pkg/schedule"
)

// RenderSchedulePanel рендерит панель текущего расписания: список окон
// с отметкой активного, таймлайн и статистику предпросмотра.
func RenderSchedulePanel(state *app.AppState, width int) string {
	sched, _, filters := state.GetSchedule()
	pct := state.GetPreviewPct()

	// Граница и padding съедают часть ширины
	inner := width - 4
	if inner < 10 {
		inner = 10
	}

	var b strings.Builder
	b.WriteString(schedTitleStyle.Render("📋 РАСПИСАНИЕ"))
	b.WriteString("\n")

	if sched == nil || len(sched.Entries) == 0 {
		b.WriteString(entryStyle.Render("Нет расписания"))
		b.WriteString("\n")
		b.WriteString(statsStyle.Render("Выполните load <текст>"))
		return schedBorderStyle.Width(width).Render(b.String())
	}

	// Окна расписания, активное отмечено ●
	activeIdx := entryIndexAt(sched, pct)
	start := 0.0
	for i, e := range sched.Entries {
		glyph := "○"
		style := entryStyle
		if i == activeIdx {
			glyph = "●"
			style = entryActiveStyle
		}

		prompt := strings.TrimSpace(e.Config.Prompt)
		if prompt == "" {
			prompt = "(пусто)"
		}
		line := fmt.Sprintf("%s %d. [%.2f-%.2f] %s", glyph, i+1, start, e.End, prompt)
		if len(e.Config.Loras) > 0 {
			line += fmt.Sprintf(" +%d lora", len(e.Config.Loras))
		}

		b.WriteString(style.Render(truncateLabel(line, inner)))
		b.WriteString("\n")
		start = e.End
	}

	// Таймлайн с кареткой позиции
	b.WriteString("\n")
	b.WriteString(renderTimeline(sched, pct, inner))

	// Статистика
	stats := fmt.Sprintf("Позиция: %.2f\nСегментов: %d", pct, len(state.GetSegments()))
	if filters != "" {
		stats += fmt.Sprintf("\nФильтры: %s", filters)
	}
	b.WriteString(statsStyle.Render(stats))

	return schedBorderStyle.Width(width).Render(b.String())
}

// entryIndexAt возвращает индекс окна, активного на позиции pct.
// Логика совпадает с PromptSchedule.At: первое окно с End >= pct.
func entryIndexAt(sched *schedule.PromptSchedule, pct float64) int {
	for i, e := range sched.Entries {
		if e.End >= pct {
			return i
		}
	}
	return len(sched.Entries) - 1
}

// renderTimeline рисует полосу таймлайна с чередующимися блоками окон
// и кареткой текущей позиции под ней.
func renderTimeline(sched *schedule.PromptSchedule, pct float64, width int) string {
	glyphs := []rune{'░', '▓'}
	bar := make([]rune, width)
	for i := range bar {
		p := (float64(i) + 0.5) / float64(width)
		bar[i] = glyphs[entryIndexAt(sched, p)%2]
	}

	caretCol := int(pct * float64(width-1))
	caret := strings.Repeat(" ", caretCol) + "^"

	return string(bar) + "\n" + caret + "\n"
}
