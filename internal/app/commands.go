// Реестр интерактивных команд.
//
// Позволяет регистрировать обработчики команд и выполнять их асинхронно
// через Bubble Tea.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// CommandHandler — тип функции-обработчика команды.
//
// Принимает AppState и аргументы команды, возвращает tea.Cmd
// для асинхронного выполнения в Bubble Tea.
type CommandHandler func(state *AppState, args []string) tea.Cmd

// CommandRegistry — реестр зарегистрированных команд.
//
// Позволяет динамически регистрировать и выполнять команды.
// Thread-safe: одновременные вызовы безопасны.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]CommandHandler
}

// NewCommandRegistry создает новый пустой реестр команд.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]CommandHandler),
	}
}

// Register регистрирует новую команду в реестре.
//
// Если команда с таким именем уже существует, она будет перезаписана.
func (r *CommandRegistry) Register(name string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = handler
}

// Execute выполняет команду и возвращает tea.Cmd для асинхронного выполнения.
//
// Парсит ввод на имя команды и аргументы, находит соответствующий handler
// и возвращает tea.Cmd для выполнения в Bubble Tea.
// Если команда не найдена, возвращает команду с ошибкой.
func (r *CommandRegistry) Execute(input string, state *AppState) tea.Cmd {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	// Получаем handler под read lock
	r.mu.RLock()
	handler, exists := r.commands[cmd]
	r.mu.RUnlock()

	if !exists {
		return func() tea.Msg {
			return CommandResultMsg{Err: fmt.Errorf("неизвестная команда: '%s'", cmd)}
		}
	}

	return handler(state, args)
}

// GetCommands возвращает список имен зарегистрированных команд.
func (r *CommandRegistry) GetCommands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]string, 0, len(r.commands))
	for name := range r.commands {
		cmds = append(cmds, name)
	}
	return cmds
}

// SetupScheduleCommands регистрирует команды работы с расписанием:
//   - load <text>    — разобрать новое расписание
//   - filters <tags> — перечитать расписание с тегами фильтрации
//   - at <pct>       — передвинуть позицию предпросмотра
//   - encode         — энкодить текущее расписание
//   - clear          — сбросить расписание и сегменты
//   - help           — показать справку
//
// Также регистрирует псевдоним "e" для быстрого энкодинга.
func SetupScheduleCommands(registry *CommandRegistry, state *AppState) {
	registry.Register("load", func(state *AppState, args []string) tea.Cmd {
		return func() tea.Msg {
			if len(args) == 0 {
				return CommandResultMsg{Err: fmt.Errorf("использование: load <текст расписания>")}
			}
			text := strings.Join(args, " ")
			_, _, filters := state.GetSchedule()
			sched := state.SetSchedule(text, filters)
			return CommandResultMsg{Output: fmt.Sprintf("расписание: %s", sched.String())}
		}
	})

	registry.Register("filters", func(state *AppState, args []string) tea.Cmd {
		return func() tea.Msg {
			_, text, _ := state.GetSchedule()
			if text == "" {
				return CommandResultMsg{Err: fmt.Errorf("нет расписания, сначала выполните load")}
			}
			filters := strings.Join(args, " ")
			sched := state.SetSchedule(text, filters)
			return CommandResultMsg{Output: fmt.Sprintf("фильтры '%s': %s", filters, sched.String())}
		}
	})

	registry.Register("at", func(state *AppState, args []string) tea.Cmd {
		return func() tea.Msg {
			if len(args) == 0 {
				return CommandResultMsg{Err: fmt.Errorf("использование: at <процент 0..1>")}
			}
			pct, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return CommandResultMsg{Err: fmt.Errorf("неверный процент: %w", err)}
			}
			pct = state.SetPreviewPct(pct)

			sched, _, _ := state.GetSchedule()
			if sched == nil {
				return CommandResultMsg{Output: fmt.Sprintf("позиция %.2f", pct)}
			}
			entry := sched.At(pct)
			return CommandResultMsg{Output: fmt.Sprintf("позиция %.2f: %q до %.2f", pct, entry.Config.Prompt, entry.End)}
		}
	})

	registry.Register("encode", func(state *AppState, args []string) tea.Cmd {
		return func() tea.Msg {
			_, text, filters := state.GetSchedule()
			if text == "" {
				return CommandResultMsg{Err: fmt.Errorf("нет расписания, сначала выполните load")}
			}

			state.SetProcessing(true)
			res, err := EncodeOnce(context.Background(), state.Components, text, filters)
			state.SetProcessing(false)
			if err != nil {
				return CommandResultMsg{Err: err}
			}
			state.SetSegments(res.Segments)

			out := fmt.Sprintf("сегментов: %d за %d мс\n%s",
				len(res.Segments), res.Duration.Milliseconds(), res.Summary)
			if res.TracePath != "" {
				out += fmt.Sprintf("\nтрейс: %s", res.TracePath)
			}
			return CommandResultMsg{Output: out}
		}
	})

	registry.Register("clear", func(state *AppState, args []string) tea.Cmd {
		return func() tea.Msg {
			state.SetSchedule("", "")
			return CommandResultMsg{Output: "расписание сброшено"}
		}
	})

	registry.Register("help", func(state *AppState, args []string) tea.Cmd {
		return func() tea.Msg {
			helpText := `Команды:
  load <text>     - Разобрать расписание промпта
  filters <tags>  - Включить теги фильтрации и перечитать
  at <pct>        - Передвинуть позицию предпросмотра
  encode (e)      - Энкодить текущее расписание
  clear           - Сбросить расписание и сегменты
  help            - Показать эту справку`
			return CommandResultMsg{Output: helpText}
		}
	})

	// Короткий псевдоним для самой частой команды
	registry.Register("e", func(state *AppState, args []string) tea.Cmd {
		return registry.Execute("encode "+strings.Join(args, " "), state)
	})
}
