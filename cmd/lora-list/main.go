package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ilkoid/condsched/internal/app"
	"github.com/ilkoid/condsched/pkg/config"
	"github.com/ilkoid/condsched/pkg/lora"
	"github.com/joho/godotenv"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// --- Стили ---
var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")). // Зеленый
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")) // Розовый
)

// --- Сообщения (Messages) ---
type errMsg error
type contentMsg []loraInfo

// loraInfo - краткое описание одной LoRA из источника.
type loraInfo struct {
	name    string
	tensors int
	dim     string
	err     error
}

// --- Модель ---
type model struct {
	source   lora.Source
	spinner  spinner.Model
	viewport viewport.Model

	loading bool
	err     error
	ready   bool
}

// Инициализация модели
func initialModel(source lora.Source) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		source:  source,
		spinner: s,
		loading: true, // Сразу начинаем загрузку
	}
}

// Init запускает спиннер и команду загрузки
func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchLoraList(m.source),
	)
}

// Update - обработка событий
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {

	// Нажатие клавиш
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	// Ошибка
	case errMsg:
		m.err = msg
		m.loading = false
		return m, nil

	// Данные загружены
	case contentMsg:
		m.loading = false
		content := formatLoraList(msg)
		m.viewport.SetContent(content)
		return m, nil

	// Ресайз окна
	case tea.WindowSizeMsg:
		headerHeight := 2
		verticalMarginHeight := 2

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - verticalMarginHeight
		}
	}

	// Обновляем компоненты
	if m.loading {
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View - отрисовка
func (m model) View() string {
	if m.err != nil {
		return fmt.Sprintf("\n❌ Error: %v\n\nPress 'q' to quit.", m.err)
	}

	header := titleStyle.Render("🎨 LoRA Library")

	if m.loading {
		return fmt.Sprintf("\n %s Listing and inspecting LoRA files...\n\n", m.spinner.View())
	}

	return fmt.Sprintf("%s\n%s\n\n(Press 'q' to quit, arrows to scroll)", header, m.viewport.View())
}

// --- Бизнес-логика (Commands) ---

func fetchLoraList(source lora.Source) tea.Cmd {
	return func() tea.Msg {
		// Таймаут 30 секунд: инспекция скачивает тела файлов
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		names, err := source.List(ctx)
		if err != nil {
			return errMsg(err)
		}

		infos := make([]loraInfo, 0, len(names))
		for _, name := range names {
			info := loraInfo{name: name}
			w, err := source.Fetch(ctx, name)
			if err != nil {
				// Битый файл не валит весь список
				info.err = err
			} else {
				info.tensors = len(w.Tensors)
				info.dim = w.Metadata["ss_network_dim"]
			}
			infos = append(infos, info)
		}
		return contentMsg(infos)
	}
}

// Форматирование списка в строку для вьюпорта
func formatLoraList(infos []loraInfo) string {
	if len(infos) == 0 {
		return "No LoRA files found."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Total LoRAs: %d\n\n", len(infos)))

	for _, info := range infos {
		if info.err != nil {
			line := fmt.Sprintf("%s  %-28s  (error: %v)\n",
				itemStyle.Render("•"),
				info.name,
				info.err,
			)
			b.WriteString(line)
			continue
		}

		dim := info.dim
		if dim == "" {
			dim = "?"
		}
		line := fmt.Sprintf("%s  %-28s  %4d tensors  dim %s\n",
			itemStyle.Render("•"),
			info.name,
			info.tensors,
			dim,
		)
		b.WriteString(line)
	}
	return b.String()
}

// --- Main ---

func main() {
	// 1. Грузим конфиг (используем наш готовый пакет)
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	// .env подхватываем до Load: ключи S3 приходят через ${VAR}
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config Error: %v", err)
	}

	// 2. Инициализируем источник LoRA
	source, err := app.BuildLoraSource(cfg)
	if err != nil {
		log.Fatalf("LoRA Source Error: %v", err)
	}
	if source == nil {
		log.Fatalf("No LoRA source configured: set loras.source to \"dir\" or \"s3\" in %s", cfgPath)
	}

	// 3. Запускаем
	p := tea.NewProgram(
		initialModel(source),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
