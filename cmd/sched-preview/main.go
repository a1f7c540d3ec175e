// Sched-preview TUI Application
// Основная точка входа для интерактивного предпросмотра расписаний
package main

import (
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ilkoid/condsched/internal/app"
	"github.com/ilkoid/condsched/internal/ui"
	"github.com/ilkoid/condsched/pkg/config"
	"github.com/ilkoid/condsched/pkg/utils"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 0. Инициализируем логгер
	if err := utils.InitLogger(); err != nil {
		log.Printf("Warning: failed to init logger: %v", err)
	}
	defer utils.Close()

	utils.Info("Application started", "version", "0.1")

	// 1. Подхватываем .env: конфиг разворачивает ${VAR} из окружения
	if err := godotenv.Load(); err == nil {
		utils.Info(".env loaded")
	}

	// 2. Инициализируем конфигурацию (переиспользуем из internal/app)
	cfg, cfgPath, err := app.InitializeConfig(&app.DefaultConfigPathFinder{})
	if err != nil {
		utils.Error("Failed to load config", "error", err, "path", cfgPath)
		return err
	}

	log.Printf("Config loaded successfully from %s", cfgPath)
	utils.Info("Config loaded", "path", cfgPath, "encoder", cfg.Encoder.GetDefaults().Kind)

	// Логируем загруженные ключи (с маскированием для безопасности)
	logKeysInfo(cfg)

	// 3. Создаём компоненты: энкодер, кэш, источник LoRA
	comps, err := app.Initialize(cfg)
	if err != nil {
		utils.Error("Components initialization failed", "error", err)
		return fmt.Errorf("components initialization failed: %w", err)
	}
	defer comps.Close()

	// 4. Создаём состояние и регистрируем команды
	state := app.NewAppState(comps)
	app.SetupScheduleCommands(state.GetCommandRegistry(), state)

	// 5. Инициализируем TUI модель
	tuiModel := ui.InitialModel(state)

	// 6. Запускаем Bubble Tea программу
	log.Println("Starting TUI...")
	utils.Info("Starting TUI")

	p := tea.NewProgram(
		tuiModel,
		// Без AltScreen - позволяет выделять текст мышкой и копировать в буфер обмена
		// Скролл стрелками/cltr+u ctrl+d работает как обычно
	)

	if _, err := p.Run(); err != nil {
		utils.Error("TUI error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}

	utils.Info("Application exited normally")
	return nil
}

// maskKey показывает первые 8 символов ключа для идентификации.
func maskKey(key string) string {
	if key == "" {
		return "NOT SET"
	}
	if len(key) <= 8 {
		return key + "..."
	}
	return key[:8] + "..."
}

// logKeysInfo логирует информацию о загруженных API ключах.
func logKeysInfo(cfg *config.AppConfig) {
	log.Println("=== API Keys Status ===")

	log.Printf("  ENCODER_API_KEY: %s", maskKey(cfg.Encoder.APIKey))
	log.Printf("  S3_ACCESS_KEY: %s", maskKey(cfg.S3.AccessKey))
	log.Printf("  S3_SECRET_KEY: %s", maskKey(cfg.S3.SecretKey))

	log.Println("======================")
}
