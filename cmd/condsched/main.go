// Condsched — CLI утилита для энкодинга расписаний промптов.
//
// Использование:
//   ./condsched "a cat [in a hat:at night:0.5]"
//   ./condsched -debug "[forest:city:0.3,0.7]"
//   ./condsched -json "a photo <lora:detail:0.8>"
//   ./condsched -filters night "a cat [NIGHT:at night]"
//
// config.yaml ищется рядом с бинарником, если путь не задан флагом.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ilkoid/condsched/internal/app"
	"github.com/ilkoid/condsched/pkg/utils"
)

// Version — версия утилиты (заполняется при сборке)
var Version = "dev"

func main() {
	// 1. Парсим флаги
	var (
		configPath  = flag.String("config", "", "Path to config.yaml (default: ./config.yaml)")
		filters     = flag.String("filters", "", "Comma-separated filter tags for [TAG:...] blocks")
		debugFlag   = flag.Bool("debug", false, "Enable debug logging and encode trace")
		jsonOutput  = flag.Bool("json", false, "Output segments in JSON format")
		showHelp    = flag.Bool("help", false, "Show help")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	// 2. Обработка специальных флагов
	if *showVersion {
		fmt.Printf("condsched version %s\n", Version)
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: schedule text argument is required")
		fmt.Fprintln(os.Stderr, "Usage: condsched [flags] \"schedule\"")
		fmt.Fprintln(os.Stderr, "Run 'condsched -help' for more information")
		os.Exit(1)
	}

	if err := run(flag.Arg(0), *configPath, *filters, *debugFlag, *jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scheduleText, configPath, filters string, debugFlag, jsonOutput bool) error {
	// 1. Инициализируем логгер
	if err := utils.InitLogger(); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer utils.Close()
	utils.SetVerbose(debugFlag)

	// 2. Подхватываем .env до загрузки конфига: Load подставляет ${VAR} из окружения
	if err := godotenv.Load(); err == nil {
		utils.Debug(".env загружен")
	}

	// 3. Загружаем конфигурацию
	cfg, cfgPath, err := app.InitializeConfig(&app.DefaultConfigPathFinder{ConfigFlag: configPath})
	if err != nil {
		return err
	}
	utils.Debug("конфигурация загружена", "path", cfgPath)

	// Флаг -debug включает трейс энкодинга даже если в конфиге он выключен
	if debugFlag {
		cfg.App.Debug = true
	}

	// 4. Создаём компоненты
	comps, err := app.Initialize(cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	// 5. Энкодим расписание. Ctrl+C отменяет контекст и обрывает
	// запросы к удалённому энкодеру.
	baseCtx, shutdown := utils.SetupGracefulShutdownWithContext()
	defer shutdown()

	ctx, cancel := context.WithTimeout(baseCtx, 5*time.Minute)
	defer cancel()

	res, err := app.EncodeOnce(ctx, comps, scheduleText, filters)
	if err != nil {
		return err
	}

	// 6. Выводим результат
	if jsonOutput {
		printJSON(scheduleText, filters, res)
	} else {
		printHuman(res)
	}

	if res.TracePath != "" {
		fmt.Fprintf(os.Stderr, "\nEncode trace: %s\n", res.TracePath)
	}

	return nil
}

// printHelp выводит справку
func printHelp() {
	fmt.Println("Condsched — утилита для энкодинга расписаний промптов")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  condsched [flags] \"schedule\"")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config string   Path to config.yaml (default \"./config.yaml\")")
	fmt.Println("  -filters string  Comma-separated filter tags for [TAG:...] blocks")
	fmt.Println("  -debug           Enable debug logging and encode trace")
	fmt.Println("  -json            Output segments in JSON format")
	fmt.Println("  -version         Show version")
	fmt.Println("  -help            Show this help")
	fmt.Println()
	fmt.Println("Schedule syntax:")
	fmt.Println("  [before:after:0.5]          switch prompts at 50% of sampling")
	fmt.Println("  [a:b:0.2,0.8]               interpolate between two prompts")
	fmt.Println("  [day|night]                 alternate prompts every 10% step")
	fmt.Println("  <lora:name:0.8>             apply lora with weight 0.8")
	fmt.Println("  text AREA(0 0.5, 0.5 1, 1)  constrain conditioning to an area")
}
