// Package app собирает компоненты приложения из конфигурации и держит
// состояние интерактивного интерфейса.
//
// Логика инициализации вынесена сюда, чтобы CLI и TUI версии собирались
// из одного и того же кода: entry points занимаются только флагами и
// выводом.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ilkoid/condsched/pkg/cache"
	"github.com/ilkoid/condsched/pkg/cond"
	"github.com/ilkoid/condsched/pkg/config"
	"github.com/ilkoid/condsched/pkg/control"
	"github.com/ilkoid/condsched/pkg/debug"
	"github.com/ilkoid/condsched/pkg/encoder"
	"github.com/ilkoid/condsched/pkg/encoder/encodertest"
	"github.com/ilkoid/condsched/pkg/encoder/openaiembed"
	"github.com/ilkoid/condsched/pkg/encoder/remote"
	"github.com/ilkoid/condsched/pkg/lora"
	"github.com/ilkoid/condsched/pkg/schedule"
	"github.com/ilkoid/condsched/pkg/utils"
)

// Components содержит все компоненты приложения для переиспользования.
//
// Структура собирается один раз через Initialize() и передается в CLI
// или TUI вместо повторной инициализации в каждой утилите. Рекордер
// трейсов сюда не входит: он живет один прогон и создается в EncodeOnce.
type Components struct {
	Config  *config.AppConfig
	Encoder encoder.Handle
	Cache   cache.CondCache
	Loras   *lora.Cache
}

// EncodeResult содержит результаты энкодинга одного расписания.
//
// Используется для отделения логики вывода от логики выполнения:
// CLI печатает JSON, TUI рендерит сегменты по-своему.
type EncodeResult struct {
	Schedule  *schedule.PromptSchedule // Разобранное расписание
	Segments  []cond.Segment           // Итоговые сегменты кондиционирования
	Summary   string                   // Краткое описание сегментов для логов
	TracePath string                   // Путь к JSON-трейсу, пустой без рекордера
	Duration  time.Duration            // Время энкодинга
}

// ConfigPathFinder определяет стратегию поиска пути к config.yaml.
//
// По умолчанию используется DefaultConfigPathFinder, но можно
// реализовать свою стратегию для тестов или специальных случаев.
type ConfigPathFinder interface {
	FindConfigPath() string
}

// DefaultConfigPathFinder реализует стандартную стратегию поиска config.yaml.
//
// Порядок поиска:
// 1. Флаг -config (если указан)
// 2. Текущая директория (./config.yaml)
// 3. Директория бинарника
// 4. Родительские директории (для запуска из cmd/<утилита>/)
type DefaultConfigPathFinder struct {
	// ConfigFlag - значение флага -config, если указан
	ConfigFlag string
}

// FindConfigPath находит путь к config.yaml.
func (f *DefaultConfigPathFinder) FindConfigPath() string {
	// 1. Флаг имеет приоритет
	if f.ConfigFlag != "" {
		return resolveAbsPath(f.ConfigFlag)
	}

	// 2. Текущая директория
	if _, err := os.Stat("config.yaml"); err == nil {
		return resolveAbsPath("config.yaml")
	}

	// 3. Директория бинарника
	if execPath, err := os.Executable(); err == nil {
		cfgPath := filepath.Join(filepath.Dir(execPath), "config.yaml")
		if _, err := os.Stat(cfgPath); err == nil {
			return cfgPath
		}
	}

	// 4. Родительские директории (для запуска из cmd/<утилита>/)
	for _, up := range []string{"..", filepath.Join("..", "..")} {
		cfgPath := filepath.Join(up, "config.yaml")
		if _, err := os.Stat(cfgPath); err == nil {
			return resolveAbsPath(cfgPath)
		}
	}

	// Возвращаем дефолтный путь (даже если не существует)
	return resolveAbsPath("config.yaml")
}

// InitializeConfig инициализирует и загружает конфигурацию.
func InitializeConfig(finder ConfigPathFinder) (*config.AppConfig, string, error) {
	cfgPath := finder.FindConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config from %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// Initialize создаёт и инициализирует все компоненты приложения.
//
// Функция переиспользуемая: CLI и TUI вызывают её без изменений, вся
// логика инициализации инкапсулирована здесь.
func Initialize(cfg *config.AppConfig) (*Components, error) {
	utils.Info("initializing components",
		"encoder", cfg.Encoder.GetDefaults().Kind,
		"cache", cfg.Cache.GetDefaults().Kind,
		"lora_source", cfg.Loras.Source)

	// 1. Токен-энкодер
	enc, err := BuildEncoder(cfg.Encoder)
	if err != nil {
		utils.Error("encoder creation failed", "error", err)
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	utils.Info("encoder initialized", "family", enc.Family().String())

	// 2. Кэш сегментов кондиционирования
	condCache, err := cache.New(cfg.Cache)
	if err != nil {
		utils.Error("cond cache creation failed", "error", err)
		return nil, fmt.Errorf("failed to create cond cache: %w", err)
	}

	// 3. Источник LoRA-файлов
	source, err := BuildLoraSource(cfg)
	if err != nil {
		utils.Error("lora source creation failed", "error", err)
		return nil, fmt.Errorf("failed to create lora source: %w", err)
	}
	loras := lora.NewCache(source)

	if cfg.App.Debug {
		utils.Info("debug mode on, traces go to", "dir", cfg.App.TraceDir)
	}

	return &Components{
		Config:  cfg,
		Encoder: enc,
		Cache:   condCache,
		Loras:   loras,
	}, nil
}

// BuildEncoder создает encoder.Handle на основе конфигурации.
func BuildEncoder(ec config.EncoderConfig) (encoder.Handle, error) {
	c := ec.GetDefaults()

	switch c.Kind {
	case "stub":
		if c.Family == "dual" {
			return encodertest.NewDual(c.Dim), nil
		}
		return encodertest.New(c.Dim), nil

	case "remote":
		return remote.Dial(context.Background(), remote.Config{
			URL:     c.URL,
			Limit:   float64(c.RateLimit),
			Burst:   c.Burst,
			Timeout: c.TimeoutDuration(),
		})

	case "openai":
		return openaiembed.New(openaiembed.Config{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
			Dim:     c.Dim,
			Limit:   float64(c.RateLimit),
			Burst:   c.Burst,
			Timeout: c.TimeoutDuration(),
		}), nil

	default:
		return nil, fmt.Errorf("unknown encoder kind: %s", c.Kind)
	}
}

// BuildLoraSource создает источник LoRA по конфигурации.
// Источник "none" возвращает nil: все LoRA будут считаться отсутствующими.
func BuildLoraSource(cfg *config.AppConfig) (lora.Source, error) {
	switch cfg.Loras.Source {
	case "", "none":
		return nil, nil
	case "dir":
		return lora.NewDirSource(cfg.Loras.Dir), nil
	case "s3":
		return lora.NewS3Source(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown lora source: %s", cfg.Loras.Source)
	}
}

// EncoderDefaults возвращает сегментные дефолты энкодера из конфигурации.
func (c *Components) EncoderDefaults() encoder.Defaults {
	d := c.Config.Defaults.GetDefaults()
	return encoder.Defaults{
		Style:         d.Style,
		Normalization: d.Normalization,
		MaskWidth:     d.MaskWidth,
		MaskHeight:    d.MaskHeight,
	}
}

// ControlOptions собирает опции оркестратора из компонентов.
// rec может быть nil, тогда прогон идет без трейса.
func (c *Components) ControlOptions(rec *debug.Recorder) control.Options {
	return control.Options{
		Defaults: c.EncoderDefaults(),
		Cache:    c.Cache,
		Loras:    c.Loras,
		Recorder: rec,
		Step:     c.Config.Defaults.Step,
	}
}

// newRecorder создает рекордер на один прогон, nil вне debug-режима.
func (c *Components) newRecorder() (*debug.Recorder, error) {
	if !c.Config.App.Debug {
		return nil, nil
	}
	return debug.NewRecorder(debug.RecorderConfig{
		TraceDir:       c.Config.App.TraceDir,
		IncludePrompts: true,
	})
}

// EncodeOnce разбирает и энкодит одно расписание.
//
// Функция переиспользуемая: CLI и TUI выполняют запросы этим же кодом.
// В debug-режиме каждый прогон получает свой рекордер и свой JSON-трейс
// на диске.
func EncodeOnce(ctx context.Context, c *Components, scheduleText, filters string) (*EncodeResult, error) {
	startTime := time.Now()
	utils.Info("encoding schedule", "length", len(scheduleText), "filters", filters)

	rec, err := c.newRecorder()
	if err != nil {
		return nil, fmt.Errorf("create trace recorder: %w", err)
	}

	sched := schedule.ParseWithFilters(scheduleText, filters)
	rec.Start(sched.String(), filters)

	segs, err := control.EncodeSchedule(ctx, c.Encoder, sched, c.ControlOptions(rec))
	duration := time.Since(startTime)
	if err != nil {
		utils.Error("schedule encoding failed", "error", err)
		if _, ferr := rec.Finalize("error", err, duration); ferr != nil {
			utils.Warn("trace finalization failed", "error", ferr)
		}
		return nil, fmt.Errorf("encode schedule: %w", err)
	}

	summary := cond.Summary(segs)
	tracePath, err := rec.Finalize("ok", nil, duration)
	if err != nil {
		utils.Warn("trace finalization failed", "error", err)
	}

	utils.Info("schedule encoded",
		"segments", len(segs),
		"duration_ms", duration.Milliseconds())

	return &EncodeResult{
		Schedule:  sched,
		Segments:  segs,
		Summary:   summary,
		TracePath: tracePath,
		Duration:  duration,
	}, nil
}

// Close освобождает ресурсы компонентов: сетевой энкодер и кэш.
func (c *Components) Close() {
	if closer, ok := c.Encoder.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			utils.Warn("encoder close failed", "error", err)
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			utils.Warn("cond cache close failed", "error", err)
		}
	}
}

// resolveAbsPath преобразует путь в абсолютный (если это не уже абсолютный путь).
func resolveAbsPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
