package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig — корневая структура конфигурации.
// Она зеркалит структуру config.yaml.
type AppConfig struct {
	Encoder  EncoderConfig  `yaml:"encoder"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Cache    CacheConfig    `yaml:"cache"`
	Loras    LorasConfig    `yaml:"loras"`
	S3       S3Config       `yaml:"s3"`
	App      AppSpecific    `yaml:"app"`
}

// EncoderConfig — настройки токен-энкодера.
type EncoderConfig struct {
	Kind      string `yaml:"kind"`       // "stub", "remote" или "openai"
	Family    string `yaml:"family"`     // "standard" или "dual" (для stub)
	Dim       int    `yaml:"dim"`        // Размерность эмбеддинга (для stub)
	URL       string `yaml:"url"`        // WebSocket URL clip-сайдкара (для remote)
	Model     string `yaml:"model"`      // Имя модели эмбеддингов (для openai)
	APIKey    string `yaml:"api_key"`    // Поддерживает ${VAR}
	BaseURL   string `yaml:"base_url"`   // Альтернативный API endpoint (для openai)
	RateLimit int    `yaml:"rate_limit"` // Запросов в секунду к внешнему энкодеру
	Burst     int    `yaml:"burst"`      // Burst для rate limiter
	Timeout   string `yaml:"timeout"`    // Timeout запросов (например, "60s")
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *EncoderConfig) GetDefaults() EncoderConfig {
	result := *c // Копируем текущие значения

	if result.Kind == "" {
		result.Kind = "stub"
	}
	if result.Family == "" {
		result.Family = "standard"
	}
	if result.Dim == 0 {
		result.Dim = 768
	}
	if result.Model == "" {
		result.Model = "text-embedding-3-small"
	}
	if result.RateLimit == 0 {
		result.RateLimit = 10 // запросов в секунду
	}
	if result.Burst == 0 {
		result.Burst = 2
	}
	if result.Timeout == "" {
		result.Timeout = "60s"
	}

	return result
}

// TimeoutDuration разбирает строку Timeout. Нечитаемое значение
// заменяется дефолтом 60s.
func (c *EncoderConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// DefaultsConfig — дефолты энкодинга, действующие без явных директив.
type DefaultsConfig struct {
	Style         string  `yaml:"style"`         // Стиль взвешивания токенов
	Normalization string  `yaml:"normalization"` // Нормализация весов
	MaskWidth     int     `yaml:"mask_width"`    // Базовый размер MASK
	MaskHeight    int     `yaml:"mask_height"`
	Step          float64 `yaml:"step"` // Шаг интерполяции
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *DefaultsConfig) GetDefaults() DefaultsConfig {
	result := *c

	if result.Style == "" {
		result.Style = "comfy"
	}
	if result.Normalization == "" {
		result.Normalization = "none"
	}
	if result.MaskWidth == 0 {
		result.MaskWidth = 512
	}
	if result.MaskHeight == 0 {
		result.MaskHeight = 512
	}
	if result.Step == 0 {
		result.Step = 0.1
	}

	return result
}

// CacheConfig — настройки кэша кондиционирования.
type CacheConfig struct {
	Kind string `yaml:"kind"` // "memory", "lru" или "sqlite"
	Size int    `yaml:"size"` // Ёмкость для lru/sqlite
	Path string `yaml:"path"` // Файл БД для sqlite
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *CacheConfig) GetDefaults() CacheConfig {
	result := *c

	if result.Kind == "" {
		result.Kind = "memory"
	}
	if result.Size == 0 {
		result.Size = 128
	}
	if result.Path == "" {
		result.Path = "cond-cache.db"
	}

	return result
}

// LorasConfig — откуда брать LoRA-файлы.
type LorasConfig struct {
	Source string `yaml:"source"` // "none", "dir" или "s3"
	Dir    string `yaml:"dir"`    // Директория для source: dir
}

// S3Config — настройки объектного хранилища.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`     // Префикс ключей с LoRA-файлами
	AccessKey string `yaml:"access_key"` // Поддерживает ${VAR}
	SecretKey string `yaml:"secret_key"` // Поддерживает ${VAR}
	UseSSL    bool   `yaml:"use_ssl"`
}

// AppSpecific — общие настройки приложения.
type AppSpecific struct {
	Debug    bool   `yaml:"debug"`
	TraceDir string `yaml:"trace_dir"` // Куда писать JSON-трейсы энкодинга
}

// Load читает YAML файл, подставляет ENV переменные и возвращает готовую структуру.
func Load(path string) (*AppConfig, error) {
	// 1. Проверяем существование файла
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found at: %s", path)
	}

	// 2. Читаем файл целиком
	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 3. Подставляем переменные окружения.
	// os.ExpandEnv заменяет ${VAR} или $VAR на значение из системы.
	contentWithEnv := os.ExpandEnv(string(rawBytes))

	// 4. Парсим YAML в структуру
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(contentWithEnv), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	// 5. Валидируем критические настройки
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate проверяет обязательные поля.
func (c *AppConfig) validate() error {
	switch c.Encoder.Kind {
	case "", "stub", "remote", "openai":
	default:
		return fmt.Errorf("encoder.kind '%s' is not supported (stub, remote, openai)", c.Encoder.Kind)
	}
	if c.Encoder.Kind == "remote" && c.Encoder.URL == "" {
		return fmt.Errorf("encoder.url is required when encoder.kind is 'remote'")
	}
	if c.Encoder.Kind == "openai" && c.Encoder.APIKey == "" {
		return fmt.Errorf("encoder.api_key is required when encoder.kind is 'openai'")
	}

	switch c.Cache.Kind {
	case "", "memory", "lru", "sqlite":
	default:
		return fmt.Errorf("cache.kind '%s' is not supported (memory, lru, sqlite)", c.Cache.Kind)
	}

	switch c.Loras.Source {
	case "", "none", "dir", "s3":
	default:
		return fmt.Errorf("loras.source '%s' is not supported (none, dir, s3)", c.Loras.Source)
	}
	if c.Loras.Source == "dir" && c.Loras.Dir == "" {
		return fmt.Errorf("loras.dir is required when loras.source is 'dir'")
	}
	if c.Loras.Source == "s3" {
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when loras.source is 's3'")
		}
		if c.S3.Endpoint == "" {
			return fmt.Errorf("s3.endpoint is required when loras.source is 's3'")
		}
	}

	if c.Defaults.Step < 0 || c.Defaults.Step > 1 {
		return fmt.Errorf("defaults.step must be within (0, 1], got %v", c.Defaults.Step)
	}

	return nil
}
