// encoder-ping — утилита для проверки доступности энкодера кондиционирования.
//
// Использование:
//   go run cmd/encoder-ping/main.go
//   или
//   go build -o encoder-ping cmd/encoder-ping/main.go && ./encoder-ping config.yaml
//
// Переменные окружения:
//   ENCODER_API_KEY - API ключ энкодера (подставляется в config.yaml через ${VAR})
//
// Конфигурация:
//   Использует config.yaml из текущей директории
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ilkoid/condsched/internal/app"
	"github.com/ilkoid/condsched/pkg/config"
	"github.com/ilkoid/condsched/pkg/encoder"
)

func main() {
	// 1. Загружаем конфигурацию
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	// .env подхватываем до Load: конфиг разворачивает ${VAR} из окружения
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", cfgPath, err)
	}

	ec := cfg.Encoder.GetDefaults()
	fmt.Printf("🔍 Testing encoder: %s (%s)\n\n", ec.Kind, ec.Family)

	// 2. Создаём энкодер
	h, err := app.BuildEncoder(cfg.Encoder)
	if err != nil {
		fmt.Printf("❌ Status: UNAVAILABLE\n")
		fmt.Printf("   Error: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closer, ok := h.(io.Closer); ok {
			closer.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 3. Пингуем, если энкодер это умеет (remote)
	if pinger, ok := h.(interface{ Ping(context.Context) error }); ok {
		start := time.Now()
		if err := pinger.Ping(ctx); err != nil {
			fmt.Printf("❌ Status: UNAVAILABLE\n")
			fmt.Printf("   Kind: %s\n", ec.Kind)
			fmt.Printf("   URL: %s\n", ec.URL)
			fmt.Printf("   Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Ping: OK (%dms)\n", time.Since(start).Milliseconds())
	}

	// 4. Контрольный энкодинг: токенизируем и энкодим короткий промпт
	start := time.Now()
	toks, err := h.Tokenize(ctx, "ping", false)
	if err != nil {
		printEncodeFailure(ec, "tokenize", err)
		os.Exit(1)
	}

	returnPooled := h.Family() == encoder.FamilyDual
	cond, pooled, err := h.EncodeFromTokens(ctx, toks, returnPooled, encoder.EncodeOpts{})
	if err != nil {
		printEncodeFailure(ec, "encode", err)
		os.Exit(1)
	}
	latency := time.Since(start)

	// 5. Красивый вывод
	fmt.Printf("✅ Status: AVAILABLE\n")
	fmt.Printf("   Kind: %s\n", ec.Kind)
	fmt.Printf("   Family: %s\n", h.Family())
	fmt.Printf("   Cond: %dx%d\n", cond.Rows(), cond.Cols())
	if len(pooled) > 0 {
		fmt.Printf("   Pooled: %d\n", len(pooled))
	}
	fmt.Printf("   Latency: %dms\n", latency.Milliseconds())
}

// printEncodeFailure выводит ошибку контрольного энкодинга
func printEncodeFailure(ec config.EncoderConfig, op string, err error) {
	fmt.Printf("❌ Status: UNAVAILABLE\n")
	fmt.Printf("   Kind: %s\n", ec.Kind)
	fmt.Printf("   Failed Op: %s\n", op)
	fmt.Printf("   Error: %v\n", err)
}
