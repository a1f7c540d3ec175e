// Graceful shutdown: отмена контекста при SIGINT/SIGTERM.
//
// Использование:
//   ctx, shutdown := utils.SetupGracefulShutdownWithContext()
//   defer shutdown()
package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupGracefulShutdown устанавливает обработчик сигналов для graceful shutdown.
//
// При получении SIGINT (Ctrl+C) или SIGTERM вызывается cancel(), после чего
// блокирующие операции должны завершиться по ctx.Err(). Возвращает функцию
// очистки, которую следует вызвать через defer: она сбрасывает логи.
func SetupGracefulShutdown(cancel context.CancelFunc) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		Info("Received signal, shutting down gracefully", "signal", sig.String())
		cancel()
	}()

	return func() {
		// Закрываем логи (это всегда безопасно вызвать)
		Close()
	}
}

// SetupGracefulShutdownWithContext создаёт контекст и настраивает graceful shutdown.
//
// Удобная обёртка для типичного случая использования:
//   ctx, shutdown := SetupGracefulShutdownWithContext()
//   defer shutdown()
func SetupGracefulShutdownWithContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	shutdown := SetupGracefulShutdown(cancel)
	return ctx, shutdown
}
