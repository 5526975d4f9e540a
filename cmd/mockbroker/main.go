package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Checker-Finance/public-sdk/internal/mockbroker"
	"github.com/Checker-Finance/public-sdk/pkg/config"
	"github.com/Checker-Finance/public-sdk/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	cfg.ServiceName = "mockbroker"

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [mockbroker]...")

	// --- Store: Redis when configured, in-memory otherwise ---
	var st mockbroker.Store
	redisAddr := config.GetEnv("REDIS_ADDR", "")
	if redisAddr != "" {
		redisStore, err := mockbroker.NewRedisStore(ctx, redisAddr, config.GetEnvInt("REDIS_DB", 0))
		if err != nil {
			logg.Fatalw("failed to connect to redis", "error", err)
		}
		st = redisStore
		logg.Infow("using redis store", "addr", redisAddr)
	} else {
		st = mockbroker.NewMemoryStore()
		logg.Info("REDIS_ADDR not configured; using in-memory store")
	}

	quotes := mockbroker.NewQuoteEngine(int64(config.GetEnvInt("QUOTE_SEED", 0)))
	server := mockbroker.NewServer(logger.L(), st, quotes)
	app := server.App()

	addr := config.GetEnv("LISTEN_ADDR", ":8790")
	go func() {
		logg.Infof("mock broker API listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down [mockbroker]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
