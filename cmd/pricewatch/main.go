package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Checker-Finance/public-sdk/pkg/config"
	"github.com/Checker-Finance/public-sdk/pkg/logger"
	"github.com/Checker-Finance/public-sdk/pkg/model"
	"github.com/Checker-Finance/public-sdk/pkg/public"
)

// pricewatch subscribes to a comma-separated list of symbols (WATCH_SYMBOLS)
// and logs every price change until interrupted.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	cfg.ServiceName = "pricewatch"

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()

	client, err := public.New(ctx, cfg, config.GetEnv("PUBLIC_API_SECRET", ""))
	if err != nil {
		logg.Fatalw("failed to construct client", "error", err)
	}

	symbols := strings.Split(config.GetEnv("WATCH_SYMBOLS", "AAPL,MSFT"), ",")
	instruments := make([]model.Instrument, 0, len(symbols))
	for _, s := range symbols {
		instruments = append(instruments, model.Instrument{
			Symbol: strings.TrimSpace(s),
			Type:   model.InstrumentEquity,
		})
	}

	subCfg := public.DefaultSubscriptionConfig()
	subCfg.PollingFrequencySeconds = config.GetEnvFloat("POLL_FREQUENCY_SECONDS", 2.0)

	subID, err := client.SubscribePrices(instruments, public.SyncPrice(func(ev public.PriceChange) {
		if ev.Err != nil {
			logg.Warnw("subscription failed", "subscription_id", ev.SubscriptionID, "error", ev.Err)
			return
		}
		logg.Infow("price change",
			"symbol", ev.Instrument.Symbol,
			"old", quoteLast(ev.OldQuote),
			"new", quoteLast(ev.NewQuote))
	}), &subCfg)
	if err != nil {
		logg.Fatalw("subscribe failed", "error", err)
	}
	logg.Infow("watching prices", "subscription_id", subID, "symbols", symbols)

	<-ctx.Done()
	logg.Info("shutting down [pricewatch]...")

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Close(closeCtx); err != nil {
		logg.Warnw("client.close_failed", "error", err)
	}
}

func quoteLast(q *model.Quote) string {
	if q == nil || q.Last == nil {
		return "-"
	}
	return q.Last.String()
}
