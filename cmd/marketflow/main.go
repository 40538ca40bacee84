package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tigerex/marketflow/params"
	"github.com/tigerex/marketflow/pkg/api"
	"github.com/tigerex/marketflow/pkg/app/core/market"
	"github.com/tigerex/marketflow/pkg/book"
	"github.com/tigerex/marketflow/pkg/bus"
	"github.com/tigerex/marketflow/pkg/engine"
	"github.com/tigerex/marketflow/pkg/orders"
	"github.com/tigerex/marketflow/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// ---- Symbol registry ----
	registry := market.NewRegistry()
	for _, spec := range cfg.Markets {
		parts := strings.Split(spec, ":")
		if len(parts) != 3 {
			sugar.Fatalw("invalid_market_spec", "spec", spec)
		}
		m, err := market.New(parts[0], parts[1], parts[2])
		if err != nil {
			sugar.Fatalw("market_init_failed", "spec", spec, "err", err)
		}
		if err := registry.Register(m); err != nil {
			sugar.Fatalw("market_register_failed", "symbol", m.Symbol, "err", err)
		}
	}
	sugar.Infow("markets_registered", "count", registry.Count())

	// ---- Core wiring ----
	clock := util.RealClock{}
	eventBus := bus.New(sugar)
	matching := engine.NewMemoryEngine(clock)

	hub := book.NewHub(clock, sugar)
	aggregator := book.NewAggregator(matching, hub, cfg.Book.DepthLimit, clock, sugar)
	orderSvc := orders.NewService(matching, registry, eventBus, clock, sugar)

	// Every lifecycle event re-aggregates its symbol and the new
	// snapshot fans out through the hub.
	eventBus.Subscribe(engine.TopicOrderProcessed, aggregator.HandleEvent)
	eventBus.Subscribe(engine.TopicOrderCanceled, aggregator.HandleEvent)
	eventBus.Subscribe(engine.TopicTradeExecuted, aggregator.HandleEvent)

	// Lifecycle notifications reach symbol subscribers too.
	forward := func(topic string, payload any) {
		if symbol, ok := engine.SymbolOf(payload); ok {
			hub.Publish(symbol, book.EventOrderUpdate, payload)
		}
	}
	eventBus.Subscribe(engine.TopicOrderProcessed, forward)
	eventBus.Subscribe(engine.TopicOrderCanceled, forward)
	eventBus.Subscribe(engine.TopicTradeExecuted, forward)

	server := api.NewServer(orderSvc, aggregator, hub, registry, matching, cfg, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		sugar.Info("shutdown_signal_received")
	case err := <-errCh:
		if err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("shutdown_failed", "err", err)
	}
	sugar.Info("shutdown_complete")
}

func buildLogger(cfg params.Config) (*zap.Logger, error) {
	if cfg.LogFile != "" {
		return util.NewLoggerWithFile(cfg.LogFile)
	}
	return util.NewLogger()
}
