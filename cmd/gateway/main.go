package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/continuity"
	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/order"
	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/stream"
	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/tradeapi"
	"github.com/shubham-shewale/bullion-desk/pkg/config"
	"github.com/shubham-shewale/bullion-desk/pkg/portfolio"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	var (
		feed      stream.Feed
		snapshots hub.Snapshotter
	)
	switch cfg.Feed.Source {
	case "http":
		feed = stream.NewHTTPFeed(cfg.Feed.BaseURL, cfg.Trading.Token, cfg.Feed.DialTimeout)
	default:
		rf := stream.NewRedisFeed(rdb, cfg.Feed.DialTimeout)
		feed, snapshots = rf, rf
	}

	// Dependency Injection: one registry per process, owned here
	registry := stream.NewRegistry(feed, logger)
	filter := continuity.New(cfg.Continuity.Capacity, cfg.Continuity.Heartbeat, logger)

	api := tradeapi.NewClient(cfg.Trading.BaseURL, cfg.Trading.Token, cfg.Trading.RequestTimeout, logger)
	coord := order.NewCoordinator(api, filter, order.Limits{
		Min: decimal.NewFromFloat(cfg.Trading.MinOrder),
		Max: decimal.NewFromFloat(cfg.Trading.MaxOrder),
	}, logger)

	// Warm the balance snapshot so the first order checks locally.
	warmCtx, warmDone := context.WithTimeout(context.Background(), cfg.Trading.RequestTimeout)
	if _, err := coord.RefreshAccount(warmCtx); err != nil {
		logger.Warn("Initial account load failed", zap.Error(err))
	}
	warmDone()

	validTickers := make(map[string]bool)
	for _, t := range cfg.Gateway.ValidTickers {
		validTickers[t] = true
	}

	wsHub := hub.NewHub(hub.Deps{
		Registry:  registry,
		Filter:    filter,
		Orders:    coord,
		Portfolio: portfolio.NewService(api, 50, cfg.Trading.HistoryLimit),
		Snapshots: snapshots,
	}, hub.Config{
		ValidTickers: validTickers,
		PollInterval: cfg.Trading.PollInterval,
		MaxAttempts:  cfg.Trading.MaxAttempts,
		DialTimeout:  cfg.Feed.DialTimeout,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go filter.Run(ctx)

	srv := &http.Server{Addr: cfg.App.Port, Handler: gateway.NewHandler(wsHub, validTickers, logger)}

	go func() {
		logger.Info("Server Started",
			zap.String("port", cfg.App.Port),
			zap.String("feed", cfg.Feed.Source),
			zap.Strings("symbols", cfg.Gateway.ValidTickers))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	cancel()
	wsHub.Close()
	coord.Close()
	registry.Close()
	logger.Info("Shutdown Complete")
}
