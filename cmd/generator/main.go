package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/cmd/generator/internal/generator"
	"github.com/shubham-shewale/bullion-desk/pkg/config"
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

	clock := generator.SystemClock{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creator := generator.NewTopicCreator(logger, generator.Dialer{Dialer: kafka.DefaultDialer}, clock, cfg.Kafka.Partitions)
	if err := creator.Create(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
		logger.Warn("Topic not confirmed, writing anyway", zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{}, // same symbol, same partition
		// Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	gen := generator.NewQuoteGenerator(
		logger,
		writer,
		generator.InstrumentsFor(cfg.Generator.Symbols),
		cfg.Generator.Interval,
		generator.NewRand(time.Now().UnixNano()),
		clock,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		gen.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()
	<-done

	// Flush the async buffer before exit
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
