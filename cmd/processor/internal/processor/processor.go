package processor

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/pkg/config"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

const defaultSnapshotTTL = time.Hour

type Processor struct {
	logger     Logger
	rdb        RedisClient
	reader     KafkaReader
	numWorkers int
	ttl        time.Duration
	now        func() time.Time
}

func NewProcessor(cfg *config.Config, logger Logger, rdb RedisClient, reader KafkaReader) *Processor {
	workers := cfg.Processor.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	ttl := cfg.Processor.SnapshotTTL
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &Processor{
		logger:     logger,
		rdb:        rdb,
		reader:     reader,
		numWorkers: workers,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Run shards messages by key onto workers until ctx is done, then drains them.
func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Same symbol always lands on the same worker
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				// Latest beats complete for prices.
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")
	<-readerDone

	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	// Not the run ctx, a shutdown must not cut a pipeline in half.
	ctx := context.Background()

	// Only valid because sharding is deterministic
	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var ev models.FeedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}
		if reason := invalid(ev); reason != "" {
			p.logger.Warn("Dropping event", zap.String("reason", reason), zap.ByteString("raw", payload))
			continue
		}

		// Unsequenced events are never treated as duplicates.
		if ev.SeqID > 0 && ev.SeqID <= lastSeq[ev.Symbol] {
			p.logger.Debug("Skipping duplicate event",
				zap.String("symbol", ev.Symbol),
				zap.Int64("seq_id", ev.SeqID),
				zap.Int64("last_seq", lastSeq[ev.Symbol]))
			continue
		}

		if ev.Time == "" {
			ev.Time = p.now().UTC().Format(time.RFC3339Nano)
			stamped, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("JSON Marshal Error", zap.Error(err))
				continue
			}
			payload = stamped
		}

		// SET + PUBLISH in one round trip
		pipe := p.rdb.Pipeline()
		pipe.Set(ctx, models.SnapshotKey(ev.Symbol), payload, p.ttl)
		pipe.Publish(ctx, models.PriceChannel(ev.Symbol), payload)

		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", ev.Symbol))
			continue
		}
		p.logger.Debug("Processed", zap.String("symbol", ev.Symbol), zap.Int("worker_id", id), zap.Int64("seq_id", ev.SeqID))
		if ev.SeqID > 0 {
			lastSeq[ev.Symbol] = ev.SeqID
		}
	}
}

func invalid(ev models.FeedEvent) string {
	if ev.Symbol == "" {
		return "missing symbol"
	}
	if ev.Price == nil && ev.BuyPrice == nil && ev.SellPrice == nil {
		return "no price"
	}
	return ""
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
