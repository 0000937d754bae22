package processor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/cmd/processor/internal/processor"
	"github.com/shubham-shewale/bullion-desk/cmd/processor/internal/testutils"
	"github.com/shubham-shewale/bullion-desk/pkg/config"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

func f(v float64) *float64 { return &v }

func messages(t *testing.T, events ...models.FeedEvent) []kafka.Message {
	t.Helper()
	var msgs []kafka.Message
	for _, ev := range events {
		val, err := json.Marshal(ev)
		if err != nil {
			t.Fatal(err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(ev.Symbol), Value: val})
	}
	return msgs
}

func run(t *testing.T, cfg *config.Config, msgs []kafka.Message) *testutils.MockPipeline {
	t.Helper()
	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockRedis := testutils.NewMockRedisClient()

	proc := processor.NewProcessor(cfg, zap.NewNop(), mockRedis, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := proc.Run(ctx); err != nil {
		t.Logf("Processor stopped: %v", err)
	}
	return mockRedis.PipelineSpy
}

func TestProcessor_WorkerLogic(t *testing.T) {
	const ts = "2026-01-02T03:04:05Z"
	msgs := messages(t,
		models.FeedEvent{Symbol: "spot", Price: f(2300), Time: ts, Type: models.EventTypeSpot, SeqID: 1},
		models.FeedEvent{Symbol: "spot", Price: f(2300), Time: ts, Type: models.EventTypeSpot, SeqID: 1},
		models.FeedEvent{Symbol: "spot", Price: f(2301), Time: ts, Type: models.EventTypeSpot, SeqID: 2},
		models.FeedEvent{Symbol: "gold96", BuyPrice: f(41050), SellPrice: f(40950), Time: ts, Type: models.EventTypeQuote, SeqID: 1},
	)

	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 2

	pipeline := run(t, cfg, msgs)
	pipeline.Mu.Lock()
	defer pipeline.Mu.Unlock()

	if pipeline.ExecCount != 3 {
		t.Errorf("Expected 3 pipeline executions, got %d", pipeline.ExecCount)
	}

	seen := make(map[string]bool)
	for _, cmd := range pipeline.RecordedCmds {
		seen[cmd] = true
	}
	for _, want := range []string{"SET price:spot", "PUBLISH prices.spot", "SET price:gold96", "PUBLISH prices.gold96"} {
		if !seen[want] {
			t.Errorf("Missing Redis command %q", want)
		}
	}

	if ttl := pipeline.TTLs["price:spot"]; ttl != time.Hour {
		t.Errorf("Expected default TTL 1h, got %v", ttl)
	}
	if got := pipeline.Values["price:spot"]; got != string(msgs[2].Value) {
		t.Errorf("Expected latest spot event stored verbatim, got %s", got)
	}
}

func TestProcessor_UnsequencedEventsAreNotDeduplicated(t *testing.T) {
	const ts = "2026-01-02T03:04:05Z"
	msgs := messages(t,
		models.FeedEvent{Symbol: "spot", Price: f(1), Time: ts},
		models.FeedEvent{Symbol: "spot", Price: f(2), Time: ts},
	)

	cfg := &config.Config{Processor: config.ProcessorConfig{NumWorkers: 1, SnapshotTTL: time.Minute}}
	pipeline := run(t, cfg, msgs)

	if pipeline.ExecCount != 2 {
		t.Errorf("Expected both unsequenced events written, got %d", pipeline.ExecCount)
	}
	if pipeline.TTLs["price:spot"] != time.Minute {
		t.Errorf("Expected configured TTL, got %v", pipeline.TTLs["price:spot"])
	}
}

func TestProcessor_StampsMissingTime(t *testing.T) {
	msgs := messages(t, models.FeedEvent{Symbol: "spot", Price: f(2300), SeqID: 1})

	pipeline := run(t, &config.Config{Processor: config.ProcessorConfig{NumWorkers: 1}}, msgs)

	var stored models.FeedEvent
	if err := json.Unmarshal([]byte(pipeline.Values["price:spot"]), &stored); err != nil {
		t.Fatalf("Stored value is not an event: %v", err)
	}
	if _, err := time.Parse(time.RFC3339Nano, stored.Time); err != nil {
		t.Errorf("Expected an RFC3339 timestamp, got %q", stored.Time)
	}
}

func TestProcessor_DropsInvalidEvents(t *testing.T) {
	msgs := []kafka.Message{
		{Key: []byte("spot"), Value: []byte("{broken-json")},
		{Key: []byte("spot"), Value: []byte(`{"symbol":"spot","type":"spot"}`)},
		{Key: []byte(""), Value: []byte(`{"price":2300}`)},
	}

	pipeline := run(t, &config.Config{Processor: config.ProcessorConfig{NumWorkers: 1}}, msgs)

	if pipeline.ExecCount > 0 {
		t.Error("Should not execute Redis commands for invalid events")
	}
}

func TestProcessor_FailedWriteIsRetriedBySameSeq(t *testing.T) {
	msgs := messages(t, models.FeedEvent{Symbol: "spot", Price: f(2300), Time: "x", SeqID: 7})
	msgs = append(msgs, msgs[0])

	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockRedis := testutils.NewMockRedisClient()
	mockRedis.PipelineSpy.FailExec = true

	proc := processor.NewProcessor(&config.Config{Processor: config.ProcessorConfig{NumWorkers: 1}}, zap.NewNop(), mockRedis, mockReader)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	proc.Run(ctx)

	// A failed pipeline does not advance the sequence, so the redelivery is attempted.
	if mockRedis.PipelineSpy.ExecCount != 2 {
		t.Errorf("Expected 2 attempts, got %d", mockRedis.PipelineSpy.ExecCount)
	}
}
