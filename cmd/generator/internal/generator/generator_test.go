package generator_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/cmd/generator/internal/generator"
	"github.com/shubham-shewale/bullion-desk/cmd/generator/internal/testutils"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

func TestGenerator_Logic(t *testing.T) {
	logger := zap.NewNop()
	mockWriter := &testutils.MockKafkaWriter{}

	// Index 0 is spot, 0.5 is a zero move.
	mockRand := &testutils.MockRand{ValInt: 0, ValFloat: 0.5}
	mockClock := &testutils.MockClock{CurrentTime: time.Unix(0, 0), Pause: time.Millisecond}

	gen := generator.NewQuoteGenerator(logger, mockWriter,
		generator.InstrumentsFor([]string{"spot", "gold96"}), 100*time.Millisecond, mockRand, mockClock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	gen.Run(ctx)

	mockWriter.Mu.Lock()
	defer mockWriter.Mu.Unlock()

	if len(mockWriter.Messages) == 0 {
		t.Fatal("Expected messages to be generated")
	}

	var ev models.FeedEvent
	if err := json.Unmarshal(mockWriter.Messages[0].Value, &ev); err != nil {
		t.Fatalf("Generated invalid JSON: %v", err)
	}

	if ev.Symbol != "spot" || string(mockWriter.Messages[0].Key) != "spot" {
		t.Errorf("Expected spot, got %s", ev.Symbol)
	}
	if ev.SeqID != 1 {
		t.Errorf("Expected SeqID 1, got %d", ev.SeqID)
	}
	if ev.Type != models.EventTypeSpot || ev.Price == nil || *ev.Price != 2300 {
		t.Errorf("Expected spot price 2300, got %+v", ev)
	}
	if ev.Time != "1970-01-01T00:00:00Z" {
		t.Errorf("Expected epoch timestamp, got %s", ev.Time)
	}
	if len(mockWriter.Messages) > 1 {
		var second models.FeedEvent
		json.Unmarshal(mockWriter.Messages[1].Value, &second)
		if second.SeqID != 2 {
			t.Errorf("Expected SeqID 2 on the second event, got %d", second.SeqID)
		}
	}
}

func TestNext_QuoteSpread(t *testing.T) {
	gen := generator.NewQuoteGenerator(zap.NewNop(), &testutils.MockKafkaWriter{},
		nil, time.Second, &testutils.MockRand{ValFloat: 1}, &testutils.MockClock{})

	in := generator.DefaultInstruments["gold96"]
	ev := gen.Next(in)

	if ev.Type != models.EventTypeQuote || ev.Price != nil {
		t.Fatalf("Expected a quote event, got %+v", ev)
	}
	// Float64 of 1 is a full step up.
	if *ev.BuyPrice != 41100 || *ev.SellPrice != 41000 {
		t.Errorf("Expected 41100/41000, got %v/%v", *ev.BuyPrice, *ev.SellPrice)
	}
}

func TestNext_ResetsNearZero(t *testing.T) {
	in := generator.Instrument{Symbol: "tiny", Type: models.EventTypeSpot, Base: 2, Step: 1}
	gen := generator.NewQuoteGenerator(zap.NewNop(), &testutils.MockKafkaWriter{},
		nil, time.Second, &testutils.MockRand{ValFloat: 0}, &testutils.MockClock{})

	// Each call moves a full step down, 2 -> 1 hits the floor and resets.
	ev := gen.Next(in)
	if *ev.Price != 2 {
		t.Errorf("Expected reset to base 2, got %v", *ev.Price)
	}
}

func TestInstrumentsFor_UnknownSymbol(t *testing.T) {
	ins := generator.InstrumentsFor([]string{"gold96", "silver"})
	if len(ins) != 2 {
		t.Fatalf("Expected 2 instruments, got %d", len(ins))
	}
	if ins[0].Type != models.EventTypeQuote {
		t.Errorf("Expected gold96 to be a quote feed")
	}
	if ins[1].Symbol != "silver" || ins[1].Type != models.EventTypeSpot || ins[1].Base != 100 {
		t.Errorf("Unexpected fallback instrument %+v", ins[1])
	}
}

func TestGenerator_WriteFailureKeepsRunning(t *testing.T) {
	mockWriter := &testutils.MockKafkaWriter{ShouldFail: true}
	mockClock := &testutils.MockClock{Pause: time.Millisecond}
	gen := generator.NewQuoteGenerator(zap.NewNop(), mockWriter,
		generator.InstrumentsFor([]string{"spot"}), time.Second, &testutils.MockRand{ValFloat: 0.5}, mockClock)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	gen.Run(ctx)

	if mockClock.Sleeps < 2 {
		t.Errorf("Expected the loop to keep going after write errors, slept %d times", mockClock.Sleeps)
	}
}

func TestTopicCreator_Flow(t *testing.T) {
	logger := zap.NewNop()
	mockDialer := &testutils.MockKafkaDialer{} // Will auto-create ConnSpy
	mockClock := &testutils.MockClock{}

	tc := generator.NewTopicCreator(logger, mockDialer, mockClock, 6)

	if err := tc.Create(context.Background(), []string{"broker:9092"}, "my-topic"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if mockDialer.ConnSpy == nil {
		t.Fatal("Dialer was never called")
	}
	if len(mockDialer.ConnSpy.CreatedTopics) == 0 {
		t.Fatal("No topics created")
	}
	if mockDialer.ConnSpy.CreatedTopics[0] != "my-topic" {
		t.Errorf("Expected topic 'my-topic', got %s", mockDialer.ConnSpy.CreatedTopics[0])
	}
	if mockDialer.ConnSpy.Partitions[0] != 6 {
		t.Errorf("Expected 6 partitions, got %d", mockDialer.ConnSpy.Partitions[0])
	}
	if mockDialer.Dialed[1] != "localhost:9092" {
		t.Errorf("Expected controller dial, got %v", mockDialer.Dialed)
	}
}

func TestTopicCreator_NotReady(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{ConnSpy: &testutils.MockKafkaConn{NotReady: true}}
	mockClock := &testutils.MockClock{}

	tc := generator.NewTopicCreator(zap.NewNop(), mockDialer, mockClock, 0)

	err := tc.Create(context.Background(), []string{"broker:9092"}, "slow")
	if !errors.Is(err, generator.ErrTopicNotReady) {
		t.Fatalf("Expected ErrTopicNotReady, got %v", err)
	}
	if mockClock.Sleeps != 5 {
		t.Errorf("Expected 5 readiness retries, got %d", mockClock.Sleeps)
	}
	if mockDialer.ConnSpy.Partitions[0] != 4 {
		t.Errorf("Expected default of 4 partitions, got %d", mockDialer.ConnSpy.Partitions[0])
	}
}

func TestTopicCreator_DialFailure(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{Err: errors.New("connection refused")}
	tc := generator.NewTopicCreator(zap.NewNop(), mockDialer, &testutils.MockClock{}, 1)

	if err := tc.Create(context.Background(), []string{"a:9092", "b:9092"}, "t"); err == nil {
		t.Fatal("Expected an error when no broker is reachable")
	}
	if len(mockDialer.Dialed) != 2 {
		t.Errorf("Expected every broker to be tried, got %v", mockDialer.Dialed)
	}
}
