package stream_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/stream"
)

func TestDecode_TwoSidedQuote(t *testing.T) {
	now := time.Now()
	tick, err := stream.Decode("gold96", []byte(`{"symbol":"gold96","buy_price":"41,050","sell_price":41150,"time":"2024-03-01T10:30:00Z","type":"quote"}`), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick.Buy == nil || !tick.Buy.Equal(decimal.NewFromInt(41050)) {
		t.Errorf("buy = %v", tick.Buy)
	}
	if tick.Sell == nil || !tick.Sell.Equal(decimal.NewFromInt(41150)) {
		t.Errorf("sell = %v", tick.Sell)
	}
	if tick.Spot != nil {
		t.Error("spot should be absent")
	}
	if !tick.ObservedAt.Equal(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("observedAt = %v", tick.ObservedAt)
	}
}

func TestDecode_MissingTimeUsesNow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick, err := stream.Decode("spot", []byte(`{"price":42000}`), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tick.ObservedAt.Equal(now) {
		t.Errorf("expected now, got %v", tick.ObservedAt)
	}
}

func TestDecode_Malformed(t *testing.T) {
	payloads := []string{
		`not json`,
		`{"symbol":"spot","time":"2024-03-01T10:30:00Z"}`,
		`{"symbol":"spot","price":"abc"}`,
		`{"symbol":"gold96","price":1}`,
	}
	for _, p := range payloads {
		_, err := stream.Decode("spot", []byte(p), time.Now())
		var mf *stream.MalformedFeedData
		if !errors.As(err, &mf) {
			t.Errorf("Decode(%s): expected MalformedFeedData, got %v", p, err)
		}
	}
}
