package generator

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

// Instrument describes one simulated symbol. Spot instruments publish a
// single price, quote instruments publish a buy/sell pair Spread apart.
type Instrument struct {
	Symbol string
	Type   string // models.EventTypeSpot or models.EventTypeQuote
	Base   float64
	Step   float64 // largest move per tick
	Spread float64
}

// DefaultInstruments are the desk's two feeds.
var DefaultInstruments = map[string]Instrument{
	"spot":   {Symbol: "spot", Type: models.EventTypeSpot, Base: 2300, Step: 1.5},
	"gold96": {Symbol: "gold96", Type: models.EventTypeQuote, Base: 41000, Step: 50, Spread: 100},
}

// InstrumentsFor resolves configured symbols, unknown ones become spot feeds
// around 100.
func InstrumentsFor(symbols []string) []Instrument {
	out := make([]Instrument, 0, len(symbols))
	for _, s := range symbols {
		if in, ok := DefaultInstruments[s]; ok {
			out = append(out, in)
			continue
		}
		out = append(out, Instrument{Symbol: s, Type: models.EventTypeSpot, Base: 100, Step: 0.5})
	}
	return out
}

type QuoteGenerator struct {
	logger      *zap.Logger
	writer      KafkaWriter
	instruments []Instrument
	interval    time.Duration
	rand        Rand
	clock       Clock
	current     map[string]float64
	seqCounters map[string]int64
}

func NewQuoteGenerator(
	logger *zap.Logger,
	writer KafkaWriter,
	instruments []Instrument,
	interval time.Duration,
	rnd Rand,
	clock Clock,
) *QuoteGenerator {
	current := make(map[string]float64, len(instruments))
	for _, in := range instruments {
		current[in.Symbol] = in.Base
	}
	return &QuoteGenerator{
		logger:      logger,
		writer:      writer,
		instruments: instruments,
		interval:    interval,
		rand:        rnd,
		clock:       clock,
		current:     current,
		seqCounters: make(map[string]int64),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Next advances in's random walk by one step and returns the event.
func (g *QuoteGenerator) Next(in Instrument) models.FeedEvent {
	// Float64 of 0.5 leaves the price where it was.
	move := (g.rand.Float64()*2 - 1) * in.Step
	mid := g.current[in.Symbol] + move
	if mid <= in.Step {
		mid = in.Base
	}
	g.current[in.Symbol] = mid
	g.seqCounters[in.Symbol]++

	ev := models.FeedEvent{
		Symbol: in.Symbol,
		Time:   g.clock.Now().UTC().Format(time.RFC3339Nano),
		Type:   in.Type,
		SeqID:  g.seqCounters[in.Symbol],
	}
	if in.Type == models.EventTypeQuote {
		buy, sell := round2(mid+in.Spread/2), round2(mid-in.Spread/2)
		ev.BuyPrice, ev.SellPrice = &buy, &sell
	} else {
		p := round2(mid)
		ev.Price = &p
	}
	return ev
}

func (g *QuoteGenerator) Run(ctx context.Context) {
	symbols := make([]string, len(g.instruments))
	for i, in := range g.instruments {
		symbols[i] = in.Symbol
	}
	g.logger.Info("Generator Started", zap.Strings("symbols", symbols), zap.Duration("interval", g.interval))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(g.instruments) == 0 {
				g.clock.Sleep(1 * time.Second)
				continue
			}

			in := g.instruments[g.rand.Intn(len(g.instruments))]
			ev := g.Next(in)

			payload, err := json.Marshal(ev)
			if err != nil {
				g.logger.Error("JSON Marshal Error", zap.Error(err))
				continue
			}

			err = g.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(in.Symbol), // Key ensures partition ordering
				Value: payload,
			})
			if err != nil {
				g.logger.Error("Kafka Write Error", zap.Error(err))
			} else {
				g.logger.Debug("Sent event", zap.String("symbol", in.Symbol), zap.Int64("seq_id", ev.SeqID))
			}

			g.clock.Sleep(g.interval)
		}
	}
}
