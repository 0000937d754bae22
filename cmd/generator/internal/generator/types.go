package generator

import (
	"context"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"
)

// Clock lets tests run the loop without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Rand drives symbol choice and price moves.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaDialer interface {
	DialContext(ctx context.Context, network, address string) (KafkaConn, error)
}

// KafkaConn is the admin subset of *kafka.Conn used to provision the topic.
type KafkaConn interface {
	Controller() (kafka.Broker, error)
	Close() error
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
}

type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// NewRand seeds a math/rand source; pass time.Now().UnixNano() outside tests.
func NewRand(seed int64) Rand { return rand.New(rand.NewSource(seed)) }

type kafkaConn struct{ *kafka.Conn }

// Dialer adapts *kafka.Dialer to KafkaDialer.
type Dialer struct{ *kafka.Dialer }

func (d Dialer) DialContext(ctx context.Context, network, address string) (KafkaConn, error) {
	conn, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return kafkaConn{Conn: conn}, nil
}
