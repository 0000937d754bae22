package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrTopicNotReady = errors.New("topic has no partitions yet")

type TopicCreator struct {
	logger     *zap.Logger
	dialer     KafkaDialer
	clock      Clock
	partitions int
	retries    int
}

func NewTopicCreator(logger *zap.Logger, dialer KafkaDialer, clock Clock, partitions int) *TopicCreator {
	if partitions <= 0 {
		partitions = 4
	}
	return &TopicCreator{
		logger:     logger,
		dialer:     dialer,
		clock:      clock,
		partitions: partitions,
		retries:    5,
	}
}

// Create provisions topic through the cluster controller and waits until its
// partitions are visible. An already existing topic is not an error.
func (tc *TopicCreator) Create(ctx context.Context, brokers []string, topic string) error {
	var conn KafkaConn
	err := errors.New("no brokers configured")
	for _, addr := range brokers {
		conn, err = tc.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("dial brokers: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := tc.dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", controllerAddr, err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     tc.partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		tc.logger.Info("Topic creation finished (might already exist)", zap.String("topic", topic), zap.Error(err))
	} else {
		tc.logger.Info("Topic creation request sent", zap.String("topic", topic), zap.Int("partitions", tc.partitions))
	}

	return tc.waitForTopic(conn, topic)
}

func (tc *TopicCreator) waitForTopic(conn KafkaConn, topic string) error {
	for i := 0; i < tc.retries; i++ {
		partitions, err := conn.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			tc.logger.Info("Topic is ready", zap.String("topic", topic), zap.Int("partitions", len(partitions)))
			return nil
		}
		tc.clock.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", topic, ErrTopicNotReady)
}
