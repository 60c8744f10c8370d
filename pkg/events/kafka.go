package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes events to one topic.
type Kafka struct {
	config Config
	writer *kafka.Writer
}

func NewKafka(cfg Config) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required for Kafka")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required for Kafka")
	}
	return &Kafka{config: cfg}, nil
}

// Connect prepares the writer. kafka-go dials lazily on the first write.
func (k *Kafka) Connect(ctx context.Context) error {
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(k.config.Brokers...),
		Topic:        k.config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
	return nil
}

func (k *Kafka) Publish(ctx context.Context, m Message) error {
	if k.writer == nil {
		return fmt.Errorf("kafka writer not initialized")
	}
	if err := k.writer.WriteMessages(ctx, kafkaMessage(m)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	if err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

func kafkaMessage(m Message) kafka.Message {
	msg := kafka.Message{Key: []byte(m.Key), Value: m.Body, Time: time.Now()}
	for _, k := range sortedKeys(m.Headers) {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(m.Headers[k])})
	}
	return msg
}
