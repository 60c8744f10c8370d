// Package events announces finished transfers on a message broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ruslano69/whbridge/pkg/retry"
	"github.com/ruslano69/whbridge/pkg/transfer"
)

// Config selects and configures the broker.
type Config struct {
	Type string `yaml:"type"` // none, kafka, rabbitmq

	// RabbitMQ
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	VHost      string `yaml:"vhost"`
	Queue      string `yaml:"queue"`
	UseTLS     bool   `yaml:"use_tls"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	Durable    bool   `yaml:"durable"`

	// Kafka
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Message is one broker-neutral event.
type Message struct {
	Key     string
	Body    []byte
	Headers map[string]string
}

// Publisher delivers messages to a broker.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, m Message) error
	Close() error
}

// New returns the publisher for cfg.Type, or nil for "none" or "".
func New(cfg Config) (Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "kafka":
		return NewKafka(cfg)
	case "rabbitmq":
		return NewRabbitMQ(cfg)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}

// BuildMessage renders a snapshot as an event keyed by transfer id.
func BuildMessage(s transfer.Snapshot) (Message, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	headers := map[string]string{
		"direction": string(s.Direction),
		"state":     string(s.State),
		"table":     s.Table,
	}
	if s.Result != nil && s.Result.Error != nil {
		headers["error_kind"] = s.Result.Error.Kind.String()
	}
	return Message{Key: s.ID, Body: body, Headers: headers}, nil
}

// Notifier is a transfer.Observer that publishes terminal snapshots only.
// It connects on first use and reconnects after a failed publish. A broker
// that keeps failing trips a circuit breaker and events are dropped until
// it recovers.
type Notifier struct {
	pub     Publisher
	log     zerolog.Logger
	breaker *retry.Breaker

	mu        sync.Mutex
	connected bool
}

var _ transfer.Observer = (*Notifier)(nil)

func NewNotifier(pub Publisher, log zerolog.Logger) *Notifier {
	cfg := retry.DefaultBreaker()
	cfg.OnStateChange = func(from, to retry.BreakerState) {
		log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("event broker circuit changed")
	}
	b, _ := retry.NewBreaker(cfg)
	return &Notifier{pub: pub, log: log, breaker: b}
}

func (n *Notifier) TransferChanged(ctx context.Context, s transfer.Snapshot) {
	if !s.State.Terminal() {
		return
	}
	msg, err := BuildMessage(s)
	if err != nil {
		n.log.Warn().Err(err).Str("transfer", s.ID).Msg("event not built")
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.breaker.Execute(ctx, func(ctx context.Context) error {
		if !n.connected {
			if err := n.pub.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			n.connected = true
		}
		if err := n.pub.Publish(ctx, msg); err != nil {
			n.connected = false
			_ = n.pub.Close()
			return fmt.Errorf("publish: %w", err)
		}
		return nil
	})
	switch {
	case errors.Is(err, retry.ErrCircuitOpen):
		n.log.Debug().Str("transfer", s.ID).Msg("event dropped, broker circuit open")
	case err != nil:
		n.log.Warn().Err(err).Str("transfer", s.ID).Msg("event not delivered")
	default:
		n.log.Debug().Str("transfer", s.ID).Str("state", string(s.State)).Msg("transfer event published")
	}
}

func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = false
	return n.pub.Close()
}
