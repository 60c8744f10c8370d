package events

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"slices"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ publishes events to an exchange, or to a queue through the
// default exchange when Exchange is empty.
type RabbitMQ struct {
	config  Config
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQ(cfg Config) (*RabbitMQ, error) {
	if cfg.Queue == "" && cfg.Exchange == "" {
		return nil, fmt.Errorf("queue or exchange is required for RabbitMQ")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		if cfg.UseTLS {
			cfg.Port = 5671
		} else {
			cfg.Port = 5672
		}
	}
	if cfg.VHost == "" {
		cfg.VHost = "/"
	}
	return &RabbitMQ{config: cfg}, nil
}

// URL is the connection string with credentials escaped.
func (r *RabbitMQ) URL() string {
	scheme := "amqp"
	if r.config.UseTLS {
		scheme = "amqps"
	}
	userinfo := ""
	if r.config.User != "" {
		userinfo = url.UserPassword(r.config.User, r.config.Password).String() + "@"
	}
	return fmt.Sprintf("%s://%s%s:%d/%s", scheme, userinfo, r.config.Host, r.config.Port, url.PathEscape(r.config.VHost))
}

func (r *RabbitMQ) Connect(ctx context.Context) error {
	var err error
	if r.config.UseTLS {
		r.conn, err = amqp.DialTLS(r.URL(), &tls.Config{ServerName: r.config.Host, MinVersion: tls.VersionTLS12})
	} else {
		r.conn, err = amqp.Dial(r.URL())
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	r.channel, err = r.conn.Channel()
	if err != nil {
		r.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if r.config.Exchange == "" {
		_, err = r.channel.QueueDeclare(r.config.Queue, r.config.Durable, false, false, false, nil)
		if err != nil {
			r.Close()
			return fmt.Errorf("failed to declare queue: %w", err)
		}
	}
	return nil
}

func (r *RabbitMQ) Publish(ctx context.Context, m Message) error {
	if r.channel == nil {
		return fmt.Errorf("not connected to RabbitMQ")
	}
	exchange, key := r.route()
	err := r.channel.PublishWithContext(ctx, exchange, key, false, false, amqpPublishing(m))
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (r *RabbitMQ) route() (exchange, key string) {
	if r.config.Exchange == "" {
		return "", r.config.Queue
	}
	key = r.config.RoutingKey
	if key == "" {
		key = r.config.Queue
	}
	return r.config.Exchange, key
}

func (r *RabbitMQ) Close() error {
	var first error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			first = fmt.Errorf("failed to close channel: %w", err)
		}
		r.channel = nil
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil && first == nil {
			first = fmt.Errorf("failed to close connection: %w", err)
		}
		r.conn = nil
	}
	return first
}

func amqpPublishing(m Message) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range m.Headers {
		headers[k] = v
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    m.Key,
		Headers:      headers,
		Body:         m.Body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
