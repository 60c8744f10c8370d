// Package resultlog mirrors transfer state into Redis so other processes
// can poll it or subscribe to it.
//
// Keys:
//
//	SET      <name>:transfer:<id>:state  <JSON>  EX <ttl>   latest snapshot
//	PUBLISH  <name>:transfers            <JSON>             every change
package resultlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ruslano69/whbridge/pkg/transfer"
)

// Config of the Redis result log.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Name     string        `yaml:"name"`
	TTL      time.Duration `yaml:"ttl"`
}

// RedisPublisher implements transfer.Observer.
type RedisPublisher struct {
	client *redis.Client
	cfg    Config
	log    zerolog.Logger
}

var _ transfer.Observer = (*RedisPublisher)(nil)

// NewRedisPublisher creates the client; it does not dial until first use.
func NewRedisPublisher(cfg Config, log zerolog.Logger) *RedisPublisher {
	if cfg.Name == "" {
		cfg.Name = "whbridge"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPublisher{client: client, cfg: cfg, log: log}
}

// StateKey is the key holding the latest snapshot of transfer id.
func (p *RedisPublisher) StateKey(id string) string {
	return fmt.Sprintf("%s:transfer:%s:state", p.cfg.Name, id)
}

// Channel is the pub/sub channel every snapshot is published on.
func (p *RedisPublisher) Channel() string {
	return p.cfg.Name + ":transfers"
}

// Publish stores s and announces it.
func (p *RedisPublisher) Publish(ctx context.Context, s transfer.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := p.client.Set(ctx, p.StateKey(s.ID), payload, p.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(), payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH failed: %w", err)
	}
	return nil
}

// TransferChanged publishes and logs failures; it never affects the transfer.
func (p *RedisPublisher) TransferChanged(ctx context.Context, s transfer.Snapshot) {
	if err := p.Publish(ctx, s); err != nil {
		p.log.Warn().Err(err).Str("transfer", s.ID).Msg("result log publish failed")
	}
}

// ErrUnknown means no snapshot is stored for the id.
var ErrUnknown = errors.New("transfer not in result log")

// Lookup reads the latest stored snapshot of transfer id.
func (p *RedisPublisher) Lookup(ctx context.Context, id string) (transfer.Snapshot, error) {
	payload, err := p.client.Get(ctx, p.StateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return transfer.Snapshot{}, ErrUnknown
	}
	if err != nil {
		return transfer.Snapshot{}, fmt.Errorf("redis GET failed: %w", err)
	}
	var s transfer.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return transfer.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return s, nil
}

// Ping checks the Redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
