// Package redis implements the gate store and the delivery ledger on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"orderpush/internal/types"
)

const (
	gateKeyPrefix   = "push:gate:"
	ledgerKeyPrefix = "push:delivered:"
)

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string // optional
	DB       int    // optional
}

// NewClient connects and pings the server.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Store is a Redis-backed gate store and delivery ledger.
type Store struct {
	client    *redis.Client
	ledgerTTL time.Duration
}

// New wraps client. A zero ledgerTTL keeps delivery marks forever.
func New(client *redis.Client, ledgerTTL time.Duration) *Store {
	return &Store{client: client, ledgerTTL: ledgerTTL}
}

// LastEmission implements gate.Store.
func (s *Store) LastEmission(ctx context.Context, channel string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, gateKeyPrefix+channel).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, types.NewAppError(types.ErrCodeUpstreamStore, "redis: read gate record", err)
	}

	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Unreadable record: treat as never emitted so the next push repairs it.
		return time.Time{}, false, nil
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// RecordEmission implements gate.Store. The time comes from the Redis
// server clock; now is ignored.
func (s *Store) RecordEmission(ctx context.Context, channel string, _ time.Time) error {
	serverNow, err := s.client.Time(ctx).Result()
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStore, "redis: read server time", err)
	}
	if err := s.client.Set(ctx, gateKeyPrefix+channel, strconv.FormatInt(serverNow.UnixNano(), 10), 0).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStore, "redis: write gate record", err)
	}
	return nil
}

// Delivered reports whether key has a live delivery mark.
func (s *Store) Delivered(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, ledgerKeyPrefix+key).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeUpstreamStore, "redis: read delivery mark", err)
	}
	return n > 0, nil
}

// MarkDelivered writes the delivery mark for key; Redis expires it after
// the ledger TTL.
func (s *Store) MarkDelivered(ctx context.Context, key string, at time.Time) error {
	err := s.client.Set(ctx, ledgerKeyPrefix+key, at.UTC().Format(time.RFC3339Nano), s.ledgerTTL).Err()
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStore, "redis: write delivery mark", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
