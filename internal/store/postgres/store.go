// Package postgres implements the gate store, delivery ledger, order
// repository and order counter on PostgreSQL. The Store accepts a DBTX
// interface that is satisfied by both *pgxpool.Pool and pgx.Tx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderpush/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables the store uses. It is idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed store.
type Store struct {
	db        DBTX
	ledgerTTL time.Duration
}

// New creates a Store. A zero ledgerTTL keeps delivery marks forever.
func New(db DBTX, ledgerTTL time.Duration) *Store {
	return &Store{db: db, ledgerTTL: ledgerTTL}
}

// LastEmission implements gate.Store.
func (s *Store) LastEmission(ctx context.Context, channel string) (time.Time, bool, error) {
	var last time.Time
	err := s.db.QueryRow(ctx,
		`SELECT last_emitted_at FROM push_gate WHERE channel = $1`,
		channel,
	).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, types.NewAppError(types.ErrCodeUpstreamStore, "failed to read gate record", err)
	}
	return last.UTC(), true, nil
}

// RecordEmission implements gate.Store using the database clock.
func (s *Store) RecordEmission(ctx context.Context, channel string, _ time.Time) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO push_gate (channel, last_emitted_at) VALUES ($1, NOW())
		 ON CONFLICT (channel) DO UPDATE SET last_emitted_at = EXCLUDED.last_emitted_at`,
		channel,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStore, "failed to write gate record", err)
	}
	return nil
}

// Delivered reports whether key has an unexpired delivery mark.
func (s *Store) Delivered(ctx context.Context, key string) (bool, error) {
	var delivered bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM push_deliveries
			WHERE key = $1 AND (expire_at IS NULL OR expire_at > NOW())
		 )`,
		key,
	).Scan(&delivered)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeUpstreamStore, "failed to read delivery mark", err)
	}
	return delivered, nil
}

// MarkDelivered writes or refreshes the delivery mark for key.
func (s *Store) MarkDelivered(ctx context.Context, key string, at time.Time) error {
	var expireAt *time.Time
	if s.ledgerTTL > 0 {
		t := at.Add(s.ledgerTTL)
		expireAt = &t
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO push_deliveries (key, expire_at) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET delivered_at = NOW(), expire_at = EXCLUDED.expire_at`,
		key,
		expireAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStore, "failed to write delivery mark", err)
	}
	return nil
}

// CreateOrder inserts the order unless its ID exists, in which case it
// returns false without error.
func (s *Store) CreateOrder(ctx context.Context, order *types.Order) (bool, error) {
	var createdAt time.Time
	err := s.db.QueryRow(ctx,
		`INSERT INTO orders (id, order_id, date_order, total_order, payment_type, delivery_type)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING created_at`,
		order.ID,
		nilIfEmpty(order.OrderID),
		order.DateOrder,
		order.TotalOrder,
		order.PaymentType,
		order.DeliveryType,
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, types.NewAppError(types.ErrCodeUpstreamStore, "failed to create order", err)
	}
	order.Timestamp = createdAt.UTC()
	return true, nil
}

// CountOrdersSince counts orders created at or after since.
func (s *Store) CountOrdersSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE created_at >= $1`,
		since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamStore, "failed to count orders", err)
	}
	return count, nil
}

// nilIfEmpty maps an empty string to SQL NULL.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
