// Package firestore implements the gate store, delivery ledger, order
// repository and order counter on Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"orderpush/internal/types"
)

// Field names shared with the dashboard and earlier deployments.
const (
	fieldLastTimestamp = "lasttimestamp"
	fieldTimestamp     = "timestamp"
	fieldKey           = "key"
	fieldDeliveredAt   = "deliveredAt"
	fieldExpireAt      = "expireAt"
)

// Collections names the collections the store reads and writes.
type Collections struct {
	Gate   string
	Ledger string
	Orders string
}

// Store is a Firestore-backed store.
type Store struct {
	client    *firestore.Client
	cols      Collections
	clock     types.Clock
	ledgerTTL time.Duration
}

// NewClient connects to project/database. An empty database selects the
// default database. FIRESTORE_EMULATOR_HOST is honoured by the client.
func NewClient(ctx context.Context, projectID, databaseID string) (*firestore.Client, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

// New wraps an existing client. ledgerTTL sets the expireAt field written
// with delivery marks; pair it with a Firestore TTL policy on that field.
// clock decides when a mark has expired; nil uses the system clock.
func New(client *firestore.Client, cols Collections, clock types.Clock, ledgerTTL time.Duration) *Store {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Store{client: client, cols: cols, clock: clock, ledgerTTL: ledgerTTL}
}

// LastEmission implements gate.Store.
func (s *Store) LastEmission(ctx context.Context, channel string) (time.Time, bool, error) {
	snap, err := s.client.Collection(s.cols.Gate).Doc(channel).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storeError("read gate record", err)
	}

	raw, err := snap.DataAt(fieldLastTimestamp)
	if err != nil {
		// A record without the field behaves like a missing record.
		return time.Time{}, false, nil
	}
	last, ok := raw.(time.Time)
	if !ok {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

// RecordEmission implements gate.Store. The timestamp is assigned by the
// Firestore server; now is ignored.
func (s *Store) RecordEmission(ctx context.Context, channel string, _ time.Time) error {
	_, err := s.client.Collection(s.cols.Gate).Doc(channel).Set(ctx, map[string]any{
		fieldLastTimestamp: firestore.ServerTimestamp,
	})
	if err != nil {
		return storeError("write gate record", err)
	}
	return nil
}

// ledgerDocID hashes key into a valid document ID. Keys may be resource
// names containing slashes.
func ledgerDocID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Delivered reports whether key has an unexpired delivery mark.
func (s *Store) Delivered(ctx context.Context, key string) (bool, error) {
	snap, err := s.client.Collection(s.cols.Ledger).Doc(ledgerDocID(key)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, storeError("read delivery mark", err)
	}

	// TTL deletion is eventual, so expiry is checked on read as well.
	raw, err := snap.DataAt(fieldExpireAt)
	if err != nil {
		return true, nil
	}
	return !markExpired(raw, s.clock.Now()), nil
}

// markExpired reports whether an expireAt value lies at or before now.
// Marks without a readable expiry never expire.
func markExpired(raw any, now time.Time) bool {
	expireAt, ok := raw.(time.Time)
	return ok && !now.Before(expireAt)
}

// MarkDelivered writes a delivery mark for key.
func (s *Store) MarkDelivered(ctx context.Context, key string, at time.Time) error {
	data := map[string]any{
		fieldKey:         key,
		fieldDeliveredAt: firestore.ServerTimestamp,
	}
	if s.ledgerTTL > 0 {
		data[fieldExpireAt] = at.Add(s.ledgerTTL)
	}
	if _, err := s.client.Collection(s.cols.Ledger).Doc(ledgerDocID(key)).Set(ctx, data); err != nil {
		return storeError("write delivery mark", err)
	}
	return nil
}

// CreateOrder creates the order document. It returns false without error
// when a document with order.ID already exists.
func (s *Store) CreateOrder(ctx context.Context, order *types.Order) (bool, error) {
	wr, err := s.client.Collection(s.cols.Orders).Doc(order.ID).Create(ctx, order)
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, storeError("create order", err)
	}
	order.Timestamp = wr.UpdateTime.UTC()
	return true, nil
}

// CountOrdersSince counts orders with a timestamp at or after since using a
// server-side aggregation.
func (s *Store) CountOrdersSince(ctx context.Context, since time.Time) (int64, error) {
	q := s.client.Collection(s.cols.Orders).
		Where(fieldTimestamp, ">=", since)
	agg := q.NewAggregationQuery().
		WithCount("total")

	res, err := agg.Get(ctx)
	if err != nil {
		return 0, storeError("count orders", err)
	}
	v, ok := res["total"].(*firestorepb.Value)
	if !ok {
		return 0, storeError("count orders", fmt.Errorf("unexpected aggregation result %T", res["total"]))
	}
	return v.GetIntegerValue(), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func storeError(op string, err error) error {
	return types.NewAppError(types.ErrCodeUpstreamStore, "firestore: "+op, err)
}
