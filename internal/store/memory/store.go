// Package memory provides in-process implementations of every store the
// functions use. It backs local mode and tests; state does not survive the
// process.
package memory

import (
	"context"
	"sync"
	"time"

	"orderpush/internal/types"
)

// Store implements the gate store, the delivery ledger, the order
// repository and the order counter.
type Store struct {
	mu        sync.Mutex
	clock     types.Clock
	ledgerTTL time.Duration

	emissions map[string]time.Time
	delivered map[string]time.Time
	orders    map[string]types.Order
}

// New creates an empty Store. A nil clock uses the real UTC clock; a zero
// ledgerTTL keeps delivery marks forever.
func New(clock types.Clock, ledgerTTL time.Duration) *Store {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Store{
		clock:     clock,
		ledgerTTL: ledgerTTL,
		emissions: make(map[string]time.Time),
		delivered: make(map[string]time.Time),
		orders:    make(map[string]types.Order),
	}
}

// LastEmission implements gate.Store.
func (s *Store) LastEmission(_ context.Context, channel string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.emissions[channel]
	return last, ok, nil
}

// RecordEmission implements gate.Store.
func (s *Store) RecordEmission(_ context.Context, channel string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emissions[channel] = now
	return nil
}

// Delivered reports whether key was marked within the ledger TTL.
func (s *Store) Delivered(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.delivered[key]
	if !ok {
		return false, nil
	}
	if s.ledgerTTL > 0 && s.clock.Now().Sub(at) >= s.ledgerTTL {
		delete(s.delivered, key)
		return false, nil
	}
	return true, nil
}

// MarkDelivered records key as delivered.
func (s *Store) MarkDelivered(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[key] = at
	return nil
}

// CreateOrder stores order under order.ID unless that ID exists. The
// timestamp is assigned from the store clock, like a server timestamp.
func (s *Store) CreateOrder(_ context.Context, order *types.Order) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return false, nil
	}
	order.Timestamp = s.clock.Now()
	s.orders[order.ID] = *order
	return true, nil
}

// GetOrder returns a stored order.
func (s *Store) GetOrder(_ context.Context, id string) (types.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// CountOrdersSince counts orders whose timestamp is at or after since.
func (s *Store) CountOrdersSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.orders {
		if !o.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
