// Package gate implements the notification gate: a per-channel time window
// that suppresses a push when another one was emitted too recently.
//
// The gate is a best-effort rate limiter. MayEmit and RecordEmission are two
// separate store round-trips, so concurrent invocations can both observe an
// open window before either records. Duplicate deliveries of the same event
// are handled by the delivery ledger, not by the gate.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderpush/internal/types"
)

// Store persists the last emission time per channel.
type Store interface {
	// LastEmission returns the recorded emission time for channel, or
	// found=false when the channel has never emitted.
	LastEmission(ctx context.Context, channel string) (last time.Time, found bool, err error)

	// RecordEmission overwrites the channel's emission time. Stores with a
	// server clock record their own time and use now only as a fallback.
	RecordEmission(ctx context.Context, channel string, now time.Time) error
}

// MayEmit reports whether channel may emit at now given window.
func MayEmit(ctx context.Context, store Store, channel string, window time.Duration, now time.Time) (bool, error) {
	d, err := decide(ctx, store, channel, window, now)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// RecordEmission stores now as the channel's last emission.
func RecordEmission(ctx context.Context, store Store, channel string, now time.Time) error {
	if err := store.RecordEmission(ctx, channel, now); err != nil {
		return storeError("record emission", channel, err)
	}
	return nil
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed       bool
	LastEmittedAt time.Time
	// RetryAfter is how long until the window reopens; zero when allowed.
	RetryAfter time.Duration
}

// Gate binds a store, a window and a clock.
type Gate struct {
	store  Store
	window time.Duration
	clock  types.Clock
}

// New creates a Gate. A nil clock uses the real UTC clock.
func New(store Store, window time.Duration, clock types.Clock) *Gate {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Gate{store: store, window: window, clock: clock}
}

// Window returns the configured suppression window.
func (g *Gate) Window() time.Duration {
	return g.window
}

// Check decides whether channel may emit now.
func (g *Gate) Check(ctx context.Context, channel string) (Decision, error) {
	return decide(ctx, g.store, channel, g.window, g.clock.Now())
}

// Record marks an emission on channel. Call it only after the notification
// was delivered.
func (g *Gate) Record(ctx context.Context, channel string) error {
	return RecordEmission(ctx, g.store, channel, g.clock.Now())
}

func decide(ctx context.Context, store Store, channel string, window time.Duration, now time.Time) (Decision, error) {
	last, found, err := store.LastEmission(ctx, channel)
	if err != nil {
		return Decision{}, storeError("read last emission", channel, err)
	}
	if !found {
		return Decision{Allowed: true}, nil
	}

	elapsed := now.Sub(last)
	if elapsed >= window {
		return Decision{Allowed: true, LastEmittedAt: last}, nil
	}
	return Decision{LastEmittedAt: last, RetryAfter: window - elapsed}, nil
}

// storeError keeps an existing classification and adds one otherwise.
func storeError(op, channel string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return fmt.Errorf("gate: %s for channel %q: %w", op, channel, err)
	}
	return types.NewAppError(types.ErrCodeUpstreamStore, fmt.Sprintf("gate: %s for channel %q", op, channel), err)
}
