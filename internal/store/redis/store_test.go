package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpush/internal/types"
)

func newTestStore(t *testing.T, ledgerTTL time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	s := New(client, ledgerTTL)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), Config{Addr: addr})
	assert.ErrorContains(t, err, "failed to ping redis")
}

func TestStore_GateUsesServerTime(t *testing.T) {
	s, mr := newTestStore(t, 0)
	ctx := context.Background()
	serverNow := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	mr.SetTime(serverNow)

	_, found, err := s.LastEmission(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, found)

	// The caller's clock is skewed by a day; the server time wins.
	require.NoError(t, s.RecordEmission(ctx, "orders", serverNow.Add(24*time.Hour)))

	last, found, err := s.LastEmission(ctx, "orders")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, serverNow, last)

	assert.False(t, mr.Exists(gateKeyPrefix+"daily"))
	assert.Equal(t, time.Duration(0), mr.TTL(gateKeyPrefix+"orders"), "gate records never expire")
}

func TestStore_LastEmission_CorruptRecord(t *testing.T) {
	s, mr := newTestStore(t, 0)
	require.NoError(t, mr.Set(gateKeyPrefix+"orders", "not-a-number"))

	_, found, err := s.LastEmission(context.Background(), "orders")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_Ledger(t *testing.T) {
	s, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	delivered, err := s.Delivered(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, delivered)

	require.NoError(t, s.MarkDelivered(ctx, "evt-1", time.Now()))
	delivered, err = s.Delivered(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, time.Hour, mr.TTL(ledgerKeyPrefix+"evt-1"))

	mr.FastForward(time.Hour + time.Second)
	delivered, err = s.Delivered(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestStore_ServerFailure(t *testing.T) {
	s, mr := newTestStore(t, time.Hour)
	mr.SetError("LOADING server is loading")

	_, err := s.Delivered(context.Background(), "evt-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamStore, types.CodeOf(err))

	err = s.RecordEmission(context.Background(), "orders", time.Now())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamStore, types.CodeOf(err))
}
