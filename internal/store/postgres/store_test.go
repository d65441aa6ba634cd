package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orderpush/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Gate ---

func TestStore_LastEmission_Found(t *testing.T) {
	db := new(mockDBTX)
	s := New(db, 0)
	last := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return sql == `SELECT last_emitted_at FROM push_gate WHERE channel = $1`
	}), []any{"orders"}).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*time.Time) = last
		return nil
	}})

	got, found, err := s.LastEmission(context.Background(), "orders")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, last, got)
	db.AssertExpectations(t)
}

func TestStore_LastEmission_NotFound(t *testing.T) {
	db := new(mockDBTX)
	s := New(db, 0)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, found, err := s.LastEmission(context.Background(), "orders")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_LastEmission_DBError(t *testing.T) {
	db := new(mockDBTX)
	s := New(db, 0)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, _, err := s.LastEmission(context.Background(), "orders")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamStore, appErr.Code)
}

func TestStore_RecordEmission_UsesServerClock(t *testing.T) {
	db := new(mockDBTX)
	s := New(db, 0)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "NOW()") && strings.Contains(sql, "ON CONFLICT (channel)")
	}), []any{"orders"}).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, s.RecordEmission(context.Background(), "orders", time.Time{}))
	db.AssertExpectations(t)
}

// --- Ledger ---

func TestStore_Delivered(t *testing.T) {
	for _, want := range []bool{true, false} {
		db := new(mockDBTX)
		s := New(db, time.Hour)

		db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"evt-1"}).
			Return(&mockRow{scanFn: func(dest ...any) error {
				*dest[0].(*bool) = want
				return nil
			}})

		got, err := s.Delivered(context.Background(), "evt-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStore_MarkDelivered_WithTTL(t *testing.T) {
	db := new(mockDBTX)
	s := New(db, 72*time.Hour)
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	want := at.Add(72 * time.Hour)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 2 || args[0] != "evt-1" {
			return false
		}
		expireAt, ok := args[1].(*time.Time)
		return ok && expireAt != nil && expireAt.Equal(want)
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, s.MarkDelivered(context.Background(), "evt-1", at))
	db.AssertExpectations(t)
}

func TestStore_MarkDelivered_NoTTL(t *testing.T) {
	db := new(mockDBTX)
	s := New(db, 0)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 2 {
			return false
		}
		expireAt, ok := args[1].(*time.Time)
		return ok && expireAt == nil
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, s.MarkDelivered(context.Background(), "evt-1", time.Now()))
	db.AssertExpectations(t)
}

// --- Orders ---

func TestStore_CreateOrder_Created(t *testing.T) {
	db := new(mockDBTX)
	s := New(db, 0)
	createdAt := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	order := &types.Order{ID: "msg-42", DateOrder: "2026-06-01", TotalOrder: 12.5, PaymentType: "cash", DeliveryType: "delivery"}

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		orderID, _ := args[1].(*string)
		return args[0] == "msg-42" && orderID == nil && args[3] == 12.5
	})).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*time.Time) = createdAt
		return nil
	}})

	created, err := s.CreateOrder(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, createdAt, order.Timestamp)
	db.AssertExpectations(t)
}

func TestStore_CreateOrder_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	s := New(db, 0)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	created, err := s.CreateOrder(context.Background(), &types.Order{ID: "A-1", OrderID: "A-1"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestStore_CountOrdersSince(t *testing.T) {
	db := new(mockDBTX)
	s := New(db, 0)
	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{since}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 17
			return nil
		}})

	n, err := s.CountOrdersSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)
}

func TestMigrate(t *testing.T) {
	db := new(mockDBTX)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "CREATE TABLE IF NOT EXISTS push_gate") &&
			strings.Contains(sql, "CREATE TABLE IF NOT EXISTS orders")
	}), mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	require.NoError(t, Migrate(context.Background(), db))

	failing := new(mockDBTX)
	failing.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("permission denied"))
	assert.ErrorContains(t, Migrate(context.Background(), failing), "postgres: migrate")
}
