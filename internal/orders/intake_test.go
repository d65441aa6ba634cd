package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orderpush/internal/pubsub"
	"orderpush/internal/store/memory"
	"orderpush/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)         {}
func (nopLogger) Error(string, ...any)        {}
func (nopLogger) Warn(string, ...any)         {}
func (l nopLogger) With(...any) types.Logger { return l }

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) CreateOrder(ctx context.Context, order *types.Order) (bool, error) {
	args := m.Called(ctx, order)
	return args.Bool(0), args.Error(1)
}

var storedAt = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestIntake(repo Repository) *Intake {
	return NewIntake(IntakeConfig{
		Repository: repo,
		Logger:     nopLogger{},
		NewID:      func() string { return "generated-id" },
	})
}

func newMemoryRepo() *memory.Store {
	return memory.New(types.ClockFunc(func() time.Time { return storedAt }), 0)
}

func TestHandle_StoresOrder(t *testing.T) {
	repo := newMemoryRepo()
	in := newTestIntake(repo)

	disp, order, err := in.Handle(context.Background(), pubsub.Message{
		ID:   "1234567890",
		Data: []byte(`{"orderId":"ABC-123","dateOrder":"2026-03-14","totalOrder":54.9,"paymentType":"card","deliveryType":"pickup"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, Stored, disp)
	assert.Equal(t, &types.Order{
		ID:           "ABC-123",
		OrderID:      "ABC-123",
		DateOrder:    "2026-03-14",
		TotalOrder:   54.9,
		PaymentType:  "card",
		DeliveryType: "pickup",
		Timestamp:    storedAt,
	}, order)

	stored, ok := repo.GetOrder(context.Background(), "ABC-123")
	require.True(t, ok)
	assert.Equal(t, *order, stored)
}

func TestHandle_RedeliveryIsDuplicate(t *testing.T) {
	repo := newMemoryRepo()
	in := newTestIntake(repo)
	msg := pubsub.Message{
		ID:   "777",
		Data: []byte(`{"dateOrder":"2026-03-14","totalOrder":"12.50","paymentType":"cash","deliveryType":"delivery"}`),
	}

	disp, order, err := in.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, Stored, disp)
	assert.Equal(t, "msg-777", order.ID)
	assert.Equal(t, 12.5, order.TotalOrder)

	disp, _, err = in.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, disp)
}

func TestParse_DocumentIDPrecedence(t *testing.T) {
	in := newTestIntake(nil)
	base := `"dateOrder":"2026-03-14","totalOrder":1,"paymentType":"card","deliveryType":"pickup"`

	tests := []struct {
		name      string
		messageID string
		data      string
		wantID    string
	}{
		{"order id wins", "42", `{"orderId":"A-1",` + base + `}`, "A-1"},
		{"message id fallback", "42", `{` + base + `}`, "msg-42"},
		{"generated fallback", "", `{` + base + `}`, "generated-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := in.Parse(pubsub.Message{ID: tt.messageID, Data: []byte(tt.data)})
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, order.ID)
		})
	}
}

func TestParse_TotalOrderForms(t *testing.T) {
	in := newTestIntake(nil)

	tests := []struct {
		total string
		want  float64
	}{
		{`54.9`, 54.9},
		{`0`, 0},
		{`"54.90"`, 54.9},
		{`" 7 "`, 7},
		{`1e2`, 100},
	}

	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			order, err := in.Parse(pubsub.Message{Data: []byte(
				`{"dateOrder":"d","totalOrder":` + tt.total + `,"paymentType":"p","deliveryType":"d"}`,
			)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, order.TotalOrder)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	in := newTestIntake(nil)

	tests := []struct {
		name       string
		data       string
		wantCode   types.ErrorCode
		wantFields map[string]string
	}{
		{
			name:     "not json",
			data:     `order please`,
			wantCode: types.ErrCodeMessageMalformed,
		},
		{
			name:     "array",
			data:     `[1,2,3]`,
			wantCode: types.ErrCodeMessageMalformed,
		},
		{
			name:     "total not numeric",
			data:     `{"dateOrder":"d","totalOrder":"lots","paymentType":"p","deliveryType":"d"}`,
			wantCode: types.ErrCodeMessageMalformed,
		},
		{
			name:     "total not finite",
			data:     `{"dateOrder":"d","totalOrder":"NaN","paymentType":"p","deliveryType":"d"}`,
			wantCode: types.ErrCodeMessageMalformed,
		},
		{
			name:       "missing fields",
			data:       `{"totalOrder":1}`,
			wantCode:   types.ErrCodeOrderInvalid,
			wantFields: map[string]string{"dateOrder": "required", "paymentType": "required", "deliveryType": "required"},
		},
		{
			name:       "missing total",
			data:       `{"dateOrder":"d","paymentType":"p","deliveryType":"d"}`,
			wantCode:   types.ErrCodeOrderInvalid,
			wantFields: map[string]string{"totalOrder": "required"},
		},
		{
			name:       "negative total",
			data:       `{"dateOrder":"d","totalOrder":-1,"paymentType":"p","deliveryType":"d"}`,
			wantCode:   types.ErrCodeOrderInvalid,
			wantFields: map[string]string{"totalOrder": "gte"},
		},
		{
			name:       "order id with slash",
			data:       `{"orderId":"a/b","dateOrder":"d","totalOrder":1,"paymentType":"p","deliveryType":"d"}`,
			wantCode:   types.ErrCodeOrderInvalid,
			wantFields: map[string]string{"orderId": "docid"},
		},
		{
			name:       "reserved order id",
			data:       `{"orderId":"__name__","dateOrder":"d","totalOrder":1,"paymentType":"p","deliveryType":"d"}`,
			wantCode:   types.ErrCodeOrderInvalid,
			wantFields: map[string]string{"orderId": "docid"},
		},
		{
			name:       "oversized order id",
			data:       `{"orderId":"` + strings.Repeat("x", maxDocumentIDBytes+1) + `","dateOrder":"d","totalOrder":1,"paymentType":"p","deliveryType":"d"}`,
			wantCode:   types.ErrCodeOrderInvalid,
			wantFields: map[string]string{"orderId": "docid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := in.Parse(pubsub.Message{Data: []byte(tt.data)})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.CodeOf(err))
			assert.Equal(t, types.OutcomeClientError, types.OutcomeOf(err))

			if tt.wantFields != nil {
				var appErr *types.AppError
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, tt.wantFields, appErr.Details["fields"])
			}
		})
	}
}

func TestHandle_RepositoryFailure(t *testing.T) {
	repo := &mockRepository{}
	repo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*types.Order")).
		Return(false, errors.New("deadline exceeded")).Once()
	in := newTestIntake(repo)

	_, _, err := in.Handle(context.Background(), pubsub.Message{
		ID:   "1",
		Data: []byte(`{"dateOrder":"d","totalOrder":1,"paymentType":"p","deliveryType":"d"}`),
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamStore, types.CodeOf(err))
	assert.Equal(t, types.OutcomeServerError, types.OutcomeOf(err))
	repo.AssertExpectations(t)
}

func TestHandle_RepositoryClassifiedFailure(t *testing.T) {
	classified := types.NewAppError(types.ErrCodeUpstreamUnavailable, "firestore: create order", nil)
	repo := &mockRepository{}
	repo.On("CreateOrder", mock.Anything, mock.Anything).Return(false, classified).Once()
	in := newTestIntake(repo)

	_, _, err := in.Handle(context.Background(), pubsub.Message{
		Data: []byte(`{"dateOrder":"d","totalOrder":1,"paymentType":"p","deliveryType":"d"}`),
	})
	assert.Same(t, classified, err)
}
