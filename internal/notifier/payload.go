package notifier

import (
	"context"
	"errors"
	"math"
	"time"

	"orderpush/internal/types"
)

// Notification is a newly created document that passed the gate.
type Notification struct {
	DocumentID string
	Resource   string
	Data       map[string]any
}

// PayloadBuilder turns a Notification into the pushed event name and
// payload.
type PayloadBuilder interface {
	Build(ctx context.Context, n Notification) (event string, payload any, err error)
}

// OrderCounter counts stored orders created at or after since.
type OrderCounter interface {
	CountOrdersSince(ctx context.Context, since time.Time) (int64, error)
}

// DocumentPayload pushes the created document itself as {id, data}.
type DocumentPayload struct {
	Event string
}

// Build implements PayloadBuilder.
func (p DocumentPayload) Build(_ context.Context, n Notification) (string, any, error) {
	data, _ := jsonSafe(n.Data).(map[string]any)
	return p.Event, types.OrderNotification{ID: n.DocumentID, Data: data}, nil
}

// DailyTotalPayload pushes the number of orders created since local
// midnight, for the total-daily-orders dashboard.
type DailyTotalPayload struct {
	Event    string
	Counter  OrderCounter
	Location *time.Location
	Clock    types.Clock
}

// Build implements PayloadBuilder.
func (p DailyTotalPayload) Build(ctx context.Context, n Notification) (string, any, error) {
	clock := p.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	now := clock.Now().In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	total, err := p.Counter.CountOrdersSince(ctx, midnight)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return "", nil, err
		}
		return "", nil, types.NewAppError(types.ErrCodeUpstreamStore, "failed to count today's orders", err)
	}

	return p.Event, types.DailyTotalNotification{
		Total:       total,
		Date:        now.Format(time.DateOnly),
		LastOrderID: n.DocumentID,
	}, nil
}

// jsonSafe replaces values encoding/json cannot represent. Non-finite
// doubles become their proto3 JSON names.
func jsonSafe(v any) any {
	switch t := v.(type) {
	case float64:
		switch {
		case math.IsNaN(t):
			return "NaN"
		case math.IsInf(t, 1):
			return "Infinity"
		case math.IsInf(t, -1):
			return "-Infinity"
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = jsonSafe(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = jsonSafe(item)
		}
		return out
	default:
		return v
	}
}
