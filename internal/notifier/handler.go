// Package notifier implements CheckPushData: on a newly created order
// document it pushes a notification, at most once per event and at most
// once per gate window per channel.
//
// Handler flow:
//
//  1. Parse the change envelope (protobuf or local JSON form).
//  2. Skip anything but a create.
//  3. Resolve the document ID and skip documents outside the watched
//     collection.
//  4. Skip events the delivery ledger has already seen.
//  5. Decode the document fields.
//  6. Consult the gate; skip while the window is closed.
//  7. Build the payload and trigger the sink.
//  8. Mark the ledger, then record the gate emission.
//
// Nothing is recorded unless the sink accepted the notification, so a
// failed delivery is retried by the platform instead of being suppressed.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderpush/internal/envelope"
	"orderpush/internal/gate"
	"orderpush/internal/push"
	"orderpush/internal/types"
)

// Disposition is how a change event was handled.
type Disposition string

const (
	Delivered                Disposition = "delivered"
	SkippedNotCreate         Disposition = "skipped_not_create"
	SkippedForeignCollection Disposition = "skipped_foreign_collection"
	SkippedDuplicate         Disposition = "skipped_duplicate"
	SkippedRateLimited       Disposition = "skipped_rate_limited"
)

// ChangeEvent is the platform-neutral view of a document-change delivery.
type ChangeEvent struct {
	// ID is the delivery's event ID; retries of one change share it.
	ID          string
	ContentType string
	Data        []byte
}

// DeliveryLedger remembers which events were already pushed.
type DeliveryLedger interface {
	Delivered(ctx context.Context, key string) (bool, error)
	MarkDelivered(ctx context.Context, key string, at time.Time) error
}

// HandlerConfig holds the dependencies of a Handler. Ledger may be nil, in
// which case duplicate deliveries are only limited by the gate.
type HandlerConfig struct {
	Gate       *gate.Gate
	Ledger     DeliveryLedger
	Sink       push.Sink
	Payload    PayloadBuilder
	Collection string
	Channel    string
	Clock      types.Clock
	Logger     types.Logger
}

// Handler processes document-change events.
type Handler struct {
	gate       *gate.Gate
	ledger     DeliveryLedger
	sink       push.Sink
	payload    PayloadBuilder
	collection string
	channel    string
	clock      types.Clock
	logger     types.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Handler{
		gate:       cfg.Gate,
		ledger:     cfg.Ledger,
		sink:       cfg.Sink,
		payload:    cfg.Payload,
		collection: cfg.Collection,
		channel:    cfg.Channel,
		clock:      clock,
		logger:     cfg.Logger,
	}
}

// Handle processes one change event. Skips are not errors. Returned errors
// are AppErrors: validation codes for input that can never succeed and
// upstream codes for failures worth retrying.
func (h *Handler) Handle(ctx context.Context, evt ChangeEvent) (Disposition, error) {
	logger := h.logger.With("event_id", evt.ID, "channel", h.channel)

	change, err := envelope.Parse(evt.ContentType, evt.Data)
	if err != nil {
		return "", err
	}

	if kind := change.Kind(); kind != envelope.ChangeCreated {
		logger.Info("event is not a document creation, skipping", "change", string(kind))
		return SkippedNotCreate, nil
	}

	resource := change.Value.Name
	docID, err := envelope.DocumentID(resource)
	if err != nil {
		return "", err
	}
	logger = logger.With("document_id", docID)

	if h.collection != "" {
		parent, err := envelope.ParentCollection(resource)
		if err != nil {
			return "", err
		}
		if parent != h.collection {
			logger.Info("document is outside the watched collection, skipping",
				"collection", parent,
				"expected_collection", h.collection,
			)
			return SkippedForeignCollection, nil
		}
	}

	ledgerKey := evt.ID
	if ledgerKey == "" {
		ledgerKey = resource
	}
	if h.ledger != nil {
		delivered, err := h.ledger.Delivered(ctx, ledgerKey)
		if err != nil {
			return "", upstream(types.ErrCodeUpstreamStore, "failed to read delivery ledger", err)
		}
		if delivered {
			logger.Info("event already delivered, skipping")
			return SkippedDuplicate, nil
		}
	}

	data := change.Value.Decode()

	decision, err := h.gate.Check(ctx, h.channel)
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		logger.Warn("push suppressed inside gate window",
			"last_emitted_at", decision.LastEmittedAt.Format(time.RFC3339),
			"window", h.gate.Window().String(),
			"retry_after", decision.RetryAfter.String(),
		)
		return SkippedRateLimited, nil
	}

	event, payload, err := h.payload.Build(ctx, Notification{
		DocumentID: docID,
		Resource:   resource,
		Data:       data,
	})
	if err != nil {
		return "", err
	}

	if err := h.sink.Trigger(ctx, h.channel, event, payload); err != nil {
		return "", upstream(types.ErrCodeUpstreamPush, "failed to deliver notification", err)
	}

	// The gate is recorded before the ledger mark. A retry after a failed
	// mark is then suppressed by the gate; a retry after a failed gate write
	// finds no mark and delivers again, which also rewrites the gate.
	if err := h.gate.Record(ctx, h.channel); err != nil {
		return "", err
	}
	if h.ledger != nil {
		if err := h.ledger.MarkDelivered(ctx, ledgerKey, h.clock.Now()); err != nil {
			return "", upstream(types.ErrCodeUpstreamStore, "failed to mark delivery", err)
		}
	}

	logger.Info("notification delivered", "event", event, "field_count", len(data))
	return Delivered, nil
}

// upstream classifies err with code unless it already carries a
// classification.
func upstream(code types.ErrorCode, msg string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return types.NewAppError(code, msg, err)
}
