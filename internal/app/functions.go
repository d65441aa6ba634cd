package app

import (
	"context"
	"errors"

	"github.com/cloudevents/sdk-go/v2/event"

	"orderpush/internal/notifier"
	"orderpush/internal/types"
)

// CheckPushData handles a Firestore document-change CloudEvent.
//
// Returning nil acknowledges the event. Only server errors are returned, so
// the platform retries transient failures but never redelivers input that
// cannot succeed.
func (a *App) CheckPushData(ctx context.Context, e event.Event) error {
	ctx, logger := a.invocation(ctx, e, "CheckPushData")

	disp, err := a.notifier.Handle(ctx, notifier.ChangeEvent{
		ID:          e.ID(),
		ContentType: e.DataContentType(),
		Data:        e.Data(),
	})
	return a.finish(logger, string(disp), err)
}

// StoreOrderData handles a Pub/Sub message CloudEvent carrying an order.
func (a *App) StoreOrderData(ctx context.Context, e event.Event) error {
	ctx, logger := a.invocation(ctx, e, "StoreOrderData")

	msg, err := a.extractor.Extract(e.Data())
	if err != nil {
		return a.finish(logger, "", err)
	}
	if msg.ID == "" {
		msg.ID = e.ID()
	}

	disp, _, err := a.intake.Handle(ctx, msg)
	return a.finish(logger, string(disp), err)
}

func (a *App) invocation(ctx context.Context, e event.Event, function string) (context.Context, types.Logger) {
	logger := a.logger.With(
		"function", function,
		"event_id", e.ID(),
		"event_type", e.Type(),
		"event_source", e.Source(),
	)
	if subject := e.Subject(); subject != "" {
		logger = logger.With("event_subject", subject)
	}
	ctx = types.WithEventID(ctx, e.ID())
	ctx = types.WithLogger(ctx, logger)
	return ctx, logger
}

// finish maps a handler result to the function outcome.
func (a *App) finish(logger types.Logger, disposition string, err error) error {
	switch types.OutcomeOf(err) {
	case types.OutcomeSuccess:
		logger.Info("event handled", "disposition", disposition)
		return nil
	case types.OutcomeClientError:
		logger.Warn("event rejected, acknowledging without retry", errorAttrs(err)...)
		return nil
	default:
		logger.Error("event failed, returning error for retry", errorAttrs(err)...)
		return err
	}
}

func errorAttrs(err error) []any {
	attrs := []any{"error", err.Error(), "code", string(types.CodeOf(err))}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			attrs = append(attrs, "cause", appErr.Err.Error())
		}
		if len(appErr.Details) > 0 {
			attrs = append(attrs, "details", appErr.Details)
		}
	}
	return attrs
}
