// Package orders implements StoreOrderData: it turns a Pub/Sub order
// message into a stored order document. Creating the document is what
// produces the change event the notifier consumes.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"orderpush/internal/pubsub"
	"orderpush/internal/types"
)

// Disposition is how an order message was handled.
type Disposition string

const (
	Stored    Disposition = "stored"
	Duplicate Disposition = "duplicate"
)

// Repository persists orders.
type Repository interface {
	// CreateOrder stores order under order.ID and reports whether it was
	// created; false means a document with that ID already exists. On
	// success the store sets order.Timestamp.
	CreateOrder(ctx context.Context, order *types.Order) (bool, error)
}

// amount accepts a JSON number or a numeric string.
type amount float64

func (a *amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("totalOrder %s is not a number", string(data))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("totalOrder %s is not finite", string(data))
	}
	*a = amount(f)
	return nil
}

// orderMessage is the inbound order payload.
type orderMessage struct {
	OrderID      string  `json:"orderId" validate:"omitempty,docid"`
	DateOrder    string  `json:"dateOrder" validate:"required"`
	TotalOrder   *amount `json:"totalOrder" validate:"required,gte=0"`
	PaymentType  string  `json:"paymentType" validate:"required"`
	DeliveryType string  `json:"deliveryType" validate:"required"`
}

// IntakeConfig holds the dependencies of an Intake.
type IntakeConfig struct {
	Repository Repository
	Validator  *Validator
	Logger     types.Logger
	// NewID generates a document ID when the message carries neither an
	// orderId nor a message ID. Defaults to a random UUID.
	NewID func() string
}

// Intake validates and stores order messages.
type Intake struct {
	repo      Repository
	validator *Validator
	logger    types.Logger
	newID     func() string
}

// NewIntake creates an Intake.
func NewIntake(cfg IntakeConfig) *Intake {
	v := cfg.Validator
	if v == nil {
		v = NewValidator()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Intake{
		repo:      cfg.Repository,
		validator: v,
		logger:    cfg.Logger,
		newID:     newID,
	}
}

// Handle parses, validates and stores the order in msg. A redelivered
// message whose document already exists is reported as Duplicate without
// error.
func (in *Intake) Handle(ctx context.Context, msg pubsub.Message) (Disposition, *types.Order, error) {
	logger := in.logger.With("message_id", msg.ID)

	order, err := in.Parse(msg)
	if err != nil {
		return "", nil, err
	}
	logger = logger.With("order_doc_id", order.ID)

	created, err := in.repo.CreateOrder(ctx, order)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return "", nil, err
		}
		return "", nil, types.NewAppError(types.ErrCodeUpstreamStore, "failed to store order", err)
	}
	if !created {
		logger.Info("order already stored, skipping")
		return Duplicate, order, nil
	}

	logger.Info("order stored",
		"total_order", order.TotalOrder,
		"payment_type", order.PaymentType,
		"delivery_type", order.DeliveryType,
	)
	return Stored, order, nil
}

// Parse decodes and validates the order in msg and assigns its document
// ID. It does not touch the repository.
func (in *Intake) Parse(msg pubsub.Message) (*types.Order, error) {
	dec := json.NewDecoder(bytes.NewReader(msg.Data))
	var m orderMessage
	if err := dec.Decode(&m); err != nil {
		return nil, types.NewAppError(types.ErrCodeMessageMalformed,
			fmt.Sprintf("order payload is not a JSON object: %v", err), err)
	}

	fields, err := in.validator.ValidateStruct(m)
	if err != nil {
		appErr := types.NewAppError(types.ErrCodeOrderInvalid, "order failed validation", err)
		if len(fields) > 0 {
			appErr = appErr.WithDetails(map[string]any{"fields": fields})
		}
		return nil, appErr
	}

	order := &types.Order{
		OrderID:      m.OrderID,
		DateOrder:    m.DateOrder,
		TotalOrder:   float64(*m.TotalOrder),
		PaymentType:  m.PaymentType,
		DeliveryType: m.DeliveryType,
	}
	switch {
	case m.OrderID != "":
		order.ID = m.OrderID
	case msg.ID != "":
		order.ID = "msg-" + msg.ID
	default:
		order.ID = in.newID()
	}
	return order, nil
}
