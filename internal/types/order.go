package types

import "time"

// Order is a validated order as persisted by StoreOrderData. Timestamp is
// zero until the store assigns it (server time).
type Order struct {
	ID           string    `json:"id" firestore:"-"`
	OrderID      string    `json:"orderId,omitempty" firestore:"orderId,omitempty"`
	DateOrder    string    `json:"dateOrder" firestore:"dateOrder"`
	TotalOrder   float64   `json:"totalOrder" firestore:"totalOrder"`
	PaymentType  string    `json:"paymentType" firestore:"paymentType"`
	DeliveryType string    `json:"deliveryType" firestore:"deliveryType"`
	Timestamp    time.Time `json:"timestamp" firestore:"timestamp,serverTimestamp"`
}

// OrderNotification is the push payload for a newly created order document.
type OrderNotification struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// DailyTotalNotification is the aggregate push payload consumed by the
// total-daily-orders dashboard view.
type DailyTotalNotification struct {
	Total       int64  `json:"total"`
	Date        string `json:"date"`
	LastOrderID string `json:"lastOrderId"`
}
