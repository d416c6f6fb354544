package models

import "time"

type OrderStatus string

const (
	// OrderStatusCompleted is the only status the webhook reconciler writes.
	// Fulfillment owns the order after that.
	OrderStatusCompleted OrderStatus = "completed"
)

type Order struct {
	ID              string      `json:"id"`
	CustomerEmail   string      `json:"customer_email"`
	UserID          *string     `json:"user_id,omitempty"` // nil for guest checkout
	StripeSessionID string      `json:"stripe_session_id"`
	AmountTotal     int64       `json:"amount_total"` // minor units
	Currency        string      `json:"currency"`
	Status          OrderStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	Items           []OrderItem `json:"items,omitempty"`
}

type OrderItem struct {
	ID         int    `json:"id"`
	OrderID    string `json:"order_id"`
	ProductID  int    `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	UnitAmount int64  `json:"unit_amount"` // minor units
}

type OrderEvent struct {
	OrderID       string      `json:"order_id"`
	CustomerEmail string      `json:"customer_email"`
	AmountTotal   int64       `json:"amount_total"`
	Currency      string      `json:"currency"`
	Status        OrderStatus `json:"status"`
	EventType     string      `json:"event_type"` // order_completed
}
