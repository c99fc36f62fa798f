package repository

import (
	"encoding/json"
	"time"

	"github.com/fjod/farm-checkout/internal/domain"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SSLMode           string
	MigrationsDirPath string
}

// OutboxEvent is a row of outbox_events waiting to be published.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

type orderPlacedPayload struct {
	OrderID     string             `json:"order_id"`
	CheckoutID  string             `json:"checkout_id"`
	BuyerID     string             `json:"buyer_id"`
	SellerID    string             `json:"seller_id"`
	Status      string             `json:"status"`
	TotalAmount string             `json:"total_amount"`
	Currency    string             `json:"currency"`
	Items       []domain.OrderItem `json:"items"`
	CreatedAt   time.Time          `json:"created_at"`
}

type statusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	BuyerID   string    `json:"buyer_id"`
	SellerID  string    `json:"seller_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}
