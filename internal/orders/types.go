package orders

import (
	"context"
	"errors"
	"time"
)

// PaymentStatus values.
const (
	StatusPending  = "PENDING"
	StatusPaid     = "PAID"
	StatusDenied   = "DENIED"
	StatusFailed   = "FAILED"
	StatusCanceled = "CANCELED"
	StatusError    = "ERROR"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("order already exists")
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// Order is the shape persisted in the orders table.
type Order struct {
	OrderID       string    `dynamodbav:"order_id" json:"orderId"` // PK
	ProductID     string    `dynamodbav:"product_id" json:"productId"`
	Price         float64   `dynamodbav:"price" json:"price"`
	CustomerName  string    `dynamodbav:"customer_name" json:"customerName"`
	CustomerEmail string    `dynamodbav:"customer_email" json:"customerEmail"`
	PaymentStatus string    `dynamodbav:"payment_status" json:"paymentStatus"`
	PaymentID     string    `dynamodbav:"payment_id,omitempty" json:"paymentId,omitempty"`
	GatewayID     string    `dynamodbav:"gateway_id,omitempty" json:"gatewayId,omitempty"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// NewOrder holds the fields supplied at creation. ID is generated when empty.
type NewOrder struct {
	ID            string
	ProductID     string
	Price         float64
	CustomerName  string
	CustomerEmail string
}

// PaymentUpdate is the only mutation an order accepts after creation.
type PaymentUpdate struct {
	Status    string
	PaymentID string
	GatewayID string
}

// Repository is the order store contract shared by the DynamoDB and Postgres stores.
type Repository interface {
	Create(ctx context.Context, in NewOrder) (*Order, error)
	// Update moves a PENDING order to a terminal status.
	Update(ctx context.Context, orderID string, upd PaymentUpdate) (*Order, error)
	// FindByID returns (nil, nil) when the order does not exist.
	FindByID(ctx context.Context, orderID string) (*Order, error)
}

// IsTerminal reports whether no further transition is allowed out of status.
func IsTerminal(status string) bool {
	switch status {
	case StatusPaid, StatusDenied, StatusFailed, StatusCanceled, StatusError:
		return true
	}
	return false
}

// CanTransition allows PENDING -> terminal only.
func CanTransition(from, to string) bool {
	return from == StatusPending && IsTerminal(to)
}
