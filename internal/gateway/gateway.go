package gateway

import (
	"context"
	"errors"

	"github.com/imrishuroy/go-payflow/internal/tokenizer"
)

// ErrGatewayUnavailable marks a transient gateway failure; the payment job is retried.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// PaymentRequest carries a card token, never raw card data.
type PaymentRequest struct {
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	CustomerName  string  `json:"customerName"`
	CustomerEmail string  `json:"customerEmail"`
	CardToken     string  `json:"cardToken"`
}

type PaymentResponse struct {
	PaymentID    string `json:"paymentId"`
	GatewayID    string `json:"gatewayId"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	DenialReason string `json:"denialReason,omitempty"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// Gateway is the payment provider contract used by the API and the payment worker.
type Gateway interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
	TokenizeCard(ctx context.Context, card tokenizer.Card) (*TokenResponse, error)
}
