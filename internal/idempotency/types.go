package idempotency

import "time"

// Response is what the first successful intake returned for a fingerprint.
type Response struct {
	OrderID       string `json:"orderId"`
	PaymentStatus string `json:"paymentStatus"`
}

// Record is the ledger entry stored under idempotency:<fingerprint>.
type Record struct {
	Data      Response  `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
