package notify

import (
	"fmt"
	"strings"
)

// Template is a rendered email plus the order it belongs to.
type Template struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	OrderID string `json:"orderId"`
}

// EmailJob is the payload of an email-notifications job.
type EmailJob struct {
	CustomerEmail string   `json:"customerEmail"`
	Template      Template `json:"template"`
}

const signature = "Best regards,\nOrders Team"

func OrderCreated(customerName, orderID, productID string, price float64) Template {
	return Template{
		OrderID: orderID,
		Subject: fmt.Sprintf("Order Confirmation - Order #%s", orderID),
		Body: strings.Join([]string{
			fmt.Sprintf("Dear %s,", customerName),
			"Thank you for your order!",
			fmt.Sprintf("Order Details:\n- Order ID: %s\n- Product ID: %s\n- Amount: $%.2f", orderID, productID, price),
			"We have received your order and will process your payment shortly.",
			signature,
		}, "\n\n"),
	}
}

func OrderPaid(customerName, orderID, paymentID string, amount float64) Template {
	return Template{
		OrderID: orderID,
		Subject: fmt.Sprintf("Payment Confirmation - Order #%s", orderID),
		Body: strings.Join([]string{
			fmt.Sprintf("Dear %s,", customerName),
			"Your payment has been successfully processed!",
			fmt.Sprintf("Order Details:\n- Order ID: %s\n- Payment ID: %s\n- Amount: $%.2f", orderID, paymentID, amount),
			"Your order is now confirmed and will be fulfilled shortly.",
			signature,
		}, "\n\n"),
	}
}

func PaymentDenied(customerName, orderID string, amount float64, reason string) Template {
	return Template{
		OrderID: orderID,
		Subject: fmt.Sprintf("Payment Failed - Order #%s", orderID),
		Body: strings.Join([]string{
			fmt.Sprintf("Dear %s,", customerName),
			fmt.Sprintf("Unfortunately, your payment for order #%s was not processed successfully.", orderID),
			fmt.Sprintf("Order Details:\n- Order ID: %s\n- Amount: $%.2f\n- Reason: %s", orderID, amount, reason),
			"Please try again with a different payment method or contact our support team for assistance.",
			signature,
		}, "\n\n"),
	}
}

// DenialReason formats the reason line of a payment-denied email.
func DenialReason(status, denialReason string) string {
	if denialReason == "" {
		denialReason = "Payment declined"
	}
	return fmt.Sprintf("Status:%s - %s", status, denialReason)
}
