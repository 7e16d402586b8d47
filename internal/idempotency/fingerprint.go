package idempotency

import (
	"strconv"
	"strings"
	"unicode"
)

// OrderFingerprint derives the ledger key for an order request:
// name(email)-[productId]-price, whitespace removed and lower-cased.
func OrderFingerprint(customerName, customerEmail, productID string, price float64) string {
	raw := customerName + "(" + customerEmail + ")-[" + productID + "]-" + strconv.FormatFloat(price, 'f', -1, 64)
	return strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw))
}
