package validation

import (
	"math"
	"regexp"
	"strconv"

	validatorv10 "github.com/go-playground/validator/v10"
)

var (
	cardDigits = regexp.MustCompile(`^\d{13,19}$`)
	cvvDigits  = regexp.MustCompile(`^\d{3,4}$`)
	mmyy       = regexp.MustCompile(`^(\d{2})/\d{2}$`)
)

// Card networks accepted by the gateway, keyed by the first two digits, and the
// outcome codes it understands, keyed by the last two.
var (
	cardPrefixes = map[string]bool{"40": true, "50": true}
	cardSuffixes = map[string]bool{"00": true, "01": true, "02": true, "03": true, "04": true}
)

// New returns a configured validator with the card rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report json names in field errors: product.price rather than Product.Price
	v.RegisterTagNameFunc(jsonName)

	_ = v.RegisterValidation("cardnumber", validCardNumber)
	_ = v.RegisterValidation("cvv", func(fl validatorv10.FieldLevel) bool {
		return cvvDigits.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("mmyy", validExpiration)
	_ = v.RegisterValidation("money", validMoney)

	return v
}

func validCardNumber(fl validatorv10.FieldLevel) bool {
	n := fl.Field().String()
	if !cardDigits.MatchString(n) {
		return false
	}
	return cardPrefixes[n[:2]] && cardSuffixes[n[len(n)-2:]]
}

func validExpiration(fl validatorv10.FieldLevel) bool {
	m := mmyy.FindStringSubmatch(fl.Field().String())
	if m == nil {
		return false
	}
	month, _ := strconv.Atoi(m[1])
	return month >= 1 && month <= 12
}

// validMoney accepts amounts with at most two decimals, the scale of the orders.price column.
func validMoney(fl validatorv10.FieldLevel) bool {
	cents := fl.Field().Float() * 100
	return math.Abs(cents-math.Round(cents)) < 1e-6
}
