package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-payflow/internal/apperr"
)

// BindAndValidate binds JSON body into `out` and runs validation.
// Failures come back as Validation errors for the error middleware to render.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return apperr.Wrap(apperr.Validation, "Malformed request body", err)
	}

	if err := v.Struct(out); err != nil {
		var verrs validatorv10.ValidationErrors
		if errors.As(err, &verrs) {
			return &apperr.Error{
				Kind:    apperr.Validation,
				Message: "Validation failed",
				Fields:  apperr.FromValidator(verrs),
				Err:     err,
			}
		}
		return apperr.Wrap(apperr.Validation, "Validation failed", err)
	}
	return nil
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
