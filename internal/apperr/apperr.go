package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind is the fixed error taxonomy of the request path.
type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	RateLimited
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case RateLimited:
		return "rate_limited"
	case Unavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Status maps a kind onto its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Limit carries the rate-limit metadata of a RateLimited error.
type Limit struct {
	Remaining int64
	ResetAt   time.Time
}

type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Limit   *Limit
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NewValidation(msg string, fields ...FieldError) *Error {
	return &Error{Kind: Validation, Message: msg, Fields: fields}
}

func NewRateLimited(remaining int64, resetAt time.Time) *Error {
	return &Error{
		Kind:    RateLimited,
		Message: "Too many requests",
		Limit:   &Limit{Remaining: remaining, ResetAt: resetAt},
	}
}

// Classify resolves any error to an *Error. Checks run in a fixed priority order:
// rate-limited, validation, not-found, conflict, unavailable, then internal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	hasApp := errors.As(err, &appErr)

	var verrs validator.ValidationErrors
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case hasApp && appErr.Kind == RateLimited:
		return appErr
	case hasApp && appErr.Kind == Validation:
		return appErr
	case errors.As(err, &verrs):
		return &Error{Kind: Validation, Message: "Validation failed", Fields: FromValidator(verrs), Err: err}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return &Error{Kind: Validation, Message: "Malformed request body", Err: err}
	case hasApp:
		return appErr
	default:
		return &Error{Kind: Internal, Message: "Internal server error", Err: err}
	}
}

// FromValidator flattens validator errors into field-level details.
func FromValidator(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed on '%s' rule", fe.Tag()),
		})
	}
	return out
}

// Body is the uniform error response.
type Body struct {
	StatusCode int          `json:"statusCode"`
	Message    string       `json:"message"`
	Errors     []FieldError `json:"errors,omitempty"`
	Remaining  *int64       `json:"remaining,omitempty"`
	ResetAt    *int64       `json:"resetAt,omitempty"`
	RetryAfter *int64       `json:"retryAfter,omitempty"`
	Timestamp  string       `json:"timestamp"`
}

// Render classifies err and builds the response body. Internal messages are
// replaced by a generic one when production is set.
func Render(err error, production bool, now time.Time) (int, Body) {
	e := Classify(err)
	status := e.Kind.Status()

	body := Body{
		StatusCode: status,
		Message:    e.Message,
		Errors:     e.Fields,
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
	}
	if e.Kind == Internal {
		if production {
			body.Message = "Internal server error"
		} else if e.Err != nil {
			body.Message = e.Err.Error()
		}
	}
	if e.Kind == RateLimited && e.Limit != nil {
		remaining := e.Limit.Remaining
		resetAt := e.Limit.ResetAt.UnixMilli()
		retryAfter := RetryAfterSeconds(e.Limit.ResetAt, now)
		body.Remaining = &remaining
		body.ResetAt = &resetAt
		body.RetryAfter = &retryAfter
	}
	return status, body
}

// RetryAfterSeconds rounds the time until resetAt up to whole seconds.
func RetryAfterSeconds(resetAt, now time.Time) int64 {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
