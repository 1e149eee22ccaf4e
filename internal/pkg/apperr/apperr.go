package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state transition")
	ErrForbidden    = errors.New("forbidden")
	ErrPayment      = errors.New("payment error")
	ErrTransientIO  = errors.New("transient io error")
)

// PaymentStage tells where a payment flow stopped.
type PaymentStage string

const (
	// StageGateway: the gateway declined, nothing was charged.
	StageGateway PaymentStage = "gateway"
	// StageRecord: the gateway charged but persisting the result failed.
	StageRecord PaymentStage = "record"
)

// PaymentError is returned by the payment reconciler. Charged separates
// "retry" failures from "contact support" failures.
type PaymentError struct {
	Stage   PaymentStage
	Charged bool
	Reason  string
	Err     error
}

func (e *PaymentError) Error() string {
	msg := fmt.Sprintf("payment failed at %s stage", e.Stage)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PaymentError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPayment, e.Err}
	}
	return []error{ErrPayment}
}

// Code is the API error code for the failure class.
func (e *PaymentError) Code() string {
	if e.Charged {
		return "PAYMENT_CHARGED_NOT_RECORDED"
	}
	return "PAYMENT_NOT_CHARGED"
}

// UserMessage is what a client should show to the payer.
func (e *PaymentError) UserMessage() string {
	if e.Charged {
		return "Your payment was received, but we could not finish recording it. Please contact support, do not pay again."
	}
	return "The payment did not go through and nothing was charged. You can try again."
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(what string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
}

func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// FromDB classifies a datastore error. Record-not-found becomes ErrNotFound,
// everything else is treated as a transient remote failure.
func FromDB(err error, what string, id int64) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound(what, id)
	}
	return Transient(err)
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientIO) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransientIO, err)
}

// IsUniqueViolation reports duplicate-key errors from postgres or sqlite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique failed")
}

// HTTPStatus maps an error kind to the status the API answers with.
func HTTPStatus(err error) (int, string) {
	var payErr *PaymentError
	switch {
	case errors.As(err, &payErr):
		if payErr.Charged {
			return http.StatusInternalServerError, payErr.Code()
		}
		return http.StatusPaymentRequired, payErr.Code()
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, ErrTransientIO):
		return http.StatusServiceUnavailable, "TEMPORARILY_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
