package payment

import (
	"context"
	"errors"
)

// Result is what the gateway reported for a charge attempt.
type Result struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason,omitempty"`
}

// IntentRequest asks the gateway to start a payment.
type IntentRequest struct {
	RequestID   int64
	Amount      float64
	Currency    string
	Description string
}

// GatewayIntent is the gateway's answer: where to send the payer.
type GatewayIntent struct {
	InvID        int64  `json:"inv_id"`
	OutSum       string `json:"out_sum"`
	Currency     string `json:"currency"`
	PaymentURL   string `json:"payment_url"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Gateway starts payments. Completion arrives through Reconcile.
type Gateway interface {
	CreateIntent(ctx context.Context, in IntentRequest) (*GatewayIntent, error)
}

// CallbackVerifier authenticates asynchronous result notifications.
type CallbackVerifier interface {
	VerifyResult(outSum string, invID int64, signature string, shp map[string]string) error
}

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrAmountMismatch   = errors.New("amount mismatch")
	ErrNotConfigured    = errors.New("payment gateway is not configured")
)
