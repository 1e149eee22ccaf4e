package payment

import (
	"time"

	"marketplace/internal/domain/catalog"
)

// Order records one successful advance payment. PaymentID is the gateway
// transaction id and is unique. A request has at most one order with
// Payment set.
type Order struct {
	ID        int64 `gorm:"primaryKey" json:"id"`
	RequestID int64 `gorm:"column:request_id;not null;index;index:idx_orders_effective_request,unique,where:payment = true" json:"request_id"`
	catalog.RefColumns
	UserID          int64     `gorm:"column:user_id;not null;index" json:"user_id"`
	Payment         bool      `gorm:"column:payment;not null;default:false" json:"payment"`
	PaymentID       string    `gorm:"column:payment_id;size:128;not null;uniqueIndex" json:"payment_id"`
	TotalPrice      float64   `gorm:"column:totalprice;not null" json:"totalprice"`
	PayedAmount     float64   `gorm:"column:payedamount;not null" json:"payedamount"`
	RemainingAmount float64   `gorm:"column:remainingamount;not null" json:"remainingamount"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Order) TableName() string { return "orders" }

type IntentStatus string

const (
	IntentCreated IntentStatus = "created"
	IntentPaid    IntentStatus = "paid"
	IntentFailed  IntentStatus = "failed"
)

// Intent is a payment started at the gateway and not yet confirmed.
type Intent struct {
	ID            int64        `gorm:"primaryKey" json:"id"`
	RequestID     int64        `gorm:"column:request_id;not null;index" json:"request_id"`
	PayerID       int64        `gorm:"column:payer_id;not null" json:"payer_id"`
	InvID         int64        `gorm:"column:inv_id;not null;uniqueIndex" json:"inv_id"`
	OutSum        string       `gorm:"column:out_sum;size:32;not null" json:"out_sum"`
	Currency      string       `gorm:"column:currency;size:8" json:"currency"`
	Status        IntentStatus `gorm:"column:status;size:16;not null;default:created" json:"status"`
	PaymentURL    string       `gorm:"column:payment_url;type:text" json:"payment_url"`
	ResultRawBody string       `gorm:"column:result_raw_body;type:text" json:"-"`
	FailureReason string       `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	PaidAt        *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt     time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (Intent) TableName() string { return "payment_intents" }

func Models() []any { return []any{&Order{}, &Intent{}} }
