package request

import (
	"time"

	"marketplace/internal/domain/availability"
	"marketplace/internal/domain/catalog"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRefused  Status = "refused"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Decision is the owner's answer to a pending request.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionRefuse Decision = "refuse"
)

func (d Decision) status() (Status, bool) {
	switch d {
	case DecisionAccept:
		return StatusAccepted, true
	case DecisionRefuse:
		return StatusRefused, true
	}
	return "", false
}

// Request is a user's ask for a listing slot.
type Request struct {
	ID     int64 `gorm:"primaryKey" json:"id"`
	UserID int64 `gorm:"column:user_id;not null;index" json:"user_id"`
	catalog.RefColumns
	AvailabilityID *int64         `gorm:"column:availability_id" json:"availability_id,omitempty"`
	Status         Status         `gorm:"column:status;size:16;not null;default:pending;index" json:"status"`
	PaymentStatus  *PaymentStatus `gorm:"column:payment_status;size:16" json:"payment_status"`
	IsRead         bool           `gorm:"column:is_read;not null;default:false" json:"is_read"`
	IsActionRead   bool           `gorm:"column:is_action_read;not null;default:false" json:"is_action_read"`
	CreatedAt      time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (Request) TableName() string { return "requests" }

func Models() []any { return []any{&Request{}} }

// Ref decodes the stored service reference.
func (r *Request) Ref() (catalog.ServiceRef, error) {
	return r.RefColumns.Ref()
}

// PaymentCompleted reports whether the advance has been recorded.
func (r *Request) PaymentCompleted() bool {
	return r.PaymentStatus != nil && *r.PaymentStatus == PaymentCompleted
}

// Terminal reports whether the request has reached an end state: refused,
// or accepted and paid.
func (r *Request) Terminal() bool {
	return r.Status == StatusRefused || (r.Status == StatusAccepted && r.PaymentCompleted())
}

// View is the projection returned to clients: the request with its
// listing, requester and slot.
type View struct {
	ID            int64               `json:"id"`
	Status        Status              `json:"status"`
	PaymentStatus *PaymentStatus      `json:"payment_status"`
	IsRead        bool                `json:"is_read"`
	IsActionRead  bool                `json:"is_action_read"`
	CreatedAt     time.Time           `json:"created_at"`
	Service       *catalog.Listing    `json:"service"`
	Requester     catalog.UserSummary `json:"requester"`
	Slot          *availability.Slot  `json:"slot,omitempty"`
}

// Quote is the price breakdown of a request.
type Quote struct {
	RequestID int64   `json:"request_id"`
	Hours     float64 `json:"hours"`
	Total     float64 `json:"total"`
	Advance   float64 `json:"advance"`
	Remaining float64 `json:"remaining"`
}
