package notification

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeRequest  Type = "request"  // owner: someone asked for a slot
	TypeResponse Type = "response" // requester: the owner decided
	TypePayment  Type = "payment"  // owner: advance received
	TypeTicket   Type = "ticket"   // event join flow
	TypeUpdate   Type = "update"   // follower: new content from a creator
)

// Notification is append-only apart from the read flag.
type Notification struct {
	ID        int64          `gorm:"primaryKey;column:id" json:"id"`
	UserID    int64          `gorm:"column:user_id;not null;index:idx_notifications_user_unread,priority:1" json:"user_id"`
	Type      Type           `gorm:"column:type;size:16;not null" json:"type"`
	Title     string         `gorm:"column:title;not null" json:"title"`
	Message   string         `gorm:"column:message;type:text" json:"message"`
	RelatedID *int64         `gorm:"column:related_id" json:"related_id,omitempty"`
	Data      datatypes.JSON `gorm:"column:data" json:"data,omitempty"`
	IsRead    bool           `gorm:"column:is_read;not null;default:false;index:idx_notifications_user_unread,priority:2" json:"is_read"`
	ReadAt    *time.Time     `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func Models() []any { return []any{&Notification{}} }

// Payload is the structured part of a notification.
type Payload struct {
	RequestID *int64   `json:"request_id,omitempty"`
	Service   string   `json:"service,omitempty"`
	Decision  string   `json:"decision,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
	PaymentID string   `json:"payment_id,omitempty"`
	CreatorID *int64   `json:"creator_id,omitempty"`
	GroupID   *int64   `json:"group_id,omitempty"`
}

func encodePayload(p *Payload) datatypes.JSON {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// GetPayload decodes Data. A missing or malformed payload yields an empty
// one.
func (n *Notification) GetPayload() *Payload {
	var p Payload
	if len(n.Data) > 0 {
		_ = json.Unmarshal(n.Data, &p)
	}
	return &p
}
