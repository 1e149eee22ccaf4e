package chat

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"marketplace/internal/feed"
	"marketplace/internal/pkg/apperr"
)

const maxBodyLen = 4000

// Message is a direct message between two users.
type Message struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	SenderID    int64     `gorm:"column:sender_id;not null;index" json:"sender_id"`
	RecipientID int64     `gorm:"column:recipient_id;not null;index:idx_messages_recipient_unread,priority:1" json:"recipient_id"`
	Body        string    `gorm:"column:body;type:text;not null" json:"body"`
	IsRead      bool      `gorm:"column:is_read;not null;default:false;index:idx_messages_recipient_unread,priority:2" json:"is_read"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

func Models() []any { return []any{&Message{}} }

type Repository interface {
	Create(ctx context.Context, msg *Message) error
	// UnreadBySender groups the recipient's unread messages by sender.
	UnreadBySender(ctx context.Context, recipientID int64) (map[int64]int, error)
	// MarkReadFrom marks every unread message from sender to recipient as
	// read and returns how many changed.
	MarkReadFrom(ctx context.Context, recipientID, senderID int64) (int64, error)
}

type repository struct {
	db   *gorm.DB
	feed feed.Publisher
	log  logrus.FieldLogger
}

func NewRepository(db *gorm.DB, publisher feed.Publisher, log logrus.FieldLogger) Repository {
	return &repository{db: db, feed: publisher, log: log}
}

func (r *repository) Create(ctx context.Context, msg *Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return apperr.Transient(err)
	}
	r.emit(ctx, feed.OpInsert, msg.ID, msg.RecipientID)
	return nil
}

func (r *repository) UnreadBySender(ctx context.Context, recipientID int64) (map[int64]int, error) {
	var rows []struct {
		SenderID int64
		Cnt      int
	}
	err := r.db.WithContext(ctx).
		Model(&Message{}).
		Select("sender_id, COUNT(*) AS cnt").
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Transient(err)
	}
	out := make(map[int64]int, len(rows))
	for _, row := range rows {
		out[row.SenderID] = row.Cnt
	}
	return out, nil
}

func (r *repository) MarkReadFrom(ctx context.Context, recipientID, senderID int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&Message{}).
		Where("recipient_id = ? AND sender_id = ? AND is_read = ?", recipientID, senderID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, apperr.Transient(res.Error)
	}
	if res.RowsAffected > 0 {
		r.emit(ctx, feed.OpUpdate, 0, recipientID)
	}
	return res.RowsAffected, nil
}

func (r *repository) emit(ctx context.Context, op string, rowID int64, userIDs ...int64) {
	feed.Emit(ctx, r.feed, feed.Event{Table: feed.TableMessages, Op: op, RowID: rowID, UserIDs: userIDs}, func(err error) {
		r.log.WithError(err).WithField("table", feed.TableMessages).Warn("feed publish failed")
	})
}

// Service validates and stores messages.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Send(ctx context.Context, senderID, recipientID int64, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	switch {
	case recipientID <= 0:
		return nil, apperr.Validation("recipient_id is required")
	case recipientID == senderID:
		return nil, apperr.Validation("cannot message yourself")
	case body == "":
		return nil, apperr.Validation("message body is empty")
	case len(body) > maxBodyLen:
		return nil, apperr.Validation("message body exceeds %d characters", maxBodyLen)
	}

	msg := &Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) UnreadBySender(ctx context.Context, recipientID int64) (map[int64]int, error) {
	return s.repo.UnreadBySender(ctx, recipientID)
}

func (s *Service) MarkReadFrom(ctx context.Context, recipientID, senderID int64) (int64, error) {
	return s.repo.MarkReadFrom(ctx, recipientID, senderID)
}
