package notification

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"marketplace/internal/feed"
	"marketplace/internal/pkg/apperr"
)

const batchSize = 200

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	CreateBatch(ctx context.Context, list []*Notification) error
	List(ctx context.Context, userID int64, limit, offset int) ([]*Notification, int64, error)
	CountUnread(ctx context.Context, userID int64) (int64, error)
	CountUnreadByType(ctx context.Context, userID int64, t Type) (int64, error)
	MarkAsRead(ctx context.Context, id, userID int64) error
	MarkAllAsRead(ctx context.Context, userID int64) (int64, error)
	MarkTypeRead(ctx context.Context, userID int64, t Type) (int64, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

type repository struct {
	db   *gorm.DB
	feed feed.Publisher
	log  logrus.FieldLogger
}

func NewRepository(db *gorm.DB, publisher feed.Publisher, log logrus.FieldLogger) Repository {
	return &repository{db: db, feed: publisher, log: log}
}

func (r *repository) Create(ctx context.Context, n *Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return apperr.Transient(err)
	}
	r.emit(ctx, feed.OpInsert, n.ID, n.UserID)
	return nil
}

func (r *repository) CreateBatch(ctx context.Context, list []*Notification) error {
	if len(list) == 0 {
		return nil
	}
	now := time.Now()
	users := make([]int64, 0, len(list))
	for _, n := range list {
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		users = append(users, n.UserID)
	}
	if err := r.db.WithContext(ctx).CreateInBatches(list, batchSize).Error; err != nil {
		return apperr.Transient(err)
	}
	r.emit(ctx, feed.OpInsert, 0, users...)
	return nil
}

func (r *repository) List(ctx context.Context, userID int64, limit, offset int) ([]*Notification, int64, error) {
	var total int64
	base := r.db.WithContext(ctx).Model(&Notification{}).Where("user_id = ?", userID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, apperr.Transient(err)
	}

	var list []*Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&list).Error
	if err != nil {
		return nil, 0, apperr.Transient(err)
	}
	return list, total, nil
}

func (r *repository) CountUnread(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Transient(err)
	}
	return count, nil
}

func (r *repository) CountUnreadByType(ctx context.Context, userID int64, t Type) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND type = ? AND is_read = ?", userID, t, false).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Transient(err)
	}
	return count, nil
}

func (r *repository) MarkAsRead(ctx context.Context, id, userID int64) error {
	res := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"is_read": true, "read_at": time.Now()})
	if res.Error != nil {
		return apperr.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("notification", id)
	}
	r.emit(ctx, feed.OpUpdate, id, userID)
	return nil
}

func (r *repository) MarkAllAsRead(ctx context.Context, userID int64) (int64, error) {
	return r.markRead(ctx, r.db.WithContext(ctx).Where("user_id = ? AND is_read = ?", userID, false), userID)
}

func (r *repository) MarkTypeRead(ctx context.Context, userID int64, t Type) (int64, error) {
	return r.markRead(ctx, r.db.WithContext(ctx).Where("user_id = ? AND type = ? AND is_read = ?", userID, t, false), userID)
}

func (r *repository) markRead(ctx context.Context, q *gorm.DB, userID int64) (int64, error) {
	res := q.Model(&Notification{}).Updates(map[string]any{"is_read": true, "read_at": time.Now()})
	if res.Error != nil {
		return 0, apperr.Transient(res.Error)
	}
	if res.RowsAffected > 0 {
		r.emit(ctx, feed.OpUpdate, 0, userID)
	}
	return res.RowsAffected, nil
}

func (r *repository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", time.Now().Add(-age)).
		Delete(&Notification{})
	if res.Error != nil {
		return 0, apperr.Transient(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *repository) emit(ctx context.Context, op string, rowID int64, userIDs ...int64) {
	feed.Emit(ctx, r.feed, feed.Event{Table: feed.TableNotifications, Op: op, RowID: rowID, UserIDs: userIDs}, func(err error) {
		r.log.WithError(err).WithField("table", feed.TableNotifications).Warn("feed publish failed")
	})
}
