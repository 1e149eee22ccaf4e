package request

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"marketplace/internal/domain/catalog"
	"marketplace/internal/pkg/apperr"
)

type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id int64) (*Request, error)
	ListSent(ctx context.Context, userID int64) ([]*Request, error)
	ListReceived(ctx context.Context, ownerID int64) ([]*Request, error)
	// ResolvePending moves a pending request to status and reports whether
	// this call won. A false result means the request was no longer pending.
	ResolvePending(ctx context.Context, id int64, status Status) (bool, error)
	Delete(ctx context.Context, id int64) error
	MarkRead(ctx context.Context, id int64) error
	SetPaymentStatus(ctx context.Context, id int64, status PaymentStatus) error
	CountReceivedUnseen(ctx context.Context, ownerID int64) (int64, error)
	MarkReceivedSeen(ctx context.Context, ownerID int64) (int64, error)
	// WithTx binds the repository to a running transaction.
	WithTx(tx *gorm.DB) Repository
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, req *Request) error {
	if _, err := req.Ref(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return apperr.Transient(err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Request, error) {
	var req Request
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, apperr.FromDB(err, "request", id)
	}
	return &req, nil
}

func (r *repository) ListSent(ctx context.Context, userID int64) ([]*Request, error) {
	var list []*Request
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&list).Error
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return list, nil
}

func (r *repository) ListReceived(ctx context.Context, ownerID int64) ([]*Request, error) {
	var list []*Request
	err := r.received(ctx, ownerID).
		Order("created_at DESC, id DESC").
		Find(&list).Error
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return list, nil
}

// received selects requests on the owner's listings, excluding the
// owner's own requests.
func (r *repository) received(ctx context.Context, ownerID int64) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&Request{}).
		Where(ownedBy(), sql.Named("owner", ownerID)).
		Where("user_id <> ?", ownerID)
}

// ownedBy matches a request whose listing column points at a listing of
// @owner.
func ownedBy() string {
	kinds := catalog.Kinds()
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s IN (SELECT id FROM %s WHERE owner_id = @owner)", catalog.Column(k), catalog.TableFor(k)))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (r *repository) ResolvePending(ctx context.Context, id int64, status Status) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Request{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":         status,
			"is_action_read": true,
			"is_read":        true,
		})
	if res.Error != nil {
		return false, apperr.Transient(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&Request{}, id)
	if res.Error != nil {
		return apperr.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("request", id)
	}
	return nil
}

func (r *repository) MarkRead(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).
		Model(&Request{}).
		Where("id = ? AND is_read = ?", id, false).
		Update("is_read", true).Error
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

func (r *repository) SetPaymentStatus(ctx context.Context, id int64, status PaymentStatus) error {
	res := r.db.WithContext(ctx).
		Model(&Request{}).
		Where("id = ? AND status = ?", id, StatusAccepted).
		Update("payment_status", status)
	if res.Error != nil {
		return apperr.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidState("request %d is not accepted", id)
	}
	return nil
}

func (r *repository) CountReceivedUnseen(ctx context.Context, ownerID int64) (int64, error) {
	var n int64
	if err := r.received(ctx, ownerID).Where("is_action_read = ?", false).Count(&n).Error; err != nil {
		return 0, apperr.Transient(err)
	}
	return n, nil
}

func (r *repository) MarkReceivedSeen(ctx context.Context, ownerID int64) (int64, error) {
	res := r.received(ctx, ownerID).
		Where("is_action_read = ?", false).
		Update("is_action_read", true)
	if res.Error != nil {
		return 0, apperr.Transient(res.Error)
	}
	return res.RowsAffected, nil
}
