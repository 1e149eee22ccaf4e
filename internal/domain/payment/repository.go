package payment

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace/internal/pkg/apperr"
)

var (
	errNoOrder     = errors.New("order not found")
	errAlreadyPaid = errors.New("request already has a paid order")
)

type OrderRepository interface {
	// FindByPaymentID returns errNoOrder when the transaction is unknown.
	FindByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	// FindEffective returns the paid order of a request, or errNoOrder.
	FindEffective(ctx context.Context, requestID int64) (*Order, error)
	Create(ctx context.Context, o *Order) error
	ListByRequest(ctx context.Context, requestID int64) ([]*Order, error)
	WithTx(tx *gorm.DB) OrderRepository
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) WithTx(tx *gorm.DB) OrderRepository {
	return &orderRepository{db: tx}
}

func (r *orderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	var o Order
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNoOrder
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return &o, nil
}

func (r *orderRepository) FindEffective(ctx context.Context, requestID int64) (*Order, error) {
	var o Order
	err := r.db.WithContext(ctx).Where("request_id = ? AND payment = ?", requestID, true).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNoOrder
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return &o, nil
}

// Create returns the raw driver error so callers can detect duplicate
// payment ids.
func (r *orderRepository) Create(ctx context.Context, o *Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *orderRepository) ListByRequest(ctx context.Context, requestID int64) ([]*Order, error) {
	var list []*Order
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at DESC, id DESC").
		Find(&list).Error
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return list, nil
}

type IntentRepository interface {
	Create(ctx context.Context, in *Intent) error
	GetByInvID(ctx context.Context, invID int64) (*Intent, error)
	MarkFailed(ctx context.Context, invID int64, rawBody, reason string) error
	// MarkPaidIdempotent flips the intent to paid and reports whether this
	// call changed it.
	MarkPaidIdempotent(ctx context.Context, invID int64, rawBody string, paidAt time.Time) (bool, error)
}

type intentRepository struct {
	db *gorm.DB
}

func NewIntentRepository(db *gorm.DB) IntentRepository {
	return &intentRepository{db: db}
}

func (r *intentRepository) Create(ctx context.Context, in *Intent) error {
	if err := r.db.WithContext(ctx).Create(in).Error; err != nil {
		return apperr.Transient(err)
	}
	return nil
}

func (r *intentRepository) GetByInvID(ctx context.Context, invID int64) (*Intent, error) {
	var in Intent
	if err := r.db.WithContext(ctx).Where("inv_id = ?", invID).First(&in).Error; err != nil {
		return nil, apperr.FromDB(err, "payment intent", invID)
	}
	return &in, nil
}

func (r *intentRepository) MarkFailed(ctx context.Context, invID int64, rawBody, reason string) error {
	err := r.db.WithContext(ctx).
		Model(&Intent{}).
		Where("inv_id = ? AND status <> ?", invID, IntentPaid).
		Updates(map[string]any{
			"status":          IntentFailed,
			"result_raw_body": rawBody,
			"failure_reason":  reason,
		}).Error
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

func (r *intentRepository) MarkPaidIdempotent(ctx context.Context, invID int64, rawBody string, paidAt time.Time) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var in Intent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("inv_id = ?", invID).First(&in).Error; err != nil {
			return err
		}
		if in.Status == IntentPaid {
			return nil
		}
		res := tx.Model(&Intent{}).Where("inv_id = ?", invID).Updates(map[string]any{
			"status":          IntentPaid,
			"result_raw_body": rawBody,
			"paid_at":         paidAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("payment intent not updated")
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, apperr.FromDB(err, "payment intent", invID)
	}
	return changed, nil
}
