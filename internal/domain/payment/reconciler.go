package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"marketplace/internal/domain/catalog"
	"marketplace/internal/domain/pricing"
	"marketplace/internal/domain/request"
	"marketplace/internal/feed"
	"marketplace/internal/pkg/apperr"
)

// RequestLoader resolves a request with its listing and prices it.
type RequestLoader interface {
	Load(ctx context.Context, requestID int64) (*request.Request, *catalog.Listing, error)
	PricingFor(ctx context.Context, req *request.Request, listing *catalog.Listing) (pricing.Listing, error)
}

// Notifier is told about recorded payments. Its result is advisory.
type Notifier interface {
	PaymentReceived(ctx context.Context, ownerID, requestID int64, serviceTitle string, amount float64, paymentID string) bool
}

// Input is one gateway outcome to reconcile.
type Input struct {
	Result     Result
	RequestID  int64
	Ref        catalog.ServiceRef
	PayerID    int64
	Amount     float64
	TotalPrice float64
}

// Reconciler records gateway outcomes against accepted requests.
type Reconciler struct {
	db       *gorm.DB
	requests request.Repository
	catalog  catalog.Repository
	loader   RequestLoader
	orders   OrderRepository
	intents  IntentRepository
	gateway  Gateway
	verifier CallbackVerifier
	notifier Notifier
	feed     feed.Publisher
	log      logrus.FieldLogger
	currency string
}

type Deps struct {
	DB       *gorm.DB
	Requests request.Repository
	Catalog  catalog.Repository
	Loader   RequestLoader
	Orders   OrderRepository
	Intents  IntentRepository
	Gateway  Gateway
	Verifier CallbackVerifier
	Notifier Notifier
	Feed     feed.Publisher
	Log      logrus.FieldLogger
	Currency string
}

func NewReconciler(d Deps) *Reconciler {
	return &Reconciler{
		db:       d.DB,
		requests: d.Requests,
		catalog:  d.Catalog,
		loader:   d.Loader,
		orders:   d.Orders,
		intents:  d.Intents,
		gateway:  d.Gateway,
		verifier: d.Verifier,
		notifier: d.Notifier,
		feed:     d.Feed,
		log:      d.Log,
		currency: d.Currency,
	}
}

// Reconcile applies a gateway result. A repeated success with the same
// payment id returns the order already stored and notifies nobody.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (*Order, error) {
	if in.Ref.IsZero() {
		return nil, apperr.Validation("a service reference is required")
	}
	if in.Result.Success && (math.IsNaN(in.Amount) || in.Amount <= 0) {
		return nil, apperr.Validation("payment amount must be positive")
	}

	listing, err := r.catalog.Resolve(ctx, in.Ref)
	if err != nil {
		return nil, err
	}
	req, err := r.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if ref, err := req.Ref(); err != nil || ref != in.Ref {
		return nil, apperr.Validation("request %d is not for %s", in.RequestID, in.Ref)
	}
	if req.UserID != in.PayerID {
		return nil, apperr.ErrForbidden
	}
	if req.Status != request.StatusAccepted {
		return nil, apperr.InvalidState("request %d is %s, payment needs an accepted request", req.ID, req.Status)
	}

	entry := r.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"payment_id": in.Result.PaymentID,
	})

	if !in.Result.Success {
		if !req.PaymentCompleted() {
			if err := r.requests.SetPaymentStatus(ctx, req.ID, request.PaymentFailed); err != nil {
				entry.WithError(err).Error("payment: could not mark request failed")
			} else {
				r.emit(ctx, feed.TableRequests, req.ID, req.UserID, listing.OwnerID)
			}
		}
		entry.WithField("reason", in.Result.Reason).Warn("payment: gateway declined")
		return nil, &apperr.PaymentError{Stage: apperr.StageGateway, Charged: false, Reason: in.Result.Reason}
	}
	if in.Result.PaymentID == "" {
		return nil, &apperr.PaymentError{Stage: apperr.StageRecord, Charged: true, Reason: "gateway returned no payment id"}
	}

	if existing, err := r.alreadyRecorded(ctx, req, in.Result.PaymentID); err != nil || existing != nil {
		return existing, err
	}
	if req.PaymentCompleted() {
		return nil, r.secondCharge(entry, req.ID)
	}

	total := pricing.NonNegative(in.TotalPrice)
	order := &Order{
		RequestID:       req.ID,
		RefColumns:      catalog.ColumnsOf(in.Ref),
		UserID:          in.PayerID,
		Payment:         true,
		PaymentID:       in.Result.PaymentID,
		TotalPrice:      total,
		PayedAmount:     pricing.NonNegative(in.Amount),
		RemainingAmount: pricing.NonNegative(total - in.Amount),
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orders := r.orders.WithTx(tx)
		if _, err := orders.FindEffective(ctx, req.ID); err == nil {
			return errAlreadyPaid
		} else if !errors.Is(err, errNoOrder) {
			return err
		}
		if err := orders.Create(ctx, order); err != nil {
			return err
		}
		return r.requests.WithTx(tx).SetPaymentStatus(ctx, req.ID, request.PaymentCompleted)
	})
	if err != nil {
		switch {
		case errors.Is(err, errAlreadyPaid):
			return nil, r.secondCharge(entry, req.ID)
		case apperr.IsUniqueViolation(err):
			entry.Info("payment: concurrent reconcile already stored a payment")
			existing, err := r.alreadyRecorded(ctx, req, in.Result.PaymentID)
			if err != nil || existing != nil {
				return existing, err
			}
			return nil, r.secondCharge(entry, req.ID)
		}
		entry.WithError(err).Error("payment: charged but not recorded")
		return nil, &apperr.PaymentError{Stage: apperr.StageRecord, Charged: true, Err: err}
	}

	r.emit(ctx, feed.TableOrders, order.ID, req.UserID, listing.OwnerID)
	r.emit(ctx, feed.TableRequests, req.ID, req.UserID, listing.OwnerID)
	entry.WithField("amount", order.PayedAmount).Info("payment: recorded")

	r.notifier.PaymentReceived(ctx, listing.OwnerID, req.ID, listing.Title, order.PayedAmount, order.PaymentID)
	return order, nil
}

// secondCharge reports a success for a request that already has its paid
// order. The money has to be refunded by hand.
func (r *Reconciler) secondCharge(entry *logrus.Entry, requestID int64) error {
	entry.Error("payment: request already paid, second charge needs a refund")
	return apperr.InvalidState("request %d is already paid", requestID)
}

// alreadyRecorded returns the stored order for paymentID, making sure the
// request shows as paid. Nil, nil means the payment is new.
func (r *Reconciler) alreadyRecorded(ctx context.Context, req *request.Request, paymentID string) (*Order, error) {
	existing, err := r.orders.FindByPaymentID(ctx, paymentID)
	if errors.Is(err, errNoOrder) {
		return nil, nil
	}
	if err != nil {
		return nil, &apperr.PaymentError{Stage: apperr.StageRecord, Charged: true, Err: err}
	}
	if existing.RequestID != req.ID {
		return nil, apperr.Validation("payment %s belongs to another request", paymentID)
	}
	if !req.PaymentCompleted() {
		if err := r.requests.SetPaymentStatus(ctx, req.ID, request.PaymentCompleted); err != nil {
			return nil, &apperr.PaymentError{Stage: apperr.StageRecord, Charged: true, Err: err}
		}
	}
	return existing, nil
}

// ReconcileRequest reconciles using the stored request for the service
// reference and total price.
func (r *Reconciler) ReconcileRequest(ctx context.Context, requestID, payerID int64, result Result, amount float64) (*Order, error) {
	req, listing, err := r.loader.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	pl, err := r.loader.PricingFor(ctx, req, listing)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, Input{
		Result:     result,
		RequestID:  requestID,
		Ref:        listing.Ref,
		PayerID:    payerID,
		Amount:     amount,
		TotalPrice: pricing.TotalPrice(pl),
	})
}

// IntentResponse tells the client where to pay and how much.
type IntentResponse struct {
	RequestID int64   `json:"request_id"`
	Total     float64 `json:"total"`
	Advance   float64 `json:"advance"`
	*GatewayIntent
}

// CreateIntent starts paying the advance of an accepted request.
func (r *Reconciler) CreateIntent(ctx context.Context, requestID, payerID int64) (*IntentResponse, error) {
	req, listing, err := r.loader.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != payerID {
		return nil, apperr.ErrForbidden
	}
	if req.Status != request.StatusAccepted {
		return nil, apperr.InvalidState("request %d is %s, payment needs an accepted request", req.ID, req.Status)
	}
	if req.PaymentCompleted() {
		return nil, apperr.InvalidState("request %d is already paid", req.ID)
	}

	pl, err := r.loader.PricingFor(ctx, req, listing)
	if err != nil {
		return nil, err
	}
	total := pricing.TotalPrice(pl)
	advance := pricing.AdvancePayment(pl, total)
	if advance <= 0 {
		return nil, apperr.Validation("nothing to pay for request %d", req.ID)
	}

	gi, err := r.gateway.CreateIntent(ctx, IntentRequest{
		RequestID:   req.ID,
		Amount:      advance,
		Currency:    r.currency,
		Description: fmt.Sprintf("Advance for %s (request #%d)", listing.Title, req.ID),
	})
	if err != nil {
		return nil, &apperr.PaymentError{Stage: apperr.StageGateway, Charged: false, Err: err}
	}

	if err := r.intents.Create(ctx, &Intent{
		RequestID:  req.ID,
		PayerID:    payerID,
		InvID:      gi.InvID,
		OutSum:     gi.OutSum,
		Currency:   gi.Currency,
		Status:     IntentCreated,
		PaymentURL: gi.PaymentURL,
	}); err != nil {
		return nil, err
	}
	if err := r.requests.SetPaymentStatus(ctx, req.ID, request.PaymentPending); err != nil {
		r.log.WithError(err).WithField("request_id", req.ID).Error("payment: could not mark request pending")
	} else {
		r.emit(ctx, feed.TableRequests, req.ID, req.UserID, listing.OwnerID)
	}

	return &IntentResponse{RequestID: req.ID, Total: total, Advance: advance, GatewayIntent: gi}, nil
}

// HandleResultCallback processes an asynchronous result notification and
// returns the acknowledgement body the gateway expects.
func (r *Reconciler) HandleResultCallback(ctx context.Context, outSum string, invID int64, signature string, shp map[string]string, rawBody string) (string, error) {
	entry := r.log.WithField("inv_id", invID)
	if r.verifier == nil {
		return "", ErrNotConfigured
	}
	if err := r.verifier.VerifyResult(outSum, invID, signature, shp); err != nil {
		entry.WithError(err).Warn("payment: callback rejected")
		if merr := r.intents.MarkFailed(ctx, invID, rawBody, err.Error()); merr != nil {
			entry.WithError(merr).Error("payment: could not mark intent failed")
		}
		return "", err
	}

	intent, err := r.intents.GetByInvID(ctx, invID)
	if err != nil {
		return "", err
	}
	if !amountEqual(outSum, intent.OutSum) {
		reason := fmt.Sprintf("amount mismatch callback=%s expected=%s", outSum, intent.OutSum)
		entry.Warn("payment: " + reason)
		if merr := r.intents.MarkFailed(ctx, invID, rawBody, reason); merr != nil {
			entry.WithError(merr).Error("payment: could not mark intent failed")
		}
		return "", ErrAmountMismatch
	}
	amount, err := strconv.ParseFloat(intent.OutSum, 64)
	if err != nil {
		return "", apperr.Validation("stored amount %q is malformed", intent.OutSum)
	}

	paymentID := robokassaPaymentID(invID)
	if _, err := r.ReconcileRequest(ctx, intent.RequestID, intent.PayerID, Result{Success: true, PaymentID: paymentID}, amount); err != nil {
		return "", err
	}

	changed, err := r.intents.MarkPaidIdempotent(ctx, invID, rawBody, time.Now().UTC())
	if err != nil {
		entry.WithError(err).Error("payment: intent not marked paid")
	} else if !changed {
		entry.Info("payment: idempotent callback, already paid")
	}
	return "OK" + strconv.FormatInt(invID, 10), nil
}

// Confirm handles an outcome reported by the payer's client. A failure is
// recorded as reported. A success is only believed for an intent of this
// request and payer that the signed gateway callback has already marked
// paid; it then returns the order that callback stored.
func (r *Reconciler) Confirm(ctx context.Context, requestID, payerID int64, result Result, amount float64) (*Order, error) {
	if !result.Success {
		return r.ReconcileRequest(ctx, requestID, payerID, result, amount)
	}

	invID, ok := parseRobokassaPaymentID(result.PaymentID)
	if !ok {
		return nil, apperr.Validation("payment %q was not started through this service", result.PaymentID)
	}
	intent, err := r.intents.GetByInvID(ctx, invID)
	if err != nil {
		return nil, err
	}
	if intent.RequestID != requestID || intent.PayerID != payerID {
		return nil, apperr.ErrForbidden
	}
	if !amountEqual(FormatAmount(amount), intent.OutSum) {
		return nil, apperr.Validation("amount %s does not match the payment of %s", FormatAmount(amount), intent.OutSum)
	}
	if intent.Status != IntentPaid {
		return nil, apperr.InvalidState("payment %s is not confirmed by the gateway yet", result.PaymentID)
	}

	order, err := r.orders.FindByPaymentID(ctx, result.PaymentID)
	if errors.Is(err, errNoOrder) {
		// paid intent without an order: the callback stopped halfway
		return r.ReconcileRequest(ctx, requestID, payerID, result, amount)
	}
	return order, err
}

// Orders lists the orders of a request for its requester or owner.
func (r *Reconciler) Orders(ctx context.Context, requestID, actorID int64) ([]*Order, error) {
	req, listing, err := r.loader.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorID != req.UserID && actorID != listing.OwnerID {
		return nil, apperr.ErrForbidden
	}
	return r.orders.ListByRequest(ctx, requestID)
}

func (r *Reconciler) emit(ctx context.Context, table string, rowID int64, userIDs ...int64) {
	feed.Emit(ctx, r.feed, feed.Event{Table: table, Op: feed.OpUpdate, RowID: rowID, UserIDs: userIDs}, func(err error) {
		r.log.WithError(err).WithField("table", table).Warn("feed publish failed")
	})
}
