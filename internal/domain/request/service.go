package request

import (
	"context"

	"github.com/sirupsen/logrus"

	"marketplace/internal/domain/availability"
	"marketplace/internal/domain/catalog"
	"marketplace/internal/domain/notification"
	"marketplace/internal/domain/pricing"
	"marketplace/internal/feed"
	"marketplace/internal/pkg/apperr"
)

// Notifier is the part of the notification dispatcher the lifecycle uses.
// Results are advisory; a false return never fails the transition.
type Notifier interface {
	RequestCreated(ctx context.Context, ownerID, requestID int64, serviceTitle string) bool
	RequestResolved(ctx context.Context, requesterID, requestID int64, serviceTitle, decision string) bool
	EventJoinRequested(ctx context.Context, organizerID, requestID int64, eventTitle string) bool
	EventJoinResolved(ctx context.Context, requesterID, requestID int64, eventTitle, decision string) bool
}

// ResponseNotices counts and clears the status-change notices a requester
// has not looked at yet.
type ResponseNotices interface {
	CountUnreadByType(ctx context.Context, userID int64, t notification.Type) (int64, error)
	MarkTypeRead(ctx context.Context, userID int64, t notification.Type) (int64, error)
}

// UnseenKind selects which badge CountUnseen and MarkSeen act on.
type UnseenKind string

const (
	UnseenReceived UnseenKind = "received"
	UnseenSent     UnseenKind = "sent"
)

type Service struct {
	repo     Repository
	catalog  catalog.Repository
	slots    availability.Repository
	notifier Notifier
	notices  ResponseNotices
	feed     feed.Publisher
	log      logrus.FieldLogger
}

func NewService(
	repo Repository,
	catalogRepo catalog.Repository,
	slots availability.Repository,
	notifier Notifier,
	notices ResponseNotices,
	publisher feed.Publisher,
	log logrus.FieldLogger,
) *Service {
	return &Service{
		repo:     repo,
		catalog:  catalogRepo,
		slots:    slots,
		notifier: notifier,
		notices:  notices,
		feed:     publisher,
		log:      log,
	}
}

// Create records a pending request from requesterID for ref. An organizer
// joining their own event is accepted at once and nobody is notified.
func (s *Service) Create(ctx context.Context, requesterID int64, ref catalog.ServiceRef, availabilityID *int64) (*Request, error) {
	if requesterID <= 0 {
		return nil, apperr.Validation("requester is required")
	}
	if ref.IsZero() {
		return nil, apperr.Validation("a service reference is required")
	}

	listing, err := s.catalog.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	if availabilityID != nil {
		if err := s.checkSlot(ctx, *availabilityID, ref); err != nil {
			return nil, err
		}
	}

	req := &Request{
		UserID:         requesterID,
		RefColumns:     catalog.ColumnsOf(ref),
		AvailabilityID: availabilityID,
		Status:         StatusPending,
	}

	selfJoin := false
	if requesterID == listing.OwnerID {
		if ref.Kind() != catalog.KindEvent {
			return nil, apperr.Validation("you cannot book your own listing")
		}
		selfJoin = true
		req.Status = StatusAccepted
		req.IsRead = true
		req.IsActionRead = true
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	s.emit(ctx, feed.OpInsert, req.ID, requesterID, listing.OwnerID)

	entry := s.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"service":    ref.String(),
		"user_id":    requesterID,
	})
	if selfJoin {
		entry.Info("request: organizer joined own event")
		return req, nil
	}
	entry.Info("request: created")

	if ref.Kind() == catalog.KindEvent {
		s.notifier.EventJoinRequested(ctx, listing.OwnerID, req.ID, listing.Title)
	} else {
		s.notifier.RequestCreated(ctx, listing.OwnerID, req.ID, listing.Title)
	}
	return req, nil
}

func (s *Service) checkSlot(ctx context.Context, slotID int64, ref catalog.ServiceRef) error {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return err
	}
	slotRef, err := slot.Ref()
	if err != nil {
		return err
	}
	if slotRef != ref {
		return apperr.Validation("slot %d does not belong to %s", slotID, ref)
	}
	if !slot.Bookable() {
		return apperr.Validation("slot %d is %s", slotID, slot.StatusDay)
	}
	return nil
}

// Resolve lets the listing owner accept or refuse a pending request. When
// two resolutions race, the loser gets an invalid-state error.
func (s *Service) Resolve(ctx context.Context, requestID, actorID int64, decision Decision) (*Request, error) {
	status, ok := decision.status()
	if !ok {
		return nil, apperr.Validation("unknown decision %q", decision)
	}

	req, listing, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != actorID {
		return nil, apperr.ErrForbidden
	}
	if req.Status != StatusPending {
		return nil, apperr.InvalidState("request %d is already %s", requestID, req.Status)
	}

	won, err := s.repo.ResolvePending(ctx, requestID, status)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperr.InvalidState("request %d was resolved concurrently", requestID)
	}
	req.Status = status
	req.IsRead = true
	req.IsActionRead = true
	s.emit(ctx, feed.OpUpdate, req.ID, req.UserID, listing.OwnerID)

	s.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"status":     status,
	}).Info("request: resolved")

	ref, _ := req.Ref()
	if ref.Kind() == catalog.KindEvent {
		s.notifier.EventJoinResolved(ctx, req.UserID, req.ID, listing.Title, string(status))
	} else {
		s.notifier.RequestResolved(ctx, req.UserID, req.ID, listing.Title, string(status))
	}
	return req, nil
}

// Delete removes a request.
//
// The requester may withdraw a pending request or clear a finished one.
// The owner may clear a finished request only once the requester has seen
// the outcome: refused and read, or accepted and paid.
func (s *Service) Delete(ctx context.Context, requestID, actorID int64) error {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	ownerID := s.ownerOf(ctx, req)

	switch actorID {
	case req.UserID:
		if req.Status != StatusPending && !req.Terminal() {
			return apperr.InvalidState("request %d is awaiting payment", requestID)
		}
	case ownerID:
		acknowledged := (req.Status == StatusRefused && req.IsRead) ||
			(req.Status == StatusAccepted && req.PaymentCompleted())
		if !acknowledged {
			return apperr.InvalidState("request %d is not finished yet", requestID)
		}
	default:
		return apperr.ErrForbidden
	}

	if err := s.repo.Delete(ctx, requestID); err != nil {
		return err
	}
	s.emit(ctx, feed.OpDelete, requestID, req.UserID, ownerID)
	return nil
}

// ownerOf resolves the listing owner, or 0 when the listing is gone.
func (s *Service) ownerOf(ctx context.Context, req *Request) int64 {
	ref, err := req.Ref()
	if err != nil {
		return 0
	}
	listing, err := s.catalog.Resolve(ctx, ref)
	if err != nil {
		return 0
	}
	return listing.OwnerID
}

// MarkRead flags the request as seen by its requester.
func (s *Service) MarkRead(ctx context.Context, requestID, actorID int64) error {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.UserID != actorID {
		return apperr.ErrForbidden
	}
	if req.IsRead {
		return nil
	}
	if err := s.repo.MarkRead(ctx, requestID); err != nil {
		return err
	}
	s.emit(ctx, feed.OpUpdate, requestID, actorID)
	return nil
}

// FetchSent lists the user's own requests, newest first.
func (s *Service) FetchSent(ctx context.Context, userID int64) ([]View, error) {
	list, err := s.repo.ListSent(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, list)
}

// FetchReceived lists requests on the owner's listings, newest first.
func (s *Service) FetchReceived(ctx context.Context, ownerID int64) ([]View, error) {
	list, err := s.repo.ListReceived(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, list)
}

// project loads listings, requesters and slots in one batch per table.
func (s *Service) project(ctx context.Context, list []*Request) ([]View, error) {
	refs := make([]catalog.ServiceRef, 0, len(list))
	userIDs := make([]int64, 0, len(list))
	slotIDs := make([]int64, 0, len(list))
	for _, req := range list {
		if ref, err := req.Ref(); err == nil {
			refs = append(refs, ref)
		}
		userIDs = append(userIDs, req.UserID)
		if req.AvailabilityID != nil {
			slotIDs = append(slotIDs, *req.AvailabilityID)
		}
	}

	listings, err := s.catalog.ResolveMany(ctx, refs)
	if err != nil {
		return nil, err
	}
	users, err := s.catalog.Users(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	slots, err := s.slots.GetByIDs(ctx, slotIDs)
	if err != nil {
		return nil, err
	}

	out := make([]View, 0, len(list))
	for _, req := range list {
		ref, err := req.Ref()
		if err != nil {
			s.log.WithError(err).WithField("request_id", req.ID).Warn("request: corrupt service reference, skipped")
			continue
		}
		v := View{
			ID:            req.ID,
			Status:        req.Status,
			PaymentStatus: req.PaymentStatus,
			IsRead:        req.IsRead,
			IsActionRead:  req.IsActionRead,
			CreatedAt:     req.CreatedAt,
			Service:       listings[ref],
			Requester:     users[req.UserID],
		}
		if v.Requester.ID == 0 {
			v.Requester.ID = req.UserID
		}
		if req.AvailabilityID != nil {
			v.Slot = slots[*req.AvailabilityID]
		}
		out = append(out, v)
	}
	return out, nil
}

// Quote prices the request. Only the requester and the owner may ask.
func (s *Service) Quote(ctx context.Context, requestID, actorID int64) (*Quote, error) {
	req, listing, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorID != req.UserID && actorID != listing.OwnerID {
		return nil, apperr.ErrForbidden
	}
	pl, err := s.PricingFor(ctx, req, listing)
	if err != nil {
		return nil, err
	}

	total := pricing.TotalPrice(pl)
	advance := pricing.AdvancePayment(pl, total)
	return &Quote{
		RequestID: req.ID,
		Hours:     pricing.HoursBetween(pl.Start, pl.End),
		Total:     total,
		Advance:   advance,
		Remaining: pricing.NonNegative(total - advance),
	}, nil
}

// PricingFor combines the listing's rates with the request's slot window.
func (s *Service) PricingFor(ctx context.Context, req *Request, listing *catalog.Listing) (pricing.Listing, error) {
	pl := listing.Pricing
	pl.Start, pl.End = pricing.Unspecified, pricing.Unspecified
	if req.AvailabilityID != nil {
		slot, err := s.slots.GetByID(ctx, *req.AvailabilityID)
		if err != nil {
			return pricing.Listing{}, err
		}
		pl.Start, pl.End = slot.Window()
	}
	return pl, nil
}

// Load returns the request together with its resolved listing.
func (s *Service) Load(ctx context.Context, requestID int64) (*Request, *catalog.Listing, error) {
	return s.load(ctx, requestID)
}

func (s *Service) load(ctx context.Context, requestID int64) (*Request, *catalog.Listing, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	ref, err := req.Ref()
	if err != nil {
		return nil, nil, err
	}
	listing, err := s.catalog.Resolve(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	return req, listing, nil
}

// CountUnseen returns the badge count for kind.
func (s *Service) CountUnseen(ctx context.Context, userID int64, kind UnseenKind) (int64, error) {
	switch kind {
	case UnseenReceived:
		return s.repo.CountReceivedUnseen(ctx, userID)
	case UnseenSent:
		return s.notices.CountUnreadByType(ctx, userID, notification.TypeResponse)
	}
	return 0, apperr.Validation("unknown unseen kind %q", kind)
}

// MarkSeen clears the badge for kind.
func (s *Service) MarkSeen(ctx context.Context, userID int64, kind UnseenKind) error {
	switch kind {
	case UnseenReceived:
		n, err := s.repo.MarkReceivedSeen(ctx, userID)
		if err != nil {
			return err
		}
		if n > 0 {
			s.emit(ctx, feed.OpUpdate, 0, userID)
		}
		return nil
	case UnseenSent:
		_, err := s.notices.MarkTypeRead(ctx, userID, notification.TypeResponse)
		return err
	}
	return apperr.Validation("unknown unseen kind %q", kind)
}

func (s *Service) emit(ctx context.Context, op string, rowID int64, userIDs ...int64) {
	feed.Emit(ctx, s.feed, feed.Event{Table: feed.TableRequests, Op: op, RowID: rowID, UserIDs: userIDs}, func(err error) {
		s.log.WithError(err).WithField("table", feed.TableRequests).Warn("feed publish failed")
	})
}
