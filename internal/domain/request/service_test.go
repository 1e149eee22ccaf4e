package request

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"marketplace/internal/database"
	"marketplace/internal/domain/availability"
	"marketplace/internal/domain/catalog"
	"marketplace/internal/domain/notification"
	"marketplace/internal/feed"
	"marketplace/internal/pkg/apperr"
)

const (
	ownerID     int64 = 100
	requesterID int64 = 200
	strangerID  int64 = 300
)

type fixture struct {
	db      *gorm.DB
	svc     *Service
	repo    Repository
	notices notification.Repository
	broker  *feed.Broker
}

func ptr(v int64) *int64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Memory("request_" + t.Name())
	require.NoError(t, err)

	models := append(catalog.Models(), &availability.Slot{})
	models = append(models, Models()...)
	models = append(models, notification.Models()...)
	require.NoError(t, db.AutoMigrate(models...))

	require.NoError(t, db.Create(&catalog.User{ID: ownerID, Username: "olga"}).Error)
	require.NoError(t, db.Create(&catalog.User{ID: requesterID, Username: "ravi", AvatarURL: "https://cdn/ravi.png"}).Error)
	require.NoError(t, db.Create(&catalog.Category{ID: 1, Name: "Wellness"}).Error)
	require.NoError(t, db.Create(&catalog.Subcategory{ID: 10, CategoryID: 1, Name: "Yoga"}).Error)
	require.NoError(t, db.Create(&catalog.PersonalService{ID: 1, OwnerID: ownerID, SubcategoryID: ptr(10), Title: "Private yoga", PricePerHour: 20, DepositPercentage: 30}).Error)
	require.NoError(t, db.Create(&catalog.LocalService{ID: 2, OwnerID: ownerID, Title: "Studio room", PricePerHour: 40, DepositPercentage: 50}).Error)
	require.NoError(t, db.Create(&catalog.EventListing{ID: 3, OwnerID: ownerID, Title: "Sunday meetup"}).Error)
	require.NoError(t, db.Create(&availability.Slot{ID: 1, RefColumns: catalog.ColumnsOf(catalog.Personal(1)), Date: "2025-06-01", StartTime: "09:00", EndTime: "12:00"}).Error)
	require.NoError(t, db.Create(&availability.Slot{ID: 2, RefColumns: catalog.ColumnsOf(catalog.Personal(1)), StartTime: "13:00", EndTime: "14:00", StatusDay: availability.DayReserved}).Error)
	require.NoError(t, db.Create(&availability.Slot{ID: 3, RefColumns: catalog.ColumnsOf(catalog.Local(2)), StartTime: "10:00", EndTime: "11:00"}).Error)

	log, _ := test.NewNullLogger()
	broker := feed.NewBroker()
	notices := notification.NewRepository(db, broker, log)
	dispatcher := notification.NewDispatcher(notices, nil, nil, log)
	repo := NewRepository(db)
	svc := NewService(repo, catalog.NewRepository(db), availability.NewRepository(db), dispatcher, notices, broker, log)

	return &fixture{db: db, svc: svc, repo: repo, notices: notices, broker: broker}
}

func (f *fixture) unread(t *testing.T, userID int64, typ notification.Type) int64 {
	t.Helper()
	n, err := f.notices.CountUnreadByType(context.Background(), userID, typ)
	require.NoError(t, err)
	return n
}

func TestCreate_Pending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, requesterID, catalog.Personal(1), ptr(1))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Nil(t, req.PaymentStatus)
	assert.False(t, req.IsRead)
	assert.False(t, req.IsActionRead)

	ref, err := req.Ref()
	require.NoError(t, err)
	assert.Equal(t, catalog.Personal(1), ref)
	assert.Equal(t, int64(1), f.unread(t, ownerID, notification.TypeRequest))
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		user    int64
		ref     catalog.ServiceRef
		slot    *int64
		wantErr error
	}{
		{"no reference", requesterID, catalog.ServiceRef{}, nil, apperr.ErrValidation},
		{"unknown listing", requesterID, catalog.Material(99), nil, apperr.ErrNotFound},
		{"own listing", ownerID, catalog.Personal(1), nil, apperr.ErrValidation},
		{"unknown slot", requesterID, catalog.Personal(1), ptr(42), apperr.ErrNotFound},
		{"reserved slot", requesterID, catalog.Personal(1), ptr(2), apperr.ErrValidation},
		{"slot of another listing", requesterID, catalog.Personal(1), ptr(3), apperr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.user, tc.ref, tc.slot)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&Request{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, f.unread(t, ownerID, notification.TypeRequest))
}

func TestCreate_OrganizerSelfJoinIsAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, ownerID, catalog.Event(3), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, req.Status)
	assert.True(t, req.IsRead)
	assert.True(t, req.IsActionRead)
	assert.Zero(t, f.unread(t, ownerID, notification.TypeTicket))

	received, err := f.svc.FetchReceived(ctx, ownerID)
	require.NoError(t, err)
	assert.Empty(t, received)
}

func TestCreate_EventJoinNotifiesOrganizer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, requesterID, catalog.Event(3), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, int64(1), f.unread(t, ownerID, notification.TypeTicket))

	_, err = f.svc.Resolve(ctx, req.ID, ownerID, DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.unread(t, requesterID, notification.TypeResponse))
}

func TestResolve_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, requesterID, catalog.Personal(1), ptr(1))
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, req.ID, strangerID, DecisionAccept)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Resolve(ctx, req.ID, requesterID, DecisionAccept)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Resolve(ctx, 9999, ownerID, DecisionAccept)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Resolve(ctx, req.ID, ownerID, Decision("maybe"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	refused, err := f.svc.Resolve(ctx, req.ID, ownerID, DecisionRefuse)
	require.NoError(t, err)
	assert.Equal(t, StatusRefused, refused.Status)

	_, err = f.svc.Resolve(ctx, req.ID, ownerID, DecisionAccept)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	stored, err := f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefused, stored.Status)
	assert.True(t, stored.IsRead)
	assert.True(t, stored.IsActionRead)
	assert.Nil(t, stored.PaymentStatus)
	assert.Equal(t, int64(1), f.unread(t, requesterID, notification.TypeResponse))
}

func TestResolvePending_OnlyOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, requesterID, catalog.Personal(1), nil)
	require.NoError(t, err)

	won, err := f.repo.ResolvePending(ctx, req.ID, StatusAccepted)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = f.repo.ResolvePending(ctx, req.ID, StatusRefused)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestFetch_ProjectionsAndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, requesterID, catalog.Personal(1), ptr(1))
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, requesterID, catalog.Local(2), ptr(3))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, ownerID, catalog.Event(3), nil)
	require.NoError(t, err)

	sent, err := f.svc.FetchSent(ctx, requesterID)
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, second.ID, sent[0].ID)
	assert.Equal(t, first.ID, sent[1].ID)

	received, err := f.svc.FetchReceived(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, received, 2)
	v := received[1]
	assert.Equal(t, first.ID, v.ID)
	require.NotNil(t, v.Service)
	assert.Equal(t, "Private yoga", v.Service.Title)
	assert.Equal(t, "Yoga", v.Service.Subcategory)
	assert.Equal(t, "Wellness", v.Service.Category)
	assert.Equal(t, ownerID, v.Service.OwnerID)
	assert.Equal(t, "ravi", v.Requester.Username)
	assert.Equal(t, "https://cdn/ravi.png", v.Requester.AvatarURL)
	require.NotNil(t, v.Slot)
	assert.Equal(t, "09:00", v.Slot.StartTime)

	sentByOwner, err := f.svc.FetchSent(ctx, ownerID)
	require.NoError(t, err)
	assert.Len(t, sentByOwner, 1)
}

func TestUnseenCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, requesterID, catalog.Personal(1), nil)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, requesterID, catalog.Local(2), nil)
	require.NoError(t, err)

	n, err := f.svc.CountUnseen(ctx, ownerID, UnseenReceived)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = f.svc.Resolve(ctx, a.ID, ownerID, DecisionAccept)
	require.NoError(t, err)

	n, err = f.svc.CountUnseen(ctx, ownerID, UnseenReceived)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = f.svc.CountUnseen(ctx, requesterID, UnseenSent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, f.svc.MarkSeen(ctx, ownerID, UnseenReceived))
	require.NoError(t, f.svc.MarkSeen(ctx, requesterID, UnseenSent))

	for _, tc := range []struct {
		user int64
		kind UnseenKind
	}{{ownerID, UnseenReceived}, {requesterID, UnseenSent}} {
		n, err := f.svc.CountUnseen(ctx, tc.user, tc.kind)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	_, err = f.svc.CountUnseen(ctx, ownerID, UnseenKind("other"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, requesterID, catalog.Personal(1), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.MarkRead(ctx, req.ID, ownerID), apperr.ErrForbidden)
	require.NoError(t, f.svc.MarkRead(ctx, req.ID, requesterID))
	require.NoError(t, f.svc.MarkRead(ctx, req.ID, requesterID))

	stored, err := f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsRead)
}

func TestDeleteRule(t *testing.T) {
	completed := PaymentCompleted
	pending := PaymentPending

	cases := []struct {
		name    string
		status  Status
		payment *PaymentStatus
		isRead  bool
		actor   int64
		wantErr error
	}{
		{"requester withdraws pending", StatusPending, nil, false, requesterID, nil},
		{"owner cannot delete pending", StatusPending, nil, false, ownerID, apperr.ErrInvalidState},
		{"stranger", StatusPending, nil, false, strangerID, apperr.ErrForbidden},
		{"requester clears refused", StatusRefused, nil, true, requesterID, nil},
		{"owner clears acknowledged refusal", StatusRefused, nil, true, ownerID, nil},
		{"owner cannot clear unseen refusal", StatusRefused, nil, false, ownerID, apperr.ErrInvalidState},
		{"requester cannot delete unpaid acceptance", StatusAccepted, nil, true, requesterID, apperr.ErrInvalidState},
		{"requester cannot delete while paying", StatusAccepted, &pending, true, requesterID, apperr.ErrInvalidState},
		{"owner cannot delete unpaid acceptance", StatusAccepted, nil, true, ownerID, apperr.ErrInvalidState},
		{"requester clears paid", StatusAccepted, &completed, true, requesterID, nil},
		{"owner clears paid", StatusAccepted, &completed, true, ownerID, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			req := &Request{
				UserID:        requesterID,
				RefColumns:    catalog.ColumnsOf(catalog.Personal(1)),
				Status:        tc.status,
				PaymentStatus: tc.payment,
				IsRead:        tc.isRead,
			}
			require.NoError(t, f.repo.Create(ctx, req))

			err := f.svc.Delete(ctx, req.ID, tc.actor)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				_, getErr := f.repo.GetByID(ctx, req.ID)
				assert.NoError(t, getErr)
				return
			}
			require.NoError(t, err)
			_, err = f.repo.GetByID(ctx, req.ID)
			assert.ErrorIs(t, err, apperr.ErrNotFound)
			assert.ErrorIs(t, f.svc.Delete(ctx, req.ID, tc.actor), apperr.ErrNotFound)
		})
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, requesterID, catalog.Personal(1), ptr(1))
	require.NoError(t, err)

	q, err := f.svc.Quote(ctx, req.ID, requesterID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, q.Hours)
	assert.Equal(t, 60.0, q.Total)
	assert.Equal(t, 18.0, q.Advance)
	assert.Equal(t, 42.0, q.Remaining)

	_, err = f.svc.Quote(ctx, req.ID, strangerID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	noSlot, err := f.svc.Create(ctx, requesterID, catalog.Personal(1), nil)
	require.NoError(t, err)
	q, err = f.svc.Quote(ctx, noSlot.ID, ownerID)
	require.NoError(t, err)
	assert.Zero(t, q.Total)
}

func TestWritesPublishFeedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var events []feed.Event
	sub, err := f.broker.Subscribe(ctx, feed.Filter{Tables: []string{feed.TableRequests}, UserID: ownerID}, func(e feed.Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	req, err := f.svc.Create(ctx, requesterID, catalog.Personal(1), nil)
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, req.ID, ownerID, DecisionRefuse)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, feed.OpInsert, events[0].Op)
	assert.Equal(t, feed.OpUpdate, events[1].Op)
	assert.ElementsMatch(t, []int64{requesterID, ownerID}, events[1].UserIDs)
}
