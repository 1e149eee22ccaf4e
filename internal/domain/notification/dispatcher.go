package notification

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Pusher hands a stored notification to an external delivery channel.
type Pusher interface {
	Push(ctx context.Context, n *Notification) error
}

// Audience resolves broadcast recipients.
type Audience interface {
	Followers(ctx context.Context, creatorID int64) ([]int64, error)
	MembersAmong(ctx context.Context, groupID int64, candidates []int64) (map[int64]bool, error)
}

// Input is one targeted notification.
type Input struct {
	UserID    int64
	Title     string
	Message   string
	Type      Type
	RelatedID *int64
	Payload   *Payload
}

// Update is new content published by a creator.
type Update struct {
	Title   string
	Message string
	// GroupID is set when the content belongs to a group; Private limits
	// delivery to that group's members.
	GroupID   *int64
	Private   bool
	RelatedID *int64
}

// Dispatcher is the only writer of notifications. Delivery failures are
// logged and reported as false, never returned to the business operation.
type Dispatcher struct {
	repo     Repository
	audience Audience
	pusher   Pusher
	log      logrus.FieldLogger
}

func NewDispatcher(repo Repository, audience Audience, pusher Pusher, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{repo: repo, audience: audience, pusher: pusher, log: log}
}

func (d *Dispatcher) Notify(ctx context.Context, in Input) bool {
	n := &Notification{
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		RelatedID: in.RelatedID,
		Data:      encodePayload(in.Payload),
	}
	if err := d.repo.Create(ctx, n); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"user_id": in.UserID,
			"type":    in.Type,
		}).Error("notification: persist failed")
		return false
	}
	d.push(ctx, n)
	return true
}

func (d *Dispatcher) push(ctx context.Context, n *Notification) {
	if d.pusher == nil {
		return
	}
	if err := d.pusher.Push(ctx, n); err != nil {
		d.log.WithError(err).WithField("notification_id", n.ID).Warn("notification: push hand-off failed")
	}
}

// RequestCreated tells the owner a new request arrived.
func (d *Dispatcher) RequestCreated(ctx context.Context, ownerID, requestID int64, serviceTitle string) bool {
	return d.Notify(ctx, Input{
		UserID:    ownerID,
		Title:     "New request",
		Message:   fmt.Sprintf("You have a new request for %s", serviceTitle),
		Type:      TypeRequest,
		RelatedID: &requestID,
		Payload:   &Payload{RequestID: &requestID, Service: serviceTitle},
	})
}

// RequestResolved tells the requester the owner's decision.
func (d *Dispatcher) RequestResolved(ctx context.Context, requesterID, requestID int64, serviceTitle, decision string) bool {
	return d.Notify(ctx, Input{
		UserID:    requesterID,
		Title:     "Request " + decision,
		Message:   fmt.Sprintf("Your request for %s was %s", serviceTitle, decision),
		Type:      TypeResponse,
		RelatedID: &requestID,
		Payload:   &Payload{RequestID: &requestID, Service: serviceTitle, Decision: decision},
	})
}

// PaymentReceived tells the owner an advance was paid.
func (d *Dispatcher) PaymentReceived(ctx context.Context, ownerID, requestID int64, serviceTitle string, amount float64, paymentID string) bool {
	return d.Notify(ctx, Input{
		UserID:    ownerID,
		Title:     "Payment received",
		Message:   fmt.Sprintf("A payment of %.2f was received for %s", amount, serviceTitle),
		Type:      TypePayment,
		RelatedID: &requestID,
		Payload:   &Payload{RequestID: &requestID, Service: serviceTitle, Amount: &amount, PaymentID: paymentID},
	})
}

// EventJoinRequested tells an organizer someone wants to join.
func (d *Dispatcher) EventJoinRequested(ctx context.Context, organizerID, requestID int64, eventTitle string) bool {
	return d.Notify(ctx, Input{
		UserID:    organizerID,
		Title:     "New join request",
		Message:   fmt.Sprintf("Someone asked to join %s", eventTitle),
		Type:      TypeTicket,
		RelatedID: &requestID,
		Payload:   &Payload{RequestID: &requestID, Service: eventTitle},
	})
}

// EventJoinResolved tells the requester whether they may join. It is a
// response so it counts towards the sent-unseen badge.
func (d *Dispatcher) EventJoinResolved(ctx context.Context, requesterID, requestID int64, eventTitle, decision string) bool {
	return d.Notify(ctx, Input{
		UserID:    requesterID,
		Title:     "Join request " + decision,
		Message:   fmt.Sprintf("Your request to join %s was %s", eventTitle, decision),
		Type:      TypeResponse,
		RelatedID: &requestID,
		Payload:   &Payload{RequestID: &requestID, Service: eventTitle, Decision: decision},
	})
}

// BroadcastUpdate notifies a creator's followers and returns how many
// notifications were stored. Private content reaches group members only.
// If membership cannot be checked nobody is notified.
func (d *Dispatcher) BroadcastUpdate(ctx context.Context, creatorID int64, u Update) int {
	entry := d.log.WithField("creator_id", creatorID)

	followers, err := d.audience.Followers(ctx, creatorID)
	if err != nil {
		entry.WithError(err).Error("notification: load followers failed")
		return 0
	}
	recipients := followers
	if u.Private {
		if u.GroupID == nil {
			entry.Warn("notification: private update without group, skipped")
			return 0
		}
		members, err := d.audience.MembersAmong(ctx, *u.GroupID, followers)
		if err != nil {
			entry.WithError(err).WithField("group_id", *u.GroupID).Error("notification: membership check failed, broadcast skipped")
			return 0
		}
		recipients = recipients[:0:0]
		for _, id := range followers {
			if members[id] {
				recipients = append(recipients, id)
			}
		}
	}
	if len(recipients) == 0 {
		return 0
	}

	data := encodePayload(&Payload{CreatorID: &creatorID, GroupID: u.GroupID})
	list := make([]*Notification, 0, len(recipients))
	for _, id := range recipients {
		list = append(list, &Notification{
			UserID:    id,
			Type:      TypeUpdate,
			Title:     u.Title,
			Message:   u.Message,
			RelatedID: u.RelatedID,
			Data:      data,
		})
	}
	if err := d.repo.CreateBatch(ctx, list); err != nil {
		entry.WithError(err).WithField("recipients", len(list)).Error("notification: broadcast insert failed")
		return 0
	}
	for _, n := range list {
		d.push(ctx, n)
	}
	return len(list)
}
