// Package feed carries row-change notifications between the repositories
// that write and the read models that must recompute.
package feed

import (
	"context"
	"sync"
)

const (
	TableRequests      = "requests"
	TableNotifications = "notifications"
	TableMessages      = "messages"
	TableOrders        = "orders"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event describes one row change. UserIDs lists the users whose derived
// counters may be affected.
type Event struct {
	Table   string  `json:"table"`
	Op      string  `json:"op"`
	RowID   int64   `json:"row_id"`
	UserIDs []int64 `json:"user_ids"`
}

// Filter selects events by table and, optionally, by affected user.
type Filter struct {
	Tables []string
	UserID int64
}

func (f Filter) Match(e Event) bool {
	if len(f.Tables) > 0 {
		ok := false
		for _, t := range f.Tables {
			if t == e.Table {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.UserID != 0 {
		for _, id := range e.UserIDs {
			if id == f.UserID {
				return true
			}
		}
		return false
	}
	return true
}

type Handler func(Event)

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscription interface {
	Unsubscribe()
}

type Subscriber interface {
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Broker is the in-process feed. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

type subscriber struct {
	filter  Filter
	handler Handler
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]subscriber)}
}

func (b *Broker) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Match(e) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		h(e)
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, f Filter, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscriber{filter: f, handler: h}
	return &brokerSub{broker: b, id: id}, nil
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type brokerSub struct {
	broker *Broker
	id     int
	once   sync.Once
}

func (s *brokerSub) Unsubscribe() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s.id)
		s.broker.mu.Unlock()
	})
}

// Emit publishes and ignores a nil publisher. Feed failures never fail the
// write that produced them.
func Emit(ctx context.Context, p Publisher, e Event, onErr func(error)) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil && onErr != nil {
		onErr(err)
	}
}
