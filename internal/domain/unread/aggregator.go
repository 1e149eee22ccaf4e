// Package unread keeps per-user unseen counters warm. An Aggregator is a
// single goroutine that owns the cache, the feed subscription and the
// debounce timers; everything else talks to it over a command channel.
package unread

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"marketplace/internal/domain/request"
	"marketplace/internal/feed"
)

var ErrDisposed = errors.New("unread aggregator disposed")

// Counts is one user's badge snapshot.
type Counts struct {
	ReceivedUnseen   int64         `json:"received_unseen"`
	SentUnseen       int64         `json:"sent_unseen"`
	MessagesBySender map[int64]int `json:"messages_by_sender"`
	MessagesTotal    int           `json:"messages_total"`
	ComputedAt       time.Time     `json:"computed_at"`
}

func (c Counts) clone() Counts {
	out := c
	out.MessagesBySender = make(map[int64]int, len(c.MessagesBySender))
	for k, v := range c.MessagesBySender {
		out.MessagesBySender[k] = v
	}
	return out
}

// Requests is the request side of the counters.
type Requests interface {
	CountUnseen(ctx context.Context, userID int64, kind request.UnseenKind) (int64, error)
	MarkSeen(ctx context.Context, userID int64, kind request.UnseenKind) error
}

// Messages is the chat side of the counters.
type Messages interface {
	UnreadBySender(ctx context.Context, recipientID int64) (map[int64]int, error)
	MarkReadFrom(ctx context.Context, recipientID, senderID int64) (int64, error)
}

// Listener receives every recomputed snapshot. It runs on the aggregator
// goroutine and must not block.
type Listener func(userID int64, c Counts)

type Options struct {
	TTL          time.Duration
	Debounce     time.Duration
	MaxWait      time.Duration
	FetchTimeout time.Duration
	// IdleAfter drops cache entries nobody asked for in this long.
	IdleAfter time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:          time.Second,
		Debounce:     250 * time.Millisecond,
		MaxWait:      2 * time.Second,
		FetchTimeout: 10 * time.Second,
		IdleAfter:    10 * time.Minute,
	}
}

type result struct {
	counts Counts
	err    error
}

type entry struct {
	// counts is what callers see, optimistic changes included. good is
	// the last value read from the store.
	counts    Counts
	good      Counts
	hasCounts bool
	fetchedAt time.Time
	usedAt    time.Time
	// watchers counts live connections; a watched entry is never evicted.
	watchers int

	// gen moves on every optimistic change so an older fetch cannot
	// overwrite it.
	gen      uint64
	inflight bool
	again    bool
	push     bool
	waiters  []chan result

	timer        *time.Timer
	timerSeq     uint64
	pendingSince time.Time
}

type command func()

// Aggregator serves cached unread counts and recomputes them when the feed
// reports changes.
type Aggregator struct {
	requests Requests
	messages Messages
	listener Listener
	opts     Options
	log      logrus.FieldLogger
	now      func() time.Time

	cmds    chan command
	quit    chan struct{}
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	sub     feed.Subscription
	once    sync.Once

	// owned by the loop goroutine
	entries map[int64]*entry
}

var watchedTables = []string{feed.TableRequests, feed.TableNotifications, feed.TableMessages, feed.TableOrders}

// New starts an aggregator subscribed to subscriber. Call Dispose to stop
// it.
func New(
	requests Requests,
	messages Messages,
	subscriber feed.Subscriber,
	listener Listener,
	opts Options,
	log logrus.FieldLogger,
) (*Aggregator, error) {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.MaxWait < opts.Debounce {
		opts.MaxWait = max(def.MaxWait, opts.Debounce)
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = def.IdleAfter
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		requests: requests,
		messages: messages,
		listener: listener,
		opts:     opts,
		log:      log,
		now:      time.Now,
		cmds:     make(chan command, 256),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[int64]*entry),
	}

	if subscriber != nil {
		sub, err := subscriber.Subscribe(ctx, feed.Filter{Tables: watchedTables}, a.onFeed)
		if err != nil {
			cancel()
			return nil, err
		}
		a.sub = sub
	}

	go a.loop()
	return a, nil
}

func (a *Aggregator) loop() {
	sweep := time.NewTicker(a.opts.IdleAfter)
	defer func() {
		sweep.Stop()
		for _, e := range a.entries {
			if e.timer != nil {
				e.timer.Stop()
			}
			for _, w := range e.waiters {
				w <- result{err: ErrDisposed}
			}
		}
		a.entries = nil
		close(a.stopped)
	}()

	for {
		select {
		case <-a.quit:
			return
		case cmd := <-a.cmds:
			cmd()
		case <-sweep.C:
			a.evictIdle()
		}
	}
}

// post hands cmd to the loop. It fails once the aggregator is disposed.
func (a *Aggregator) post(ctx context.Context, cmd command) error {
	select {
	case <-a.quit:
		return ErrDisposed
	default:
	}
	select {
	case a.cmds <- cmd:
		return nil
	case <-a.quit:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Aggregator) entry(userID int64) *entry {
	e, ok := a.entries[userID]
	if !ok {
		e = &entry{}
		a.entries[userID] = e
	}
	return e
}

// Counts returns userID's counters, from cache while they are fresh. A
// failed recompute falls back to the last good value when there is one.
func (a *Aggregator) Counts(ctx context.Context, userID int64) (Counts, error) {
	reply := make(chan result, 1)
	err := a.post(ctx, func() {
		e := a.entry(userID)
		e.usedAt = a.now()
		if e.hasCounts && !e.inflight && a.now().Sub(e.fetchedAt) < a.opts.TTL {
			reply <- result{counts: e.counts.clone()}
			return
		}
		e.waiters = append(e.waiters, reply)
		a.startFetch(userID, e)
	})
	if err != nil {
		return Counts{}, err
	}
	select {
	case r := <-reply:
		return r.counts, r.err
	case <-a.stopped:
		return Counts{}, ErrDisposed
	case <-ctx.Done():
		return Counts{}, ctx.Err()
	}
}

// startFetch launches a recompute unless one is already running, in which
// case another one follows it.
func (a *Aggregator) startFetch(userID int64, e *entry) {
	if e.inflight {
		e.again = true
		return
	}
	e.inflight = true
	gen := e.gen
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.opts.FetchTimeout)
		defer cancel()
		c, err := a.compute(ctx, userID)
		_ = a.post(context.Background(), func() { a.finishFetch(userID, gen, c, err) })
	}()
}

func (a *Aggregator) finishFetch(userID int64, gen uint64, c Counts, err error) {
	e := a.entry(userID)
	e.inflight = false

	var r result
	switch {
	case err != nil && e.hasCounts:
		a.log.WithError(err).WithField("user_id", userID).Warn("unread: recompute failed, serving last good counts")
		r = result{counts: e.counts.clone()}
	case err != nil:
		r = result{err: err}
	case gen != e.gen:
		// an optimistic change landed meanwhile; the fetch may predate it
		e.again = true
		if e.hasCounts {
			r = result{counts: e.counts.clone()}
		} else {
			r = result{counts: c}
		}
	default:
		e.counts = c
		e.good = c.clone()
		e.hasCounts = true
		e.fetchedAt = a.now()
		r = result{counts: c.clone()}
		if e.push && a.listener != nil {
			e.push = false
			a.listener(userID, c.clone())
		}
	}

	for _, w := range e.waiters {
		w <- r
	}
	e.waiters = nil

	if e.again {
		e.again = false
		a.startFetch(userID, e)
	}
}

func (a *Aggregator) compute(ctx context.Context, userID int64) (Counts, error) {
	received, err := a.requests.CountUnseen(ctx, userID, request.UnseenReceived)
	if err != nil {
		return Counts{}, err
	}
	sent, err := a.requests.CountUnseen(ctx, userID, request.UnseenSent)
	if err != nil {
		return Counts{}, err
	}
	bySender, err := a.messages.UnreadBySender(ctx, userID)
	if err != nil {
		return Counts{}, err
	}
	if bySender == nil {
		bySender = map[int64]int{}
	}
	total := 0
	for _, n := range bySender {
		total += n
	}
	return Counts{
		ReceivedUnseen:   received,
		SentUnseen:       sent,
		MessagesBySender: bySender,
		MessagesTotal:    total,
		ComputedAt:       a.now().UTC(),
	}, nil
}

// onFeed runs on the publisher's goroutine.
func (a *Aggregator) onFeed(ev feed.Event) {
	users := append([]int64(nil), ev.UserIDs...)
	_ = a.post(context.Background(), func() {
		for _, id := range users {
			if e, ok := a.entries[id]; ok {
				a.schedule(id, e)
			}
		}
	})
}

// schedule debounces a recompute. Bursts keep pushing it back, but never
// past MaxWait from the first event.
func (a *Aggregator) schedule(userID int64, e *entry) {
	now := a.now()
	if e.timer == nil {
		e.pendingSince = now
	} else {
		e.timer.Stop()
	}
	delay := a.opts.Debounce
	if left := a.opts.MaxWait - now.Sub(e.pendingSince); left < delay {
		delay = max(left, 0)
	}

	e.timerSeq++
	seq := e.timerSeq
	e.timer = time.AfterFunc(delay, func() {
		_ = a.post(context.Background(), func() { a.fire(userID, seq) })
	})
}

func (a *Aggregator) fire(userID int64, seq uint64) {
	e, ok := a.entries[userID]
	if !ok || e.timerSeq != seq || e.timer == nil {
		return
	}
	e.timer = nil
	e.push = true
	a.startFetch(userID, e)
}

// Watch keeps userID's entry alive while a client is connected, so feed
// changes keep being pushed even if the client never asks again. Every
// Watch needs a matching Unwatch.
func (a *Aggregator) Watch(ctx context.Context, userID int64) error {
	return a.post(ctx, func() {
		e := a.entry(userID)
		e.watchers++
		e.usedAt = a.now()
	})
}

// Unwatch releases one Watch. The entry then ages out like any other.
func (a *Aggregator) Unwatch(userID int64) {
	_ = a.post(context.Background(), func() {
		e, ok := a.entries[userID]
		if !ok || e.watchers == 0 {
			return
		}
		e.watchers--
		e.usedAt = a.now()
	})
}

// Refresh forces an immediate recompute whose result goes to the listener.
// A pending debounced recompute is superseded.
func (a *Aggregator) Refresh(ctx context.Context, userID int64) error {
	return a.post(ctx, func() { a.forceRefresh(userID) })
}

func (a *Aggregator) forceRefresh(userID int64) {
	e := a.entry(userID)
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.hasCounts {
		e.counts = e.good.clone()
	}
	e.fetchedAt = time.Time{}
	e.gen++
	e.push = true
	a.startFetch(userID, e)
}

func (a *Aggregator) evictIdle() {
	cutoff := a.now().Add(-a.opts.IdleAfter)
	for id, e := range a.entries {
		if e.watchers == 0 && e.usedAt.Before(cutoff) && e.timer == nil && !e.inflight {
			delete(a.entries, id)
		}
	}
}

// MarkReceivedSeen clears the received badge.
func (a *Aggregator) MarkReceivedSeen(ctx context.Context, userID int64) error {
	return a.optimistic(ctx, userID, func(c *Counts) { c.ReceivedUnseen = 0 }, func() error {
		return a.requests.MarkSeen(ctx, userID, request.UnseenReceived)
	})
}

// MarkSentSeen clears the sent badge.
func (a *Aggregator) MarkSentSeen(ctx context.Context, userID int64) error {
	return a.optimistic(ctx, userID, func(c *Counts) { c.SentUnseen = 0 }, func() error {
		return a.requests.MarkSeen(ctx, userID, request.UnseenSent)
	})
}

// MarkMessagesRead marks the conversation with senderID as read.
func (a *Aggregator) MarkMessagesRead(ctx context.Context, userID, senderID int64) error {
	return a.optimistic(ctx, userID, func(c *Counts) {
		c.MessagesTotal -= c.MessagesBySender[senderID]
		if c.MessagesTotal < 0 {
			c.MessagesTotal = 0
		}
		delete(c.MessagesBySender, senderID)
	}, func() error {
		_, err := a.messages.MarkReadFrom(ctx, userID, senderID)
		return err
	})
}

// optimistic applies change to the cached counts and pushes them, then runs
// write. If write fails the cache is dropped and recomputed from the store.
func (a *Aggregator) optimistic(ctx context.Context, userID int64, change func(*Counts), write func() error) error {
	err := a.post(ctx, func() {
		e := a.entry(userID)
		if !e.hasCounts {
			return
		}
		e.gen++
		change(&e.counts)
		if a.listener != nil {
			a.listener(userID, e.counts.clone())
		}
	})
	if err != nil {
		return err
	}

	if err := write(); err != nil {
		a.log.WithError(err).WithField("user_id", userID).Warn("unread: durable write failed, recomputing")
		if perr := a.post(context.Background(), func() { a.forceRefresh(userID) }); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	}
	return nil
}

// Dispose unsubscribes from the feed, stops pending timers and the loop.
// It is safe to call more than once.
func (a *Aggregator) Dispose() {
	a.once.Do(func() {
		if a.sub != nil {
			a.sub.Unsubscribe()
		}
		a.cancel()
		close(a.quit)
	})
	<-a.stopped
}
