package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const channelPrefix = "feed:"

// RedisBroker fans change events out through Redis pub/sub so several API
// processes see each other's writes. One channel per table.
type RedisBroker struct {
	rdb    *redis.Client
	logger logrus.FieldLogger
}

func NewRedisBroker(rdb *redis.Client, logger logrus.FieldLogger) *RedisBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisBroker{rdb: rdb, logger: logger}
}

// DialRedis parses a redis:// URL and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channelPrefix+e.Table, payload).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Table, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	channels := make([]string, 0, len(f.Tables))
	for _, t := range f.Tables {
		channels = append(channels, channelPrefix+t)
	}

	var ps *redis.PubSub
	if len(channels) == 0 {
		ps = b.rdb.PSubscribe(ctx, channelPrefix+"*")
	} else {
		ps = b.rdb.Subscribe(ctx, channels...)
	}
	// wait for the subscription confirmation so no event published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	sub := &redisSub{ps: ps, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range ps.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.WithError(err).WithField("channel", msg.Channel).Warn("feed: dropping malformed event")
				continue
			}
			if f.Match(e) {
				h(e)
			}
		}
	}()
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	done chan struct{}
	once sync.Once
}

func (s *redisSub) Unsubscribe() {
	s.once.Do(func() {
		_ = s.ps.Close()
		<-s.done
	})
}
