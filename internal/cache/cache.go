// Package cache holds the Redis-backed primitives the worker writes and the
// read-side API consumes: latest-value slots with a TTL, capped lists and
// broadcast channels.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketfeed/config"
)

// Well-known keys and channels shared with every reader of the cache.
const (
	KeyTicker      = "ticker:latest"
	KeyOrderBook   = "orderbook:latest"
	KeyWorkerStats = "worker:stats"
	KeyTrades      = "trades:recent"
	KeyKlines      = "klines:1m"

	ChannelTicker    = "ticker:updates"
	ChannelOrderBook = "orderbook:updates"
	ChannelAlerts    = "alerts"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// NewClient connects to the Redis URL in cfg. Retries back off linearly from
// 50ms up to 2s.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = 50 * time.Millisecond
	opts.MaxRetryBackoff = 2 * time.Second
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
		opts.ReadTimeout = cfg.WriteTimeout
	}
	return redis.NewClient(opts), nil
}

// Slot is a single latest-value entry that disappears when not refreshed
// within its TTL.
type Slot struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewSlot(client redis.UniversalClient, key string, ttl time.Duration) *Slot {
	return &Slot{client: client, key: key, ttl: ttl}
}

func (s *Slot) Key() string { return s.key }

// Put overwrites the slot and restarts its TTL.
func (s *Slot) Put(ctx context.Context, payload []byte) error {
	if err := s.client.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

func (s *Slot) Get(ctx context.Context) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	return b, nil
}

// List is a newest-first list trimmed to a fixed capacity on every push.
type List struct {
	client   redis.UniversalClient
	key      string
	capacity int64
}

func NewList(client redis.UniversalClient, key string, capacity int64) *List {
	return &List{client: client, key: key, capacity: capacity}
}

func (l *List) Key() string { return l.key }

func (l *List) Capacity() int64 { return l.capacity }

// Push prepends payload and evicts whatever falls past capacity, atomically.
func (l *List) Push(ctx context.Context, payload []byte) error {
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, l.key, payload)
		p.LTrim(ctx, l.key, 0, l.capacity-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", l.key, err)
	}
	return nil
}

// Range returns up to n entries, newest first. n <= 0 means the whole list.
func (l *List) Range(ctx context.Context, n int64) ([][]byte, error) {
	stop := n - 1
	if n <= 0 {
		stop = -1
	}
	vals, err := l.client.LRange(ctx, l.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", l.key, err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// Channel is a named pub/sub channel.
type Channel struct {
	client redis.UniversalClient
	name   string
}

func NewChannel(client redis.UniversalClient, name string) *Channel {
	return &Channel{client: client, name: name}
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) Publish(ctx context.Context, payload []byte) error {
	if err := c.client.Publish(ctx, c.name, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", c.name, err)
	}
	return nil
}

// Subscribe opens a subscription; callers close the returned PubSub.
func (c *Channel) Subscribe(ctx context.Context) *redis.PubSub {
	return c.client.Subscribe(ctx, c.name)
}

// GetJSON reads a slot and decodes it into T.
func GetJSON[T any](ctx context.Context, s *Slot) (T, error) {
	var out T
	b, err := s.Get(ctx)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return out, nil
}

// RangeJSON reads up to n list entries and decodes each into T. Entries that
// fail to decode are skipped.
func RangeJSON[T any](ctx context.Context, l *List, n int64) ([]T, error) {
	raw, err := l.Range(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, b := range raw {
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
