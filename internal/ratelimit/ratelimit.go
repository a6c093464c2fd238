// Package ratelimit holds the per-channel send quota.
//
// Buckets refill in fixed windows: once a full interval has elapsed since the
// last refill the bucket is topped up to capacity. Consume is an atomic check
// and decrement, so no window ever grants more than capacity sends.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artisanmart/notifier/internal/models"
)

// DefaultInterval is the refill window.
const DefaultInterval = time.Second

// ErrUnknownChannel is returned for channels without a configured bucket.
var ErrUnknownChannel = errors.New("ratelimit: unknown channel")

// Info describes the current quota of a channel.
type Info struct {
	Channel   models.Channel `json:"channel"`
	Capacity  int            `json:"capacity"`
	Remaining int            `json:"remaining"`
	ResetTime time.Time      `json:"resetTime"`
	IsLimited bool           `json:"isLimited"`
}

// Limiter is the contract shared by the in-memory and Redis backends.
type Limiter interface {
	CanSend(ctx context.Context, channel models.Channel) (bool, error)
	Consume(ctx context.Context, channel models.Channel) (bool, error)
	Info(ctx context.Context, channel models.Channel) (Info, error)
	Reset(ctx context.Context, channel models.Channel) error
}

type bucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	refilledAt time.Time
}

// refill must be called with mu held.
func (b *bucket) refill(now time.Time, interval time.Duration) {
	if now.Sub(b.refilledAt) >= interval {
		b.tokens = b.capacity
		b.refilledAt = now
	}
}

// MemoryLimiter keeps one bucket per channel in process memory.
type MemoryLimiter struct {
	interval time.Duration
	now      func() time.Time
	buckets  map[models.Channel]*bucket
}

// MemoryOption customises a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the clock, mostly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithInterval overrides the refill window.
func WithInterval(d time.Duration) MemoryOption {
	return func(l *MemoryLimiter) {
		if d > 0 {
			l.interval = d
		}
	}
}

// NewMemoryLimiter creates buckets for every channel in capacities. Buckets
// start full.
func NewMemoryLimiter(capacities map[models.Channel]int, opts ...MemoryOption) (*MemoryLimiter, error) {
	l := &MemoryLimiter{
		interval: DefaultInterval,
		now:      time.Now,
		buckets:  make(map[models.Channel]*bucket, len(capacities)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	start := l.now()
	for ch, capacity := range capacities {
		if capacity <= 0 {
			return nil, fmt.Errorf("ratelimit: capacity for %s must be positive, got %d", ch, capacity)
		}
		l.buckets[ch] = &bucket{capacity: capacity, tokens: capacity, refilledAt: start}
	}
	return l, nil
}

func (l *MemoryLimiter) bucket(ch models.Channel) (*bucket, error) {
	b, ok := l.buckets[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	return b, nil
}

// CanSend reports whether a token is currently available without taking it.
func (l *MemoryLimiter) CanSend(_ context.Context, ch models.Channel) (bool, error) {
	b, err := l.bucket(ch)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(l.now(), l.interval)
	return b.tokens > 0, nil
}

// Consume takes a token if one is available.
func (l *MemoryLimiter) Consume(_ context.Context, ch models.Channel) (bool, error) {
	b, err := l.bucket(ch)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(l.now(), l.interval)
	if b.tokens <= 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Info returns the remaining quota of a channel.
func (l *MemoryLimiter) Info(_ context.Context, ch models.Channel) (Info, error) {
	b, err := l.bucket(ch)
	if err != nil {
		return Info{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(l.now(), l.interval)
	return Info{
		Channel:   ch,
		Capacity:  b.capacity,
		Remaining: b.tokens,
		ResetTime: b.refilledAt.Add(l.interval),
		IsLimited: b.tokens <= 0,
	}, nil
}

// Reset refills a channel bucket immediately.
func (l *MemoryLimiter) Reset(_ context.Context, ch models.Channel) error {
	b, err := l.bucket(ch)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.tokens = b.capacity
	b.refilledAt = l.now()
	b.mu.Unlock()
	return nil
}
