package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sequence hands out server identities for new entities.
type Sequence interface {
	Next(ctx context.Context) (int64, error)
}

// ClockSequence derives identities from the wall clock in microseconds,
// advancing past the last value handed out so identities never repeat
// within a process.
type ClockSequence struct {
	last int64
	now  func() time.Time
}

// NewClockSequence creates a clock-backed sequence.
func NewClockSequence() *ClockSequence {
	return &ClockSequence{now: time.Now}
}

func (s *ClockSequence) Next(context.Context) (int64, error) {
	for {
		now := s.now().UnixMicro()
		last := atomic.LoadInt64(&s.last)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&s.last, last, now) {
			return now, nil
		}
	}
}

// RedisSequence hands out identities from a Redis counter shared by every
// instance.
type RedisSequence struct {
	client *redis.Client
	key    string
}

// NewRedisSequence creates a sequence backed by INCR on key.
func NewRedisSequence(client *redis.Client, key string) *RedisSequence {
	if key == "" {
		key = "kanban:ids"
	}
	return &RedisSequence{client: client, key: key}
}

func (s *RedisSequence) Next(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, s.key).Result()
}
