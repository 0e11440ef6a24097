// Package lock provides per-key serialization points. Services take one
// around every validate-then-commit sequence on a student's ledger.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"messhub/backend/pkg/redis"
)

// Locker serializes work by key. Unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ── in-process ──

// Memory is a Locker for a single process.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewMemory returns an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*entry)}
}

func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, e, true) })
	}, nil
}

func (m *Memory) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

// ── redis ──

// Redis is a Locker shared by every replica, backed by SET NX with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewRedis builds a Locker that holds each key for at most ttl and gives up
// after waiting wait.
func NewRedis(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) *Redis {
	return &Redis{client: client, ttl: ttl, wait: wait, poll: 25 * time.Millisecond, logger: logger}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	for {
		release, err := r.client.TryLock(ctx, key, r.ttl)
		if err == nil {
			return func() {
				rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
				defer rcancel()
				if err := release(rctx); err != nil {
					r.logger.Warn("release lock failed", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}
		if !errors.Is(err, redis.ErrLockHeld) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(r.poll):
		}
	}
}

// StudentKey is the serialization key for one student's ledger.
func StudentKey(studentID string) string { return "attendance:student:" + studentID }

// BillPeriodKey serializes bill-number allocation for one mess and month.
func BillPeriodKey(messID string, year, month int) string {
	return fmt.Sprintf("bill:period:%s:%04d%02d", messID, year, month)
}
