package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/internal/observability"
)

// ErrLockLost is returned by a release when the lock expired or was taken
// over before it was released.
var ErrLockLost = errors.New("ingestion lock was lost before release")

var errLockBusy = errors.New("ingestion lock is held")

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker serializes ingestion calls that share a key.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Release, error)
}

// LocalLocker serializes calls within one process. A key's slot is dropped
// once nobody holds or waits for it.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

func (l *LocalLocker) join(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) leave(key string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 && l.slots[key] == s {
		delete(l.slots, key)
	}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	s := l.join(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.leave(key, s)
		return nil, fmt.Errorf("waiting for ingestion lock %q: %w", key, ctx.Err())
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.leave(key, s)
		})
		return nil
	}, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes calls across processes sharing a Redis server.
// Each lock is a key set with NX and a TTL, so a crashed holder cannot block
// others for longer than the TTL.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewRedisLocker returns a RedisLocker. ttl bounds how long a lock survives
// its holder.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		poll:   200 * time.Millisecond,
		logger: observability.Named(logger, "ingest_lock"),
	}
}

// Acquire implements Locker. It polls until the key is free or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()

	operation := func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to set lock key: %w", err))
		}
		if !ok {
			return errLockBusy
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		l.logger.Debug("Ingestion lock busy, waiting.", zap.String("key", key), zap.Duration("wait", wait))
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(l.poll), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, fmt.Errorf("acquiring ingestion lock %q: %w", key, err)
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock key: %w", err)
		}
		if n == 0 {
			l.logger.Warn("Ingestion lock expired before release.", zap.String("key", key))
			return ErrLockLost
		}
		return nil
	}, nil
}
