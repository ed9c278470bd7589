package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"order-workers/internal/common/database"
)

// Locker provides mutual exclusion per key. Distinct keys never contend.
type Locker interface {
	// Lock blocks until the key is held or ctx is done.
	Lock(ctx context.Context, key string) (unlock func(), err error)
	// TryLock returns ok=false immediately when the key is held.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// KeyedLocker is an in-process Locker. Entries are reference counted and
// dropped when no goroutine holds or waits on the key.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyLock)}
}

func (l *KeyedLocker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyedLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *KeyedLocker) unlocker(key string, kl *keyLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}
}

func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	kl := l.ref(key)
	select {
	case kl.ch <- struct{}{}:
		return l.unlocker(key, kl), nil
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, ctx.Err()
	}
}

func (l *KeyedLocker) TryLock(_ context.Context, key string) (func(), bool, error) {
	kl := l.ref(key)
	select {
	case kl.ch <- struct{}{}:
		return l.unlocker(key, kl), true, nil
	default:
		l.unref(key, kl)
		return nil, false, nil
	}
}

// Held reports how many keys currently have holders or waiters.
func (l *KeyedLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 25 * time.Millisecond
)

// RedisLocker is a Locker shared by every worker process pointing at the
// same Redis. Locks expire after ttl so a crashed holder cannot wedge a user.
type RedisLocker struct {
	client *database.RedisClient
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *database.RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl, retry: defaultLockRetry}
}

func (l *RedisLocker) key(key string) string {
	return l.client.Key("lock", key)
}

func (l *RedisLocker) acquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	redisKey := l.key(key)
	ok, err := l.client.Client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client.Client, []string{redisKey}, token).Err()
		})
	}
	return unlock, true, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	return l.acquire(ctx, key)
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		unlock, ok, err := l.acquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
