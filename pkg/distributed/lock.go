package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("lock acquisition timeout")

const defaultRetryInterval = 50 * time.Millisecond

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// LockManager hands out Redis locks under a common key prefix.
type LockManager struct {
	client        redis.Cmdable
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
}

func NewLockManager(client redis.Cmdable, prefix string, ttl time.Duration) *LockManager {
	return &LockManager{
		client:        client,
		prefix:        prefix,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
	}
}

// Acquire blocks until the lock for key is held or ctx is done. The lock is
// renewed at half its TTL until Release.
func (m *LockManager) Acquire(ctx context.Context, key string) (*Lock, error) {
	l := &Lock{
		client: m.client,
		key:    m.prefix + key,
		token:  newToken(),
		ttl:    m.ttl,
		stop:   make(chan struct{}),
	}

	for {
		ok, err := m.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
		}
		if ok {
			go l.renew()
			return l, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, l.key, ctx.Err())
		case <-time.After(m.retryInterval):
		}
	}
}

// Lock is one held lock.
type Lock struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration

	once sync.Once
	stop chan struct{}
}

func (l *Lock) Key() string {
	return l.key
}

// Release stops renewal and deletes the key if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	l.once.Do(func() { close(l.stop) })

	released, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if released == 0 {
		return fmt.Errorf("lock %s expired before release", l.key)
	}
	return nil
}

func (l *Lock) renew() {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			held, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil || held == 0 {
				return
			}
		case <-l.stop:
			return
		}
	}
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
