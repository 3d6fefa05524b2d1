package redis

import (
	"context"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
	"greenearth/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	callLockPrefix = keyPrefix + "lock:call:"
	callLockTTL    = 5 * time.Second
	// callLockWait bounds how long a join or leave waits for another instance.
	callLockWait = 3 * time.Second
)

type RedisCallLocker struct {
	locks  *distributed.LockManager
	logger *zap.SugaredLogger
}

func NewRedisCallLocker(client *redis.Client, logger *zap.SugaredLogger) ports.CallLocker {
	return &RedisCallLocker{
		locks:  distributed.NewLockManager(client, callLockPrefix, callLockTTL),
		logger: logger,
	}
}

func (l *RedisCallLocker) LockCall(ctx context.Context, id domain.CallID) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, callLockWait)
	defer cancel()

	lock, err := l.locks.Acquire(waitCtx, string(id))
	if err != nil {
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			l.logger.Warnw("Failed to release call lock", "call_id", id, "error", err)
		}
	}, nil
}
