package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
	"greenearth/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	callKeyPrefix  = keyPrefix + "call:"
	activeCallsKey = keyPrefix + "calls:active"
)

// RedisCallRepository keeps each call as a JSON document plus an index set
// of active call IDs. Archived calls expire after ttl.
type RedisCallRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCallRepository(client *redis.Client, archivedTTL time.Duration) ports.CallRepository {
	return &RedisCallRepository{client: client, ttl: archivedTTL}
}

func callKey(id domain.CallID) string {
	return callKeyPrefix + string(id)
}

func encodeCall(call *domain.GroupCall) ([]byte, error) {
	data, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call: %w", err)
	}
	return data, nil
}

func decodeCall(data []byte) (*domain.GroupCall, error) {
	var call domain.GroupCall
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}
	return &call, nil
}

func (r *RedisCallRepository) Create(ctx context.Context, call *domain.GroupCall) error {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "create", "calls")
	defer span.End()

	data, err := encodeCall(call)
	if err != nil {
		return err
	}

	created, err := r.client.SetNX(ctx, callKey(call.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set call in Redis: %w", err)
	}
	if !created {
		return fmt.Errorf("call already exists: %s", call.ID)
	}
	if call.Active() {
		if err := r.client.SAdd(ctx, activeCallsKey, string(call.ID)).Err(); err != nil {
			return fmt.Errorf("failed to add call to active set: %w", err)
		}
	}
	return nil
}

func (r *RedisCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.GroupCall, error) {
	data, err := r.client.Get(ctx, callKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call from Redis: %w", err)
	}
	return decodeCall(data)
}

// Update rewrites the document and the active index in one transaction.
func (r *RedisCallRepository) Update(ctx context.Context, call *domain.GroupCall) error {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "update", "calls")
	defer span.End()

	data, err := encodeCall(call)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if !call.Active() {
		ttl = r.ttl
	}

	key := callKey(call.ID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetXX(ctx, key, data, ttl)
		if call.Active() {
			pipe.SAdd(ctx, activeCallsKey, string(call.ID))
		} else {
			pipe.SRem(ctx, activeCallsKey, string(call.ID))
		}
		return nil
	})
	if err == redis.Nil {
		return domain.ErrCallNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update call in Redis: %w", err)
	}
	return nil
}

func (r *RedisCallRepository) Delete(ctx context.Context, id domain.CallID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, activeCallsKey, string(id))
		pipe.Del(ctx, callKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete call from Redis: %w", err)
	}
	return nil
}

// ListActive returns active calls, oldest first. Index entries whose
// document is gone are dropped from the set.
func (r *RedisCallRepository) ListActive(ctx context.Context) ([]*domain.GroupCall, error) {
	ids, err := r.client.SMembers(ctx, activeCallsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active calls from Redis: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = callKey(domain.CallID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load active calls from Redis: %w", err)
	}

	calls, stale := collectActive(ids, values)
	if len(stale) > 0 {
		r.client.SRem(ctx, activeCallsKey, stale...)
	}
	return calls, nil
}

func collectActive(ids []string, values []interface{}) ([]*domain.GroupCall, []interface{}) {
	var calls []*domain.GroupCall
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		call, err := decodeCall([]byte(s))
		if err != nil || !call.Active() {
			stale = append(stale, ids[i])
			continue
		}
		calls = append(calls, call)
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.Before(calls[j].CreatedAt)
	})
	return calls, stale
}
