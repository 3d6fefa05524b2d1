package repositories

import (
	"context"
	"fmt"
	"slices"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
	"greenearth/pkg/cache"
)

// CachedRecordingCatalog is a read-through cache in front of a catalog.
// Saves invalidate the cached listing of their call; entries written by
// other instances show up once the TTL expires.
type CachedRecordingCatalog struct {
	base    ports.RecordingCatalog
	records *cache.Cache[*domain.RecordingRecord]
	lists   *cache.Cache[[]*domain.RecordingRecord]
}

func NewCachedRecordingCatalog(base ports.RecordingCatalog, ttl time.Duration) *CachedRecordingCatalog {
	return &CachedRecordingCatalog{
		base:    base,
		records: cache.New[*domain.RecordingRecord](ttl),
		lists:   cache.New[[]*domain.RecordingRecord](ttl),
	}
}

func (c *CachedRecordingCatalog) Save(ctx context.Context, record *domain.RecordingRecord) error {
	if err := c.base.Save(ctx, record); err != nil {
		return err
	}
	c.records.Delete(recordKey(record.ID))
	c.lists.Delete(listKey(record.CallID))
	return nil
}

func (c *CachedRecordingCatalog) GetByID(ctx context.Context, id domain.RecordingID) (*domain.RecordingRecord, error) {
	return c.records.GetOrLoad(ctx, recordKey(id), func(ctx context.Context) (*domain.RecordingRecord, error) {
		return c.base.GetByID(ctx, id)
	})
}

func (c *CachedRecordingCatalog) ListByCall(ctx context.Context, callID domain.CallID) ([]*domain.RecordingRecord, error) {
	list, err := c.lists.GetOrLoad(ctx, listKey(callID), func(ctx context.Context) ([]*domain.RecordingRecord, error) {
		return c.base.ListByCall(ctx, callID)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(list), nil
}

// Close stops the cache sweepers.
func (c *CachedRecordingCatalog) Close() {
	c.records.Stop()
	c.lists.Stop()
}

func recordKey(id domain.RecordingID) string {
	return fmt.Sprintf("recording:%s", id)
}

func listKey(callID domain.CallID) string {
	return fmt.Sprintf("call:%s:recordings", callID)
}
