package memory

import (
	"context"
	"sort"
	"sync"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
)

type MemoryRecordingCatalog struct {
	records map[domain.RecordingID]domain.RecordingRecord
	byCall  map[domain.CallID][]domain.RecordingID
	mu      sync.RWMutex
}

func NewMemoryRecordingCatalog() ports.RecordingCatalog {
	return &MemoryRecordingCatalog{
		records: make(map[domain.RecordingID]domain.RecordingRecord),
		byCall:  make(map[domain.CallID][]domain.RecordingID),
	}
}

// Save upserts by recording ID.
func (c *MemoryRecordingCatalog) Save(ctx context.Context, record *domain.RecordingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[record.ID]; !exists {
		c.byCall[record.CallID] = append(c.byCall[record.CallID], record.ID)
	}
	c.records[record.ID] = *record
	return nil
}

func (c *MemoryRecordingCatalog) GetByID(ctx context.Context, id domain.RecordingID) (*domain.RecordingRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, exists := c.records[id]
	if !exists {
		return nil, domain.ErrRecordingNotFound
	}
	return &record, nil
}

// ListByCall returns the call's recordings, newest first.
func (c *MemoryRecordingCatalog) ListByCall(ctx context.Context, callID domain.CallID) ([]*domain.RecordingRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.byCall[callID]
	records := make([]*domain.RecordingRecord, 0, len(ids))
	for _, id := range ids {
		record := c.records[id]
		records = append(records, &record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}
