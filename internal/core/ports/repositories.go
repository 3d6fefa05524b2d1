package ports

import (
	"context"

	"greenearth/internal/core/domain"
)

type CallRepository interface {
	Create(ctx context.Context, call *domain.GroupCall) error
	GetByID(ctx context.Context, id domain.CallID) (*domain.GroupCall, error)
	Update(ctx context.Context, call *domain.GroupCall) error
	Delete(ctx context.Context, id domain.CallID) error
	ListActive(ctx context.Context) ([]*domain.GroupCall, error)
}

// RecordingCatalog keeps one entry per uploaded recording.
type RecordingCatalog interface {
	Save(ctx context.Context, record *domain.RecordingRecord) error
	GetByID(ctx context.Context, id domain.RecordingID) (*domain.RecordingRecord, error)
	ListByCall(ctx context.Context, callID domain.CallID) ([]*domain.RecordingRecord, error)
}

// CallLocker serializes updates of one call across server instances.
// The returned func releases the lock.
type CallLocker interface {
	LockCall(ctx context.Context, id domain.CallID) (func(), error)
}
