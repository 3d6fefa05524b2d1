package memory

import (
	"context"
	"testing"
	"time"

	"greenearth/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCallRepository_Lifecycle(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx := context.Background()
	base := time.Date(2026, 4, 22, 10, 0, 0, 0, time.UTC)

	first := domain.NewGroupCall("c1", domain.CallTypeVideo, true, "alice", base)
	second := domain.NewGroupCall("c2", domain.CallTypeVoice, false, "bob", base.Add(time.Minute))
	require.NoError(t, repo.Create(ctx, second))
	require.NoError(t, repo.Create(ctx, first))
	assert.Error(t, repo.Create(ctx, first))

	got, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	got.AddParticipant("carol")

	stored, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, stored.HasParticipant("carol"), "store must not alias returned calls")

	require.NoError(t, repo.Update(ctx, got))
	stored, err = repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, stored.HasParticipant("carol"))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, domain.CallID("c1"), active[0].ID)

	stored.Archive(base.Add(time.Hour))
	require.NoError(t, repo.Update(ctx, stored))
	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.CallID("c2"), active[0].ID)

	require.NoError(t, repo.Delete(ctx, "c1"))
	_, err = repo.GetByID(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
	assert.ErrorIs(t, repo.Update(ctx, stored), domain.ErrCallNotFound)
}

func TestMemoryRecordingCatalog(t *testing.T) {
	catalog := NewMemoryRecordingCatalog()
	ctx := context.Background()
	base := time.Date(2026, 4, 22, 10, 0, 0, 0, time.UTC)

	require.NoError(t, catalog.Save(ctx, &domain.RecordingRecord{ID: "r1", CallID: "c1", SizeBytes: 10, CreatedAt: base}))
	require.NoError(t, catalog.Save(ctx, &domain.RecordingRecord{ID: "r2", CallID: "c1", SizeBytes: 20, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, catalog.Save(ctx, &domain.RecordingRecord{ID: "r3", CallID: "c2", CreatedAt: base}))
	require.NoError(t, catalog.Save(ctx, &domain.RecordingRecord{ID: "r1", CallID: "c1", SizeBytes: 11, CreatedAt: base}))

	records, err := catalog.ListByCall(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.RecordingID("r2"), records[0].ID)
	assert.Equal(t, int64(11), records[1].SizeBytes)

	got, err := catalog.GetByID(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, domain.CallID("c2"), got.CallID)

	_, err = catalog.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRecordingNotFound)

	none, err := catalog.ListByCall(ctx, "c9")
	require.NoError(t, err)
	assert.Empty(t, none)
}
