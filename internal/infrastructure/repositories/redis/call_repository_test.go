package redis

import (
	"testing"
	"time"

	"greenearth/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallCodec_RoundTripKeepsArchiveState(t *testing.T) {
	now := time.Date(2026, 4, 22, 10, 0, 0, 0, time.UTC)
	call := domain.NewGroupCall("c1", domain.CallTypeVideo, true, "alice", now)
	call.AddParticipant("bob")
	call.Archive(now.Add(time.Hour))

	data, err := encodeCall(call)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"archived"`)

	got, err := decodeCall(data)
	require.NoError(t, err)
	assert.False(t, got.Active())
	require.NotNil(t, got.ArchivedAt)
	assert.True(t, got.ArchivedAt.Equal(now.Add(time.Hour)))
	assert.True(t, got.HasParticipant("bob"))
}

func TestCollectActive_SortsAndReportsStale(t *testing.T) {
	now := time.Date(2026, 4, 22, 10, 0, 0, 0, time.UTC)
	older := domain.NewGroupCall("old", domain.CallTypeVoice, true, "a", now)
	newer := domain.NewGroupCall("new", domain.CallTypeVoice, true, "b", now.Add(time.Minute))
	archived := domain.NewGroupCall("gone", domain.CallTypeVoice, true, "c", now)
	archived.Archive(now)

	encode := func(c *domain.GroupCall) interface{} {
		data, err := encodeCall(c)
		require.NoError(t, err)
		return string(data)
	}

	ids := []string{"new", "missing", "old", "gone", "junk"}
	values := []interface{}{encode(newer), nil, encode(older), encode(archived), "{not json"}

	calls, stale := collectActive(ids, values)

	require.Len(t, calls, 2)
	assert.Equal(t, domain.CallID("old"), calls[0].ID)
	assert.Equal(t, domain.CallID("new"), calls[1].ID)
	assert.ElementsMatch(t, []interface{}{"missing", "gone", "junk"}, stale)
}

func TestCallKey(t *testing.T) {
	assert.Equal(t, "greenearth:call:c1", callKey("c1"))
	assert.NotEqual(t, activeCallsKey, callKey("active"))
}
