package services

import (
	"context"
	"testing"
	"time"

	"greenearth/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_TokenRoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Minute, time.Hour, nil)

	token, err := auth.GenerateToken(domain.Profile{ID: "u1", Name: "Wangari", Avatar: "https://cdn/a.png"})
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Profile{ID: "u1", Name: "Wangari", Avatar: "https://cdn/a.png"}, claims.Profile())
}

func TestAuthService_RejectsForeignAndExpiredTokens(t *testing.T) {
	auth := NewAuthService("secret", time.Minute, time.Hour, nil)
	other := NewAuthService("other-secret", time.Minute, time.Hour, nil)
	expired := NewAuthService("secret", -time.Minute, time.Hour, nil)

	foreign, err := other.GenerateToken(domain.Profile{ID: "u1"})
	require.NoError(t, err)
	_, err = auth.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	old, err := expired.GenerateToken(domain.Profile{ID: "u1"})
	require.NoError(t, err)
	_, err = auth.ValidateToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = auth.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_CheckCallAccess(t *testing.T) {
	calls := newMemoryCalls()
	ctx := context.Background()
	now := time.Now()

	group := domain.NewGroupCall("group", domain.CallTypeVideo, true, "a", now)
	group.AddParticipant("a")
	group.AddParticipant("b")
	group.AddParticipant("c")
	direct := domain.NewGroupCall("direct", domain.CallTypeVoice, false, "a", now)
	direct.AddParticipant("a")
	direct.AddParticipant("b")
	require.NoError(t, calls.Create(ctx, group))
	require.NoError(t, calls.Create(ctx, direct))

	auth := NewAuthService("secret", time.Minute, time.Hour, calls)

	assert.NoError(t, auth.CheckCallAccess(ctx, "z", "group"))
	assert.NoError(t, auth.CheckCallAccess(ctx, "b", "direct"))
	assert.ErrorIs(t, auth.CheckCallAccess(ctx, "z", "direct"), ErrUnauthorized)
	assert.ErrorIs(t, auth.CheckCallAccess(ctx, "z", "missing"), domain.ErrCallNotFound)
}
