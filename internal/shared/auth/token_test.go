package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer() *Issuer {
	return NewIssuer("test-secret", time.Hour, time.Minute, NewMemoryReplayGuard())
}

func TestSessionTokenRoundTrip(t *testing.T) {
	i := newTestIssuer()
	token, expiresAt, err := i.IssueSession(42, RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	p, err := i.ParseSession(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.UserID)
	assert.True(t, p.IsAdmin())
}

func TestWSTokenIsSingleUse(t *testing.T) {
	i := newTestIssuer()
	ctx := context.Background()
	token, _, err := i.IssueWSToken(Principal{UserID: 7, Role: RoleUser})
	require.NoError(t, err)

	p, err := i.RedeemWSToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)

	_, err = i.RedeemWSToken(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenAudiencesAreNotInterchangeable(t *testing.T) {
	i := newTestIssuer()
	session, _, err := i.IssueSession(7, RoleUser)
	require.NoError(t, err)
	ws, _, err := i.IssueWSToken(Principal{UserID: 7})
	require.NoError(t, err)

	_, err = i.RedeemWSToken(context.Background(), session)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = i.ParseSession(ws)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExpiredAndForeignTokensRejected(t *testing.T) {
	i := newTestIssuer()
	token, _, err := i.IssueWSToken(Principal{UserID: 7})
	require.NoError(t, err)

	i.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = i.RedeemWSToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	other := NewIssuer("other-secret", time.Hour, time.Minute, NewMemoryReplayGuard())
	foreign, _, err := other.IssueSession(7, RoleUser)
	require.NoError(t, err)
	_, err = newTestIssuer().ParseSession(foreign)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMemoryReplayGuardForgetsExpiredIDs(t *testing.T) {
	g := NewMemoryReplayGuard()
	now := time.Now()
	g.now = func() time.Time { return now }

	fresh, err := g.Consume(context.Background(), "a", time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, _ = g.Consume(context.Background(), "a", time.Second)
	assert.False(t, fresh)

	now = now.Add(2 * time.Second)
	fresh, _ = g.Consume(context.Background(), "a", time.Second)
	assert.True(t, fresh)
}
