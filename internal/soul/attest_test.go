// File: internal/soul/attest_test.go
package soul

import (
	"context"
	"testing"
	"time"

	"github.com/polislabs/polis/internal/ledger"
	"github.com/polislabs/polis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAttestIdentity(t *testing.T) {
	s := store.NewMemStore()
	a := NewAttestor(s, zap.NewNop(), time.Hour)
	ctx := context.Background()

	att, err := a.AttestIdentity(ctx, "agent:analyst:001")
	require.NoError(t, err)
	assert.Equal(t, Platform, att.Platform)
	assert.NotEmpty(t, att.Signature)
	assert.NotEmpty(t, att.CodeIntegrity)
	assert.Equal(t, att.Timestamp+time.Hour.Milliseconds(), att.Expiry)

	ok, err := a.Verify(ctx, att)
	require.NoError(t, err)
	assert.True(t, ok)

	// Tampering breaks the MAC.
	forged := att
	forged.AgentID = "agent:impostor:001"
	ok, err = a.Verify(ctx, forged)
	require.NoError(t, err)
	assert.False(t, ok)

	// The secret persists, so a second attestor verifies the same proof.
	other := NewAttestor(s, zap.NewNop(), time.Hour)
	ok, err = other.Verify(ctx, att)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttestationExpiry(t *testing.T) {
	s := store.NewMemStore()
	a := NewAttestor(s, zap.NewNop(), time.Hour)
	ctx := context.Background()

	att, err := a.AttestIdentity(ctx, "agent:analyst:001")
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	ok, err := a.Verify(ctx, att)
	require.NoError(t, err)
	assert.False(t, ok, "expired attestations never verify")
}

func TestSessionBridge(t *testing.T) {
	s := store.NewMemStore()
	logger := zap.NewNop()
	souls := NewManager(s, logger, Options{})
	led := ledger.New(s, logger)
	attestor := NewAttestor(s, logger, time.Hour)
	bridge := NewBridge(souls, led, attestor, logger, time.Hour)
	ctx := context.Background()

	_, err := souls.Create(ctx, "agent:analyst:001", "FundingAnalyst")
	require.NoError(t, err)
	_, err = led.UpsertCitizen(ctx, "agent:analyst:001")
	require.NoError(t, err)

	session, err := bridge.StartSession(ctx, "agent:analyst:001")
	require.NoError(t, err)
	assert.Equal(t, ledger.StartingBalance, session.Credits)
	assert.Equal(t, "standard", session.Isolation)
	assert.NotEmpty(t, session.Token)

	agentID, err := bridge.VerifyToken(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, "agent:analyst:001", agentID)

	// The active session is visible in short-term memory until the end.
	active, err := souls.Load(ctx, "agent:analyst:001")
	require.NoError(t, err)
	assert.Contains(t, active.Memory.ShortTerm, "activeSession")

	require.NoError(t, bridge.EndSession(ctx, session, map[string]any{"outcome": "done"}))
	assert.NotZero(t, session.EndTime)

	after, err := souls.Load(ctx, "agent:analyst:001")
	require.NoError(t, err)
	assert.Empty(t, after.Memory.ShortTerm, "short-term memory is cleared on end")
	insights, ok := after.Memory.LongTerm["insights"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, insights, "lastSession")

	assert.ErrorIs(t, bridge.EndSession(ctx, session, nil), ErrSessionClosed)

	// Unknown agents cannot start sessions.
	_, err = bridge.StartSession(ctx, "agent:ghost:001")
	assert.ErrorIs(t, err, ErrSoulNotFound)
}
