// File: internal/governance/governance_test.go
package governance

import (
	"context"
	"testing"

	"github.com/polislabs/polis/internal/ledger"
	"github.com/polislabs/polis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGov(t *testing.T) (*Governance, *ledger.Ledger) {
	t.Helper()
	s := store.NewMemStore()
	logger := zap.NewNop()
	led := ledger.New(s, logger)
	return New(s, led, 3, logger), led
}

func seedCitizen(t *testing.T, led *ledger.Ledger, id string, extra int64) {
	t.Helper()
	ctx := context.Background()
	_, err := led.UpsertCitizen(ctx, id)
	require.NoError(t, err)
	if extra > 0 {
		_, err = led.Earn(ctx, id, extra, "seed")
		require.NoError(t, err)
	}
}

func TestSubmitProposalIDs(t *testing.T) {
	g, led := newTestGov(t)
	ctx := context.Background()
	seedCitizen(t, led, "citizen:human:alice:001", 0)

	first, err := g.SubmitProposal(ctx, "citizen:human:alice:001", "Fund the library", "")
	require.NoError(t, err)
	assert.Equal(t, "proposal-001", first.ID)
	assert.Equal(t, StatusOpen, first.Status)

	second, err := g.SubmitProposal(ctx, "citizen:human:alice:001", "Pave the forum", "")
	require.NoError(t, err)
	assert.Equal(t, "proposal-002", second.ID)

	all, err := g.ListProposals(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "proposal-001", all[0].ID)
}

func TestCastVoteWeightSnapshot(t *testing.T) {
	g, led := newTestGov(t)
	ctx := context.Background()
	// Balance 100 + 500 = 600, level 3: weight 600 + 3*100 = 900.
	seedCitizen(t, led, "citizen:human:alice:001", 500)

	proposal, err := g.SubmitProposal(ctx, "citizen:human:alice:001", "Fund the library", "")
	require.NoError(t, err)

	vote, err := g.CastVote(ctx, proposal.ID, "citizen:human:alice:001", ChoiceApprove)
	require.NoError(t, err)
	assert.Equal(t, int64(900), vote.Weight)

	// Spending later does not rewrite the snapshot.
	ok, err := led.Spend(ctx, "citizen:human:alice:001", 550, "x")
	require.NoError(t, err)
	require.True(t, ok)
	stored, err := g.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(900), stored.Votes["citizen:human:alice:001"].Weight)

	// Re-voting replaces the ballot and re-snapshots the weight:
	// balance 50, still level 3 -> 350.
	revote, err := g.CastVote(ctx, proposal.ID, "citizen:human:alice:001", ChoiceReject)
	require.NoError(t, err)
	assert.Equal(t, int64(350), revote.Weight)
	stored, err = g.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	require.Len(t, stored.Votes, 1, "one ballot per citizen")
	assert.Equal(t, ChoiceReject, stored.Votes["citizen:human:alice:001"].Choice)

	_, err = g.CastVote(ctx, proposal.ID, "citizen:human:alice:001", "maybe")
	assert.ErrorIs(t, err, ErrInvalidChoice)
	_, err = g.CastVote(ctx, proposal.ID, "citizen:human:ghost:001", ChoiceApprove)
	assert.ErrorIs(t, err, ledger.ErrCitizenNotFound)
	_, err = g.CastVote(ctx, "proposal-404", "citizen:human:alice:001", ChoiceApprove)
	assert.ErrorIs(t, err, ErrProposalNotFound)
}

func TestTallyApprovedWithQuorum(t *testing.T) {
	g, led := newTestGov(t)
	ctx := context.Background()
	seedCitizen(t, led, "citizen:human:alice:001", 900) // weight 1000+400
	seedCitizen(t, led, "citizen:ai:oracle:001", 0)     // weight 100+100
	seedCitizen(t, led, "agent:analyst:001", 0)         // counts as AI

	proposal, err := g.SubmitProposal(ctx, "citizen:human:alice:001", "Fund the library", "")
	require.NoError(t, err)
	_, err = g.CastVote(ctx, proposal.ID, "citizen:human:alice:001", ChoiceApprove)
	require.NoError(t, err)
	_, err = g.CastVote(ctx, proposal.ID, "citizen:ai:oracle:001", ChoiceReject)
	require.NoError(t, err)
	_, err = g.CastVote(ctx, proposal.ID, "agent:analyst:001", ChoiceAbstain)
	require.NoError(t, err)

	outcome, err := g.Tally(ctx, proposal.ID)
	require.NoError(t, err)
	assert.True(t, outcome.QuorumMet)
	assert.Equal(t, StatusApproved, outcome.Status)
	assert.Equal(t, int64(1400), outcome.ApproveWeight)
	assert.Equal(t, int64(200), outcome.RejectWeight)
	assert.Equal(t, int64(200), outcome.AbstainWeight)

	// The status is persisted and the proposal refuses further activity.
	stored, err := g.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	_, err = g.CastVote(ctx, proposal.ID, "citizen:human:alice:001", ChoiceApprove)
	assert.ErrorIs(t, err, ErrProposalClosed)
	_, err = g.Tally(ctx, proposal.ID)
	assert.ErrorIs(t, err, ErrProposalClosed)
}

func TestTallyQuorumRequiresMixedVoters(t *testing.T) {
	g, led := newTestGov(t)
	ctx := context.Background()
	seedCitizen(t, led, "citizen:human:alice:001", 0)
	seedCitizen(t, led, "citizen:human:bob:001", 0)
	seedCitizen(t, led, "citizen:human:carol:001", 0)

	proposal, err := g.SubmitProposal(ctx, "citizen:human:alice:001", "Humans only", "")
	require.NoError(t, err)
	for _, id := range []string{"citizen:human:alice:001", "citizen:human:bob:001", "citizen:human:carol:001"} {
		_, err = g.CastVote(ctx, proposal.ID, id, ChoiceApprove)
		require.NoError(t, err)
	}

	outcome, err := g.Tally(ctx, proposal.ID)
	require.NoError(t, err)
	assert.False(t, outcome.QuorumMet, "three humans and no AI is not a quorum")
	assert.Equal(t, StatusNoQuorum, outcome.Status)
}

func TestTallyNoQuorumLeavesProposalOpen(t *testing.T) {
	g, led := newTestGov(t)
	ctx := context.Background()
	seedCitizen(t, led, "citizen:human:alice:001", 0)
	seedCitizen(t, led, "citizen:human:bob:001", 0)
	seedCitizen(t, led, "citizen:ai:oracle:001", 0)

	proposal, err := g.SubmitProposal(ctx, "citizen:human:alice:001", "Fund the archive", "")
	require.NoError(t, err)
	_, err = g.CastVote(ctx, proposal.ID, "citizen:human:alice:001", ChoiceApprove)
	require.NoError(t, err)

	// A premature tally reports no-quorum but decides nothing.
	outcome, err := g.Tally(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoQuorum, outcome.Status)
	stored, err := g.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, stored.Status, "a no-quorum tally must not close the proposal")
	assert.Zero(t, stored.TalliedAt)

	// Voting continues until quorum is actually reached.
	_, err = g.CastVote(ctx, proposal.ID, "citizen:human:bob:001", ChoiceApprove)
	require.NoError(t, err)
	_, err = g.CastVote(ctx, proposal.ID, "citizen:ai:oracle:001", ChoiceApprove)
	require.NoError(t, err)

	outcome, err = g.Tally(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, outcome.Status)
	stored, err = g.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
}

func TestTallyUnknownPrefixCountsForNeitherSide(t *testing.T) {
	g, led := newTestGov(t)
	ctx := context.Background()
	seedCitizen(t, led, "citizen:human:alice:001", 0)
	seedCitizen(t, led, "citizen:human:bob:001", 0)
	seedCitizen(t, led, "org:guild:001", 0)

	proposal, err := g.SubmitProposal(ctx, "citizen:human:alice:001", "Adopt the guild", "")
	require.NoError(t, err)
	for _, id := range []string{"citizen:human:alice:001", "citizen:human:bob:001", "org:guild:001"} {
		_, err = g.CastVote(ctx, proposal.ID, id, ChoiceApprove)
		require.NoError(t, err)
	}

	outcome, err := g.Tally(ctx, proposal.ID)
	require.NoError(t, err)
	assert.False(t, outcome.QuorumMet, "an unrecognized prefix is not an AI participant")
	assert.Equal(t, 3, outcome.Voters, "unknown voters still count toward turnout")

	// An actual AI ballot completes the mix.
	seedCitizen(t, led, "agent:analyst:001", 0)
	_, err = g.CastVote(ctx, proposal.ID, "agent:analyst:001", ChoiceApprove)
	require.NoError(t, err)
	outcome, err = g.Tally(ctx, proposal.ID)
	require.NoError(t, err)
	assert.True(t, outcome.QuorumMet)
	assert.Equal(t, StatusApproved, outcome.Status)
}

func TestTallyEmergencyFounderOverride(t *testing.T) {
	g, led := newTestGov(t)
	ctx := context.Background()
	seedCitizen(t, led, "citizen:human:visionary:001", 0)
	require.NoError(t, led.CreateGenesisBlock(ctx, []string{"citizen:human:visionary:001"}))

	proposal, err := g.SubmitProposal(ctx, "citizen:human:visionary:001",
		"Emergency: patch the treasury", "")
	require.NoError(t, err)
	_, err = g.CastVote(ctx, proposal.ID, "citizen:human:visionary:001", ChoiceApprove)
	require.NoError(t, err)

	outcome, err := g.Tally(ctx, proposal.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Emergency)
	assert.True(t, outcome.QuorumMet, "a founder approval carries an emergency proposal")
	assert.Equal(t, StatusApproved, outcome.Status)
}

func TestTallyEmergencyWithoutFounder(t *testing.T) {
	g, led := newTestGov(t)
	ctx := context.Background()
	seedCitizen(t, led, "citizen:human:alice:001", 0)

	proposal, err := g.SubmitProposal(ctx, "citizen:human:alice:001", "Emergency repairs", "")
	require.NoError(t, err)
	_, err = g.CastVote(ctx, proposal.ID, "citizen:human:alice:001", ChoiceApprove)
	require.NoError(t, err)

	outcome, err := g.Tally(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoQuorum, outcome.Status,
		"emergency without a founder approval stays short of quorum")
}
