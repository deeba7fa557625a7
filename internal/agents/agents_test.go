// File: internal/agents/agents_test.go
package agents

import (
	"context"
	"testing"

	"github.com/polislabs/polis/internal/ledger"
	"github.com/polislabs/polis/internal/soul"
	"github.com/polislabs/polis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestFactory(t *testing.T) (*Factory, store.Store, Deps) {
	t.Helper()
	s := store.NewMemStore()
	logger := zap.NewNop()
	deps := Deps{
		Souls:  soul.NewManager(s, logger, soul.Options{}),
		Ledger: ledger.New(s, logger),
		Log:    logger,
	}
	return NewFactory(s, deps, logger), s, deps
}

func TestSpawnAgent(t *testing.T) {
	f, _, deps := newTestFactory(t)
	ctx := context.Background()

	agent, err := f.SpawnAgent(ctx, "FundingAnalyst", "agent:analyst:001")
	require.NoError(t, err)
	assert.Equal(t, "agent:analyst:001", agent.ID())
	assert.Equal(t, StateIdle, agent.State())

	// The soul, index record and citizen record all exist after spawn.
	s, err := deps.Souls.Load(ctx, "agent:analyst:001")
	require.NoError(t, err)
	assert.Equal(t, "FundingAnalyst", s.Type)

	records, err := f.ListAgents(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, soul.Key("agent:analyst:001"), records[0].SoulID)

	citizen, err := deps.Ledger.GetCitizen(ctx, "agent:analyst:001")
	require.NoError(t, err)
	assert.Equal(t, ledger.StartingBalance, citizen.Balance)
	assert.Equal(t, "agent", citizen.Type)

	_, err = f.SpawnAgent(ctx, "TimeTraveler", "")
	assert.ErrorIs(t, err, ErrUnknownAgentType)
}

func TestAnalystSeedsKnowledge(t *testing.T) {
	f, _, deps := newTestFactory(t)
	ctx := context.Background()

	_, err := f.SpawnAgent(ctx, "FundingAnalyst", "agent:analyst:001")
	require.NoError(t, err)
	value, ok, err := deps.Souls.Recall(ctx, "agent:analyst:001", "fundingPrograms")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, value)
}

func TestExecuteSettlesCreditsAndXP(t *testing.T) {
	f, _, deps := newTestFactory(t)
	ctx := context.Background()

	agent, err := f.SpawnAgent(ctx, "FundingAnalyst", "agent:analyst:001")
	require.NoError(t, err)

	result, err := agent.Execute(ctx, Task{
		ID:   "t1",
		Type: TaskAnalyzeFundingCall,
		Data: map[string]any{"deadlineDays": float64(60), "programMatch": true, "program": "horizon-europe"},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	probability, ok := result.Output["successProbability"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 0.9, probability, 1e-9)
	assert.Equal(t, "pursue", result.Output["recommendation"])
	assert.Equal(t, StateIdle, agent.State(), "working state always drains back to idle")

	// Ledger is authoritative: 100 start - 50 cost + 100 reward = 150.
	balance, err := deps.Ledger.GetBalance(ctx, "agent:analyst:001")
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)

	s, err := deps.Souls.Load(ctx, "agent:analyst:001")
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.Achievements.XP)
	require.Len(t, s.Achievements.Contributions, 1)
}

func TestExecuteRejectsUnsupportedAndSuspended(t *testing.T) {
	f, _, _ := newTestFactory(t)
	ctx := context.Background()

	agent, err := f.SpawnAgent(ctx, "ProposalWriter", "agent:writer:001")
	require.NoError(t, err)

	_, err = agent.Execute(ctx, Task{ID: "t1", Type: TaskAnalyzeFundingCall})
	assert.ErrorIs(t, err, ErrUnsupportedTask)

	require.NoError(t, f.SuspendAgent(ctx, "agent:writer:001"))
	_, err = agent.Execute(ctx, Task{ID: "t2", Type: TaskGenerateProposalOutline})
	assert.ErrorIs(t, err, ErrAgentSuspended)

	require.NoError(t, f.ResumeAgent(ctx, "agent:writer:001"))
	result, err := agent.Execute(ctx, Task{ID: "t3", Type: TaskGenerateProposalOutline})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestHandlerFailureIsNotAnError(t *testing.T) {
	f, _, _ := newTestFactory(t)
	ctx := context.Background()

	agent, err := f.SpawnAgent(ctx, "FundingAnalyst", "agent:analyst:001")
	require.NoError(t, err)

	// calculate-roi with no investment fails inside the handler.
	result, err := agent.Execute(ctx, Task{ID: "t1", Type: TaskCalculateROI})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, StateIdle, agent.State())
}

func TestGetAgentRehydrates(t *testing.T) {
	f, s, deps := newTestFactory(t)
	ctx := context.Background()

	_, err := f.SpawnAgent(ctx, "PartnerMatcher", "agent:matcher:001")
	require.NoError(t, err)
	require.NoError(t, f.SuspendAgent(ctx, "agent:matcher:001"))

	// A second factory over the same store has no resident instances.
	fresh := NewFactory(s, deps, zap.NewNop())
	agent, err := fresh.GetAgent(ctx, "agent:matcher:001")
	require.NoError(t, err)
	assert.Equal(t, "PartnerMatcher", agent.Type())
	assert.Equal(t, StateSuspended, agent.State(), "index status survives rehydration")

	_, err = fresh.GetAgent(ctx, "agent:nobody:001")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestListAndDestroy(t *testing.T) {
	f, _, _ := newTestFactory(t)
	ctx := context.Background()

	_, err := f.SpawnAgent(ctx, "FundingAnalyst", "agent:analyst:001")
	require.NoError(t, err)
	_, err = f.SpawnAgent(ctx, "ProposalWriter", "agent:writer:001")
	require.NoError(t, err)

	analysts, err := f.ListAgents(ctx, "FundingAnalyst")
	require.NoError(t, err)
	assert.Len(t, analysts, 1)

	require.NoError(t, f.DestroyAgent(ctx, "agent:analyst:001"))
	all, err := f.ListAgents(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "agent:writer:001", all[0].ID)
}

func TestAssignTask(t *testing.T) {
	f, _, _ := newTestFactory(t)
	ctx := context.Background()

	_, err := f.AssignTask(ctx, Task{ID: "t0", Type: TaskAnalyzeFundingCall}, "")
	assert.ErrorIs(t, err, ErrNoAgents)

	_, err = f.SpawnAgent(ctx, "FundingAnalyst", "agent:analyst:001")
	require.NoError(t, err)
	_, err = f.SpawnAgent(ctx, "ProposalWriter", "agent:writer:001")
	require.NoError(t, err)

	// Unnamed tasks go to the first indexed agent.
	result, err := f.AssignTask(ctx, Task{ID: "t1", Type: TaskAnalyzeFundingCall}, "")
	require.NoError(t, err)
	assert.Equal(t, "agent:analyst:001", result.AgentID)

	result, err = f.AssignTask(ctx, Task{ID: "t2", Type: TaskGenerateProposalOutline}, "agent:writer:001")
	require.NoError(t, err)
	assert.Equal(t, "agent:writer:001", result.AgentID)
}

func TestFindCapableAgentSearchesFullIndex(t *testing.T) {
	f, s, deps := newTestFactory(t)
	ctx := context.Background()

	_, err := f.SpawnAgent(ctx, "FundingAnalyst", "agent:analyst:001")
	require.NoError(t, err)
	_, err = f.SpawnAgent(ctx, "PartnerMatcher", "agent:matcher:001")
	require.NoError(t, err)

	// Search from a fresh factory: nothing is resident, so a hit proves the
	// persisted index is consulted, not just the cache.
	fresh := NewFactory(s, deps, zap.NewNop())
	agent, err := fresh.FindCapableAgent(ctx, TaskIdentifyPartners)
	require.NoError(t, err)
	assert.Equal(t, "agent:matcher:001", agent.ID())

	_, err = fresh.FindCapableAgent(ctx, "terraform-mars")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}
