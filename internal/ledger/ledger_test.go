// File: internal/ledger/ledger_test.go
package ledger

import (
	"context"
	"testing"

	"github.com/polislabs/polis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLedger(t *testing.T) (*Ledger, store.Store) {
	t.Helper()
	s := store.NewMemStore()
	return New(s, zap.NewNop()), s
}

func TestUpsertCitizen(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.UpsertCitizen(ctx, "citizen:human:tester:001")
	require.NoError(t, err)
	assert.Equal(t, StartingBalance, rec.Balance)
	assert.Equal(t, 1, rec.Level)
	assert.Empty(t, rec.Transactions)

	// Upsert is idempotent and returns the existing record.
	_, err = l.Earn(ctx, rec.ID, 50, "test")
	require.NoError(t, err)
	again, err := l.UpsertCitizen(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StartingBalance+50, again.Balance)
}

func TestEarnSpendScenario(t *testing.T) {
	// Scenario: balance 100 -> earn 500 -> 600 -> spend 700 rejected ->
	// spend 600 accepted -> 0, two transactions total.
	l, _ := newTestLedger(t)
	ctx := context.Background()
	const id = "citizen:human:tester:001"

	_, err := l.UpsertCitizen(ctx, id)
	require.NoError(t, err)

	balance, err := l.Earn(ctx, id, 500, "grant")
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance)

	txs, err := l.GetTransactions(ctx, id)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "earn", txs[0].Type)
	assert.Equal(t, "grant", txs[0].Source)

	ok, err := l.Spend(ctx, id, 700, "x")
	require.NoError(t, err)
	assert.False(t, ok)
	balance, err = l.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance, "rejected spend must leave the balance unchanged")

	ok, err = l.Spend(ctx, id, 600, "y")
	require.NoError(t, err)
	assert.True(t, ok)
	balance, err = l.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	txs, err = l.GetTransactions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, txs, 2, "only accepted mutations append transactions")
}

func TestSpendUnknownCitizen(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Spend(context.Background(), "citizen:unknown", 10, "x")
	assert.ErrorIs(t, err, ErrCitizenNotFound)
}

func TestBalanceConservation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	const id = "agent:worker:001"

	_, err := l.UpsertCitizen(ctx, id)
	require.NoError(t, err)

	var earned, spent int64
	ops := []struct {
		earn  int64
		spend int64
	}{
		{earn: 250}, {spend: 90}, {earn: 10}, {spend: 1000}, {spend: 200}, {earn: 5},
	}
	for _, op := range ops {
		if op.earn > 0 {
			_, err := l.Earn(ctx, id, op.earn, "work")
			require.NoError(t, err)
			earned += op.earn
		}
		if op.spend > 0 {
			ok, err := l.Spend(ctx, id, op.spend, "fees")
			require.NoError(t, err)
			if ok {
				spent += op.spend
			}
		}
	}

	balance, err := l.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StartingBalance+earned-spent, balance)

	txs, err := l.GetTransactions(ctx, id)
	require.NoError(t, err)
	// One transaction per accepted mutation, none for the rejected spend.
	var acceptedOps int
	for _, op := range ops {
		if op.earn > 0 {
			acceptedOps++
		}
	}
	acceptedOps += 2 // the two spends that fit within the balance
	assert.Len(t, txs, acceptedOps)
}

func TestCreditLevelThresholds(t *testing.T) {
	cases := []struct {
		balance int64
		level   int
	}{
		{0, 1}, {99, 1}, {100, 2}, {499, 2}, {500, 3},
		{999, 3}, {1000, 4}, {5000, 5}, {9999, 5}, {10000, 6},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, CreditLevel(tc.balance), "balance %d", tc.balance)
	}
}

func TestLevelUpOnEarn(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	const id = "citizen:human:climber:001"

	_, err := l.UpsertCitizen(ctx, id)
	require.NoError(t, err)
	_, err = l.Earn(ctx, id, 900, "grant") // balance 1000 -> level 4
	require.NoError(t, err)

	rec, err := l.GetCitizen(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Level)
}

func TestLevelNeverDowngradesOnSpend(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	const id = "citizen:human:spender:001"

	_, err := l.UpsertCitizen(ctx, id)
	require.NoError(t, err)
	_, err = l.Earn(ctx, id, 900, "grant")
	require.NoError(t, err)
	ok, err := l.Spend(ctx, id, 950, "shopping")
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := l.GetCitizen(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Level, "spend does not trigger a level re-check")
}

func TestGenesisBlock(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	has, err := l.HasGenesis(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	founders := []string{"citizen:human:visionary:001", "citizen:ai:strategist:001"}
	require.NoError(t, l.CreateGenesisBlock(ctx, founders))

	has, err = l.HasGenesis(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	status, err := l.Genesis(ctx)
	require.NoError(t, err)
	first := status.GenesisAt
	assert.Equal(t, founders, status.Founders)

	// A second call never flips genesis again and keeps founders deduplicated.
	require.NoError(t, l.CreateGenesisBlock(ctx, []string{"citizen:human:visionary:001", "agent:architect:003"}))
	status, err = l.Genesis(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, status.GenesisAt)
	assert.Equal(t, []string{"citizen:human:visionary:001", "citizen:ai:strategist:001", "agent:architect:003"}, status.Founders)
}

func TestStateRoundTrip(t *testing.T) {
	s := store.NewMemStore()
	l := New(s, zap.NewNop())
	ctx := context.Background()

	_, err := l.UpsertCitizen(ctx, "citizen:human:tester:001")
	require.NoError(t, err)
	_, err = l.Earn(ctx, "citizen:human:tester:001", 500, "grant")
	require.NoError(t, err)

	// A second ledger over the same store sees identical state.
	other := New(s, zap.NewNop())
	rec, err := other.GetCitizen(ctx, "citizen:human:tester:001")
	require.NoError(t, err)
	assert.Equal(t, int64(600), rec.Balance)
	require.Len(t, rec.Transactions, 1)
	assert.Equal(t, int64(500), rec.Transactions[0].Amount)
}
