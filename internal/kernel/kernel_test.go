// File: internal/kernel/kernel_test.go
package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/polislabs/polis/internal/config"
	"github.com/polislabs/polis/internal/ledger"
	"github.com/polislabs/polis/internal/soul"
	"github.com/polislabs/polis/internal/specs"
	"github.com/polislabs/polis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const constitution = `---
version: 1.0.0
type: constitution
status: approved
---
# Constitution

### User Story: Operate the nation
The kernel keeps the nation running.

- [ ] The nation boots

` + "```typescript beforeInit\nlog(\"constitution warming up\")\n```" + `
`

const territorySpec = `---
version: 2.1.0
type: territory
status: draft
---
# Funding Territory

## Services

- eu-discovery: 150
- grant-audit: 300
`

type fixture struct {
	kernel *Kernel
	ledger *ledger.Ledger
	souls  *soul.Manager
	store  store.Store
	dir    string
}

func newFixture(t *testing.T, withTerritory bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "kernel"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kernel", "constitution.spec.md"), []byte(constitution), 0o644))
	if withTerritory {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "territories"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "territories", "funding.spec.md"), []byte(territorySpec), 0o644))
	}

	logger := zap.NewNop()
	s := store.NewMemStore()
	led := ledger.New(s, logger)
	souls := soul.NewManager(s, logger, soul.Options{})
	interp := specs.NewInterpreter(s, []string{dir}, logger)
	cfg := config.KernelConfig{SpecsDir: dir, ConstitutionFile: "kernel/constitution.spec.md"}
	return &fixture{
		kernel: New(cfg, s, led, souls, interp, logger),
		ledger: led,
		souls:  souls,
		store:  s,
		dir:    dir,
	}
}

func TestBootEstablishesGenesis(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.kernel.Boot(ctx))

	status, err := f.ledger.Genesis(ctx)
	require.NoError(t, err)
	assert.True(t, status.Genesis)
	assert.Contains(t, status.Founders, "citizen:human:visionary:001")
	assert.Contains(t, status.Founders, "agent:founding-architect:001")

	visionary, err := f.ledger.GetCitizen(ctx, "citizen:human:visionary:001")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), visionary.Balance)
	assert.Equal(t, 10, visionary.Level)
	assert.Equal(t, "POLIS-GENESIS-001", visionary.FoundingDecree)

	strategist, err := f.ledger.GetCitizen(ctx, "citizen:ai:strategist:001")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), strategist.Balance)

	architect, err := f.souls.Load(ctx, "agent:founding-architect:001")
	require.NoError(t, err)
	assert.Equal(t, "POLIS-GENESIS-003", architect.Credentials.FoundingDecree)
}

func TestBootDraftConstitution(t *testing.T) {
	f := newFixture(t, false)
	draft := `---
version: 0.9.0
type: constitution
status: draft
---
# Constitution

### User Story: Operate the nation
The kernel keeps the nation running.
`
	path := filepath.Join(f.dir, "kernel", "constitution.spec.md")
	require.NoError(t, os.WriteFile(path, []byte(draft), 0o644))

	// A readable draft constitution boots; only an unreadable one is fatal.
	require.NoError(t, f.kernel.Boot(context.Background()))
	require.NotNil(t, f.kernel.Constitution())
	assert.Equal(t, "draft", f.kernel.Constitution().Metadata.Status)
}

func TestBootIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.kernel.Boot(ctx))

	// Drain the visionary, boot again: genesis must not re-mint balances.
	ok, err := f.ledger.Spend(ctx, "citizen:human:visionary:001", 100000, "drain")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.kernel.Boot(ctx))
	balance, err := f.ledger.GetBalance(ctx, "citizen:human:visionary:001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestGenesisGuardSurvivesRestart(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.kernel.Boot(ctx))

	ok, err := f.ledger.Spend(ctx, "citizen:ai:strategist:001", 50000, "drain")
	require.NoError(t, err)
	require.True(t, ok)

	// A fresh kernel over the same store sees the persisted flag.
	logger := zap.NewNop()
	interp := specs.NewInterpreter(f.store, []string{f.dir}, logger)
	cfg := config.KernelConfig{SpecsDir: f.dir, ConstitutionFile: "kernel/constitution.spec.md"}
	second := New(cfg, f.store, f.ledger, f.souls, interp, logger)
	require.NoError(t, second.Boot(ctx))

	balance, err := f.ledger.GetBalance(ctx, "citizen:ai:strategist:001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestTerritoryDiscovery(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.kernel.Boot(ctx))

	assert.Equal(t, []string{"funding"}, f.kernel.GetTerritoryKeys())
	territory, err := f.kernel.GetTerritory("funding")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", territory.Version)
	require.Len(t, territory.ListServices(), 2)

	svc, ok := territory.GetService("grant-audit")
	require.True(t, ok)
	assert.Equal(t, int64(300), svc.Price)

	events, err := f.kernel.DiscoveryEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "funding", events[0].Slug)
	assert.ElementsMatch(t, []string{"eu-discovery", "grant-audit"}, events[0].Services)
	assert.NotEmpty(t, events[0].TraceID)

	_, err = f.kernel.GetTerritory("atlantis")
	assert.ErrorIs(t, err, ErrTerritoryNotFound)
}

func TestDefaultTerritoryFallback(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.kernel.Boot(context.Background()))

	assert.Equal(t, []string{"eufm"}, f.kernel.GetTerritoryKeys())
	territory, err := f.kernel.GetTerritory("eufm")
	require.NoError(t, err)
	svc, ok := territory.GetService("proposal-draft")
	require.True(t, ok)
	assert.Equal(t, int64(500), svc.Price)
}

func TestBadTerritoryDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, true)
	bad := filepath.Join(f.dir, "territories", "broken.spec.md")
	require.NoError(t, os.WriteFile(bad, []byte("# No metadata, no services\n"), 0o644))

	require.NoError(t, f.kernel.Boot(context.Background()))
	assert.Equal(t, []string{"funding"}, f.kernel.GetTerritoryKeys(),
		"one invalid territory must not block the rest")
}

func TestReloadTerritories(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.kernel.Boot(ctx))

	next := filepath.Join(f.dir, "territories", "research.spec.md")
	require.NoError(t, os.WriteFile(next, []byte(`---
version: 1.0.0
type: territory
status: draft
---
## Services

- paper-review: 50
`), 0o644))

	slugs, err := f.kernel.ReloadTerritories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"funding", "research"}, slugs)

	// Removal is wholesale: a deleted file disappears from the map.
	require.NoError(t, os.Remove(next))
	slugs, err = f.kernel.ReloadTerritories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"funding"}, slugs)
}

func TestRequestService(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.kernel.Boot(ctx))

	rec, err := f.kernel.RegisterCitizenRecord(ctx, "citizen:human:tester:001")
	require.NoError(t, err)
	require.Equal(t, ledger.StartingBalance, rec.Balance)

	result, err := f.kernel.RequestService(ctx, "funding", "eu-discovery", rec.ID, nil)
	require.NoError(t, err)
	assert.False(t, result.Success, "150 > starting balance of 100")
	assert.Contains(t, result.Error, "need 150")
	balance, err := f.ledger.GetBalance(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance, "a refused request never debits")

	_, err = f.ledger.Earn(ctx, rec.ID, 400, "grant")
	require.NoError(t, err)

	result, err = f.kernel.RequestService(ctx, "funding", "eu-discovery", rec.ID,
		map[string]any{"domain": "energy"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "eu-discovery completed successfully", result.Result)
	assert.Equal(t, int64(350), result.Balance, "execution debits the price")

	_, err = f.kernel.RequestService(ctx, "funding", "time-travel", rec.ID, nil)
	assert.ErrorIs(t, err, ErrServiceNotFound)
	_, err = f.kernel.RequestService(ctx, "atlantis", "eu-discovery", rec.ID, nil)
	assert.ErrorIs(t, err, ErrTerritoryNotFound)
	_, err = f.kernel.RequestService(ctx, "funding", "eu-discovery", "citizen:ghost", nil)
	assert.ErrorIs(t, err, ledger.ErrCitizenNotFound)
}
