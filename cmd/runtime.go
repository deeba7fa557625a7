// File: cmd/runtime.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/polislabs/polis/internal/agents"
	"github.com/polislabs/polis/internal/governance"
	"github.com/polislabs/polis/internal/kernel"
	"github.com/polislabs/polis/internal/ledger"
	"github.com/polislabs/polis/internal/observability"
	"github.com/polislabs/polis/internal/queue"
	"github.com/polislabs/polis/internal/soul"
	"github.com/polislabs/polis/internal/specs"
	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// runtime is the wired-together nation: every subsystem over one store.
type runtime struct {
	store      store.Store
	ledger     *ledger.Ledger
	souls      *soul.Manager
	attestor   *soul.Attestor
	bridge     *soul.Bridge
	interp     *specs.Interpreter
	kernel     *kernel.Kernel
	factory    *agents.Factory
	queue      *queue.Queue
	governance *governance.Governance
	log        *zap.Logger
}

// newRuntime builds the full stack from the loaded configuration.
func newRuntime(ctx context.Context) (*runtime, error) {
	log := observability.GetLogger()

	s, err := openStore(ctx, log)
	if err != nil {
		return nil, err
	}

	led := ledger.New(s, log)
	souls := soul.NewManager(s, log, soul.Options{
		FactTTL:      cfg.AgentsCfg.FactTTL,
		SemanticDim:  cfg.AgentsCfg.SemanticDim,
		SummaryBytes: cfg.AgentsCfg.SummaryBytes,
	})
	attestor := soul.NewAttestor(s, log, cfg.AgentsCfg.AttestationTTL)
	bridge := soul.NewBridge(souls, led, attestor, log, cfg.AgentsCfg.SessionTTL)
	interp := specs.NewInterpreter(s, []string{cfg.KernelCfg.SpecsDir}, log)
	k := kernel.New(cfg.KernelCfg, s, led, souls, interp, log)
	factory := agents.NewFactory(s, agents.Deps{Souls: souls, Ledger: led, Log: log}, log)
	q := queue.New(s, factory, cfg.QueueCfg.DefaultAgentType, log)
	gov := governance.New(s, led, cfg.GovernanceCfg.QuorumVoters, log)

	return &runtime{
		store:      s,
		ledger:     led,
		souls:      souls,
		attestor:   attestor,
		bridge:     bridge,
		interp:     interp,
		kernel:     k,
		factory:    factory,
		queue:      q,
		governance: gov,
		log:        log,
	}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.log.Warn("Store close failed", zap.Error(err))
	}
	observability.Sync()
}

func openStore(ctx context.Context, log *zap.Logger) (store.Store, error) {
	switch cfg.StoreCfg.Backend {
	case "file", "":
		return store.NewFileStore(cfg.StoreCfg.DataDir, log)
	case "memory":
		return store.NewMemStore(), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.StoreCfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return store.NewPGStore(ctx, pool, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreCfg.Backend)
	}
}

// printJSON renders command output for both humans and scripts.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
