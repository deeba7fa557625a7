// File: internal/kernel/kernel.go

// Package kernel boots the digital nation: it interprets the constitution,
// discovers territory specs, establishes the founding citizens once, and
// exposes the territory and citizen runtime to the rest of the system.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polislabs/polis/internal/config"
	"github.com/polislabs/polis/internal/ledger"
	"github.com/polislabs/polis/internal/soul"
	"github.com/polislabs/polis/internal/specs"
	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const eventsDoc = "kernel/events"

func nowMilli() int64 { return time.Now().UnixMilli() }

// founder describes one genesis citizen. The decrees are written exactly
// once, when the genesis block is first established.
type founder struct {
	ID      string
	Name    string
	Type    string
	Balance int64
	Level   int
	Decree  string
	Powers  []string
}

var founders = []founder{
	{
		ID: "citizen:human:visionary:001", Name: "The Visionary", Type: "human",
		Balance: 100000, Level: 10, Decree: "POLIS-GENESIS-001",
		Powers: []string{"constitutional-amendment", "emergency-powers"},
	},
	{
		ID: "citizen:ai:strategist:001", Name: "The Strategist", Type: "ai",
		Balance: 50000, Level: 7, Decree: "POLIS-GENESIS-002",
		Powers: []string{"strategic-planning"},
	},
}

// foundingArchitect is the genesis agent soul; it gets a decree credential
// rather than a citizen balance.
const (
	foundingArchitectID     = "agent:founding-architect:001"
	foundingArchitectDecree = "POLIS-GENESIS-003"
)

// CreditBacking are the economic parameters announced at boot. Credits are
// backed one-to-one by service capacity across the named reserve pools.
type CreditBacking struct {
	Ratio float64  `json:"ratio"`
	Pools []string `json:"pools"`
}

// DiscoveryEvent is one best-effort record of a territory load pass.
type DiscoveryEvent struct {
	Timestamp int64    `json:"ts"`
	TraceID   string   `json:"traceId"`
	File      string   `json:"file"`
	Slug      string   `json:"slug"`
	Version   string   `json:"version"`
	Services  []string `json:"services"`
}

type eventState struct {
	Events []DiscoveryEvent `json:"events"`
}

// Kernel is the single-process runtime root.
type Kernel struct {
	cfg    config.KernelConfig
	store  store.Store
	ledger *ledger.Ledger
	souls  *soul.Manager
	interp *specs.Interpreter
	hooks  *specs.HookRunner
	log    *zap.Logger

	mu           sync.RWMutex
	booted       bool
	constitution *specs.ParsedSpec
	backing      CreditBacking
	territories  map[string]*Territory
}

// New wires a kernel from its collaborators.
func New(cfg config.KernelConfig, s store.Store, led *ledger.Ledger, souls *soul.Manager, interp *specs.Interpreter, logger *zap.Logger) *Kernel {
	return &Kernel{
		cfg:         cfg,
		store:       s,
		ledger:      led,
		souls:       souls,
		interp:      interp,
		hooks:       specs.NewHookRunner(logger, cfg.HookBudget),
		log:         logger.Named("kernel"),
		territories: map[string]*Territory{},
	}
}

// Boot runs the full startup sequence. It is idempotent: a second call on a
// booted kernel is a no-op. Failure to read the constitution is fatal;
// everything downstream degrades per its own policy.
func (k *Kernel) Boot(ctx context.Context) error {
	k.mu.Lock()
	if k.booted {
		k.mu.Unlock()
		return nil
	}
	k.mu.Unlock()

	k.loadLegacyConstitution()

	constitution, err := k.interp.ParseSpec(ctx, k.cfg.ConstitutionFile)
	if err != nil {
		return fmt.Errorf("kernel: loading constitution: %w", err)
	}
	compiled := k.interp.ToExecutable(constitution)
	k.hooks.Run(ctx, compiled.Hooks.BeforeInit)

	backing := CreditBacking{Ratio: 1.0, Pools: []string{"operational", "development", "community"}}
	k.log.Info("Credit backing established",
		zap.Float64("ratio", backing.Ratio), zap.Strings("pools", backing.Pools))

	territories, err := k.discoverTerritories(ctx)
	if err != nil {
		return err
	}

	k.mu.Lock()
	k.constitution = constitution
	k.backing = backing
	k.territories = territories
	k.booted = true
	k.mu.Unlock()

	if err := k.establishGenesis(ctx); err != nil {
		return err
	}

	k.hooks.Run(ctx, compiled.Hooks.AfterInit)
	k.log.Info("Kernel booted",
		zap.String("constitution_version", constitution.Metadata.Version),
		zap.Int("territories", len(territories)))
	return nil
}

// ReloadTerritories re-runs discovery and wholesale-replaces the territory
// map (the metamorphosis path). Returns the new slugs in sorted order.
func (k *Kernel) ReloadTerritories(ctx context.Context) ([]string, error) {
	territories, err := k.discoverTerritories(ctx)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.territories = territories
	constitution := k.constitution
	k.mu.Unlock()

	if constitution != nil {
		k.hooks.Run(ctx, constitution.Hooks.OnMetamorphosis)
	}
	slugs := make([]string, 0, len(territories))
	for slug := range territories {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	k.log.Info("Territories reloaded", zap.Strings("slugs", slugs))
	return slugs, nil
}

// GetTerritory returns the runtime for a slug.
func (k *Kernel) GetTerritory(slug string) (*Territory, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	t, ok := k.territories[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTerritoryNotFound, slug)
	}
	return t, nil
}

// GetTerritoryKeys returns all loaded slugs, sorted.
func (k *Kernel) GetTerritoryKeys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys := make([]string, 0, len(k.territories))
	for slug := range k.territories {
		keys = append(keys, slug)
	}
	sort.Strings(keys)
	return keys
}

// Constitution returns the parsed constitution once booted.
func (k *Kernel) Constitution() *specs.ParsedSpec {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.constitution
}

// Backing returns the boot-time credit backing parameters.
func (k *Kernel) Backing() CreditBacking {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.backing
}

// RegisterCitizenRecord is the bridge the factory and agents use to create
// ledger records; it never touches territories.
func (k *Kernel) RegisterCitizenRecord(ctx context.Context, id string) (*ledger.CitizenRecord, error) {
	return k.ledger.UpsertCitizen(ctx, id)
}

// GetCitizenRecord reads a citizen through the same bridge.
func (k *Kernel) GetCitizenRecord(ctx context.Context, id string) (*ledger.CitizenRecord, error) {
	return k.ledger.GetCitizen(ctx, id)
}

// loadLegacyConstitution reads the historical plain-markdown constitution if
// present. It predates spec metadata, so it is logged and otherwise ignored.
func (k *Kernel) loadLegacyConstitution() {
	path := filepath.Join(k.cfg.SpecsDir, "constitution.md")
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	k.log.Info("Legacy constitution present", zap.String("path", path), zap.Int("bytes", len(raw)))
}

// discoverTerritories parses every territory spec in parallel and assembles
// the slug-keyed map. One bad document is logged and skipped; it never blocks
// the others. Results are applied in sorted-filename order so discovery is
// deterministic.
func (k *Kernel) discoverTerritories(ctx context.Context) (map[string]*Territory, error) {
	dir := filepath.Join(k.cfg.SpecsDir, "territories")
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("kernel: reading territories dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	results := make([]*Territory, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for idx, name := range files {
		g.Go(func() error {
			results[idx] = k.loadTerritory(gctx, dir, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	territories := map[string]*Territory{}
	for _, t := range results {
		if t != nil {
			territories[t.Slug] = t
			k.appendDiscoveryEvent(ctx, t)
		}
	}
	if len(territories) == 0 {
		t := defaultTerritory()
		territories[t.Slug] = t
		k.log.Info("No territory specs found, installing default", zap.String("slug", t.Slug))
	}
	return territories, nil
}

// loadTerritory parses one file. Full spec parsing is attempted first; files
// without valid spec metadata still contribute a service menu.
func (k *Kernel) loadTerritory(ctx context.Context, dir, name string) *Territory {
	path := filepath.Join(dir, name)
	slug := strings.TrimSuffix(strings.TrimSuffix(name, ".md"), ".spec")

	version := "0.0.0"
	if parsed, err := k.interp.ParseSpec(ctx, path); err == nil {
		version = parsed.Metadata.Version
	} else if errors.Is(err, specs.ErrSpecInvalid) {
		k.log.Warn("Territory spec invalid, using raw service menu",
			zap.String("file", name), zap.Error(err))
	} else {
		k.log.Warn("Territory spec unreadable, skipping", zap.String("file", name), zap.Error(err))
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		k.log.Warn("Territory file unreadable, skipping", zap.String("file", name), zap.Error(err))
		return nil
	}
	decls := specs.ExtractServices(string(raw))
	if len(decls) == 0 {
		k.log.Warn("Territory declares no services, skipping", zap.String("file", name))
		return nil
	}
	return territoryFromDecls(slug, version, name, decls)
}

// appendDiscoveryEvent records a territory load. Best effort: a failed write
// is logged and never fails discovery.
func (k *Kernel) appendDiscoveryEvent(ctx context.Context, t *Territory) {
	serviceIDs := make([]string, 0, len(t.Services))
	for _, svc := range t.Services {
		serviceIDs = append(serviceIDs, svc.ID)
	}
	event := DiscoveryEvent{
		Timestamp: nowMilli(),
		TraceID:   uuid.NewString(),
		File:      t.File,
		Slug:      t.Slug,
		Version:   t.Version,
		Services:  serviceIDs,
	}
	var state eventState
	err := store.Update(ctx, k.store, eventsDoc, &state, func() error {
		state.Events = append(state.Events, event)
		return nil
	})
	if err != nil {
		k.log.Warn("Discovery event write failed", zap.String("slug", t.Slug), zap.Error(err))
	}
}

// DiscoveryEvents returns the recorded territory load history.
func (k *Kernel) DiscoveryEvents(ctx context.Context) ([]DiscoveryEvent, error) {
	var state eventState
	err := k.store.Read(ctx, eventsDoc, &state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state.Events, nil
}

// establishGenesis creates the founding citizens and the architect soul the
// first time the nation boots. Guarded by the persisted genesis flag.
func (k *Kernel) establishGenesis(ctx context.Context) error {
	has, err := k.ledger.HasGenesis(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	ids := make([]string, 0, len(founders)+1)
	for _, f := range founders {
		rec, err := k.ledger.UpsertCitizen(ctx, f.ID)
		if err != nil {
			return fmt.Errorf("kernel: founding citizen %s: %w", f.ID, err)
		}
		rec.Name = f.Name
		rec.Type = f.Type
		rec.Balance = f.Balance
		rec.Level = f.Level
		rec.FoundingDecree = f.Decree
		rec.SpecialPowers = f.Powers
		if err := k.ledger.SaveCitizen(ctx, rec); err != nil {
			return err
		}
		ids = append(ids, f.ID)
	}

	architect, err := k.souls.Create(ctx, foundingArchitectID, "Architect")
	if err != nil {
		return fmt.Errorf("kernel: founding architect soul: %w", err)
	}
	architect.Credentials.FoundingDecree = foundingArchitectDecree
	if err := k.souls.Save(ctx, architect); err != nil {
		return err
	}
	ids = append(ids, foundingArchitectID)

	if err := k.ledger.CreateGenesisBlock(ctx, ids); err != nil {
		return err
	}
	k.log.Info("Genesis block established", zap.Strings("founders", ids))
	return nil
}
