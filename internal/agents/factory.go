// File: internal/agents/factory.go
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polislabs/polis/internal/ledger"
	"github.com/polislabs/polis/internal/soul"
	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrUnknownAgentType is returned for types missing from the registry.
	ErrUnknownAgentType = errors.New("agents: unknown agent type")
	// ErrAgentNotFound is returned when no index record exists for an id.
	ErrAgentNotFound = errors.New("agents: agent not found")
	// ErrNoAgents is returned by AssignTask when the nation has no agents.
	ErrNoAgents = errors.New("agents: no agents available")
)

// IndexDoc is the persisted agent index document name.
const IndexDoc = "agents"

// AgentRecord is one row of the persisted index. The index, not the resident
// cache, is the durable truth: agents are rehydrated from it on demand.
type AgentRecord struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	SoulID    string `json:"soulId"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

type indexState struct {
	Agents []AgentRecord `json:"agents"`
}

// Deps are the collaborators injected into every agent.
type Deps struct {
	Souls  *soul.Manager
	Ledger *ledger.Ledger
	Log    *zap.Logger
}

// Constructor builds one agent instance for an id.
type Constructor func(id string, deps Deps) Agent

// Factory owns the type registry, the resident cache and the persisted
// index.
type Factory struct {
	store store.Store
	deps  Deps
	log   *zap.Logger
	now   func() time.Time

	mu       sync.Mutex
	registry map[string]Constructor
	resident map[string]Agent
}

// NewFactory builds a factory with the three built-in agent types
// registered.
func NewFactory(s store.Store, deps Deps, logger *zap.Logger) *Factory {
	f := &Factory{
		store:    s,
		deps:     deps,
		log:      logger.Named("factory"),
		now:      time.Now,
		registry: map[string]Constructor{},
		resident: map[string]Agent{},
	}
	f.Register("FundingAnalyst", NewFundingAnalyst)
	f.Register("ProposalWriter", NewProposalWriter)
	f.Register("PartnerMatcher", NewPartnerMatcher)
	return f
}

// Register adds or replaces a type constructor.
func (f *Factory) Register(agentType string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[agentType] = ctor
}

// SpawnAgent creates, initializes and indexes a new agent. When soulID is
// empty a fresh id is generated. The agent is also best-effort registered as
// a ledger citizen seeded from its soul; a failure there is logged, never
// fatal.
func (f *Factory) SpawnAgent(ctx context.Context, agentType, soulID string) (Agent, error) {
	ctor, err := f.constructor(agentType)
	if err != nil {
		return nil, err
	}
	id := soulID
	if id == "" {
		id = fmt.Sprintf("agent:%s:%s", strings.ToLower(agentType), uuid.NewString()[:8])
	}

	agent := ctor(id, f.deps)
	if err := agent.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("agents: initializing %s: %w", id, err)
	}

	now := f.now().UnixMilli()
	record := AgentRecord{
		ID:        id,
		Type:      agentType,
		SoulID:    soul.Key(id),
		Status:    string(StateIdle),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.upsertRecord(ctx, record); err != nil {
		return nil, err
	}

	f.registerCitizen(ctx, agent)

	f.mu.Lock()
	f.resident[id] = agent
	f.mu.Unlock()
	f.log.Info("Agent spawned", zap.String("agent_id", id), zap.String("type", agentType))
	return agent, nil
}

// GetAgent returns the resident instance or rehydrates one from the index
// and its soul. Unregistered types and missing records are not-found.
func (f *Factory) GetAgent(ctx context.Context, id string) (Agent, error) {
	f.mu.Lock()
	if agent, ok := f.resident[id]; ok {
		f.mu.Unlock()
		return agent, nil
	}
	f.mu.Unlock()

	record, err := f.findRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	ctor, err := f.constructor(record.Type)
	if err != nil {
		return nil, err
	}
	agent := ctor(id, f.deps)
	if err := agent.Initialize(ctx); err != nil {
		return nil, err
	}
	if record.Status == string(StateSuspended) {
		agent.Suspend()
	}
	f.mu.Lock()
	f.resident[id] = agent
	f.mu.Unlock()
	return agent, nil
}

// ListAgents returns index records, optionally filtered by type.
func (f *Factory) ListAgents(ctx context.Context, agentType string) ([]AgentRecord, error) {
	state, err := f.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	if agentType == "" {
		return state.Agents, nil
	}
	var out []AgentRecord
	for _, rec := range state.Agents {
		if rec.Type == agentType {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DestroyAgent removes the agent from the cache and the index. The soul is
// deliberately retained; identity outlives the runtime instance.
func (f *Factory) DestroyAgent(ctx context.Context, id string) error {
	f.mu.Lock()
	delete(f.resident, id)
	f.mu.Unlock()

	var state indexState
	return store.Update(ctx, f.store, IndexDoc, &state, func() error {
		kept := state.Agents[:0]
		for _, rec := range state.Agents {
			if rec.ID != id {
				kept = append(kept, rec)
			}
		}
		state.Agents = kept
		return nil
	})
}

// SuspendAgent parks an agent and records the status in the index.
func (f *Factory) SuspendAgent(ctx context.Context, id string) error {
	return f.setStatus(ctx, id, StateSuspended)
}

// ResumeAgent wakes a suspended agent.
func (f *Factory) ResumeAgent(ctx context.Context, id string) error {
	return f.setStatus(ctx, id, StateIdle)
}

// AssignTask routes a task: to the named agent when agentID is set, else to
// the first indexed agent. A deliberate simplification; callers wanting
// capability routing use FindCapableAgent.
func (f *Factory) AssignTask(ctx context.Context, task Task, agentID string) (*Result, error) {
	if agentID == "" {
		state, err := f.readIndex(ctx)
		if err != nil {
			return nil, err
		}
		if len(state.Agents) == 0 {
			return nil, ErrNoAgents
		}
		agentID = state.Agents[0].ID
	}
	agent, err := f.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return agent.Execute(ctx, task)
}

// FindCapableAgent searches the full persisted index, rehydrating as needed,
// and returns the first agent whose capabilities cover the task type.
func (f *Factory) FindCapableAgent(ctx context.Context, taskType string) (Agent, error) {
	state, err := f.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range state.Agents {
		agent, err := f.GetAgent(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, ErrUnknownAgentType) {
				continue
			}
			return nil, err
		}
		for _, capability := range agent.Capabilities().CanExecute {
			if capability == taskType {
				return agent, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no agent can run %q", ErrAgentNotFound, taskType)
}

// registerCitizen is the best-effort spawn side effect: the agent becomes a
// ledger citizen seeded from its soul's achievements.
func (f *Factory) registerCitizen(ctx context.Context, agent Agent) {
	rec, err := f.deps.Ledger.UpsertCitizen(ctx, agent.ID())
	if err != nil {
		f.log.Warn("Citizen auto-registration failed",
			zap.String("agent_id", agent.ID()), zap.Error(err))
		return
	}
	s, err := f.deps.Souls.Load(ctx, agent.ID())
	if err != nil {
		return
	}
	if rec.Type == "" {
		rec.Type = "agent"
		rec.Name = agent.Type()
		rec.Metadata = map[string]any{
			"xp":               s.Achievements.XP,
			"achievementLevel": s.Achievements.Level,
		}
		if err := f.deps.Ledger.SaveCitizen(ctx, rec); err != nil {
			f.log.Warn("Citizen seed write failed", zap.String("agent_id", agent.ID()), zap.Error(err))
		}
	}
}

func (f *Factory) constructor(agentType string) (Constructor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctor, ok := f.registry[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentType, agentType)
	}
	return ctor, nil
}

func (f *Factory) readIndex(ctx context.Context) (indexState, error) {
	var state indexState
	err := f.store.Read(ctx, IndexDoc, &state)
	if errors.Is(err, store.ErrNotFound) {
		return indexState{}, nil
	}
	return state, err
}

func (f *Factory) upsertRecord(ctx context.Context, record AgentRecord) error {
	var state indexState
	return store.Update(ctx, f.store, IndexDoc, &state, func() error {
		for i, rec := range state.Agents {
			if rec.ID == record.ID {
				record.CreatedAt = rec.CreatedAt
				state.Agents[i] = record
				return nil
			}
		}
		state.Agents = append(state.Agents, record)
		return nil
	})
}

func (f *Factory) findRecord(ctx context.Context, id string) (AgentRecord, error) {
	state, err := f.readIndex(ctx)
	if err != nil {
		return AgentRecord{}, err
	}
	for _, rec := range state.Agents {
		if rec.ID == id {
			return rec, nil
		}
	}
	return AgentRecord{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
}

func (f *Factory) setStatus(ctx context.Context, id string, state State) error {
	agent, err := f.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if state == StateSuspended {
		agent.Suspend()
	} else {
		agent.Resume()
	}
	var idx indexState
	return store.Update(ctx, f.store, IndexDoc, &idx, func() error {
		for i, rec := range idx.Agents {
			if rec.ID == id {
				idx.Agents[i].Status = string(state)
				idx.Agents[i].UpdatedAt = f.now().UnixMilli()
			}
		}
		return nil
	})
}
