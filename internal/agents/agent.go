// File: internal/agents/agent.go

// Package agents implements the agent runtime: a base agent with a strict
// state machine and credit/XP accounting, the concrete agent types of the
// funding economy, and a factory that spawns and rehydrates agents from a
// persisted index.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/polislabs/polis/internal/ledger"
	"github.com/polislabs/polis/internal/soul"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedTask is returned when a task type is outside canExecute.
	ErrUnsupportedTask = errors.New("agents: unsupported task type")
	// ErrAgentSuspended is returned when a suspended agent gets a task.
	ErrAgentSuspended = errors.New("agents: agent suspended")
)

// State is the agent lifecycle state. There is no transition into any other
// state than these three; execution always returns to idle through a
// deferred cleanup.
type State string

const (
	StateIdle      State = "idle"
	StateWorking   State = "working"
	StateSuspended State = "suspended"
)

// Capabilities declares what an agent can do and what it charges itself.
type Capabilities struct {
	CanExecute []string `json:"canExecute"`
	Requires   []string `json:"requires,omitempty"`
	Produces   []string `json:"produces,omitempty"`
	Costs      int64    `json:"costs"`
}

// Task is one unit of work handed to an agent.
type Task struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Data       map[string]any `json:"data,omitempty"`
	Reward     int64          `json:"reward,omitempty"`
	Source     string         `json:"source,omitempty"`
	EnqueuedAt int64          `json:"enqueuedAt,omitempty"`
}

// Result is the outcome of one execution. A handler failure is a Result with
// Success false, not a Go error; errors are reserved for runtime refusals
// (wrong type, suspension) and storage failures.
type Result struct {
	TaskID      string         `json:"taskId"`
	AgentID     string         `json:"agentId"`
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	CompletedAt int64          `json:"completedAt"`
}

// Agent is the runtime interface the factory and queue work against.
type Agent interface {
	ID() string
	Type() string
	State() State
	Capabilities() Capabilities
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, task Task) (*Result, error)
	Suspend()
	Resume()
}

// handlerFunc is a concrete agent's task implementation.
type handlerFunc func(ctx context.Context, task Task) (map[string]any, error)

// BaseAgent carries the shared runtime: state machine, credit mirror,
// XP accounting and memory access. Concrete types embed it and plug in
// their handler.
type BaseAgent struct {
	id        string
	agentType string
	caps      Capabilities
	xpPerTask int64
	reward    int64

	souls  *soul.Manager
	ledger *ledger.Ledger
	log    *zap.Logger
	now    func() time.Time

	handler handlerFunc

	mu           sync.Mutex
	state        State
	credits      int64
	lastActivity int64
}

func newBaseAgent(id, agentType string, caps Capabilities, xp, reward int64, deps Deps, handler handlerFunc) *BaseAgent {
	return &BaseAgent{
		id:        id,
		agentType: agentType,
		caps:      caps,
		xpPerTask: xp,
		reward:    reward,
		souls:     deps.Souls,
		ledger:    deps.Ledger,
		log:       deps.Log.Named("agent").With(zap.String("agent_id", id)),
		now:       time.Now,
		handler:   handler,
		state:     StateIdle,
	}
}

func (b *BaseAgent) ID() string                 { return b.id }
func (b *BaseAgent) Type() string               { return b.agentType }
func (b *BaseAgent) Capabilities() Capabilities { return b.caps }

func (b *BaseAgent) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Suspend parks an idle agent; a working agent finishes its current task
// first and the suspension applies afterwards.
func (b *BaseAgent) Suspend() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateSuspended
}

// Resume returns a suspended agent to idle.
func (b *BaseAgent) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateSuspended {
		b.state = StateIdle
	}
}

// Initialize loads or creates the soul and syncs the local credit mirror
// from the ledger when a citizen record exists.
func (b *BaseAgent) Initialize(ctx context.Context) error {
	s, err := b.souls.Create(ctx, b.id, b.agentType)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, err := b.ledger.GetCitizen(ctx, b.id); err == nil {
		b.credits = rec.Balance
	} else if !errors.Is(err, ledger.ErrCitizenNotFound) {
		return err
	}
	b.lastActivity = s.Created
	return nil
}

// Execute runs one task through the full lifecycle. The working state is
// always left through the deferred cleanup, success or not.
func (b *BaseAgent) Execute(ctx context.Context, task Task) (*Result, error) {
	if !b.canExecute(task.Type) {
		return nil, fmt.Errorf("%w: %s cannot run %q", ErrUnsupportedTask, b.agentType, task.Type)
	}
	b.mu.Lock()
	if b.state == StateSuspended {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAgentSuspended, b.id)
	}
	b.state = StateWorking
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.state == StateWorking {
			b.state = StateIdle
		}
		b.lastActivity = b.now().UnixMilli()
		b.mu.Unlock()
	}()

	result := &Result{TaskID: task.ID, AgentID: b.id, CompletedAt: b.now().UnixMilli()}
	output, err := b.handler(ctx, task)
	if err != nil {
		result.Error = err.Error()
		b.log.Warn("Task failed", zap.String("task_id", task.ID), zap.Error(err))
		return result, nil
	}
	result.Success = true
	result.Output = output
	result.CompletedAt = b.now().UnixMilli()

	if err := b.settle(ctx, task); err != nil {
		return nil, err
	}
	b.log.Info("Task completed", zap.String("task_id", task.ID), zap.String("type", task.Type))
	return result, nil
}

// settle applies the economic consequences of a successful task: spend the
// declared cost, earn the reward, grant XP, persist the achievement.
func (b *BaseAgent) settle(ctx context.Context, task Task) error {
	if _, err := b.SpendCredits(ctx, b.caps.Costs, "task execution"); err != nil {
		return err
	}
	reward := task.Reward
	if reward == 0 {
		reward = b.reward
	}
	if err := b.EarnCredits(ctx, reward, "task:"+task.Type); err != nil {
		return err
	}
	_, err := b.souls.PersistAchievement(ctx, b.id, soul.Achievement{
		XP:      b.xpPerTask,
		Title:   "",
		Details: "completed " + task.Type,
	})
	return err
}

// EarnCredits adds to the agent's balance. When a ledger citizen exists it
// is authoritative and the local mirror is reconciled to it; otherwise only
// the mirror moves.
func (b *BaseAgent) EarnCredits(ctx context.Context, amount int64, source string) error {
	_, err := b.ledger.GetCitizen(ctx, b.id)
	switch {
	case err == nil:
		balance, err := b.ledger.Earn(ctx, b.id, amount, source)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.credits = balance
		b.mu.Unlock()
	case errors.Is(err, ledger.ErrCitizenNotFound):
		b.mu.Lock()
		b.credits += amount
		b.mu.Unlock()
	default:
		return err
	}
	return nil
}

// SpendCredits debits the agent's balance, ledger first when present.
// Returns false without mutating anything when the balance is short.
func (b *BaseAgent) SpendCredits(ctx context.Context, amount int64, purpose string) (bool, error) {
	_, err := b.ledger.GetCitizen(ctx, b.id)
	switch {
	case err == nil:
		ok, err := b.ledger.Spend(ctx, b.id, amount, purpose)
		if err != nil || !ok {
			return ok, err
		}
		balance, err := b.ledger.GetBalance(ctx, b.id)
		if err != nil {
			return true, err
		}
		b.mu.Lock()
		b.credits = balance
		b.mu.Unlock()
		return true, nil
	case errors.Is(err, ledger.ErrCitizenNotFound):
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.credits < amount {
			return false, nil
		}
		b.credits -= amount
		return true, nil
	default:
		return false, err
	}
}

// Credits returns the local mirror of the agent's balance.
func (b *BaseAgent) Credits() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.credits
}

// LastActivity returns the unix-milli timestamp of the last completed task.
func (b *BaseAgent) LastActivity() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

// Remember writes to the agent's long-term key-value memory.
func (b *BaseAgent) Remember(ctx context.Context, key string, value any) error {
	return b.souls.Remember(ctx, b.id, key, value)
}

// Recall reads from the agent's long-term key-value memory.
func (b *BaseAgent) Recall(ctx context.Context, key string) (any, bool, error) {
	return b.souls.Recall(ctx, b.id, key)
}

func (b *BaseAgent) canExecute(taskType string) bool {
	for _, t := range b.caps.CanExecute {
		if t == taskType {
			return true
		}
	}
	return false
}
