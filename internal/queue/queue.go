// File: internal/queue/queue.go

// Package queue implements the persisted FIFO task queue and the
// result-driven chaining that turns one completed analysis into follow-up
// work. Processing is strictly one task at a time; concurrent workers over
// the same queue document are outside this design.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/polislabs/polis/internal/agents"
	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

// ErrEmpty is returned when there is nothing to dequeue or process.
var ErrEmpty = errors.New("queue: empty")

// DocName is the queue's document name in the store.
const DocName = "tasks"

type queueState struct {
	Tasks     []agents.Task `json:"tasks"`
	UpdatedAt int64         `json:"updatedAt"`
}

// ChainRule enqueues follow-up task types when a trigger task succeeds with
// a high enough success probability in its output.
type ChainRule struct {
	TriggerType string
	Threshold   float64
	FollowUps   []string
}

// defaultChainRules: a promising funding-call analysis spawns the proposal
// outline and the partner search, once each.
var defaultChainRules = []ChainRule{
	{
		TriggerType: agents.TaskAnalyzeFundingCall,
		Threshold:   0.7,
		FollowUps:   []string{agents.TaskGenerateProposalOutline, agents.TaskIdentifyPartners},
	},
}

// taskRouting maps task types to the agent type that executes them; anything
// unlisted falls through to the configured default.
var taskRouting = map[string]string{
	agents.TaskGenerateProposalOutline: "ProposalWriter",
	agents.TaskIdentifyPartners:        "PartnerMatcher",
}

// Queue is the persisted FIFO with its dispatch logic.
type Queue struct {
	store       store.Store
	factory     *agents.Factory
	log         *zap.Logger
	defaultType string
	rules       []ChainRule
	now         func() time.Time
}

// New builds a queue. defaultAgentType handles any task type without an
// explicit route.
func New(s store.Store, factory *agents.Factory, defaultAgentType string, logger *zap.Logger) *Queue {
	if defaultAgentType == "" {
		defaultAgentType = "FundingAnalyst"
	}
	return &Queue{
		store:       s,
		factory:     factory,
		log:         logger.Named("queue"),
		defaultType: defaultAgentType,
		rules:       defaultChainRules,
		now:         time.Now,
	}
}

// Enqueue appends a task, generating an id when absent, and returns it.
func (q *Queue) Enqueue(ctx context.Context, task agents.Task) (agents.Task, error) {
	if task.ID == "" {
		task.ID = "task-" + uuid.NewString()[:8]
	}
	task.EnqueuedAt = q.now().UnixMilli()
	var state queueState
	err := store.Update(ctx, q.store, DocName, &state, func() error {
		state.Tasks = append(state.Tasks, task)
		state.UpdatedAt = task.EnqueuedAt
		return nil
	})
	if err != nil {
		return agents.Task{}, err
	}
	q.log.Debug("Task enqueued", zap.String("task_id", task.ID), zap.String("type", task.Type))
	return task, nil
}

// Dequeue removes and returns the oldest task, or ErrEmpty.
func (q *Queue) Dequeue(ctx context.Context) (agents.Task, error) {
	var task agents.Task
	var state queueState
	err := store.Update(ctx, q.store, DocName, &state, func() error {
		if len(state.Tasks) == 0 {
			return ErrEmpty
		}
		task = state.Tasks[0]
		state.Tasks = state.Tasks[1:]
		state.UpdatedAt = q.now().UnixMilli()
		return nil
	})
	if err != nil {
		return agents.Task{}, err
	}
	return task, nil
}

// List returns the pending tasks in FIFO order.
func (q *Queue) List(ctx context.Context) ([]agents.Task, error) {
	var state queueState
	err := q.store.Read(ctx, DocName, &state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state.Tasks, nil
}

// ProcessOne dequeues the oldest task, routes it to an agent of the mapped
// type (spawning one when none exists), executes it and applies the chain
// rules to the result. Returns the executed task and its result.
func (q *Queue) ProcessOne(ctx context.Context) (agents.Task, *agents.Result, error) {
	task, err := q.Dequeue(ctx)
	if err != nil {
		return agents.Task{}, nil, err
	}

	agent, err := q.agentFor(ctx, task.Type)
	if err != nil {
		return task, nil, err
	}
	result, err := agent.Execute(ctx, task)
	if err != nil {
		return task, nil, err
	}
	if err := q.applyChainRules(ctx, task, result); err != nil {
		return task, result, err
	}
	return task, result, nil
}

// agentFor finds an existing agent of the routed type or spawns one.
func (q *Queue) agentFor(ctx context.Context, taskType string) (agents.Agent, error) {
	agentType, ok := taskRouting[taskType]
	if !ok {
		agentType = q.defaultType
	}
	records, err := q.factory.ListAgents(ctx, agentType)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return q.factory.GetAgent(ctx, records[0].ID)
	}
	q.log.Info("No resident agent for type, spawning", zap.String("agent_type", agentType))
	return q.factory.SpawnAgent(ctx, agentType, "")
}

// applyChainRules enqueues each rule's follow-ups when the trigger task
// succeeded and its successProbability output clears the threshold.
func (q *Queue) applyChainRules(ctx context.Context, task agents.Task, result *agents.Result) error {
	if result == nil || !result.Success {
		return nil
	}
	for _, rule := range q.rules {
		if rule.TriggerType != task.Type {
			continue
		}
		probability, ok := result.Output["successProbability"].(float64)
		if !ok || probability < rule.Threshold {
			continue
		}
		for _, followUp := range rule.FollowUps {
			chained := agents.Task{
				Type:   followUp,
				Data:   result.Output,
				Source: task.ID,
			}
			if _, err := q.Enqueue(ctx, chained); err != nil {
				return err
			}
		}
		q.log.Info("Chain rule fired",
			zap.String("trigger", task.ID),
			zap.Float64("probability", probability),
			zap.Strings("follow_ups", rule.FollowUps))
	}
	return nil
}
