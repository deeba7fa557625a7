// File: internal/soul/memory.go
package soul

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const factsDoc = "memory/facts"

// Fact is one structured, expiring memory triple.
type Fact struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	TTLMs     int64  `json:"ttlMs,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

type factState struct {
	Facts []Fact `json:"facts"`
}

// AddFact records one fact with the manager's default TTL.
func (m *Manager) AddFact(ctx context.Context, agentID, subject, predicate, object string) (Fact, error) {
	fact := Fact{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		TTLMs:     m.opts.FactTTL.Milliseconds(),
		CreatedAt: m.now().UnixMilli(),
	}
	var state factState
	err := store.Update(ctx, m.store, factsDoc, &state, func() error {
		state.Facts = append(state.Facts, fact)
		return nil
	})
	return fact, err
}

// Facts returns all stored facts for an agent in insertion order.
func (m *Manager) Facts(ctx context.Context, agentID string) ([]Fact, error) {
	state, err := m.readFacts(ctx)
	if err != nil {
		return nil, err
	}
	var out []Fact
	for _, f := range state.Facts {
		if f.AgentID == agentID {
			out = append(out, f)
		}
	}
	return out, nil
}

// SearchFacts does a case-insensitive substring match over an agent's facts.
func (m *Manager) SearchFacts(ctx context.Context, agentID, keyword string) ([]Fact, error) {
	facts, err := m.Facts(ctx, agentID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(keyword)
	var out []Fact
	for _, f := range facts {
		haystack := strings.ToLower(f.Subject + " " + f.Predicate + " " + f.Object)
		if strings.Contains(haystack, needle) {
			out = append(out, f)
		}
	}
	return out, nil
}

// PruneExpired removes every fact strictly older than maxAge and returns the
// removed count. Facts exactly at the threshold survive. Semantic memory is
// untouched; forgetting facts is a separate, explicit policy.
func (m *Manager) PruneExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := m.now().Add(-maxAge).UnixMilli()
	pruned := 0
	var state factState
	err := store.Update(ctx, m.store, factsDoc, &state, func() error {
		kept := state.Facts[:0]
		for _, f := range state.Facts {
			if f.CreatedAt < cutoff {
				pruned++
				continue
			}
			kept = append(kept, f)
		}
		state.Facts = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		m.log.Info("Pruned expired facts", zap.Int("count", pruned))
	}
	return pruned, nil
}

func (m *Manager) readFacts(ctx context.Context) (factState, error) {
	var state factState
	err := m.store.Read(ctx, factsDoc, &state)
	if errors.Is(err, store.ErrNotFound) {
		return factState{}, nil
	}
	return state, err
}

// ConsolidateMemory merges a finished session into long-term memory: the raw
// session lands under insights.lastSession, each non-nil session key becomes
// one expiring fact, and a bounded summary goes into semantic memory.
func (m *Manager) ConsolidateMemory(ctx context.Context, agentID string, session map[string]any) error {
	s, err := m.Load(ctx, agentID)
	if err != nil {
		return err
	}

	insights, _ := s.Memory.LongTerm["insights"].(map[string]any)
	if insights == nil {
		insights = map[string]any{}
	}
	insights["lastSession"] = map[string]any{
		"data":      session,
		"timestamp": m.now().UnixMilli(),
	}
	s.Memory.LongTerm["insights"] = insights
	if err := m.Save(ctx, s); err != nil {
		return err
	}

	for key, value := range session {
		if value == nil {
			continue
		}
		if _, err := m.AddFact(ctx, agentID, agentID, key, stringify(value)); err != nil {
			return err
		}
	}

	summary := stringify(session)
	if len(summary) > m.opts.SummaryBytes {
		summary = summary[:m.opts.SummaryBytes]
	}
	if err := m.StoreSummary(ctx, agentID, summary); err != nil {
		return err
	}
	m.log.Debug("Memory consolidated", zap.String("agent_id", agentID), zap.Int("session_keys", len(session)))
	return nil
}

// Remember stores a value in the agent's generic long-term key-value space.
func (m *Manager) Remember(ctx context.Context, agentID, key string, value any) error {
	s, err := m.Load(ctx, agentID)
	if err != nil {
		return err
	}
	mem, _ := s.Memory.LongTerm["agentMemory"].(map[string]any)
	if mem == nil {
		mem = map[string]any{}
	}
	mem[key] = value
	s.Memory.LongTerm["agentMemory"] = mem
	return m.Save(ctx, s)
}

// Recall reads a value stored via Remember; the second result is false when
// the key was never written.
func (m *Manager) Recall(ctx context.Context, agentID, key string) (any, bool, error) {
	s, err := m.Load(ctx, agentID)
	if err != nil {
		return nil, false, err
	}
	mem, _ := s.Memory.LongTerm["agentMemory"].(map[string]any)
	value, ok := mem[key]
	return value, ok, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
