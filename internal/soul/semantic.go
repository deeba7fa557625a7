// File: internal/soul/semantic.go
package soul

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

const semanticDoc = "memory/semantic"

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// SemanticEntry is one stored summary with its embedding vector.
type SemanticEntry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Text      string    `json:"text"`
	Vector    []float64 `json:"vector"`
	CreatedAt int64     `json:"createdAt"`
}

// SemanticHit pairs an entry with its cosine similarity to a query.
type SemanticHit struct {
	Entry SemanticEntry `json:"entry"`
	Score float64       `json:"score"`
}

type semanticState struct {
	Entries []SemanticEntry `json:"entries"`
}

// StoreSummary embeds and persists one summary for later retrieval. Semantic
// memory has unbounded retention; nothing here expires.
func (m *Manager) StoreSummary(ctx context.Context, agentID, text string) error {
	entry := SemanticEntry{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Text:      text,
		Vector:    embed(text, m.opts.SemanticDim),
		CreatedAt: m.now().UnixMilli(),
	}
	var state semanticState
	err := store.Update(ctx, m.store, semanticDoc, &state, func() error {
		state.Entries = append(state.Entries, entry)
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Debug("Semantic summary stored", zap.String("agent_id", agentID), zap.Int("bytes", len(text)))
	return nil
}

// QuerySemantic ranks an agent's stored summaries by cosine similarity to the
// query text and returns the top k hits.
func (m *Manager) QuerySemantic(ctx context.Context, agentID, query string, k int) ([]SemanticHit, error) {
	var state semanticState
	err := m.store.Read(ctx, semanticDoc, &state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	qv := embed(query, m.opts.SemanticDim)
	var hits []SemanticHit
	for _, entry := range state.Entries {
		if entry.AgentID != agentID {
			continue
		}
		hits = append(hits, SemanticHit{Entry: entry, Score: cosine(qv, entry.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// embed hashes lowercased tokens into a fixed-dimension bag-of-words vector
// and L2-normalizes it. Deterministic, dependency-free and good enough for
// single-operator recall; not a trained embedding.
func embed(text string, dim int) []float64 {
	vec := make([]float64, dim)
	for _, token := range tokenSplit.Split(strings.ToLower(text), -1) {
		if token == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[int(h.Sum32())%dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}
