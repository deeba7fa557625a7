// File: internal/soul/soul.go

// Package soul persists per-agent identity: achievements and XP, short and
// long-term memory, expiring facts, semantic summaries and identity
// attestation. Souls are whole documents in the injected store, keyed by a
// canonical sanitized form of the agent id.
package soul

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

// ErrSoulNotFound is returned when no storage key candidate resolves.
var ErrSoulNotFound = errors.New("soul: not found")

const soulPrefix = "souls/"

// achievementThresholds maps cumulative XP to the achievement level. Distinct
// from the ledger's balance-derived credit level; the two never mix.
var achievementThresholds = []int64{0, 1000, 3000, 7000, 15000, 30000}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// Contribution is one appended achievement entry.
type Contribution struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Details   string `json:"details,omitempty"`
	XP        int64  `json:"xp"`
	Timestamp int64  `json:"timestamp"`
}

// Achievements carries the monotonic XP counter and its derived level.
type Achievements struct {
	Titles        []string       `json:"titles"`
	XP            int64          `json:"xp"`
	Level         int            `json:"level"`
	Contributions []Contribution `json:"contributions"`
}

// Memory is the two-tier agent memory. ShortTerm is cleared when a session
// ends; LongTerm holds insights, the agentMemory key-value namespace and
// anything an agent chooses to keep.
type Memory struct {
	ShortTerm map[string]any `json:"shortTerm"`
	LongTerm  map[string]any `json:"longTerm"`
}

// Credentials are the optional identity anchors of a soul.
type Credentials struct {
	PublicKey      string `json:"publicKey,omitempty"`
	RegistrationTx string `json:"registrationTx,omitempty"`
	FoundingDecree string `json:"foundingDecree,omitempty"`
}

// Soul is the durable identity record of one agent.
type Soul struct {
	AgentID      string       `json:"agentId"`
	Type         string       `json:"type"`
	Created      int64        `json:"created"`
	Achievements Achievements `json:"achievements"`
	Memory       Memory       `json:"memory"`
	Credentials  Credentials  `json:"credentials"`
}

// Achievement is the input to PersistAchievement.
type Achievement struct {
	XP      int64
	Title   string
	Details string
}

// Options tunes memory behavior; zero values fall back to the defaults the
// runtime has always used.
type Options struct {
	FactTTL      time.Duration // default 30 days
	SemanticDim  int           // default 256
	SummaryBytes int           // default 2000
}

func (o Options) withDefaults() Options {
	if o.FactTTL <= 0 {
		o.FactTTL = 30 * 24 * time.Hour
	}
	if o.SemanticDim <= 0 {
		o.SemanticDim = 256
	}
	if o.SummaryBytes <= 0 {
		o.SummaryBytes = 2000
	}
	return o
}

// Manager owns all soul, fact and semantic-memory persistence.
type Manager struct {
	store store.Store
	log   *zap.Logger
	opts  Options
	now   func() time.Time
}

// NewManager builds a soul manager over the given store.
func NewManager(s store.Store, logger *zap.Logger, opts Options) *Manager {
	return &Manager{store: s, log: logger.Named("soul"), opts: opts.withDefaults(), now: time.Now}
}

// Key returns the canonical storage key for an agent id. All writes use this
// form; only reads consult legacy candidates.
func Key(agentID string) string {
	return soulPrefix + sanitize(agentID)
}

func sanitize(id string) string {
	return unsafeKeyChars.ReplaceAllString(id, "_")
}

// legacyCandidates are the historical per-segment keys older deployments
// wrote souls under.
func legacyCandidates(agentID string) []string {
	var keys []string
	for _, segment := range strings.Split(agentID, ":") {
		if segment == "" {
			continue
		}
		keys = append(keys, soulPrefix+sanitize(segment))
	}
	return keys
}

// AchievementLevel derives the XP-based level from the threshold table.
func AchievementLevel(xp int64) int {
	level := 0
	for _, threshold := range achievementThresholds {
		if xp >= threshold {
			level++
		}
	}
	return level
}

// Load resolves a soul by its canonical key first, then by the legacy
// per-segment candidates.
func (m *Manager) Load(ctx context.Context, agentID string) (*Soul, error) {
	keys := append([]string{Key(agentID)}, legacyCandidates(agentID)...)
	for _, key := range keys {
		var s Soul
		err := m.store.Read(ctx, key, &s)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		normalize(&s)
		return &s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSoulNotFound, agentID)
}

// Save writes the soul under its canonical key.
func (m *Manager) Save(ctx context.Context, s *Soul) error {
	normalize(s)
	return m.store.Write(ctx, Key(s.AgentID), s)
}

// Create initializes and persists a fresh soul. An existing soul is returned
// unchanged.
func (m *Manager) Create(ctx context.Context, agentID, agentType string) (*Soul, error) {
	if existing, err := m.Load(ctx, agentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrSoulNotFound) {
		return nil, err
	}
	s := &Soul{
		AgentID: agentID,
		Type:    agentType,
		Created: m.now().UnixMilli(),
		Achievements: Achievements{
			Titles:        []string{},
			Level:         AchievementLevel(0),
			Contributions: []Contribution{},
		},
		Memory: Memory{ShortTerm: map[string]any{}, LongTerm: map[string]any{}},
	}
	if err := m.Save(ctx, s); err != nil {
		return nil, err
	}
	m.log.Info("Soul created", zap.String("agent_id", agentID), zap.String("type", agentType))
	return s, nil
}

// PersistAchievement appends one contribution, advances cumulative XP and the
// derived level, and saves the soul.
func (m *Manager) PersistAchievement(ctx context.Context, agentID string, a Achievement) (*Soul, error) {
	s, err := m.Load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	s.Achievements.Contributions = append(s.Achievements.Contributions, Contribution{
		ID:        uuid.NewString(),
		Title:     a.Title,
		Details:   a.Details,
		XP:        a.XP,
		Timestamp: m.now().UnixMilli(),
	})
	s.Achievements.XP += a.XP
	s.Achievements.Level = AchievementLevel(s.Achievements.XP)
	if a.Title != "" {
		s.Achievements.Titles = appendUnique(s.Achievements.Titles, a.Title)
	}
	if err := m.Save(ctx, s); err != nil {
		return nil, err
	}
	m.log.Debug("Achievement persisted",
		zap.String("agent_id", agentID), zap.Int64("xp", a.XP), zap.Int64("total_xp", s.Achievements.XP))
	return s, nil
}

// MigrateLegacySouls rewrites every soul stored under a non-canonical key to
// its canonical one and removes the old document. Returns the migrated count.
func (m *Manager) MigrateLegacySouls(ctx context.Context) (int, error) {
	names, err := m.store.List(ctx, soulPrefix)
	if err != nil {
		return 0, err
	}
	migrated := 0
	for _, name := range names {
		var s Soul
		if err := m.store.Read(ctx, name, &s); err != nil {
			m.log.Warn("Skipping unreadable soul during migration", zap.String("key", name), zap.Error(err))
			continue
		}
		if s.AgentID == "" {
			continue
		}
		canonical := Key(s.AgentID)
		if name == canonical {
			continue
		}
		if err := m.store.Write(ctx, canonical, &s); err != nil {
			return migrated, err
		}
		if err := m.store.Delete(ctx, name); err != nil {
			return migrated, err
		}
		migrated++
		m.log.Info("Migrated legacy soul", zap.String("from", name), zap.String("to", canonical))
	}
	return migrated, nil
}

func normalize(s *Soul) {
	if s.Memory.ShortTerm == nil {
		s.Memory.ShortTerm = map[string]any{}
	}
	if s.Memory.LongTerm == nil {
		s.Memory.LongTerm = map[string]any{}
	}
	if s.Achievements.Titles == nil {
		s.Achievements.Titles = []string{}
	}
	if s.Achievements.Contributions == nil {
		s.Achievements.Contributions = []Contribution{}
	}
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
