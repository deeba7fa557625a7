// File: internal/ledger/ledger.go

// Package ledger implements the persistent credit ledger: per-citizen
// balances, transaction logs, the founding-citizen genesis block and the
// balance-derived credit level. All mutations are whole-document
// read-modify-write against the injected store; callers are expected to be
// the single logical writer of the ledger document.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

// ErrCitizenNotFound is returned when a citizen id has never been registered.
var ErrCitizenNotFound = errors.New("ledger: citizen not found")

// DocName is the ledger's document name in the store.
const DocName = "state"

// StartingBalance is granted to every newly registered citizen.
const StartingBalance int64 = 100

// creditLevelThresholds maps current balance to the credit level. This is the
// balance-derived scheme; the XP-derived achievement level lives with the
// soul and uses its own table.
var creditLevelThresholds = []int64{0, 100, 500, 1000, 5000, 10000}

// perks unlocked at each credit level. Advisory only: nothing gates on them.
var perks = map[int]string{
	2: "Access to community broadcasting",
	3: "Priority agent processing",
	4: "Territory creation rights",
	5: "Governance voting power",
}

// Transaction is one accepted balance mutation. Exactly one transaction is
// appended per accepted earn or spend.
type Transaction struct {
	Type      string `json:"type"` // "earn" or "spend"
	Amount    int64  `json:"amount"`
	Source    string `json:"source,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// CitizenRecord is one account in the ledger. Citizens are created lazily on
// first registration and never deleted.
type CitizenRecord struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Type           string         `json:"type,omitempty"`
	Balance        int64          `json:"balance"`
	Level          int            `json:"level"`
	Transactions   []Transaction  `json:"transactions"`
	SpecialPowers  []string       `json:"specialPowers,omitempty"`
	FoundingDecree string         `json:"foundingDecree,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      int64          `json:"createdAt"`
	UpdatedAt      int64          `json:"updatedAt"`
}

// State is the persisted ledger document.
type State struct {
	Citizens  map[string]*CitizenRecord `json:"citizens"`
	Founders  []string                  `json:"founders,omitempty"`
	Genesis   bool                      `json:"genesis,omitempty"`
	GenesisAt int64                     `json:"genesisAt,omitempty"`
	CreatedAt int64                     `json:"createdAt"`
	UpdatedAt int64                     `json:"updatedAt"`
}

// GenesisStatus reports whether the one-time genesis block exists.
type GenesisStatus struct {
	Genesis   bool     `json:"genesis"`
	GenesisAt int64    `json:"genesisAt,omitempty"`
	Founders  []string `json:"founders"`
}

// Ledger wraps the store with citizen-level operations.
type Ledger struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

// New creates a ledger backed by the given store.
func New(s store.Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: s, log: logger.Named("ledger"), now: time.Now}
}

// CreditLevel derives the balance-based level from the threshold table.
func CreditLevel(balance int64) int {
	level := 0
	for _, threshold := range creditLevelThresholds {
		if balance >= threshold {
			level++
		}
	}
	return level
}

func (l *Ledger) readState(ctx context.Context) (*State, error) {
	var state State
	err := l.store.Read(ctx, DocName, &state)
	if errors.Is(err, store.ErrNotFound) {
		now := l.now().UnixMilli()
		state = State{Citizens: map[string]*CitizenRecord{}, CreatedAt: now, UpdatedAt: now}
		return &state, nil
	}
	if err != nil {
		return nil, err
	}
	if state.Citizens == nil {
		state.Citizens = map[string]*CitizenRecord{}
	}
	return &state, nil
}

func (l *Ledger) writeState(ctx context.Context, state *State) error {
	state.UpdatedAt = l.now().UnixMilli()
	return l.store.Write(ctx, DocName, state)
}

// UpsertCitizen returns the existing record or creates one at the starting
// balance and level 1.
func (l *Ledger) UpsertCitizen(ctx context.Context, id string) (*CitizenRecord, error) {
	state, err := l.readState(ctx)
	if err != nil {
		return nil, err
	}
	if rec, ok := state.Citizens[id]; ok {
		return rec, nil
	}
	now := l.now().UnixMilli()
	rec := &CitizenRecord{
		ID:           id,
		Balance:      StartingBalance,
		Level:        1,
		Transactions: []Transaction{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	state.Citizens[id] = rec
	if err := l.writeState(ctx, state); err != nil {
		return nil, err
	}
	l.log.Info("Registered citizen", zap.String("citizen_id", id))
	return rec, nil
}

// GetCitizen returns the record for id, or ErrCitizenNotFound.
func (l *Ledger) GetCitizen(ctx context.Context, id string) (*CitizenRecord, error) {
	state, err := l.readState(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := state.Citizens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCitizenNotFound, id)
	}
	return rec, nil
}

// SaveCitizen replaces the stored record for rec.ID.
func (l *Ledger) SaveCitizen(ctx context.Context, rec *CitizenRecord) error {
	state, err := l.readState(ctx)
	if err != nil {
		return err
	}
	rec.UpdatedAt = l.now().UnixMilli()
	state.Citizens[rec.ID] = rec
	return l.writeState(ctx, state)
}

// Earn increases the citizen's balance, appends one earn transaction and
// runs the level-up check. The citizen is created lazily when missing.
// Returns the new balance.
func (l *Ledger) Earn(ctx context.Context, id string, amount int64, source string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("ledger: earn amount must be non-negative, got %d", amount)
	}
	state, err := l.readState(ctx)
	if err != nil {
		return 0, err
	}
	rec := l.ensureCitizen(state, id)
	rec.Balance += amount
	rec.Transactions = append(rec.Transactions, Transaction{
		Type:      "earn",
		Amount:    amount,
		Source:    source,
		Timestamp: l.now().UnixMilli(),
	})
	l.checkLevelUp(rec)
	rec.UpdatedAt = l.now().UnixMilli()
	if err := l.writeState(ctx, state); err != nil {
		return 0, err
	}
	l.log.Debug("Credits earned",
		zap.String("citizen_id", id), zap.Int64("amount", amount), zap.String("source", source))
	return rec.Balance, nil
}

// Spend decrements the balance and appends one spend transaction. Returns
// false and leaves the ledger unchanged when the balance is insufficient;
// callers branch on this routinely, so it is never an error.
func (l *Ledger) Spend(ctx context.Context, id string, amount int64, purpose string) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("ledger: spend amount must be non-negative, got %d", amount)
	}
	state, err := l.readState(ctx)
	if err != nil {
		return false, err
	}
	rec, ok := state.Citizens[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrCitizenNotFound, id)
	}
	if rec.Balance < amount {
		l.log.Debug("Insufficient credits",
			zap.String("citizen_id", id), zap.Int64("amount", amount), zap.Int64("balance", rec.Balance))
		return false, nil
	}
	rec.Balance -= amount
	rec.Transactions = append(rec.Transactions, Transaction{
		Type:      "spend",
		Amount:    amount,
		Purpose:   purpose,
		Timestamp: l.now().UnixMilli(),
	})
	rec.UpdatedAt = l.now().UnixMilli()
	if err := l.writeState(ctx, state); err != nil {
		return false, err
	}
	l.log.Debug("Credits spent",
		zap.String("citizen_id", id), zap.Int64("amount", amount), zap.String("purpose", purpose))
	return true, nil
}

// GetBalance returns the current balance for id.
func (l *Ledger) GetBalance(ctx context.Context, id string) (int64, error) {
	rec, err := l.GetCitizen(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.Balance, nil
}

// GetTransactions returns a copy of the citizen's ordered transaction log.
func (l *Ledger) GetTransactions(ctx context.Context, id string) ([]Transaction, error) {
	rec, err := l.GetCitizen(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, len(rec.Transactions))
	copy(out, rec.Transactions)
	return out, nil
}

// HasGenesis reports whether the genesis block has been established.
func (l *Ledger) HasGenesis(ctx context.Context) (bool, error) {
	state, err := l.readState(ctx)
	if err != nil {
		return false, err
	}
	return state.Genesis, nil
}

// CreateGenesisBlock flips the genesis flag and records the deduplicated
// founders list. The flag transitions false to true exactly once; calling
// this again only merges founder ids.
func (l *Ledger) CreateGenesisBlock(ctx context.Context, founders []string) error {
	state, err := l.readState(ctx)
	if err != nil {
		return err
	}
	if !state.Genesis {
		state.Genesis = true
		state.GenesisAt = l.now().UnixMilli()
	}
	seen := make(map[string]struct{}, len(state.Founders)+len(founders))
	merged := make([]string, 0, len(state.Founders)+len(founders))
	for _, id := range append(append([]string{}, state.Founders...), founders...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	state.Founders = merged
	return l.writeState(ctx, state)
}

// ListFounders returns the records of all founding citizens.
func (l *Ledger) ListFounders(ctx context.Context) ([]*CitizenRecord, error) {
	state, err := l.readState(ctx)
	if err != nil {
		return nil, err
	}
	var out []*CitizenRecord
	for _, id := range state.Founders {
		if rec, ok := state.Citizens[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// IsFounder reports whether id is part of the genesis founders list.
func (l *Ledger) IsFounder(ctx context.Context, id string) (bool, error) {
	state, err := l.readState(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range state.Founders {
		if f == id {
			return true, nil
		}
	}
	return false, nil
}

// Genesis returns the genesis status snapshot.
func (l *Ledger) Genesis(ctx context.Context) (GenesisStatus, error) {
	state, err := l.readState(ctx)
	if err != nil {
		return GenesisStatus{}, err
	}
	founders := make([]string, len(state.Founders))
	copy(founders, state.Founders)
	return GenesisStatus{Genesis: state.Genesis, GenesisAt: state.GenesisAt, Founders: founders}, nil
}

func (l *Ledger) ensureCitizen(state *State, id string) *CitizenRecord {
	if rec, ok := state.Citizens[id]; ok {
		return rec
	}
	now := l.now().UnixMilli()
	rec := &CitizenRecord{
		ID:           id,
		Balance:      StartingBalance,
		Level:        1,
		Transactions: []Transaction{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	state.Citizens[id] = rec
	return rec
}

func (l *Ledger) checkLevelUp(rec *CitizenRecord) {
	newLevel := CreditLevel(rec.Balance)
	if newLevel <= rec.Level {
		return
	}
	rec.Level = newLevel
	fields := []zap.Field{zap.String("citizen_id", rec.ID), zap.Int("level", newLevel)}
	if perk, ok := perks[newLevel]; ok {
		fields = append(fields, zap.String("perk", perk))
	}
	l.log.Info("Credit level up", fields...)
}
