// File: internal/governance/governance.go

// Package governance implements the intentocracy subsystem: proposals,
// weighted votes and tallying. Voting weight is a snapshot of the citizen's
// ledger standing at cast time; re-voting replaces the earlier ballot.
package governance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/polislabs/polis/internal/ledger"
	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrProposalNotFound is returned for unknown proposal ids.
	ErrProposalNotFound = errors.New("governance: proposal not found")
	// ErrProposalClosed is returned when voting on a decided proposal.
	ErrProposalClosed = errors.New("governance: proposal closed")
	// ErrInvalidChoice is returned for ballots outside approve/reject/abstain.
	ErrInvalidChoice = errors.New("governance: invalid vote choice")
)

// DocName is the governance document in the store.
const DocName = "governance"

// Proposal statuses.
const (
	StatusOpen     = "open"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusNoQuorum = "no-quorum"
)

// Vote choices.
const (
	ChoiceApprove = "approve"
	ChoiceReject  = "reject"
	ChoiceAbstain = "abstain"
)

// levelWeight is the per-level bonus added to the balance when a ballot's
// weight is snapshotted.
const levelWeight = 100

// defaultQuorum is the minimum distinct-voter count for a regular proposal.
const defaultQuorum = 3

// Vote is one citizen's current ballot on a proposal.
type Vote struct {
	CitizenID string `json:"citizenId"`
	Choice    string `json:"choice"`
	Weight    int64  `json:"weight"`
	CastAt    int64  `json:"castAt"`
}

// Proposal is one governance item. Votes is keyed by citizen id, so a
// citizen's newer ballot silently replaces the older one.
type Proposal struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	ProposerID  string          `json:"proposerId"`
	Status      string          `json:"status"`
	Votes       map[string]Vote `json:"votes"`
	CreatedAt   int64           `json:"createdAt"`
	TalliedAt   int64           `json:"talliedAt,omitempty"`
}

// Outcome is the tally summary for one proposal.
type Outcome struct {
	ProposalID    string `json:"proposalId"`
	Status        string `json:"status"`
	ApproveWeight int64  `json:"approveWeight"`
	RejectWeight  int64  `json:"rejectWeight"`
	AbstainWeight int64  `json:"abstainWeight"`
	Voters        int    `json:"voters"`
	QuorumMet     bool   `json:"quorumMet"`
	Emergency     bool   `json:"emergency"`
}

type govState struct {
	Proposals map[string]*Proposal `json:"proposals"`
	NextID    int                  `json:"nextId"`
}

// Governance runs proposals against the ledger.
type Governance struct {
	store  store.Store
	ledger *ledger.Ledger
	log    *zap.Logger
	quorum int
	now    func() time.Time
}

// New builds the governance service. quorumVoters <= 0 uses the default of
// three distinct voters.
func New(s store.Store, led *ledger.Ledger, quorumVoters int, logger *zap.Logger) *Governance {
	if quorumVoters <= 0 {
		quorumVoters = defaultQuorum
	}
	return &Governance{store: s, ledger: led, log: logger.Named("governance"), quorum: quorumVoters, now: time.Now}
}

// SubmitProposal registers a new open proposal and returns it.
func (g *Governance) SubmitProposal(ctx context.Context, proposerID, title, description string) (*Proposal, error) {
	var proposal *Proposal
	var state govState
	err := store.Update(ctx, g.store, DocName, &state, func() error {
		if state.Proposals == nil {
			state.Proposals = map[string]*Proposal{}
		}
		state.NextID++
		proposal = &Proposal{
			ID:          fmt.Sprintf("proposal-%03d", state.NextID),
			Title:       title,
			Description: description,
			ProposerID:  proposerID,
			Status:      StatusOpen,
			Votes:       map[string]Vote{},
			CreatedAt:   g.now().UnixMilli(),
		}
		state.Proposals[proposal.ID] = proposal
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.log.Info("Proposal submitted", zap.String("proposal_id", proposal.ID), zap.String("proposer", proposerID))
	return proposal, nil
}

// GetProposal returns one proposal by id.
func (g *Governance) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	state, err := g.readState(ctx)
	if err != nil {
		return nil, err
	}
	proposal, ok := state.Proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	return proposal, nil
}

// ListProposals returns all proposals sorted by id.
func (g *Governance) ListProposals(ctx context.Context) ([]*Proposal, error) {
	state, err := g.readState(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Proposal, 0, len(state.Proposals))
	for _, p := range state.Proposals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CastVote records a ballot with the citizen's current ledger weight
// (balance plus 100 per credit level). A later ballot from the same citizen
// replaces the earlier one, weight included.
func (g *Governance) CastVote(ctx context.Context, proposalID, citizenID, choice string) (*Vote, error) {
	switch choice {
	case ChoiceApprove, ChoiceReject, ChoiceAbstain:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}
	rec, err := g.ledger.GetCitizen(ctx, citizenID)
	if err != nil {
		return nil, err
	}
	vote := Vote{
		CitizenID: citizenID,
		Choice:    choice,
		Weight:    rec.Balance + levelWeight*int64(rec.Level),
		CastAt:    g.now().UnixMilli(),
	}

	var state govState
	err = store.Update(ctx, g.store, DocName, &state, func() error {
		proposal, ok := state.Proposals[proposalID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
		}
		if proposal.Status != StatusOpen {
			return fmt.Errorf("%w: %s is %s", ErrProposalClosed, proposalID, proposal.Status)
		}
		if proposal.Votes == nil {
			proposal.Votes = map[string]Vote{}
		}
		proposal.Votes[citizenID] = vote
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.log.Debug("Vote cast",
		zap.String("proposal_id", proposalID),
		zap.String("citizen_id", citizenID),
		zap.String("choice", choice),
		zap.Int64("weight", vote.Weight))
	return &vote, nil
}

// Tally computes the outcome of a proposal. Quorum requires the configured
// number of distinct voters including at least one human and one AI citizen;
// an emergency proposal instead needs any founder's approval. Abstentions
// count toward turnout but never toward the decision. Only a decided outcome
// (approved or rejected) closes the proposal; a no-quorum tally leaves it
// open so further ballots can still arrive.
func (g *Governance) Tally(ctx context.Context, proposalID string) (*Outcome, error) {
	var outcome *Outcome
	var state govState
	err := store.Update(ctx, g.store, DocName, &state, func() error {
		proposal, ok := state.Proposals[proposalID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
		}
		if proposal.Status != StatusOpen {
			return fmt.Errorf("%w: %s is %s", ErrProposalClosed, proposalID, proposal.Status)
		}
		var err error
		outcome, err = g.computeOutcome(ctx, proposal)
		if err != nil {
			return err
		}
		if outcome.Status == StatusApproved || outcome.Status == StatusRejected {
			proposal.Status = outcome.Status
			proposal.TalliedAt = g.now().UnixMilli()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.log.Info("Proposal tallied",
		zap.String("proposal_id", proposalID),
		zap.String("status", outcome.Status),
		zap.Int64("approve", outcome.ApproveWeight),
		zap.Int64("reject", outcome.RejectWeight))
	return outcome, nil
}

func (g *Governance) computeOutcome(ctx context.Context, proposal *Proposal) (*Outcome, error) {
	outcome := &Outcome{
		ProposalID: proposal.ID,
		Emergency:  isEmergency(proposal),
	}
	var humans, ais int
	for _, vote := range proposal.Votes {
		outcome.Voters++
		switch vote.Choice {
		case ChoiceApprove:
			outcome.ApproveWeight += vote.Weight
		case ChoiceReject:
			outcome.RejectWeight += vote.Weight
		case ChoiceAbstain:
			outcome.AbstainWeight += vote.Weight
		}
		switch classify(vote.CitizenID) {
		case "human":
			humans++
		case "ai":
			ais++
		}
	}

	outcome.QuorumMet = outcome.Voters >= g.quorum && humans >= 1 && ais >= 1
	if !outcome.QuorumMet && outcome.Emergency {
		founderApproved, err := g.founderApproved(ctx, proposal)
		if err != nil {
			return nil, err
		}
		outcome.QuorumMet = founderApproved
	}

	switch {
	case !outcome.QuorumMet:
		outcome.Status = StatusNoQuorum
	case outcome.ApproveWeight > outcome.RejectWeight:
		outcome.Status = StatusApproved
	case outcome.RejectWeight > outcome.ApproveWeight:
		outcome.Status = StatusRejected
	default:
		// A dead-even split decides nothing.
		outcome.Status = StatusNoQuorum
	}
	return outcome, nil
}

func (g *Governance) founderApproved(ctx context.Context, proposal *Proposal) (bool, error) {
	for citizenID, vote := range proposal.Votes {
		if vote.Choice != ChoiceApprove {
			continue
		}
		isFounder, err := g.ledger.IsFounder(ctx, citizenID)
		if err != nil {
			return false, err
		}
		if isFounder {
			return true, nil
		}
	}
	return false, nil
}

func (g *Governance) readState(ctx context.Context) (govState, error) {
	var state govState
	err := g.store.Read(ctx, DocName, &state)
	if errors.Is(err, store.ErrNotFound) {
		return govState{Proposals: map[string]*Proposal{}}, nil
	}
	if err != nil {
		return govState{}, err
	}
	if state.Proposals == nil {
		state.Proposals = map[string]*Proposal{}
	}
	return state, nil
}

// classify buckets a voter by id prefix. Ids outside the known prefixes are
// unknown: they count toward turnout but satisfy neither side of the
// mixed-voter quorum requirement.
func classify(citizenID string) string {
	switch {
	case strings.HasPrefix(citizenID, "citizen:human:"):
		return "human"
	case strings.HasPrefix(citizenID, "citizen:ai:"), strings.HasPrefix(citizenID, "agent:"):
		return "ai"
	default:
		return "unknown"
	}
}

func isEmergency(proposal *Proposal) bool {
	text := strings.ToLower(proposal.Title + " " + proposal.Description)
	return strings.Contains(text, "emergency")
}
