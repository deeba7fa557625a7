// File: internal/agents/concrete.go
package agents

import (
	"context"
	"fmt"
	"strings"
)

// Task types understood by the concrete agents.
const (
	TaskAnalyzeFundingCall      = "analyze-funding-call"
	TaskMatchProjectToFunding   = "match-project-to-funding"
	TaskCalculateROI            = "calculate-roi"
	TaskGenerateProposalOutline = "generate-proposal-outline"
	TaskIdentifyPartners        = "identify-partners"
)

// fundingPrograms is the seed knowledge every FundingAnalyst starts with.
var fundingPrograms = []string{"horizon-europe", "erasmus-plus", "life", "digital-europe"}

// FundingAnalyst analyzes funding calls, matches projects to programs and
// estimates returns. Cost 50 per task, 10 XP each.
type FundingAnalyst struct {
	*BaseAgent
}

// NewFundingAnalyst builds an analyst with its declared capabilities.
func NewFundingAnalyst(id string, deps Deps) Agent {
	a := &FundingAnalyst{}
	a.BaseAgent = newBaseAgent(id, "FundingAnalyst", Capabilities{
		CanExecute: []string{TaskAnalyzeFundingCall, TaskMatchProjectToFunding, TaskCalculateROI},
		Requires:   []string{"funding-call-data"},
		Produces:   []string{"funding-analysis"},
		Costs:      50,
	}, 10, 100, deps, a.perform)
	return a
}

// Initialize seeds the program knowledge into long-term memory on first run.
func (a *FundingAnalyst) Initialize(ctx context.Context) error {
	if err := a.BaseAgent.Initialize(ctx); err != nil {
		return err
	}
	if _, ok, err := a.Recall(ctx, "fundingPrograms"); err != nil {
		return err
	} else if !ok {
		return a.Remember(ctx, "fundingPrograms", fundingPrograms)
	}
	return nil
}

func (a *FundingAnalyst) perform(ctx context.Context, task Task) (map[string]any, error) {
	switch task.Type {
	case TaskAnalyzeFundingCall:
		return a.analyzeCall(task.Data), nil
	case TaskMatchProjectToFunding:
		return a.matchProject(task.Data), nil
	case TaskCalculateROI:
		return calculateROI(task.Data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTask, task.Type)
	}
}

// analyzeCall scores a funding call. The baseline probability is 0.65,
// nudged by deadline slack and program fit, clamped to [0, 1].
func (a *FundingAnalyst) analyzeCall(data map[string]any) map[string]any {
	probability := 0.65
	if days, ok := asFloat(data["deadlineDays"]); ok {
		if days >= 30 {
			probability += 0.10
		} else {
			probability -= 0.10
		}
	}
	if match, ok := data["programMatch"].(bool); ok && match {
		probability += 0.15
	}
	if probability > 1 {
		probability = 1
	}
	if probability < 0 {
		probability = 0
	}

	recommendation := "monitor"
	if probability >= 0.7 {
		recommendation = "pursue"
	}
	return map[string]any{
		"successProbability": probability,
		"program":            stringOr(data["program"], "unknown"),
		"recommendation":     recommendation,
	}
}

func (a *FundingAnalyst) matchProject(data map[string]any) map[string]any {
	keywords := strings.ToLower(stringOr(data["description"], ""))
	var matches []string
	for _, program := range fundingPrograms {
		for _, token := range strings.Split(program, "-") {
			if token != "" && strings.Contains(keywords, token) {
				matches = append(matches, program)
				break
			}
		}
	}
	if len(matches) == 0 {
		matches = []string{"horizon-europe"}
	}
	return map[string]any{"matches": matches}
}

func calculateROI(data map[string]any) (map[string]any, error) {
	investment, ok := asFloat(data["investment"])
	if !ok || investment <= 0 {
		return nil, fmt.Errorf("agents: calculate-roi requires a positive investment")
	}
	expected, _ := asFloat(data["expectedReturn"])
	return map[string]any{"roi": (expected - investment) / investment}, nil
}

// ProposalWriter turns analyzed calls into proposal outlines. Cost 40,
// reward 60, 8 XP per task.
type ProposalWriter struct {
	*BaseAgent
}

// NewProposalWriter builds a writer agent.
func NewProposalWriter(id string, deps Deps) Agent {
	w := &ProposalWriter{}
	w.BaseAgent = newBaseAgent(id, "ProposalWriter", Capabilities{
		CanExecute: []string{TaskGenerateProposalOutline},
		Requires:   []string{"funding-analysis"},
		Produces:   []string{"proposal-outline"},
		Costs:      40,
	}, 8, 60, deps, w.perform)
	return w
}

func (w *ProposalWriter) perform(ctx context.Context, task Task) (map[string]any, error) {
	program := stringOr(task.Data["program"], "unknown")
	return map[string]any{
		"program": program,
		"sections": []string{
			"Executive Summary",
			"Objectives",
			"Methodology",
			"Work Packages",
			"Budget Justification",
			"Impact",
		},
	}, nil
}

// PartnerMatcher finds consortium partners for a call.
type PartnerMatcher struct {
	*BaseAgent
}

// NewPartnerMatcher builds a matcher agent.
func NewPartnerMatcher(id string, deps Deps) Agent {
	m := &PartnerMatcher{}
	m.BaseAgent = newBaseAgent(id, "PartnerMatcher", Capabilities{
		CanExecute: []string{TaskIdentifyPartners},
		Requires:   []string{"funding-analysis"},
		Produces:   []string{"partner-shortlist"},
		Costs:      30,
	}, 10, 50, deps, m.perform)
	return m
}

func (m *PartnerMatcher) perform(ctx context.Context, task Task) (map[string]any, error) {
	region := stringOr(task.Data["region"], "eu")
	return map[string]any{
		"region":   region,
		"partners": []string{"research-institute", "sme-cluster", "municipality"},
	}, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
