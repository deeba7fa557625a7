// File: internal/specs/hooks.go
package specs

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Hook is one lifecycle hook body lifted from a fenced code block whose info
// string names the hook (beforeInit, afterInit, onMetamorphosis). The zero
// Hook means the spec declared nothing for that phase.
type Hook struct {
	Name   string `json:"name,omitempty"`
	Script string `json:"script,omitempty"`
}

// IsZero reports whether the hook is absent.
func (h Hook) IsZero() bool { return h.Name == "" && h.Script == "" }

// HookSet holds the three recognized lifecycle hooks of a spec.
type HookSet struct {
	BeforeInit      Hook `json:"beforeInit,omitzero"`
	AfterInit       Hook `json:"afterInit,omitzero"`
	OnMetamorphosis Hook `json:"onMetamorphosis,omitzero"`
}

// DefaultHookBudget bounds the wall-clock time one hook may consume.
const DefaultHookBudget = 50 * time.Millisecond

// hookLogCall matches the only capability the sandbox grants: emitting a log
// line. Anything else in a hook script is inert.
var hookLogCall = regexp.MustCompile(`(?:console\.)?log\s*\(\s*(?:"([^"]*)"|'([^']*)'|` + "`([^`]*)`" + `)\s*\)`)

// HookRunner executes hook scripts in a capability-free sandbox. Scripts get
// no filesystem, network, store or ledger access; the only recognized
// statement is a log call, and each run is cut off at the configured budget.
// Hook failure is observable (logged) but never fatal to the caller.
type HookRunner struct {
	log    *zap.Logger
	budget time.Duration
}

// NewHookRunner builds a runner with the given time budget. A non-positive
// budget falls back to DefaultHookBudget.
func NewHookRunner(logger *zap.Logger, budget time.Duration) *HookRunner {
	if budget <= 0 {
		budget = DefaultHookBudget
	}
	return &HookRunner{log: logger.Named("hooks"), budget: budget}
}

// Run executes one hook. It never returns an error: a crashed, invalid or
// over-budget hook is logged and swallowed so boot continues.
func (r *HookRunner) Run(ctx context.Context, h Hook) {
	if h.IsZero() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Warn("Hook crashed", zap.String("hook", h.Name), zap.Any("panic", rec))
			}
		}()
		r.eval(ctx, h)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("Hook exceeded time budget",
			zap.String("hook", h.Name), zap.Duration("budget", r.budget))
	}
}

func (r *HookRunner) eval(ctx context.Context, h Hook) {
	for _, line := range strings.Split(h.Script, "\n") {
		if ctx.Err() != nil {
			return
		}
		m := hookLogCall.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		msg := m[1]
		if msg == "" {
			msg = m[2]
		}
		if msg == "" {
			msg = m[3]
		}
		r.log.Info("[spec-hook] "+msg, zap.String("hook", h.Name))
	}
}
