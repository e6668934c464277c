package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kpernyer/converge/internal/logging"
)

// Engine drives a Context toward a fixed point over a fixed Registry of
// agents (spec §4.3). It is single-use: build a Registry, register
// every agent, then call Run exactly once.
type Engine struct {
	registry      *Registry
	budget        Budget
	invariants    InvariantChecker
	maxConcurrent int
	agentTimeout  time.Duration
	audit         *logging.AuditTrail
}

// EngineOption configures optional Engine behavior beyond the required
// Registry and Budget.
type EngineOption func(*Engine)

// WithInvariantChecker installs the invariant bundle evaluated at every
// cycle boundary. Without one, invariant checking is skipped entirely
// and StatusInvariantViolated is never produced.
func WithInvariantChecker(c InvariantChecker) EngineOption {
	return func(e *Engine) { e.invariants = c }
}

// WithMaxConcurrentAgents caps how many eligible agents execute in
// parallel within one cycle. Zero or unset means unbounded.
func WithMaxConcurrentAgents(n int) EngineOption {
	return func(e *Engine) { e.maxConcurrent = n }
}

// WithAgentTimeout bounds a single agent's Execute call. Zero or unset
// means no per-agent timeout.
func WithAgentTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.agentTimeout = d }
}

// WithAuditTrail attaches a ring buffer of merge/validation/agent
// events for post-run introspection through the trail's own accessors.
func WithAuditTrail(a *logging.AuditTrail) EngineOption {
	return func(e *Engine) { e.audit = a }
}

// NewEngine returns an Engine bound to registry and budget. registry
// must not receive further Register calls once Run is called; Run locks
// it as its first action.
func NewEngine(registry *Registry, budget Budget, opts ...EngineOption) *Engine {
	e := &Engine{registry: registry, budget: budget}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives seed toward a fixed point, respecting the configured
// Budget and, if installed, InvariantChecker. It returns once the run
// reaches one of the four terminal states in spec §6: converged,
// budget-exhausted, invariant-violated, or awaiting-authority.
func (e *Engine) Run(stdctx context.Context, seed *Context) (ConvergeResult, error) {
	e.registry.lock()
	log := logging.Get(logging.CategoryEngine)
	tracker := newBudgetTracker(e.budget, time.Now())

	ctx := seed
	dirty := ctx.DirtyKeys()

	for {
		candidates := e.registry.candidates(dirty)
		eligible := make([]AgentID, 0, len(candidates))
		for _, id := range candidates {
			if e.registry.Agent(id).Accepts(ctx) {
				eligible = append(eligible, id)
			}
		}

		if len(eligible) == 0 {
			if pendingUnresolvedProposals(ctx) {
				log.Info("halting at cycle %d: no eligible agent, proposals pending", tracker.CyclesRun())
				return ConvergeResult{Status: StatusAwaitingAuthority, Context: ctx, CyclesRun: tracker.CyclesRun(), Elapsed: tracker.Elapsed()}, nil
			}
			log.Info("converged after %d cycle(s), version %d", tracker.CyclesRun(), ctx.Version())
			return ConvergeResult{Status: StatusConverged, Context: ctx, CyclesRun: tracker.CyclesRun(), Elapsed: tracker.Elapsed()}, nil
		}

		if reason := tracker.checkBeforeCycle(ctx); reason != HaltNone {
			log.Info("halting before cycle %d: %s", tracker.CyclesRun(), reason)
			return ConvergeResult{Status: StatusBudgetExhausted, Context: ctx, Halt: reason, CyclesRun: tracker.CyclesRun(), Elapsed: tracker.Elapsed()}, nil
		}

		effects, err := e.executeCycle(stdctx, ctx, eligible, log)
		if err != nil {
			return ConvergeResult{}, err
		}

		ctx = mergeCycle(ctx, effects, e.audit, tracker.CyclesRun()+1)
		tracker.recordCycle()

		if e.invariants != nil {
			violations, err := e.invariants.Check(ctx)
			if err != nil {
				return ConvergeResult{}, err
			}
			if len(violations) > 0 {
				log.Warn("halting at cycle %d: %d invariant(s) violated", tracker.CyclesRun(), len(violations))
				if e.audit != nil {
					for _, v := range violations {
						e.audit.Record(logging.AuditEvent{Cycle: tracker.CyclesRun(), EventType: logging.AuditInvariantViolation, Message: v.Message, Fields: map[string]interface{}{"name": v.Name}})
					}
				}
				return ConvergeResult{Status: StatusInvariantViolated, Context: ctx, Violations: violations, CyclesRun: tracker.CyclesRun(), Elapsed: tracker.Elapsed()}, nil
			}
		}

		dirty = ctx.DirtyKeys()
	}
}

// executeCycle runs every eligible agent concurrently and collects the
// effects of those that did not error. An agent's error discards only
// its own effect (spec §7); it never aborts the cycle for the others.
func (e *Engine) executeCycle(stdctx context.Context, ctx *Context, eligible []AgentID, log *logging.Logger) ([]AgentEffect, error) {
	group, gctx := errgroup.WithContext(stdctx)
	if e.maxConcurrent > 0 {
		group.SetLimit(e.maxConcurrent)
	}

	effects := make([]AgentEffect, len(eligible))
	ok := make([]bool, len(eligible))

	for i, id := range eligible {
		i, id := i, id
		group.Go(func() error {
			agent := e.registry.Agent(id)
			runCtx := gctx
			var cancel context.CancelFunc
			if e.agentTimeout > 0 {
				runCtx, cancel = context.WithTimeout(gctx, e.agentTimeout)
				defer cancel()
			}
			effect, err := agent.Execute(runCtx, ctx)
			if err != nil {
				log.Error("agent %q (id=%d) errored, effect discarded: %v", agent.Name(), id, err)
				if e.audit != nil {
					e.audit.Record(logging.AuditEvent{EventType: logging.AuditAgentError, AgentID: int(id), AgentName: agent.Name(), Message: err.Error()})
				}
				return nil // an agent error is not a run-level error
			}
			effect.AgentID = id
			effects[i] = effect
			ok[i] = true
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make([]AgentEffect, 0, len(eligible))
	for i, kept := range ok {
		if kept {
			out = append(out, effects[i])
		}
	}
	return out, nil
}

// RunWithSnapshot resumes a run from a previously taken Snapshot
// instead of a freshly seeded Context. strict controls whether a key
// present in the snapshot but undeclared by any currently-registered
// agent is treated as an error (spec §4.8's resume-compatibility rule).
func (e *Engine) RunWithSnapshot(stdctx context.Context, snap Snapshot, strict bool) (ConvergeResult, error) {
	ctx, err := Restore(snap, e.registry.KnownKeys(), strict)
	if err != nil {
		return ConvergeResult{}, err
	}
	return e.Run(stdctx, ctx)
}

// pendingUnresolvedProposals reports whether ctx holds any proposal
// under a key for which no fact of the same id has yet been promoted.
// It distinguishes a true fixed point (StatusConverged) from a run
// stalled only because no registered validator is eligible to act on
// outstanding proposals (StatusAwaitingAuthority).
func pendingUnresolvedProposals(ctx *Context) bool {
	for key, proposals := range ctx.proposals {
		for _, p := range proposals {
			if _, found := ctx.hasFactID(key, p.ID); !found {
				return true
			}
		}
	}
	return false
}
