package engine

import "context"

// AgentID is a stable integer identity assigned at registration, in
// registration order starting at 0. It governs merge commit order and
// eligibility-candidate ordering; lower AgentId wins ties.
type AgentID int

// Agent is a pure capability: declared dependencies, a precondition and
// idempotency check, and an execution function. Implementations must be
// restart-safe — running the engine again on a context where Accepts
// would return false for every agent must be a true no-op.
//
// Any ContextKey an agent reads inside Accepts or Execute must appear
// in Dependencies. Violating this is not detected by the engine: the
// agent will simply never be reconsidered when the undeclared key next
// changes (starvation by contract, spec §4.1/§8 P9) — a documented
// failure mode, not a bug in the kernel.
type Agent interface {
	// Name is the agent's stable, human-readable identifier. It is used
	// as the idempotency prefix for facts this agent produces and in
	// diagnostics; it must be unique within a Registry.
	Name() string

	// Dependencies lists every ContextKey this agent reads, in either
	// Accepts or Execute.
	Dependencies() []ContextKey

	// Accepts is a pure precondition and idempotency check over the
	// current context. The canonical idempotency predicate: no fact in
	// the agent's target key has an identifier beginning with
	// Name()+"-". Model-backed agents extend this to also check
	// pending proposals under the target key authored by this agent.
	Accepts(ctx *Context) bool

	// Execute runs the agent against an immutable snapshot of the
	// context as of the start of the cycle. It must not observe or
	// depend on anything outside ctx and must not mutate ctx. It may
	// block on external tool calls; the supplied context.Context
	// carries the per-agent timeout and job cancellation signal.
	Execute(stdctx context.Context, ctx *Context) (AgentEffect, error)
}
