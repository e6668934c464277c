package engine

import "time"

// Status names the terminal state a run ended in (spec §6). Halt and
// Violations on ConvergeResult are each meaningful for one Status only;
// Context, CyclesRun and Elapsed are set for every Status.
type Status string

const (
	// StatusConverged means no agent was eligible to run and no proposal
	// was left unresolved — a fixed point. Keys dirtied by the last merge
	// may still be reported as dirty when no agent depends on them.
	StatusConverged Status = "converged"
	// StatusBudgetExhausted means a configured Budget dimension was hit
	// before a fixed point was reached.
	StatusBudgetExhausted Status = "budget_exhausted"
	// StatusInvariantViolated means an invariant bundle rejected the
	// context at a cycle boundary.
	StatusInvariantViolated Status = "invariant_violated"
	// StatusAwaitingAuthority means the run halted with unpromoted
	// proposals and no validator eligible to act on them — progress is
	// possible only by registering a validator or providing external
	// (e.g. human) input.
	StatusAwaitingAuthority Status = "awaiting_authority"
)

// ConvergeResult is the outcome of a Run: the final context plus
// exactly the information relevant to why the run stopped.
type ConvergeResult struct {
	Status  Status
	Context *Context

	// Halt is set when Status == StatusBudgetExhausted.
	Halt HaltReason

	// Violations is set when Status == StatusInvariantViolated.
	Violations []InvariantViolation

	// CyclesRun and Elapsed are always populated, for introspection
	// regardless of how the run ended.
	CyclesRun int
	Elapsed   time.Duration
}

// Stats summarizes a ConvergeResult's context for display or logging —
// a convenience over reading Context's accessor methods directly.
type Stats struct {
	Status      Status
	CyclesRun   int
	Elapsed     time.Duration
	TotalFacts  int
	Version     int
	DirtyKeys   []ContextKey
}

// Summarize builds a Stats from a ConvergeResult.
func Summarize(r ConvergeResult) Stats {
	return Stats{
		Status:     r.Status,
		CyclesRun:  r.CyclesRun,
		Elapsed:    r.Elapsed,
		TotalFacts: r.Context.TotalFacts(),
		Version:    r.Context.Version(),
		DirtyKeys:  r.Context.DirtyKeys(),
	}
}
