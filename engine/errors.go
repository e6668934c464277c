package engine

import "fmt"

// AgentError wraps an error returned by an agent's Execute, identifying
// which agent produced it. An agent error discards that agent's entire
// effect for the cycle (spec §7); it never halts the run by itself —
// the agent simply becomes a candidate again whenever its dependencies
// next change, same as if it had declined via Accepts.
type AgentError struct {
	AgentName string
	Err       error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %q: %v", e.AgentName, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// ConflictError is recorded as a Diagnostic fact, never returned from
// Run — a conflict is an expected, non-fatal outcome of concurrent
// agents proposing incompatible facts (spec §4.4), not a run failure.
// It is exported so tests and demo agents can recognize the shape of a
// Diagnostic fact's content if they choose to structure it this way;
// the kernel itself records conflicts as plain strings (see merge.go).
type ConflictError struct {
	Key           ContextKey
	ID            string
	LosingAgentID AgentID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on key %q id %q: agent id=%d's fact rejected", e.Key, e.ID, e.LosingAgentID)
}

// BudgetExhaustedError mirrors ConvergeResult's StatusBudgetExhausted
// for callers that prefer Go error-handling idiom over inspecting the
// result's Status field. Run itself never returns it: it reports a hit
// budget through ConvergeResult.Status and Halt with a nil error.
type BudgetExhaustedError struct {
	Reason HaltReason
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted: %s", e.Reason)
}

// InvariantViolatedError mirrors ConvergeResult's StatusInvariantViolated.
type InvariantViolatedError struct {
	Violations []InvariantViolation
}

func (e *InvariantViolatedError) Error() string {
	return fmt.Sprintf("%d invariant(s) violated", len(e.Violations))
}

// ValidationRejectionError is never returned by Run — rejecting a
// proposal is an ordinary validator decision recorded via Reject, not
// an error condition. It exists so validator agents have a typed way
// to distinguish "I deliberately declined to promote this" from a
// genuine execution failure when constructing their own diagnostics.
type ValidationRejectionError struct {
	ProposalID string
	Reason     string
}

func (e *ValidationRejectionError) Error() string {
	return fmt.Sprintf("proposal %q rejected: %s", e.ProposalID, e.Reason)
}
