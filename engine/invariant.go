package engine

// InvariantViolation describes one failed structural, semantic, or
// acceptance check over a context at a cycle boundary (spec §4.7).
type InvariantViolation struct {
	Name    string
	Message string
	Keys    []ContextKey
}

// InvariantChecker evaluates a context against a bundle of invariants
// and reports every violation found. The engine calls Check once at
// the end of every cycle, never mid-cycle; a nil InvariantChecker
// disables the check entirely. Implementations must be pure: Check
// must not mutate ctx and must return the same violations for the same
// ctx regardless of when it is called (spec P1 determinism).
//
// internal/invariant provides the Mangle-backed implementation used by
// cmd/converge; engine itself only depends on this interface so the
// kernel has no dependency on the reasoning engine that evaluates
// bundles.
type InvariantChecker interface {
	Check(ctx *Context) ([]InvariantViolation, error)
}
