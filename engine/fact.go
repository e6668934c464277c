package engine

import "time"

// ContextKey is a fact category. The set of keys in use by a job is
// fixed once its agents are registered: agents declare the keys they
// read, and the engine never invents one at runtime. Applications
// define their own keys as typed string constants; DiagnosticKey below
// is the one key the kernel itself writes to.
type ContextKey string

// DiagnosticKey holds diagnostic facts: the engine appends one when the
// merge rejects a conflicting fact or a fact with empty provenance, and
// validator agents emit their Reject facts under it. Any agent may
// depend on it to react to failures. An agent error is logged and
// audited, not recorded here.
const DiagnosticKey ContextKey = "Diagnostic"

// Provenance records who produced a fact and when. Every fact must
// carry a non-empty provenance (spec invariant 6); Producer == "" is
// rejected at merge time.
type Provenance struct {
	Producer          string    // agent name, or "human" for human decisions
	Timestamp         time.Time
	ValidationOutcome string // set by the validation gate on promotion or rejection, e.g. "validated", "rejected"
	ValidatedBy       string // validator agent name, set only on promoted facts

	// ResolvesProposalID and ResolvesProposalKey identify the pending
	// proposal this fact settles, set by Promote/Reject. The merge phase
	// uses them to drop the proposal from ctx.proposals once its
	// resolution is recorded, regardless of which key the resolving fact
	// itself lands under (a promoted fact shares the proposal's key; a
	// rejection's Diagnostic fact does not).
	ResolvesProposalID  string
	ResolvesProposalKey ContextKey
}

// Fact is a validated, immutable assertion belonging to one ContextKey.
// Content is opaque to the kernel; agent-level schemas above it are out
// of scope. Facts are never mutated after merge; superseding is done by
// adding new facts or explicit invalidation facts.
type Fact struct {
	ID         string
	Content    interface{}
	Provenance Provenance
	Confidence *float64 // optional, in [0,1]
}

// ProposedFact is the only way an untrusted producer communicates
// candidate content. It carries a required confidence, distinguishing
// it by type from Fact so nothing at the boundary can skip the
// proposed-to-validated transition.
type ProposedFact struct {
	ID         string
	Content    interface{}
	Provenance Provenance
	Confidence float64
}

// sameContent reports whether two facts' contents are equal for the
// purpose of idempotent re-emission (invariant 1). Content is opaque,
// so this falls back to a generic comparison; callers whose Content is
// not comparable with == should wrap it in a value that is (e.g. a
// canonical string or a comparable struct) — agents control their own
// Content type.
func sameContent(a, b interface{}) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false // a non-comparable Content is treated as always-different
		}
	}()
	return a == b
}
