// Package invariant evaluates Datalog rule bundles over a projection of
// an engine.Context, implementing engine.InvariantChecker. It is the
// only package that couples the kernel's Context shape to Mangle: the
// engine package itself knows nothing about this reasoning layer.
package invariant

import (
	"github.com/kpernyer/converge/engine"
	"github.com/kpernyer/converge/internal/mangle"
)

// Project converts the current state of ctx into the extensional facts
// the base projection declares. It is pure and re-derivable at any
// time: nothing here is persisted independently of ctx itself.
func Project(ctx *engine.Context) []mangle.Fact {
	var facts []mangle.Fact
	for _, key := range ctx.Keys() {
		for _, f := range ctx.Facts(key) {
			facts = append(facts, mangle.Fact{Predicate: "fact_key", Args: []interface{}{string(key), f.ID}})
			facts = append(facts, mangle.Fact{Predicate: "fact_provenance", Args: []interface{}{string(key), f.ID, f.Provenance.Producer}})
			if f.Confidence != nil {
				facts = append(facts, mangle.Fact{Predicate: "fact_confidence", Args: []interface{}{string(key), f.ID, *f.Confidence}})
			}
		}
		for _, p := range ctx.Proposals(key) {
			facts = append(facts, mangle.Fact{Predicate: "proposal_key", Args: []interface{}{string(key), p.ID}})
			facts = append(facts, mangle.Fact{Predicate: "proposal_provenance", Args: []interface{}{string(key), p.ID, p.Provenance.Producer}})
		}
	}
	return facts
}

// basisProjection declares the extensional predicates every invariant
// bundle is evaluated against, plus the three violation predicates a
// bundle author writes rules against to report a failure (spec §4.7's
// structural/semantic/acceptance classes). A bundle is free to derive
// and use its own intermediate predicates; it may not declare its own
// basis or violation predicates — NewChecker rejects a bundle that
// tries.
const basisProjection = `
# Extensional projection of the shared context, rebuilt from scratch
# before every invariant evaluation.
Decl fact_key(Key, Id).
Decl fact_provenance(Key, Id, Producer).
Decl fact_confidence(Key, Id, Confidence).
Decl proposal_key(Key, Id).
Decl proposal_provenance(Key, Id, Producer).

# One rule head per invariant class. A bundle reports a failure by
# deriving one of these three atoms; Name should be a short stable
# identifier for the rule, Message a human-readable explanation.
Decl structural_violation(Name, Message).
Decl semantic_violation(Name, Message).
Decl acceptance_violation(Name, Message).
`

// violationPredicates lists the three rule-head predicates Checker
// queries after every evaluation.
var violationPredicates = []string{
	"structural_violation",
	"semantic_violation",
	"acceptance_violation",
}

// basisPredicates lists the predicates a bundle must not redeclare —
// the base projection already owns their Decl.
var basisPredicates = []string{
	"fact_key",
	"fact_provenance",
	"fact_confidence",
	"proposal_key",
	"proposal_provenance",
	"structural_violation",
	"semantic_violation",
	"acceptance_violation",
}
