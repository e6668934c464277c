package engine

import (
	"fmt"
	"sort"

	"github.com/kpernyer/converge/internal/logging"
)

// mergeCycle applies a batch of agent effects to base in deterministic,
// AgentId-ascending order and returns the resulting context. It never
// mutates base; base.clone() gives every per-key slice a fresh backing
// array only for keys actually touched. audit may be nil.
//
// Ordering rule (spec §4.4): effects are sorted by AgentID ascending.
// Items within one agent's effect are applied in emission order. This
// means two facts colliding under the same (key, id) are resolved by
// whichever was applied first — across agents, the lower AgentID; within
// one agent's own effect, whichever item it emitted first. No special
// casing is needed for the intra-effect case: it falls out of applying
// items strictly in order against a single accumulating per-key slice.
func mergeCycle(base *Context, effects []AgentEffect, audit *logging.AuditTrail, cycle int) *Context {
	sorted := make([]AgentEffect, len(effects))
	copy(sorted, effects)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AgentID < sorted[j].AgentID })

	next := base.clone()
	changed := make(map[ContextKey]bool)
	log := logging.Get(logging.CategoryMerge)

	for _, effect := range sorted {
		for _, item := range effect.Items {
			switch v := item.Item.(type) {
			case Fact:
				applyFact(next, effect.AgentID, item.Key, v, changed, log, audit, cycle)
			case ProposedFact:
				applyProposal(next, effect.AgentID, item.Key, v, changed, audit, cycle)
			default:
				log.Error("agent id=%d emitted item of unknown type %T under key %q, dropped", effect.AgentID, item.Item, item.Key)
			}
		}
	}

	next.dirty = changed
	if len(changed) > 0 {
		next.version = base.version + 1
	}
	return next
}

// applyFact implements the per-item Fact merge rule: a new id is
// appended and dirties key; identical re-emission of an existing id is
// a silent no-op (invariant 1, idempotent re-emission); a colliding id
// with different content is rejected and recorded as a Diagnostic fact,
// without dirtying key from this item.
func applyFact(next *Context, agentID AgentID, key ContextKey, f Fact, changed map[ContextKey]bool, log *logging.Logger, audit *logging.AuditTrail, cycle int) {
	if f.Provenance.Producer == "" {
		appendDiagnostic(next, changed, cycle, fmt.Sprintf("agent id=%d emitted fact %q under key %q with empty provenance, rejected", agentID, f.ID, key))
		log.Error("rejected fact %q under key %q: empty provenance", f.ID, key)
		return
	}

	existing, found := next.hasFactID(key, f.ID)
	if !found {
		next.facts[key] = append(copyFacts(next.facts[key]), f)
		changed[key] = true
		resolveProposal(next, f, changed)
		recordAudit(audit, logging.AuditEvent{Cycle: cycle, EventType: logging.AuditFactAccepted, AgentID: int(agentID), AgentName: f.Provenance.Producer, Key: string(key), FactID: f.ID})
		return
	}
	if sameContent(existing.Content, f.Content) {
		resolveProposal(next, f, changed)
		recordAudit(audit, logging.AuditEvent{Cycle: cycle, EventType: logging.AuditFactDuplicate, AgentID: int(agentID), AgentName: f.Provenance.Producer, Key: string(key), FactID: f.ID})
		return // idempotent re-emission, not a change
	}

	appendDiagnostic(next, changed, cycle, fmt.Sprintf("conflict on key %q id %q: agent id=%d's content differs from the accepted fact, rejected", key, f.ID, agentID))
	log.Warn("conflict on key %q id %q, agent id=%d rejected", key, f.ID, agentID)
	recordAudit(audit, logging.AuditEvent{Cycle: cycle, EventType: logging.AuditFactConflict, AgentID: int(agentID), AgentName: f.Provenance.Producer, Key: string(key), FactID: f.ID})
}

// resolveProposal drops the proposal a just-committed fact resolves
// (spec §4.6): once a promotion or rejection is recorded, the pending
// proposal it settles no longer belongs in ctx.proposals, so a run whose
// only remaining work was that proposal can converge instead of
// halting AwaitingAuthority forever.
func resolveProposal(next *Context, f Fact, changed map[ContextKey]bool) {
	id := f.Provenance.ResolvesProposalID
	if id == "" {
		return
	}
	key := f.Provenance.ResolvesProposalKey
	items := next.proposals[key]
	out := make([]ProposedFact, 0, len(items))
	removed := false
	for _, p := range items {
		if p.ID == id {
			removed = true
			continue
		}
		out = append(out, p)
	}
	if removed {
		next.proposals[key] = out
		changed[key] = true
	}
}

// applyProposal appends a proposal unconditionally; proposals carry no
// id-collision rule of their own — an agent's own Accepts is what keeps
// it from proposing the same content twice (spec §4.1).
func applyProposal(next *Context, agentID AgentID, key ContextKey, p ProposedFact, changed map[ContextKey]bool, audit *logging.AuditTrail, cycle int) {
	next.proposals[key] = append(copyProposals(next.proposals[key]), p)
	changed[key] = true
	recordAudit(audit, logging.AuditEvent{Cycle: cycle, EventType: logging.AuditProposalAppended, AgentID: int(agentID), AgentName: p.Provenance.Producer, Key: string(key), FactID: p.ID})
}

// appendDiagnostic records a Diagnostic fact describing a merge-time
// rejection. Diagnostic facts are never subject to the id-collision
// rule above: each is unique by construction. Its id is derived purely
// from the cycle number and the number of facts already held under
// DiagnosticKey (across all cycles, validator rejections included) —
// both deterministic given the same sequence of effects — rather than
// wall-clock time, so two runs over the same
// context and agents produce byte-identical Diagnostic facts (spec
// §8's determinism and snapshot round-trip properties).
func appendDiagnostic(next *Context, changed map[ContextKey]bool, cycle int, message string) {
	d := Fact{
		ID:      fmt.Sprintf("diagnostic-%d-%d", cycle, len(next.facts[DiagnosticKey])),
		Content: message,
		Provenance: Provenance{
			Producer: "engine",
		},
	}
	next.facts[DiagnosticKey] = append(copyFacts(next.facts[DiagnosticKey]), d)
	changed[DiagnosticKey] = true
}

func recordAudit(audit *logging.AuditTrail, ev logging.AuditEvent) {
	if audit != nil {
		audit.Record(ev)
	}
}

func copyFacts(items []Fact) []Fact {
	out := make([]Fact, len(items), len(items)+1)
	copy(out, items)
	return out
}

func copyProposals(items []ProposedFact) []ProposedFact {
	out := make([]ProposedFact, len(items), len(items)+1)
	copy(out, items)
	return out
}
