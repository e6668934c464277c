package engine

import (
	"fmt"
	"strings"
	"time"
)

// Promote builds the Fact a validator agent emits to accept a pending
// proposal. It is the only supported way to turn a ProposedFact into a
// Fact (spec §4.6): the context itself has no other promotion path, and
// nothing but a validator's own Execute ever calls it.
//
// The resulting fact's id and Producer are always the proposal's own —
// never the validator's. This is deliberate (spec §9 open question 1):
// the producing agent's idempotency check scans its target key for ids
// prefixed with its own name, and that check must still see its own
// proposal once promoted, regardless of which validator approved it.
// Promote enforces this structurally: it takes no id argument, so a
// validator cannot substitute its own name by mistake. If the proposal
// itself was constructed without its producer's id prefix — a bug in
// the producing agent, not the validator — Promote returns an error
// rather than silently emitting a fact nothing will ever idempotently
// recognize.
//
// key is the proposal's own key (the key the validator read it under).
// The merge phase uses it, via the returned fact's ResolvesProposalKey,
// to remove the proposal from ctx.proposals once the promotion lands.
func Promote(proposal ProposedFact, key ContextKey, validatorName string, outcome string) (Fact, error) {
	if proposal.Provenance.Producer == "" {
		return Fact{}, fmt.Errorf("promote %q: proposal has no producer", proposal.ID)
	}
	if validatorName == "" {
		return Fact{}, fmt.Errorf("promote %q: validator name is required", proposal.ID)
	}
	prefix := proposal.Provenance.Producer + "-"
	if !strings.HasPrefix(proposal.ID, prefix) {
		return Fact{}, fmt.Errorf("promote %q: id does not carry producer %q's prefix %q", proposal.ID, proposal.Provenance.Producer, prefix)
	}

	confidence := proposal.Confidence
	return Fact{
		ID:      proposal.ID,
		Content: proposal.Content,
		Provenance: Provenance{
			Producer:            proposal.Provenance.Producer,
			Timestamp:           proposal.Provenance.Timestamp,
			ValidationOutcome:   outcome,
			ValidatedBy:         validatorName,
			ResolvesProposalID:  proposal.ID,
			ResolvesProposalKey: key,
		},
		Confidence: &confidence,
	}, nil
}

// Reject builds a Diagnostic fact recording a validator's refusal to
// promote a proposal. key is the proposal's own key; the merge phase
// uses the returned fact's ResolvesProposalKey/ResolvesProposalID to
// drop the proposal from ctx.proposals[key] once the rejection is
// recorded (spec §4.6), so a rejected proposal does not linger forever
// as unresolved.
func Reject(proposal ProposedFact, key ContextKey, validatorName string, reason string) Fact {
	return Fact{
		ID:      fmt.Sprintf("rejection-%s-%s", validatorName, proposal.ID),
		Content: fmt.Sprintf("%s rejected proposal %q: %s", validatorName, proposal.ID, reason),
		Provenance: Provenance{
			Producer:            validatorName,
			Timestamp:           time.Now(),
			ValidationOutcome:   "rejected",
			ResolvesProposalID:  proposal.ID,
			ResolvesProposalKey: key,
		},
	}
}

// AlreadyPromoted reports whether a proposal has already been promoted
// to a fact under key — the idempotency check a validator's Accepts
// must run before re-considering a proposal it has already acted on.
func AlreadyPromoted(ctx *Context, key ContextKey, proposal ProposedFact) bool {
	_, found := ctx.hasFactID(key, proposal.ID)
	return found
}
