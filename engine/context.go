package engine

// Context is the job's sole shared state: categorized facts, proposals
// awaiting validation, the set of keys mutated by the last merge, and a
// monotonically increasing version counter. Values are treated as
// immutable once handed to an agent; the engine produces a new Context
// on every state-changing merge rather than mutating one in place, so a
// reference an agent holds across a cycle boundary never changes under
// it.
type Context struct {
	facts     map[ContextKey][]Fact
	proposals map[ContextKey][]ProposedFact
	dirty     map[ContextKey]bool
	version   int
}

// NewContext builds the initial context for a job from seeded facts.
// Every key present in seed is considered dirty for the first cycle
// (spec §4.2's "first cycle" rule), so agents depending only on seeded
// categories become candidates immediately.
func NewContext(seed map[ContextKey][]Fact) *Context {
	facts := make(map[ContextKey][]Fact, len(seed))
	dirty := make(map[ContextKey]bool, len(seed))
	for key, items := range seed {
		cp := make([]Fact, len(items))
		copy(cp, items)
		facts[key] = cp
		if len(items) > 0 {
			dirty[key] = true
		}
	}
	return &Context{
		facts:     facts,
		proposals: make(map[ContextKey][]ProposedFact),
		dirty:     dirty,
		version:   0,
	}
}

// NewContextWithProposals is NewContext extended with a set of
// pre-existing proposals, for seeding a job from state that already
// includes pending candidates awaiting a validator — e.g. a seed
// loader resuming work handed off outside the engine.
func NewContextWithProposals(facts map[ContextKey][]Fact, proposals map[ContextKey][]ProposedFact) *Context {
	c := NewContext(facts)
	for key, items := range proposals {
		cp := make([]ProposedFact, len(items))
		copy(cp, items)
		c.proposals[key] = cp
		if len(items) > 0 {
			c.dirty[key] = true
		}
	}
	return c
}

// Facts returns a copy of the validated facts under key, in insertion
// order. Proposed facts are never visible here (spec invariant 5).
func (c *Context) Facts(key ContextKey) []Fact {
	items := c.facts[key]
	out := make([]Fact, len(items))
	copy(out, items)
	return out
}

// Proposals returns a copy of the pending proposals under key.
func (c *Context) Proposals(key ContextKey) []ProposedFact {
	items := c.proposals[key]
	out := make([]ProposedFact, len(items))
	copy(out, items)
	return out
}

// Keys returns every ContextKey that currently has at least one fact or
// proposal, in no particular order.
func (c *Context) Keys() []ContextKey {
	seen := make(map[ContextKey]bool)
	for k, v := range c.facts {
		if len(v) > 0 {
			seen[k] = true
		}
	}
	for k, v := range c.proposals {
		if len(v) > 0 {
			seen[k] = true
		}
	}
	keys := make([]ContextKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys
}

// IsDirty reports whether key changed during the most recent merge.
func (c *Context) IsDirty(key ContextKey) bool {
	return c.dirty[key]
}

// DirtyKeys returns the set of keys mutated by the most recent merge.
func (c *Context) DirtyKeys() []ContextKey {
	keys := make([]ContextKey, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	return keys
}

// Version is the monotonically increasing counter, incremented exactly
// once per merge that changed state.
func (c *Context) Version() int {
	return c.version
}

// TotalFacts counts validated facts across every key, used by the
// budget check (spec §4.5's max_facts cap).
func (c *Context) TotalFacts() int {
	n := 0
	for _, items := range c.facts {
		n += len(items)
	}
	return n
}

// hasFactID reports whether key already holds a fact with the given id,
// and if so, returns that fact.
func (c *Context) hasFactID(key ContextKey, id string) (existing Fact, found bool) {
	for _, f := range c.facts[key] {
		if f.ID == id {
			return f, true
		}
	}
	return Fact{}, false
}

// hasProposalID reports whether key already holds a proposal with the
// given id. It is unexported and not called by the engine; agents do
// their own proposal check through Proposals.
func (c *Context) hasProposalID(key ContextKey, id string) bool {
	for _, p := range c.proposals[key] {
		if p.ID == id {
			return true
		}
	}
	return false
}

// clone produces a shallow copy of the context's top-level maps,
// sharing unchanged per-key slices with the original. The merge phase
// builds new per-key slices only for keys an effect actually touches,
// so this is O(keys) not O(facts) for an unaffected context.
func (c *Context) clone() *Context {
	facts := make(map[ContextKey][]Fact, len(c.facts))
	for k, v := range c.facts {
		facts[k] = v
	}
	proposals := make(map[ContextKey][]ProposedFact, len(c.proposals))
	for k, v := range c.proposals {
		proposals[k] = v
	}
	return &Context{
		facts:     facts,
		proposals: proposals,
		dirty:     make(map[ContextKey]bool),
		version:   c.version,
	}
}
