package engine

import (
	"fmt"
	"sort"

	"github.com/kpernyer/converge/internal/logging"
)

// Registry holds the ordered set of registered agents and an inverted
// dependency index built incrementally as agents register. It is
// read-only for the lifetime of a job: Register is valid only before
// Run.
type Registry struct {
	agents  []Agent
	byName  map[string]AgentID
	index   map[ContextKey][]AgentID
	started bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]AgentID),
		index:  make(map[ContextKey][]AgentID),
	}
}

// Register assigns the next AgentID in registration order and indexes
// the agent under every key it declares as a dependency. Returns an
// error if called after the registry's engine has started a run, or if
// the agent's name collides with one already registered.
func (r *Registry) Register(a Agent) (AgentID, error) {
	if r.started {
		return 0, fmt.Errorf("register %s: registry already running", a.Name())
	}
	if _, exists := r.byName[a.Name()]; exists {
		return 0, fmt.Errorf("register %s: name already registered", a.Name())
	}

	id := AgentID(len(r.agents))
	r.agents = append(r.agents, a)
	r.byName[a.Name()] = id

	for _, key := range a.Dependencies() {
		r.index[key] = append(r.index[key], id)
	}

	logging.Get(logging.CategoryRegistry).Info("registered agent %q as id=%d deps=%v", a.Name(), id, a.Dependencies())
	return id, nil
}

// lock freezes the registry against further registration; called once
// by Run.
func (r *Registry) lock() {
	r.started = true
}

// Agent returns the agent for an id. Panics on an out-of-range id,
// which can only happen from a bug in the engine itself — ids are only
// ever produced by Register.
func (r *Registry) Agent(id AgentID) Agent {
	return r.agents[id]
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.agents)
}

// Dependents returns, in ascending AgentID order, the ids of agents
// whose declared dependencies include key.
func (r *Registry) Dependents(key ContextKey) []AgentID {
	ids := r.index[key]
	out := make([]AgentID, len(ids))
	copy(out, ids)
	return out
}

// Dependencies returns the ContextKeys an agent declared, introspection
// used for debugging starvation.
func (r *Registry) Dependencies(id AgentID) []ContextKey {
	return r.agents[id].Dependencies()
}

// KnownKeys returns the set of ContextKeys declared by at least one
// registered agent, used by Restore's strict-mode check.
func (r *Registry) KnownKeys() map[ContextKey]bool {
	keys := make(map[ContextKey]bool, len(r.index))
	for k := range r.index {
		keys[k] = true
	}
	return keys
}

// candidates computes the deduplicated, ascending-AgentID union of
// dependents over every key in dirty (spec §4.2's eligibility rule).
func (r *Registry) candidates(dirty []ContextKey) []AgentID {
	seen := make(map[AgentID]bool)
	for _, key := range dirty {
		for _, id := range r.index[key] {
			seen[id] = true
		}
	}
	ids := make([]AgentID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
