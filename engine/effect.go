package engine

// EffectItem is one (key, content) pair buffered by an agent execution.
// Item is either a Fact or a ProposedFact; any other type is a
// programming error caught by the merge phase.
type EffectItem struct {
	Key  ContextKey
	Item interface{}
}

// AgentEffect is the buffered, read-only output of a single agent
// execution. It is discarded entirely if the producing agent errors.
type AgentEffect struct {
	AgentID AgentID
	Items   []EffectItem
}

// AffectedKeys returns the distinct ContextKeys this effect touches, in
// first-seen order. The merge phase does not call it: it applies items
// one by one and tracks which keys actually change itself.
func (e AgentEffect) AffectedKeys() []ContextKey {
	seen := make(map[ContextKey]bool, len(e.Items))
	var keys []ContextKey
	for _, item := range e.Items {
		if !seen[item.Key] {
			seen[item.Key] = true
			keys = append(keys, item.Key)
		}
	}
	return keys
}
