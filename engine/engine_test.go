package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kpernyer/converge/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubAgent is a minimal, fully configurable engine.Agent for property
// tests that don't need a realistic domain — just a fixed dependency
// set, a one-shot idempotency check, and a fixed effect.
type stubAgent struct {
	name    string
	deps    []engine.ContextKey
	effect  func(ctx *engine.Context) (engine.AgentEffect, error)
	accepts func(ctx *engine.Context) bool
}

func (a *stubAgent) Name() string                      { return a.name }
func (a *stubAgent) Dependencies() []engine.ContextKey { return a.deps }
func (a *stubAgent) Accepts(ctx *engine.Context) bool   { return a.accepts(ctx) }
func (a *stubAgent) Execute(_ context.Context, ctx *engine.Context) (engine.AgentEffect, error) {
	return a.effect(ctx)
}

func onceAccepts(name string, key engine.ContextKey) func(ctx *engine.Context) bool {
	return func(ctx *engine.Context) bool {
		if len(ctx.Facts(key)) == 0 {
			return false
		}
		prefix := name + "-"
		for _, f := range ctx.Facts(key) {
			if len(f.ID) >= len(prefix) && f.ID[:len(prefix)] == prefix {
				return false
			}
		}
		return true
	}
}

func fixedFact(producer string, key engine.ContextKey, id string, content interface{}) engine.AgentEffect {
	return engine.AgentEffect{Items: []engine.EffectItem{
		{Key: key, Item: engine.Fact{
			ID:         id,
			Content:    content,
			Provenance: engine.Provenance{Producer: producer, Timestamp: time.Time{}},
		}},
	}}
}

func seedCtx(key engine.ContextKey, id string, content interface{}) *engine.Context {
	return engine.NewContext(map[engine.ContextKey][]engine.Fact{
		key: {{ID: id, Content: content, Provenance: engine.Provenance{Producer: "human"}}},
	})
}

// --- Scenario 1: sequential chain ---

func TestScenario_SequentialChain(t *testing.T) {
	registry := engine.NewRegistry()
	link1 := &stubAgent{
		name:    "link1",
		deps:    []engine.ContextKey{"A"},
		accepts: onceAccepts("link1", "A"),
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			return fixedFact("link1", "B", "link1-b1", "derived from A"), nil
		},
	}
	link2 := &stubAgent{
		name:    "link2",
		deps:    []engine.ContextKey{"B"},
		accepts: onceAccepts("link2", "B"),
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			return fixedFact("link2", "C", "link2-c1", "derived from B"), nil
		},
	}
	_, err := registry.Register(link1)
	require.NoError(t, err)
	_, err = registry.Register(link2)
	require.NoError(t, err)

	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})
	result, err := eng.Run(context.Background(), seedCtx("A", "seed-a1", "start"))
	require.NoError(t, err)

	require.Equal(t, engine.StatusConverged, result.Status)
	require.Len(t, result.Context.Facts("B"), 1)
	require.Len(t, result.Context.Facts("C"), 1)
	require.Equal(t, 2, result.CyclesRun)
}

// --- Scenario 2: multi-precondition join ---

func TestScenario_MultiPreconditionJoin(t *testing.T) {
	registry := engine.NewRegistry()
	join := &stubAgent{
		name: "join",
		deps: []engine.ContextKey{"Budget", "Risk"},
		accepts: func(ctx *engine.Context) bool {
			return len(ctx.Facts("Budget")) > 0 && len(ctx.Facts("Risk")) > 0 && len(ctx.Facts("Plan")) == 0
		},
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			return fixedFact("join", "Plan", "join-p1", "approved"), nil
		},
	}
	_, err := registry.Register(join)
	require.NoError(t, err)

	seed := engine.NewContext(map[engine.ContextKey][]engine.Fact{
		"Budget": {{ID: "b1", Content: "2M", Provenance: engine.Provenance{Producer: "human"}}},
	})
	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})

	result, err := eng.Run(context.Background(), seed)
	require.NoError(t, err)
	require.Equal(t, engine.StatusConverged, result.Status)
	require.Empty(t, result.Context.Facts("Plan"), "join must not fire with only one of its two preconditions satisfied")
}

// --- Scenario 3: starvation by undeclared dependency (P9) ---

func TestScenario_StarvationByUndeclaredDependency(t *testing.T) {
	runCount := 0
	registry := engine.NewRegistry()
	watcher := &stubAgent{
		name: "watcher",
		deps: []engine.ContextKey{"Signals"}, // declares Signals...
		accepts: func(ctx *engine.Context) bool {
			return len(ctx.Facts("Budget")) > 0 // ...but actually reads Budget
		},
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			runCount++
			return fixedFact("watcher", "Alerts", fmt.Sprintf("watcher-a%d", runCount), "threshold crossed"), nil
		},
	}
	_, err := registry.Register(watcher)
	require.NoError(t, err)

	seed := engine.NewContext(map[engine.ContextKey][]engine.Fact{
		"Signals": {{ID: "s1", Content: "initial", Provenance: engine.Provenance{Producer: "human"}}},
		"Budget":  {{ID: "b1", Content: "1M", Provenance: engine.Provenance{Producer: "human"}}},
	})
	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})

	result, err := eng.Run(context.Background(), seed)
	require.NoError(t, err)
	require.Equal(t, engine.StatusConverged, result.Status)
	require.Equal(t, 1, runCount, "watcher should fire exactly once, on the seeded Signals dirty flag")

	// A later Budget-only change never wakes it: rerun from the result
	// context with Budget re-dirtied is outside Run's surface (Run
	// doesn't expose mid-run fact injection), so this is exercised
	// structurally: watcher is indexed only under Signals.
	require.ElementsMatch(t, []engine.ContextKey{"Signals"}, registry.Dependencies(0))
}

// --- Scenario 4: conflict, lower AgentID wins ---

func TestScenario_Conflict_LowerAgentIDWins(t *testing.T) {
	registry := engine.NewRegistry()
	first := &stubAgent{
		name:    "first",
		deps:    []engine.ContextKey{"Signals"},
		accepts: onceAccepts("first", "Signals"),
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			return fixedFact("first", "Plans", "joint-plan", "expand aggressively"), nil
		},
	}
	second := &stubAgent{
		name:    "second",
		deps:    []engine.ContextKey{"Signals"},
		accepts: onceAccepts("second", "Signals"),
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			return fixedFact("second", "Plans", "joint-plan", "hold steady"), nil
		},
	}
	id1, err := registry.Register(first)
	require.NoError(t, err)
	id2, err := registry.Register(second)
	require.NoError(t, err)
	require.Less(t, int(id1), int(id2))

	seed := seedCtx("Signals", "s1", "market opening")
	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})

	result, err := eng.Run(context.Background(), seed)
	require.NoError(t, err)
	require.Equal(t, engine.StatusConverged, result.Status)

	plans := result.Context.Facts("Plans")
	require.Len(t, plans, 1)
	require.Equal(t, "expand aggressively", plans[0].Content, "lower AgentID's fact must win the collision")

	diags := result.Context.Facts(engine.DiagnosticKey)
	require.Len(t, diags, 1, "the losing agent's collision must be recorded exactly once")
}

// --- Scenario 5: propose -> validate ---

func TestScenario_ProposeThenValidate(t *testing.T) {
	registry := engine.NewRegistry()
	proposer := &stubAgent{
		name: "proposer",
		deps: []engine.ContextKey{"Goals"},
		accepts: func(ctx *engine.Context) bool {
			if len(ctx.Facts("Goals")) == 0 {
				return false
			}
			for _, p := range ctx.Proposals("Strategies") {
				if p.ID == "proposer-p1" {
					return false
				}
			}
			return true
		},
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			return engine.AgentEffect{Items: []engine.EffectItem{
				{Key: "Strategies", Item: engine.ProposedFact{
					ID:         "proposer-p1",
					Content:    "enter adjacent market",
					Provenance: engine.Provenance{Producer: "proposer"},
					Confidence: 0.9,
				}},
			}}, nil
		},
	}
	validator := &stubAgent{
		name: "validator",
		deps: []engine.ContextKey{"Strategies"},
		accepts: func(ctx *engine.Context) bool {
			for _, p := range ctx.Proposals("Strategies") {
				if !engine.AlreadyPromoted(ctx, "Strategies", p) {
					return true
				}
			}
			return false
		},
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			var items []engine.EffectItem
			for _, p := range ctx.Proposals("Strategies") {
				if engine.AlreadyPromoted(ctx, "Strategies", p) {
					continue
				}
				promoted, err := engine.Promote(p, "Strategies", "validator", "validated")
				if err != nil {
					return engine.AgentEffect{}, err
				}
				items = append(items, engine.EffectItem{Key: "Strategies", Item: promoted})
			}
			return engine.AgentEffect{Items: items}, nil
		},
	}
	_, err := registry.Register(proposer)
	require.NoError(t, err)
	_, err = registry.Register(validator)
	require.NoError(t, err)

	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})
	result, err := eng.Run(context.Background(), seedCtx("Goals", "g1", "find revenue"))
	require.NoError(t, err)

	require.Equal(t, engine.StatusConverged, result.Status)
	facts := result.Context.Facts("Strategies")
	require.Len(t, facts, 1)
	require.Equal(t, "proposer-p1", facts[0].ID, "promoted fact id must carry the producer's prefix, not the validator's")
	require.Equal(t, "proposer", facts[0].Provenance.Producer)
	require.Equal(t, "validator", facts[0].Provenance.ValidatedBy)
	require.Empty(t, result.Context.Proposals("Strategies"), "a promoted proposal must be removed from the pending set")
}

// --- Scenario 5b: propose -> reject must still converge, not hang AwaitingAuthority ---

func TestScenario_ProposeThenReject(t *testing.T) {
	registry := engine.NewRegistry()
	proposer := &stubAgent{
		name: "proposer",
		deps: []engine.ContextKey{"Goals"},
		accepts: func(ctx *engine.Context) bool {
			if len(ctx.Facts("Goals")) == 0 {
				return false
			}
			for _, p := range ctx.Proposals("Strategies") {
				if p.ID == "proposer-p1" {
					return false
				}
			}
			return !hasFact(ctx, "Diagnostic", "rejection-validator-proposer-p1")
		},
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			return engine.AgentEffect{Items: []engine.EffectItem{
				{Key: "Strategies", Item: engine.ProposedFact{
					ID:         "proposer-p1",
					Content:    "enter adjacent market",
					Provenance: engine.Provenance{Producer: "proposer"},
					Confidence: 0.1,
				}},
			}}, nil
		},
	}
	validator := &stubAgent{
		name: "validator",
		deps: []engine.ContextKey{"Strategies"},
		accepts: func(ctx *engine.Context) bool {
			return len(ctx.Proposals("Strategies")) > 0
		},
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			var items []engine.EffectItem
			for _, p := range ctx.Proposals("Strategies") {
				items = append(items, engine.EffectItem{Key: "Diagnostic", Item: engine.Reject(p, "Strategies", "validator", "confidence below threshold")})
			}
			return engine.AgentEffect{Items: items}, nil
		},
	}
	_, err := registry.Register(proposer)
	require.NoError(t, err)
	_, err = registry.Register(validator)
	require.NoError(t, err)

	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})
	result, err := eng.Run(context.Background(), seedCtx("Goals", "g1", "find revenue"))
	require.NoError(t, err)

	require.Equal(t, engine.StatusConverged, result.Status, "a rejected proposal must not leave the run AwaitingAuthority")
	require.Empty(t, result.Context.Facts("Strategies"), "a rejected proposal must never surface as a Fact")
	require.Empty(t, result.Context.Proposals("Strategies"), "a rejected proposal must be removed from the pending set")
	require.Len(t, result.Context.Facts(engine.DiagnosticKey), 1)
}

func hasFact(ctx *engine.Context, key engine.ContextKey, id string) bool {
	for _, f := range ctx.Facts(key) {
		if f.ID == id {
			return true
		}
	}
	return false
}

// --- Scenario 6 (awaiting authority): proposal with no registered validator ---

func TestScenario_AwaitingAuthority_NoValidatorRegistered(t *testing.T) {
	registry := engine.NewRegistry()
	proposer := &stubAgent{
		name: "lone-proposer",
		deps: []engine.ContextKey{"Goals"},
		accepts: func(ctx *engine.Context) bool {
			if len(ctx.Facts("Goals")) == 0 {
				return false
			}
			for _, p := range ctx.Proposals("Strategies") {
				if p.ID == "lone-proposer-p1" {
					return false
				}
			}
			return true
		},
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			return engine.AgentEffect{Items: []engine.EffectItem{
				{Key: "Strategies", Item: engine.ProposedFact{
					ID:         "lone-proposer-p1",
					Content:    "untested idea",
					Provenance: engine.Provenance{Producer: "lone-proposer"},
					Confidence: 0.5,
				}},
			}}, nil
		},
	}
	_, err := registry.Register(proposer)
	require.NoError(t, err)

	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})
	result, err := eng.Run(context.Background(), seedCtx("Goals", "g1", "find revenue"))
	require.NoError(t, err)
	require.Equal(t, engine.StatusAwaitingAuthority, result.Status)
}

// --- P1 Determinism ---

func TestProperty_Determinism(t *testing.T) {
	build := func() (*engine.Registry, *engine.Context) {
		r := engine.NewRegistry()
		a := &stubAgent{name: "a", deps: []engine.ContextKey{"A"}, accepts: onceAccepts("a", "A"),
			effect: func(ctx *engine.Context) (engine.AgentEffect, error) { return fixedFact("a", "B", "a-b1", "x"), nil }}
		b := &stubAgent{name: "b", deps: []engine.ContextKey{"B"}, accepts: onceAccepts("b", "B"),
			effect: func(ctx *engine.Context) (engine.AgentEffect, error) { return fixedFact("b", "C", "b-c1", "y"), nil }}
		_, _ = r.Register(a)
		_, _ = r.Register(b)
		return r, seedCtx("A", "seed1", "go")
	}

	r1, c1 := build()
	res1, err := engine.NewEngine(r1, engine.Budget{MaxCycles: 10}).Run(context.Background(), c1)
	require.NoError(t, err)

	r2, c2 := build()
	res2, err := engine.NewEngine(r2, engine.Budget{MaxCycles: 10}).Run(context.Background(), c2)
	require.NoError(t, err)

	require.Equal(t, res1.Status, res2.Status)
	require.Equal(t, res1.Context.Version(), res2.Context.Version())
	if diff := cmp.Diff(res1.Context.Facts("C"), res2.Context.Facts("C")); diff != "" {
		t.Errorf("determinism violated (-run1 +run2):\n%s", diff)
	}
}

// --- P4 No silent overwrites / P5 Monotonicity / P6 Version faithfulness ---

func TestProperty_NoSilentOverwriteAndMonotonicity(t *testing.T) {
	registry := engine.NewRegistry()
	winner := &stubAgent{name: "winner", deps: []engine.ContextKey{"Signals"}, accepts: onceAccepts("winner", "Signals"),
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) { return fixedFact("winner", "X", "dup", "v1"), nil }}
	loser := &stubAgent{name: "loser", deps: []engine.ContextKey{"Signals"}, accepts: onceAccepts("loser", "Signals"),
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) { return fixedFact("loser", "X", "dup", "v2"), nil }}
	_, err := registry.Register(winner)
	require.NoError(t, err)
	_, err = registry.Register(loser)
	require.NoError(t, err)

	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})
	result, err := eng.Run(context.Background(), seedCtx("Signals", "s1", "go"))
	require.NoError(t, err)

	xs := result.Context.Facts("X")
	require.Len(t, xs, 1, "no fact may be silently replaced in place")
	require.Equal(t, "v1", xs[0].Content)
	require.NotEmpty(t, result.Context.Facts(engine.DiagnosticKey))
	require.Len(t, result.Context.Facts("Signals"), 1, "seeded facts must survive every merge")
	require.Equal(t, 1, result.Context.Version(), "the single state-changing merge bumps version exactly once")
}

// --- P9 Starvation is covered by TestScenario_StarvationByUndeclaredDependency above ---

// --- P10/P11 Snapshot round-trip and cross-instance equivalence ---

func TestProperty_SnapshotRoundTrip(t *testing.T) {
	buildRegistry := func() *engine.Registry {
		r := engine.NewRegistry()
		a := &stubAgent{name: "a", deps: []engine.ContextKey{"A"}, accepts: onceAccepts("a", "A"),
			effect: func(ctx *engine.Context) (engine.AgentEffect, error) { return fixedFact("a", "B", "a-b1", "x"), nil }}
		_, _ = r.Register(a)
		return r
	}

	r1 := buildRegistry()
	eng1 := engine.NewEngine(r1, engine.Budget{MaxCycles: 10})
	result1, err := eng1.Run(context.Background(), seedCtx("A", "seed1", "go"))
	require.NoError(t, err)
	require.Equal(t, engine.StatusConverged, result1.Status)

	snap := engine.TakeSnapshot(result1.Context)
	data, err := snap.Marshal()
	require.NoError(t, err)

	restoredSnap, err := engine.UnmarshalSnapshot(data)
	require.NoError(t, err)

	r2 := buildRegistry()
	eng2 := engine.NewEngine(r2, engine.Budget{MaxCycles: 10})
	result2, err := eng2.RunWithSnapshot(context.Background(), restoredSnap, true)
	require.NoError(t, err)

	require.Equal(t, engine.StatusConverged, result2.Status)
	require.Equal(t, result1.Context.Version(), result2.Context.Version())
	if diff := cmp.Diff(result1.Context.Facts("B"), result2.Context.Facts("B")); diff != "" {
		t.Errorf("snapshot round-trip changed state (-before +after):\n%s", diff)
	}
}

// --- P13 Budget boundedness ---

func TestProperty_BudgetBoundedness_MaxCycles(t *testing.T) {
	registry := engine.NewRegistry()
	n := 0
	pingpong := &stubAgent{
		name: "pingpong",
		deps: []engine.ContextKey{"A"},
		accepts: func(ctx *engine.Context) bool { return true },
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			n++
			return fixedFact("pingpong", "A", fmt.Sprintf("pingpong-%d", n), n), nil
		},
	}
	_, err := registry.Register(pingpong)
	require.NoError(t, err)

	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 5})
	result, err := eng.Run(context.Background(), seedCtx("A", "seed1", "go"))
	require.NoError(t, err)

	require.Equal(t, engine.StatusBudgetExhausted, result.Status)
	require.Equal(t, engine.HaltMaxCycles, result.Halt)
	require.LessOrEqual(t, result.CyclesRun, 5)
}

func TestProperty_BudgetBoundedness_MaxFacts(t *testing.T) {
	registry := engine.NewRegistry()
	n := 0
	grower := &stubAgent{
		name:    "grower",
		deps:    []engine.ContextKey{"A"},
		accepts: func(ctx *engine.Context) bool { return true },
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			n++
			return fixedFact("grower", "A", fmt.Sprintf("grower-%d", n), n), nil
		},
	}
	_, err := registry.Register(grower)
	require.NoError(t, err)

	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 1000, MaxFacts: 3})
	result, err := eng.Run(context.Background(), seedCtx("A", "seed1", "go"))
	require.NoError(t, err)

	require.Equal(t, engine.StatusBudgetExhausted, result.Status)
	require.Equal(t, engine.HaltMaxFacts, result.Halt)
	require.LessOrEqual(t, result.Context.TotalFacts(), 3) // one cycle may land exactly on the boundary
}

// --- P2 Restart safety ---

func TestProperty_RestartSafety(t *testing.T) {
	registry := engine.NewRegistry()
	a := &stubAgent{name: "a", deps: []engine.ContextKey{"A"}, accepts: onceAccepts("a", "A"),
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) { return fixedFact("a", "B", "a-b1", "x"), nil }}
	_, err := registry.Register(a)
	require.NoError(t, err)

	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})
	result, err := eng.Run(context.Background(), seedCtx("A", "seed1", "go"))
	require.NoError(t, err)
	require.Equal(t, engine.StatusConverged, result.Status)

	snap := engine.TakeSnapshot(result.Context)
	registry2 := engine.NewRegistry()
	a2 := &stubAgent{name: "a", deps: []engine.ContextKey{"A"}, accepts: onceAccepts("a", "A"),
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) { return fixedFact("a", "B", "a-b1", "x"), nil }}
	_, err = registry2.Register(a2)
	require.NoError(t, err)

	eng2 := engine.NewEngine(registry2, engine.Budget{MaxCycles: 10})
	result2, err := eng2.RunWithSnapshot(context.Background(), snap, true)
	require.NoError(t, err)

	require.Equal(t, engine.StatusConverged, result2.Status)
	require.Equal(t, 0, result2.CyclesRun, "resuming a converged context must run zero state-changing cycles")
	require.Equal(t, result.Context.Version(), result2.Context.Version())
}

// --- P12 No-proposal-as-fact ---

func TestProperty_NoProposalAsFact(t *testing.T) {
	registry := engine.NewRegistry()
	proposer := &stubAgent{
		name: "proposer",
		deps: []engine.ContextKey{"Goals"},
		accepts: func(ctx *engine.Context) bool {
			if len(ctx.Facts("Goals")) == 0 {
				return false
			}
			for _, p := range ctx.Proposals("Strategies") {
				if p.ID == "proposer-p1" {
					return false
				}
			}
			return true
		},
		effect: func(ctx *engine.Context) (engine.AgentEffect, error) {
			return engine.AgentEffect{Items: []engine.EffectItem{
				{Key: "Strategies", Item: engine.ProposedFact{
					ID:         "proposer-p1",
					Content:    "unvetted",
					Provenance: engine.Provenance{Producer: "proposer"},
					Confidence: 0.2,
				}},
			}}, nil
		},
	}
	_, err := registry.Register(proposer)
	require.NoError(t, err)

	eng := engine.NewEngine(registry, engine.Budget{MaxCycles: 10})
	result, err := eng.Run(context.Background(), seedCtx("Goals", "g1", "find revenue"))
	require.NoError(t, err)

	require.Equal(t, engine.StatusAwaitingAuthority, result.Status)
	require.Empty(t, result.Context.Facts("Strategies"), "an unvalidated proposal must never surface as a Fact")
	require.Len(t, result.Context.Proposals("Strategies"), 1)
}
