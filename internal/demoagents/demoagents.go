// Package demoagents implements small, illustrative engine.Agent
// examples covering the end-to-end scenarios cmd/converge can run
// (chain by default, the others via --scenario): a sequential chain, a multi-precondition join, an agent
// starved by an undeclared dependency, a two-agent conflict, and a
// propose/validate pair. None of these model a real domain; Content is
// always a plain string chosen to make a cycle's effect readable in a
// log line.
package demoagents

import (
	"context"
	"fmt"
	"time"

	"github.com/kpernyer/converge/engine"
)

// fact is a small helper every demo agent uses to build its own
// idempotency-prefixed fact id.
func fact(name, key, suffix string) string {
	return fmt.Sprintf("%s-%s-%s", name, key, suffix)
}

// hasOwn reports whether ctx already holds a fact under key whose id
// was produced by name — the canonical idempotency check from spec
// §4.1, reused by every demo agent below instead of each reimplementing
// the prefix scan.
func hasOwn(ctx *engine.Context, key engine.ContextKey, name string) bool {
	prefix := name + "-"
	for _, f := range ctx.Facts(key) {
		if len(f.ID) >= len(prefix) && f.ID[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// GoalIntake is the first link of the sequential-chain scenario: it
// turns a seeded Goals fact into a single Strategy, then never fires
// again (spec §8 scenario 1).
type GoalIntake struct{ Name_ string }

func NewGoalIntake() *GoalIntake { return &GoalIntake{Name_: "goal-intake"} }

func (a *GoalIntake) Name() string                    { return a.Name_ }
func (a *GoalIntake) Dependencies() []engine.ContextKey { return []engine.ContextKey{"Goals"} }

func (a *GoalIntake) Accepts(ctx *engine.Context) bool {
	return len(ctx.Facts("Goals")) > 0 && !hasOwn(ctx, "Strategies", a.Name_)
}

func (a *GoalIntake) Execute(_ context.Context, ctx *engine.Context) (engine.AgentEffect, error) {
	goals := ctx.Facts("Goals")
	return engine.AgentEffect{Items: []engine.EffectItem{
		{Key: "Strategies", Item: engine.Fact{
			ID:         fact(a.Name_, "Strategies", "s1"),
			Content:    fmt.Sprintf("pursue: %v", goals[0].Content),
			Provenance: engine.Provenance{Producer: a.Name_, Timestamp: time.Now()},
		}},
	}}, nil
}

// StrategyExecutor is the second link: it reacts to Strategies and
// produces a single Action.
type StrategyExecutor struct{ Name_ string }

func NewStrategyExecutor() *StrategyExecutor { return &StrategyExecutor{Name_: "strategy-executor"} }

func (a *StrategyExecutor) Name() string                    { return a.Name_ }
func (a *StrategyExecutor) Dependencies() []engine.ContextKey { return []engine.ContextKey{"Strategies"} }

func (a *StrategyExecutor) Accepts(ctx *engine.Context) bool {
	return len(ctx.Facts("Strategies")) > 0 && !hasOwn(ctx, "Actions", a.Name_)
}

func (a *StrategyExecutor) Execute(_ context.Context, ctx *engine.Context) (engine.AgentEffect, error) {
	strategies := ctx.Facts("Strategies")
	return engine.AgentEffect{Items: []engine.EffectItem{
		{Key: "Actions", Item: engine.Fact{
			ID:         fact(a.Name_, "Actions", "a1"),
			Content:    fmt.Sprintf("execute: %v", strategies[0].Content),
			Provenance: engine.Provenance{Producer: a.Name_, Timestamp: time.Now()},
		}},
	}}, nil
}

// BudgetAndRiskJoin is the multi-precondition scenario: it requires
// both a Budget fact and a RiskAssessment fact before it will act
// (spec §8 scenario 2); either alone leaves it ineligible.
type BudgetAndRiskJoin struct{ Name_ string }

func NewBudgetAndRiskJoin() *BudgetAndRiskJoin { return &BudgetAndRiskJoin{Name_: "budget-risk-join"} }

func (a *BudgetAndRiskJoin) Name() string { return a.Name_ }
func (a *BudgetAndRiskJoin) Dependencies() []engine.ContextKey {
	return []engine.ContextKey{"Budget", "RiskAssessment"}
}

func (a *BudgetAndRiskJoin) Accepts(ctx *engine.Context) bool {
	return len(ctx.Facts("Budget")) > 0 && len(ctx.Facts("RiskAssessment")) > 0 && !hasOwn(ctx, "Plans", a.Name_)
}

func (a *BudgetAndRiskJoin) Execute(_ context.Context, ctx *engine.Context) (engine.AgentEffect, error) {
	return engine.AgentEffect{Items: []engine.EffectItem{
		{Key: "Plans", Item: engine.Fact{
			ID:         fact(a.Name_, "Plans", "p1"),
			Content:    "approved plan combining budget and risk posture",
			Provenance: engine.Provenance{Producer: a.Name_, Timestamp: time.Now()},
		}},
	}}, nil
}

// StarvedWatcher declares a dependency on Signals but actually reads
// Budget inside Execute without declaring it — the starvation-by-
// undeclared-dependency failure mode (spec §8 scenario 3, P9). It is
// never reconsidered once Signals stops changing, even if Budget later
// changes, by construction: this is the point of the scenario.
type StarvedWatcher struct{ Name_ string }

func NewStarvedWatcher() *StarvedWatcher { return &StarvedWatcher{Name_: "starved-watcher"} }

func (a *StarvedWatcher) Name() string                    { return a.Name_ }
func (a *StarvedWatcher) Dependencies() []engine.ContextKey { return []engine.ContextKey{"Signals"} }

func (a *StarvedWatcher) Accepts(ctx *engine.Context) bool {
	// Reads Budget without declaring it — demonstrates the starvation
	// failure mode rather than avoiding it.
	return len(ctx.Facts("Budget")) > 0 && !hasOwn(ctx, "Alerts", a.Name_)
}

func (a *StarvedWatcher) Execute(_ context.Context, ctx *engine.Context) (engine.AgentEffect, error) {
	return engine.AgentEffect{Items: []engine.EffectItem{
		{Key: "Alerts", Item: engine.Fact{
			ID:         fact(a.Name_, "Alerts", "al1"),
			Content:    "budget threshold crossed",
			Provenance: engine.Provenance{Producer: a.Name_, Timestamp: time.Now()},
		}},
	}}, nil
}

// OptimisticPlanner and ConservativePlanner both react to Signals and
// both try to write the same fact id under Plans with different
// content — the conflict scenario (spec §8 scenario 4). Lower AgentID
// wins at merge time regardless of which finished Execute first.
type OptimisticPlanner struct{ Name_ string }

func NewOptimisticPlanner() *OptimisticPlanner { return &OptimisticPlanner{Name_: "optimistic-planner"} }

func (a *OptimisticPlanner) Name() string                    { return a.Name_ }
func (a *OptimisticPlanner) Dependencies() []engine.ContextKey { return []engine.ContextKey{"Signals"} }

func (a *OptimisticPlanner) Accepts(ctx *engine.Context) bool {
	return len(ctx.Facts("Signals")) > 0 && !factExists(ctx, "Plans", "joint-plan")
}

func (a *OptimisticPlanner) Execute(_ context.Context, _ *engine.Context) (engine.AgentEffect, error) {
	return engine.AgentEffect{Items: []engine.EffectItem{
		{Key: "Plans", Item: engine.Fact{
			ID:         "joint-plan",
			Content:    "expand aggressively",
			Provenance: engine.Provenance{Producer: a.Name_, Timestamp: time.Now()},
		}},
	}}, nil
}

type ConservativePlanner struct{ Name_ string }

func NewConservativePlanner() *ConservativePlanner {
	return &ConservativePlanner{Name_: "conservative-planner"}
}

func (a *ConservativePlanner) Name() string                    { return a.Name_ }
func (a *ConservativePlanner) Dependencies() []engine.ContextKey { return []engine.ContextKey{"Signals"} }

func (a *ConservativePlanner) Accepts(ctx *engine.Context) bool {
	return len(ctx.Facts("Signals")) > 0 && !factExists(ctx, "Plans", "joint-plan")
}

func (a *ConservativePlanner) Execute(_ context.Context, _ *engine.Context) (engine.AgentEffect, error) {
	return engine.AgentEffect{Items: []engine.EffectItem{
		{Key: "Plans", Item: engine.Fact{
			ID:         "joint-plan",
			Content:    "hold steady",
			Provenance: engine.Provenance{Producer: a.Name_, Timestamp: time.Now()},
		}},
	}}, nil
}

func factExists(ctx *engine.Context, key engine.ContextKey, id string) bool {
	for _, f := range ctx.Facts(key) {
		if f.ID == id {
			return true
		}
	}
	return false
}

// MarketModel proposes Strategies instead of asserting them directly —
// the propose/validate scenario's untrusted producer (spec §8 scenario
// 5). Its content always carries a low confidence, signaling it needs
// a validator's approval before anything downstream can treat it as
// settled.
type MarketModel struct{ Name_ string }

func NewMarketModel() *MarketModel { return &MarketModel{Name_: "market-model"} }

func (a *MarketModel) Name() string                    { return a.Name_ }
func (a *MarketModel) Dependencies() []engine.ContextKey { return []engine.ContextKey{"Goals"} }

func (a *MarketModel) Accepts(ctx *engine.Context) bool {
	if len(ctx.Facts("Goals")) == 0 {
		return false
	}
	id := fact(a.Name_, "Strategies", "proposed1")
	for _, p := range ctx.Proposals("Strategies") {
		if p.ID == id {
			return false
		}
	}
	return !hasOwn(ctx, "Strategies", a.Name_)
}

func (a *MarketModel) Execute(_ context.Context, _ *engine.Context) (engine.AgentEffect, error) {
	return engine.AgentEffect{Items: []engine.EffectItem{
		{Key: "Strategies", Item: engine.ProposedFact{
			ID:         fact(a.Name_, "Strategies", "proposed1"),
			Content:    "enter an untested adjacent market",
			Provenance: engine.Provenance{Producer: a.Name_, Timestamp: time.Now()},
			Confidence: 0.55,
		}},
	}}, nil
}

// RiskValidator is the trusted authority over MarketModel's proposals:
// it depends on Strategies (where the proposal lands) and promotes any
// pending proposal whose confidence clears its bar.
type RiskValidator struct {
	Name_          string
	MinConfidence float64
}

func NewRiskValidator(minConfidence float64) *RiskValidator {
	return &RiskValidator{Name_: "risk-validator", MinConfidence: minConfidence}
}

func (a *RiskValidator) Name() string                    { return a.Name_ }
func (a *RiskValidator) Dependencies() []engine.ContextKey { return []engine.ContextKey{"Strategies"} }

func (a *RiskValidator) alreadyRejected(ctx *engine.Context, proposalID string) bool {
	id := fmt.Sprintf("rejection-%s-%s", a.Name_, proposalID)
	for _, d := range ctx.Facts("Diagnostic") {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (a *RiskValidator) unresolved(ctx *engine.Context, p engine.ProposedFact) bool {
	return !engine.AlreadyPromoted(ctx, "Strategies", p) && !a.alreadyRejected(ctx, p.ID)
}

func (a *RiskValidator) Accepts(ctx *engine.Context) bool {
	for _, p := range ctx.Proposals("Strategies") {
		if a.unresolved(ctx, p) {
			return true
		}
	}
	return false
}

func (a *RiskValidator) Execute(_ context.Context, ctx *engine.Context) (engine.AgentEffect, error) {
	var items []engine.EffectItem
	for _, p := range ctx.Proposals("Strategies") {
		if !a.unresolved(ctx, p) {
			continue
		}
		if p.Confidence < a.MinConfidence {
			items = append(items, engine.EffectItem{Key: "Diagnostic", Item: engine.Reject(p, "Strategies", a.Name_, "confidence below threshold")})
			continue
		}
		promoted, err := engine.Promote(p, "Strategies", a.Name_, "validated")
		if err != nil {
			return engine.AgentEffect{}, fmt.Errorf("%s: %w", a.Name_, err)
		}
		items = append(items, engine.EffectItem{Key: "Strategies", Item: promoted})
	}
	return engine.AgentEffect{Items: items}, nil
}
