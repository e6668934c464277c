// Command converge is a runnable demonstration of the convergence
// engine, not a product CLI: it seeds a RootIntent, registers a fixed
// set of illustrative agents, runs to a fixed point, and prints the
// outcome. It exists so a reader can see the engine do something
// without writing Go.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kpernyer/converge/engine"
	"github.com/kpernyer/converge/internal/config"
	"github.com/kpernyer/converge/internal/demoagents"
	"github.com/kpernyer/converge/internal/invariant"
	"github.com/kpernyer/converge/internal/logging"
	"github.com/kpernyer/converge/internal/seed"
	"github.com/kpernyer/converge/internal/snapshotstore"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		intentPath string
		bundlePath string
		workdir    string
		debug      bool
		scenario   string
		snapshotDB string
	)

	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Run the convergence engine against a seeded intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(intentPath, bundlePath, workdir, debug, scenario, snapshotDB)
		},
	}

	cmd.Flags().StringVar(&intentPath, "intent", "", "path to a RootIntent YAML file (default: built-in demo intent)")
	cmd.Flags().StringVar(&bundlePath, "invariants", "", "path to an invariant bundle (.mg); none means no invariant checking")
	cmd.Flags().StringVar(&workdir, "workdir", ".", "working directory for logs")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable categorized file logging")
	cmd.Flags().StringVar(&scenario, "scenario", "chain", "which demo to run: chain, join, starvation, conflict, propose")
	cmd.Flags().StringVar(&snapshotDB, "snapshot-db", "", "path to a SQLite database recording the run's final snapshot; none means no persistence")
	return cmd
}

func run(intentPath, bundlePath, workdir string, debug bool, scenario, snapshotDB string) error {
	zapLogger, err := newZapLogger(debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zapLogger.Sync()

	if err := logging.Initialize(workdir, logging.Options{DebugMode: debug, Level: "info"}); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.CloseAll()

	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ri, err := loadIntent(intentPath, scenario)
	if err != nil {
		return err
	}
	ctx := seed.NewContext(ri, time.Now())

	registry := engine.NewRegistry()
	if err := registerScenario(registry, scenario); err != nil {
		return err
	}

	opts := []engine.EngineOption{
		engine.WithMaxConcurrentAgents(cfg.Engine.MaxConcurrentAgents),
		engine.WithAgentTimeout(cfg.PerAgentTimeoutDuration()),
		engine.WithAuditTrail(logging.NewAuditTrail(1000)),
	}
	if bundlePath != "" {
		cfg.Invariant.BundlePath = bundlePath
		data, err := os.ReadFile(bundlePath)
		if err != nil {
			return fmt.Errorf("read invariant bundle: %w", err)
		}
		checker, err := invariant.NewChecker(string(data))
		if err != nil {
			return fmt.Errorf("load invariant bundle: %w", err)
		}
		opts = append(opts, engine.WithInvariantChecker(checker))

		// A run in progress never reloads its bundle; this only logs a
		// warning if the bundle on disk changes while this one-shot demo
		// harness is still running.
		watcher, err := config.WatchInvariantBundle(cfg, func(path string) {
			zapLogger.Warn("invariant bundle changed on disk, restart to pick it up", zap.String("path", path))
		})
		if err != nil {
			return fmt.Errorf("watch invariant bundle: %w", err)
		}
		defer watcher.Close()
	}

	budget := engine.Budget{
		MaxCycles:    cfg.Budgets.MaxCycles,
		MaxFacts:     cfg.Budgets.MaxFacts,
		MaxWallClock: cfg.MaxWallClockDuration(),
	}
	eng := engine.NewEngine(registry, budget, opts...)

	zapLogger.Info("starting run", zap.String("scenario", scenario), zap.String("intent", ri.Name))
	result, err := eng.Run(context.Background(), ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	printResult(result)

	if snapshotDB != "" {
		if err := persistSnapshot(snapshotDB, ri.Name, result); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}

	return nil
}

// persistSnapshot records the run's final context as a snapshot row,
// keyed by a fresh job id derived from the intent name so repeated
// invocations of the same demo intent don't collide.
func persistSnapshot(dbPath, intentName string, result engine.ConvergeResult) error {
	store, err := snapshotstore.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	jobID := fmt.Sprintf("%s-%s", intentName, uuid.NewString())
	snap := engine.TakeSnapshot(result.Context)
	return store.Save(context.Background(), jobID, result.CyclesRun, snap)
}

func newZapLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func loadIntent(path, scenario string) (*seed.RootIntent, error) {
	if path != "" {
		return seed.Load(path)
	}
	return builtinIntent(scenario), nil
}

func builtinIntent(scenario string) *seed.RootIntent {
	switch scenario {
	case "join":
		half := 0.8
		return &seed.RootIntent{
			Name: "demo-join",
			Facts: map[string][]seed.RootIntentFact{
				"Budget":         {{ID: "budget-1", Content: "$2M approved"}},
				"RiskAssessment": {{ID: "risk-1", Content: "moderate risk", Confidence: &half}},
			},
		}
	case "starvation":
		return &seed.RootIntent{
			Name: "demo-starvation",
			Facts: map[string][]seed.RootIntentFact{
				"Signals": {{ID: "signal-1", Content: "initial signal"}},
				"Budget":  {{ID: "budget-1", Content: "$1M approved"}},
			},
		}
	case "conflict":
		return &seed.RootIntent{
			Name: "demo-conflict",
			Facts: map[string][]seed.RootIntentFact{
				"Signals": {{ID: "signal-1", Content: "market opening detected"}},
			},
		}
	case "propose":
		return &seed.RootIntent{
			Name: "demo-propose",
			Facts: map[string][]seed.RootIntentFact{
				"Goals": {{ID: "goal-1", Content: "find new revenue"}},
			},
		}
	default: // chain
		return &seed.RootIntent{
			Name: "demo-chain",
			Facts: map[string][]seed.RootIntentFact{
				"Goals": {{ID: "goal-1", Content: "grow northern revenue 20%"}},
			},
		}
	}
}

func registerScenario(r *engine.Registry, scenario string) error {
	register := func(a engine.Agent) error {
		_, err := r.Register(a)
		return err
	}

	switch scenario {
	case "join":
		return register(demoagents.NewBudgetAndRiskJoin())
	case "starvation":
		return register(demoagents.NewStarvedWatcher())
	case "conflict":
		if err := register(demoagents.NewOptimisticPlanner()); err != nil {
			return err
		}
		return register(demoagents.NewConservativePlanner())
	case "propose":
		if err := register(demoagents.NewMarketModel()); err != nil {
			return err
		}
		return register(demoagents.NewRiskValidator(0.6))
	default: // chain
		if err := register(demoagents.NewGoalIntake()); err != nil {
			return err
		}
		return register(demoagents.NewStrategyExecutor())
	}
}

func printResult(result engine.ConvergeResult) {
	stats := engine.Summarize(result)

	style := okStyle
	if stats.Status != engine.StatusConverged {
		style = warnStyle
	}

	fmt.Println(headerStyle.Render("convergence result"))
	fmt.Printf("status:      %s\n", style.Render(string(stats.Status)))
	fmt.Printf("cycles:      %d\n", stats.CyclesRun)
	fmt.Printf("version:     %d\n", stats.Version)
	fmt.Printf("total facts: %d\n", stats.TotalFacts)
	fmt.Println(dimStyle.Render(fmt.Sprintf("elapsed: %s", stats.Elapsed)))

	if len(result.Violations) > 0 {
		fmt.Println(headerStyle.Render("invariant violations"))
		for _, v := range result.Violations {
			fmt.Printf("  - %s: %s\n", v.Name, v.Message)
		}
	}

	for _, key := range result.Context.Keys() {
		facts := result.Context.Facts(key)
		if len(facts) == 0 {
			continue
		}
		fmt.Println(headerStyle.Render(string(key)))
		for _, f := range facts {
			fmt.Printf("  [%s] %v (by %s)\n", f.ID, f.Content, f.Provenance.Producer)
		}
	}
}
