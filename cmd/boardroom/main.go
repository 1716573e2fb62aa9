// Command boardroom wires the coordination core together behind a small
// CLI: one-shot decisions, a scripted session walkthrough, the trigger
// watch loop, and archive inspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"boardroom/internal/clock"
	"boardroom/internal/config"
	"boardroom/internal/coordinator"
	"boardroom/internal/logging"
	"boardroom/internal/registry"
	"boardroom/internal/session"
	"boardroom/internal/store"
	"boardroom/internal/trigger"
	"boardroom/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	workspace string
	verbose   bool
	noArchive bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "boardroom",
	Short: "boardroom - advisory agent coordination core",
	Long: `boardroom coordinates decision-making across a fixed set of advisory
agents (finance, legal, technology, ...). It gathers parallel analyses into
single strategic decisions, runs live multi-turn coordination sessions, and
watches system-stress gauges to auto-start emergency sessions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide [title]",
	Short: "Run one-shot coordination over the demo agent board",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDecide,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Walk a scripted coordination session to completion",
	RunE:  runSession,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the trigger engine against a fixed stress gauge",
	RunE:  runWatch,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent archived decisions",
	RunE:  runHistory,
}

var (
	contextType string
	stressIndex float64
)

func init() {
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noArchive, "no-archive", false, "disable the sqlite archive")

	decideCmd.Flags().StringVar(&contextType, "context", string(types.ContextFinancial), "decision context type")
	watchCmd.Flags().Float64Var(&stressIndex, "stress", 0.95, "fixed stress_index gauge value")

	rootCmd.AddCommand(decideCmd, sessionCmd, watchCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildBoard registers a deterministic demo agent for every role.
func buildBoard(cfg config.Config) *registry.Registry {
	reg := registry.New(registry.Config{
		BusyThreshold: cfg.BusyLoadThreshold,
		Logger:        logger,
	})

	profiles := map[types.Role]types.AnalysisResult{
		types.RoleFinance: {
			Confidence: 0.86, Impact: 0.7,
			Reasoning:     "cash runway supports the spend with margin",
			RiskFactors:   []string{"FX exposure on vendor contracts"},
			Opportunities: []string{"volume discount at annual commit"},
			Timeline:      "2 months", Resources: "finance analyst, 20h",
		},
		types.RoleLegal: {
			Confidence: 0.8, Impact: 0.6,
			Reasoning:   "standard terms, no regulatory exposure",
			RiskFactors: []string{"data processing addendum required"},
			Timeline:    "3 weeks", Resources: "outside counsel review",
		},
		types.RoleTechnology: {
			Confidence: 0.82, Impact: 0.75,
			Reasoning:     "integration fits the current platform",
			Opportunities: []string{"retire legacy pipeline"},
			Timeline:      "6 weeks", Resources: "2 engineers",
		},
		types.RoleOperations: {
			Confidence: 0.78, Impact: 0.65,
			Reasoning: "rollout manageable within current capacity",
			Timeline:  "1 month",
		},
		types.RoleMarketing: {
			Confidence: 0.75, Impact: 0.8,
			Reasoning:     "clear positioning advantage",
			Opportunities: []string{"launch campaign alongside Q3 release"},
			Timeline:      "6 weeks",
		},
		types.RoleProduct: {
			Confidence: 0.8, Impact: 0.7,
			Reasoning: "aligns with roadmap themes",
			Timeline:  "2 months",
		},
		types.RoleSecurity: {
			Confidence: 0.77, Impact: 0.6,
			Reasoning:   "vendor passed the security review",
			RiskFactors: []string{"SSO integration needs hardening"},
			Timeline:    "1 month",
		},
		types.RolePeople: {
			Confidence: 0.74, Impact: 0.5,
			Reasoning: "no headcount impact",
			Timeline:  "2 weeks",
		},
	}

	for role, result := range profiles {
		result := result
		_ = reg.Register(role, types.AgentFunc(
			func(ctx context.Context, dc types.DecisionContext) (types.AnalysisResult, error) {
				return result, nil
			}))
	}
	return reg
}

func openArchive() (*store.Archive, error) {
	if noArchive {
		return nil, nil
	}
	return store.Open(filepath.Join(workspace, ".boardroom", "archive.db"))
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDecide(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}

	archive, err := openArchive()
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	var arch coordinator.Archiver
	if archive != nil {
		arch = archive
	}
	coord, err := coordinator.New(coordinator.Options{
		Config:   cfg,
		Registry: buildBoard(cfg),
		Logger:   logger,
		Archive:  arch,
	})
	if err != nil {
		return err
	}

	decision, err := coord.Coordinate(cmd.Context(), types.DecisionContext{
		ID:    fmt.Sprintf("cli-%d", time.Now().Unix()),
		Type:  types.ContextType(contextType),
		Title: args[0],
	})
	if err != nil {
		return err
	}
	return printJSON(decision)
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}

	archive, err := openArchive()
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	var arch session.Archiver
	if archive != nil {
		arch = archive
	}
	mgr, err := session.NewManager(session.Options{
		Config:   cfg,
		Registry: buildBoard(cfg),
		Logger:   logger,
		Archive:  arch,
	})
	if err != nil {
		return err
	}

	snap, err := mgr.StartSession(session.StartRequest{
		Type:          types.SessionStrategic,
		Priority:      types.PriorityHigh,
		Title:         "approve $50K infrastructure spend",
		RequiredRoles: []types.Role{types.RoleFinance, types.RoleLegal},
		Initiator:     "cli",
	})
	if err != nil {
		return err
	}

	steps := []struct {
		role       types.Role
		action     types.InputAction
		content    string
		confidence float64
	}{
		{types.RoleFinance, types.ActionPropose, "approve $50K spend", 0.9},
		{types.RoleLegal, types.ActionAgree, "terms acceptable", 0.85},
		{types.RoleFinance, types.ActionDecide, "approve $50K spend", 0.9},
	}
	for _, step := range steps {
		if err := mgr.ProcessInput(snap.ID, step.role, step.action, step.content, step.confidence); err != nil {
			return err
		}
	}

	if err := mgr.CompleteSession(snap.ID, nil); err != nil {
		return err
	}
	final, err := mgr.Session(snap.ID)
	if err != nil {
		return err
	}
	return printJSON(final)
}

// staticGauges serves fixed gauge values for the watch demo.
type staticGauges map[string]float64

func (g staticGauges) Gauge(name string) (float64, error) {
	v, ok := g[name]
	if !ok {
		return 0, fmt.Errorf("unknown gauge %q", name)
	}
	return v, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}

	reg := buildBoard(cfg)
	mgr, err := session.NewManager(session.Options{
		Config:   cfg,
		Registry: reg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	defs, err := trigger.LoadDefinitions(filepath.Join(workspace, ".boardroom", "triggers.yaml"))
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		defs = []trigger.Definition{{
			ID:            "stress-emergency",
			Name:          "System stress emergency",
			SessionType:   types.SessionEmergency,
			Priority:      types.PriorityCritical,
			Title:         "Emergency coordination: system stress",
			Description:   "stress_index breached the emergency threshold",
			Conditions:    map[string]float64{"stress_index": 0.9},
			RequiredRoles: []types.Role{types.RoleOperations, types.RoleTechnology},
			OptionalRoles: []types.Role{types.RoleSecurity},
			Active:        true,
			AutoInitiate:  true,
		}}
	}

	events := types.NewChannelNotifier(cfg.EventBuffer)
	engine, err := trigger.NewEngine(trigger.Options{
		Config:      cfg,
		Definitions: defs,
		Metrics:     staticGauges{"stress_index": stressIndex, "agent_load": reg.AggregateLoad()},
		Sessions:    mgr,
		Registry:    reg,
		Notifier:    events,
		Logger:      logger,
		Clock:       clock.New(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.Start()
	logger.Info("watching", zap.Float64("stress_index", stressIndex))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-events.Events():
			logger.Info("event",
				zap.String("type", string(ev.Type)),
				zap.String("session_id", ev.SessionID),
				zap.String("message", ev.Message))
		}
	}

	engine.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}

func runHistory(cmd *cobra.Command, args []string) error {
	archive, err := store.Open(filepath.Join(workspace, ".boardroom", "archive.db"))
	if err != nil {
		return err
	}
	defer archive.Close()

	decisions, err := archive.RecentDecisions(20)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Println("no archived decisions")
		return nil
	}
	return printJSON(decisions)
}
