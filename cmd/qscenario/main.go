// Command qscenario is the CLI entry point for the scenario engine: five
// subcommands (compare, grid, screen, conditional, replay) each resolve a
// RunConfig and drive it through the orchestrator, mapping the outcome to
// the process exit code spec section 6 fixes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"qscenario/internal/config"
	"qscenario/internal/grid"
	"qscenario/internal/instrumentation"
	"qscenario/internal/logging"
	"qscenario/internal/orchestrator"
	"qscenario/internal/qerrors"
	"qscenario/internal/registry"
)

var (
	cfgFile     string
	setFlags    []string
	seedFlag    int64
	fromFlag    string
	walkForward bool
)

func main() {
	root := &cobra.Command{
		Use:   "qscenario",
		Short: "Reproducible CPU-only scenario engine for return-distribution-driven strategy backtests",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringArrayVar(&setFlags, "set", nil, "override a config field: --set key=value (repeatable)")
	root.PersistentFlags().Int64Var(&seedFlag, "seed", 0, "override the run's random seed (0 means unset)")

	root.AddCommand(
		newCompareCmd(),
		newGridCmd(),
		newScreenCmd(),
		newConditionalCmd(),
		newReplayCmd(),
	)

	if err := root.Execute(); err != nil {
		code := qerrors.ExitCode(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}
}

// resolve layers --set overrides and --seed onto the config file and
// defaults (spec section 4.7's fixed precedence: flag > env > file >
// default — env is applied inside config.Resolve itself).
func resolve() (*config.Resolved, error) {
	overrides, err := config.ParseOverrides(setFlags)
	if err != nil {
		return nil, err
	}
	if seedFlag != 0 {
		overrides["seed"] = fmt.Sprintf("%d", seedFlag)
	}
	return config.Resolve(cfgFile, overrides)
}

func newLogger(resolved *config.Resolved) (*logging.Logger, error) {
	lc := resolved.Config.Logging
	if lc.Level == "" {
		lc.Level = "info"
	}
	if lc.Format == "" {
		lc.Format = "json"
	}
	if lc.Output == "" {
		lc.Output = "stdout"
	}
	return logging.New(&logging.Config{
		Level: lc.Level, Format: lc.Format, Output: lc.Output,
		LogDir: lc.LogDir, MaxSize: lc.MaxSize, MaxBackups: lc.MaxBackups,
		MaxAge: lc.MaxAge, Compress: lc.Compress,
	})
}

// cancellableContext wires SIGINT/SIGTERM to both ctx.Done and the
// cooperative CancellationFlag the orchestrator/grid check between units
// of work (spec section 5's graceful-drain model).
func cancellableContext() (context.Context, *registry.CancellationFlag, func()) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cancel := &registry.CancellationFlag{}
	go func() {
		<-ctx.Done()
		cancel.Cancel()
	}()
	return ctx, cancel, stop
}

func printMetadata(meta *orchestrator.RunMetadata) {
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(out))
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Run the stock-vs-option baseline comparison for one config",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolve()
			if err != nil {
				return err
			}
			logger, err := newLogger(resolved)
			if err != nil {
				return err
			}
			recorder := instrumentation.NewRecorder()
			ctx, cancel, stop := cancellableContext()
			defer stop()

			run := orchestrator.NewRun(resolved, logger, recorder, cancel)
			meta, err := run.Compare(ctx)
			if err != nil {
				return err
			}
			printMetadata(meta)
			return nil
		},
	}
}

func newGridCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Fan a parameter grid out over compare, resume by config_id, rank by composite objective",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolve()
			if err != nil {
				return err
			}
			logger, err := newLogger(resolved)
			if err != nil {
				return err
			}
			recorder := instrumentation.NewRecorder()
			ctx, cancel, stop := cancellableContext()
			defer stop()

			if walkForward {
				if resolved.Config.Grid == nil {
					resolved.Config.Grid = &config.GridConfig{}
				}
				resolved.Config.Grid.WalkForward = true
			}

			if resolved.Config.Grid != nil && resolved.Config.Grid.WalkForward {
				reports, err := grid.RunWalkForward(ctx, resolved, logger, recorder, cancel)
				if err != nil {
					return err
				}
				out, _ := json.MarshalIndent(reports, "", "  ")
				fmt.Println(string(out))
				return nil
			}

			report, err := grid.Run(ctx, resolved, logger, recorder, cancel)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(out))
			if report.Partial {
				os.Exit(qerrors.ExitCodePartial)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&walkForward, "walk-forward", false, "run the parameter grid over successive rolling windows instead of the full history at once")
	return cmd
}

func newScreenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "screen",
		Short: "Select candidate episodes (C5) without generating or scoring paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolve()
			if err != nil {
				return err
			}
			logger, err := newLogger(resolved)
			if err != nil {
				return err
			}
			ctx, cancel, stop := cancellableContext()
			defer stop()

			run := orchestrator.NewRun(resolved, logger, nil, cancel)
			meta, err := run.Screen(ctx)
			if err != nil {
				return err
			}
			printMetadata(meta)
			return nil
		},
	}
}

func newConditionalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conditional",
		Short: "Select candidate episodes and sample paths conditioned on the most recent match (C5+C6)",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolve()
			if err != nil {
				return err
			}
			logger, err := newLogger(resolved)
			if err != nil {
				return err
			}
			recorder := instrumentation.NewRecorder()
			ctx, cancel, stop := cancellableContext()
			defer stop()

			run := orchestrator.NewRun(resolved, logger, recorder, cancel)
			meta, err := run.Conditional(ctx)
			if err != nil {
				return err
			}
			printMetadata(meta)
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Regenerate paths and metrics from a prior run_meta.json, detecting data drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromFlag == "" {
				return qerrors.New(qerrors.KindConfig, qerrors.SubNone, "--from is required for replay").
					WithField("from", "", "existing run_meta.json path", "pass --from <path to run_meta.json>")
			}
			resolved, err := resolve()
			if err != nil {
				return err
			}
			logger, err := newLogger(resolved)
			if err != nil {
				return err
			}
			recorder := instrumentation.NewRecorder()
			ctx, cancel, stop := cancellableContext()
			defer stop()

			run := orchestrator.NewRun(resolved, logger, recorder, cancel)
			meta, err := run.Replay(ctx, fromFlag)
			if err != nil {
				return err
			}
			printMetadata(meta)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFlag, "from", "", "path to the prior run's run_meta.json")
	return cmd
}
