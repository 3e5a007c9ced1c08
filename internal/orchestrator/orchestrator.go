// Package orchestrator implements C7: it binds a resolved RunConfig and
// drives it through the execution DAG — validate config, load and
// schema-check data, fingerprint it, fit or load a distribution, generate
// paths, run the configured strategy, score the result, and emit a
// RunMetadata artifact. State-machine shape (a long-lived struct holding a
// cancellable context, stepping through named stages with per-stage
// logging) is grounded in the teacher's internal/orchestrator.Orchestrator,
// generalized from service-process supervision to simulation-DAG stage
// execution.
package orchestrator

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"qscenario/internal/config"
	"qscenario/internal/databar"
	"qscenario/internal/distribution"
	"qscenario/internal/instrumentation"
	"qscenario/internal/logging"
	"qscenario/internal/metrics"
	"qscenario/internal/pathgen"
	"qscenario/internal/pricer"
	"qscenario/internal/qerrors"
	"qscenario/internal/registry"
	"qscenario/internal/repro"
	"qscenario/internal/strategy"
)

// barInterval is the bar spacing every data source is loaded at. The
// scenario engine operates on daily bars; intraday ingestion is a
// different DataSource implementation, not a parameter of this engine.
const barInterval = 24 * time.Hour

// sourceProvider/sourceSemver feed repro.SourceVersion; this engine has no
// release process of its own yet, so semver is pinned to the development
// line until a tagging scheme exists.
const (
	sourceProvider = "qscenario"
	sourceSemver   = "0.1.0-dev"
)

// Run binds one resolved RunConfig through a single execution of the DAG.
// Construct with NewRun; a Run is not reused across commands.
type Run struct {
	Config   *config.Resolved
	Logger   *logging.Logger
	Recorder *instrumentation.Recorder
	Cancel   *registry.CancellationFlag
	RunID    string
}

// NewRun constructs a Run with a fresh run ID. recorder and cancel may be
// nil (a nil Recorder skips metric observation; a nil Cancel is treated as
// never-cancelled).
func NewRun(resolved *config.Resolved, logger *logging.Logger, recorder *instrumentation.Recorder, cancel *registry.CancellationFlag) *Run {
	return &Run{
		Config:   resolved,
		Logger:   logger,
		Recorder: recorder,
		Cancel:   cancel,
		RunID:    uuid.NewString(),
	}
}

func (r *Run) cancelled() bool {
	return r.Cancel != nil && r.Cancel.Cancelled()
}

func (r *Run) outputDir() string {
	cfg := r.Config.Config
	if cfg.OutputDir == "" {
		return "runs"
	}
	return cfg.OutputDir
}

func (r *Run) runDir() string {
	return filepath.Join(r.outputDir(), r.RunID)
}

func (r *Run) recordStage(name string, start time.Time) {
	if r.Recorder == nil {
		return
	}
	r.Recorder.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// validateConfig enforces the minimal structural invariants every command
// needs before touching data (spec section 4.7: "validate config" is the
// DAG's first edge).
func validateConfig(cfg *config.RunConfig) error {
	if cfg.Symbol == "" {
		return qerrors.New(qerrors.KindConfig, qerrors.SubNone, "symbol is required").
			WithField("symbol", cfg.Symbol, "non-empty", "set --set symbol=<ticker> or symbol in the config file")
	}
	if cfg.DataSource == "" {
		return qerrors.New(qerrors.KindConfig, qerrors.SubNone, "data_source is required").
			WithField("data_source", cfg.DataSource, "non-empty path", "set data_source in the config file")
	}
	if cfg.S0 <= 0 {
		return qerrors.New(qerrors.KindConfig, qerrors.SubNone, "s0 must be positive").
			WithField("s0", cfg.S0, "> 0", "set a positive starting price")
	}
	if cfg.NPaths <= 0 {
		return qerrors.New(qerrors.KindConfig, qerrors.SubNone, "n_paths must be positive").
			WithField("n_paths", cfg.NPaths, "> 0", "set n_paths > 0")
	}
	if cfg.NSteps <= 0 {
		return qerrors.New(qerrors.KindConfig, qerrors.SubNone, "n_steps must be positive").
			WithField("n_steps", cfg.NSteps, "> 0", "set n_steps > 0")
	}
	return nil
}

func (r *Run) loadData(cfg *config.RunConfig) (*databar.DataBars, error) {
	return databar.LoadCSV(cfg.DataSource, cfg.Symbol, barInterval)
}

func fitOptionsFrom(cfg *config.RunConfig) distribution.FitOptions {
	opts := distribution.DefaultFitOptions()
	opts.AllowTransform = cfg.AllowTransform
	opts.FallbackToDefault = cfg.FallbackToDefault
	return opts
}

func (r *Run) fitDistribution(cfg *config.RunConfig, bars *databar.DataBars) (*distribution.FitRecord, error) {
	returns := bars.LogReturns()
	return distribution.Fit(distribution.Kind(cfg.DistributionModel), returns, cfg.Seed, fitOptionsFrom(cfg))
}

func pathgenLimitsFrom(cfg *config.RunConfig) pathgen.ResourceLimits {
	return pathgen.ResourceLimits{
		MaxWorkers:     cfg.ResourceLimits.MaxWorkers,
		MemThresholdMB: cfg.ResourceLimits.MemThresholdMB,
		Persistent:     cfg.ResourceLimits.Persistent,
	}
}

func (r *Run) generatePaths(cfg *config.RunConfig, fr *distribution.FitRecord) (*pathgen.PricePaths, error) {
	return pathgen.Generate(distribution.Kind(cfg.DistributionModel), fr, cfg.S0, cfg.NPaths, cfg.NSteps, cfg.Seed, pathgenLimitsFrom(cfg))
}

// toPricerSpec converts the YAML-facing OptionSpecConfig into the pricer's
// OptionSpec, the one place maturity_days becomes MaturityYears.
func toPricerSpec(oc *config.OptionSpecConfig) *pricer.OptionSpec {
	return &pricer.OptionSpec{
		Type:             pricer.OptionType(oc.Type),
		Strike:           oc.Strike,
		MaturityYears:    float64(oc.MaturityDays) / 365.0,
		RiskFreeRate:     oc.RiskFreeRate,
		IV:               oc.IV,
		Contracts:        oc.Contracts,
		TickSize:         oc.TickSize,
		StaleQuoteMaxAge: time.Duration(oc.StaleQuoteMaxAgeMinutes) * time.Minute,
	}
}

// scorePaths runs the configured strategy over every generated path,
// prices it (repricing along the path for options), deducts fees, and
// summarizes P&L both unconditionally and with bankrupt paths excluded
// (spec section 4.10: "reported twice: unconditional ... and conditional
// (bankrupt excluded)"). Checks r.Cancel between paths so a grid worker
// interrupted mid-config still returns a usable partial summary.
func (r *Run) scorePaths(cfg *config.RunConfig, paths *pathgen.PricePaths) (summary metrics.Summary, conditionalSummary *metrics.Summary, partial bool, err error) {
	kind := strategy.Kind(cfg.StrategyParams.Kind)
	strat, gerr := strategy.Get(cfg.StrategyParams.Name, kind)
	if gerr != nil {
		return metrics.Summary{}, nil, false, gerr
	}

	var optSpec *pricer.OptionSpec
	if cfg.OptionSpec != nil {
		optSpec = toPricerSpec(cfg.OptionSpec)
	}

	fees := metrics.DefaultFeeModel()
	bankrupt := make(map[int]bool, len(paths.Bankruptcies))
	for _, ev := range paths.Bankruptcies {
		bankrupt[ev.PathIndex] = true
	}

	pnlByPath := make([][]float64, 0, paths.NPaths)
	dst := make([]float64, paths.NSteps+1)
	for i := 0; i < paths.NPaths; i++ {
		if r.cancelled() {
			partial = true
			break
		}
		paths.Path(i, dst)
		prices := append([]float64(nil), dst...)

		sig, serr := strat.GenerateSignals(prices, strategy.Features{}, strategy.Params(cfg.StrategyParams.Params), optSpec)
		if serr != nil {
			return metrics.Summary{}, nil, false, serr
		}

		var pnl []float64
		if kind == strategy.KindOption {
			stepYears := optSpec.MaturityYears / float64(paths.NSteps)
			priced, perr := pricer.PriceAlongPath(prices, *optSpec, stepYears, sig.ExerciseFlags)
			if perr != nil {
				return metrics.Summary{}, nil, false, perr
			}
			pnl = metrics.OptionPathPnL(sig.Positions, priced, fees)
		} else {
			pnl = metrics.StockPathPnL(sig.Positions, prices, fees)
		}
		pnlByPath = append(pnlByPath, pnl)
		if r.Recorder != nil {
			r.Recorder.PathsGenerated.Inc()
		}
	}

	summary = metrics.Summarize(pnlByPath, paths.BankruptcyRate)

	conditionalPnL := make([][]float64, 0, len(pnlByPath))
	for i, row := range pnlByPath {
		if !bankrupt[i] {
			conditionalPnL = append(conditionalPnL, row)
		}
	}
	if len(conditionalPnL) > 0 && len(conditionalPnL) != len(pnlByPath) {
		s := metrics.Summarize(conditionalPnL, 0)
		conditionalSummary = &s
	}
	return summary, conditionalSummary, partial, nil
}

// ConfigID is a content hash of the parameter set (spec section 4.8:
// "identified by a content hash of the parameter set"), stable across
// re-runs of the same effective config regardless of run ID.
func ConfigID(cfg *config.RunConfig) string {
	type identity struct {
		Symbol            string
		S0                float64
		NPaths            int
		NSteps            int
		Seed              int64
		DistributionModel config.DistributionModel
		StrategyParams    config.StrategyParams
		OptionSpec        *config.OptionSpecConfig
	}
	data, _ := json.Marshal(identity{
		Symbol: cfg.Symbol, S0: cfg.S0, NPaths: cfg.NPaths, NSteps: cfg.NSteps, Seed: cfg.Seed,
		DistributionModel: cfg.DistributionModel, StrategyParams: cfg.StrategyParams, OptionSpec: cfg.OptionSpec,
	})
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

// abort logs the failure, leaves an incomplete=true marker in the run
// directory (spec section 4.7: "partial artifacts are left in a directory
// tagged incomplete=true"), and returns err unchanged for ExitCode mapping.
func (r *Run) abort(err error) (*RunMetadata, error) {
	if e, ok := qerrors.As(err); ok {
		e.WithRun(r.RunID, "")
		if r.Logger != nil {
			r.Logger.WithErrorTag(e.Tag()).WithRun(r.RunID, "").Error(err)
		}
	} else if r.Logger != nil {
		r.Logger.WithRun(r.RunID, "").Error(err)
	}
	r.markIncomplete(err)
	return nil, err
}

func (r *Run) markIncomplete(cause error) {
	dir := r.runDir()
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return
	}
	marker := map[string]interface{}{
		"incomplete": true,
		"run_id":     r.RunID,
		"error":      cause.Error(),
	}
	_ = repro.WriteAtomicJSON(filepath.Join(dir, "incomplete.json"), marker)
}

// metaPath is where writeMetadata persists a run's RunMetadata.
func (r *Run) metaPath() string {
	return filepath.Join(r.runDir(), "run_meta.json")
}

// writeMetadata persists meta to <output_dir>/<run_id>/run_meta.json,
// atomically (spec section 4.9: "writer produces a sibling temporary file
// and renames it into place only on successful close").
func (r *Run) writeMetadata(meta *RunMetadata) error {
	dir := r.runDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return qerrors.Wrap(qerrors.KindData, qerrors.SubNone, "cannot create run output directory", err).
			WithField("output_dir", dir, "writable directory", "check permissions or --set output_dir=<path>")
	}
	return repro.WriteAtomicJSON(r.metaPath(), meta)
}

func captureEnvironment() repro.Environment {
	return repro.CaptureEnvironment(sourceProvider, sourceSemver, time.Now().UTC().Format("2006-01-02"))
}
