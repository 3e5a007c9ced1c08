package grid

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"qscenario/internal/config"
	"qscenario/internal/logging"
	"qscenario/internal/metrics"
	"qscenario/internal/orchestrator"
)

func writeSyntheticCSV(t *testing.T, dir string, n int, seed int64) string {
	t.Helper()
	path := filepath.Join(dir, "bars.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(seed))
	price := 100.0
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		open := price
		logReturn := rng.NormFloat64() * 0.01
		price = open * math.Exp(logReturn)
		high := math.Max(open, price) * 1.002
		low := math.Min(open, price) * 0.998
		volume := 1_000_000 + rng.Float64()*200_000

		row := []string{
			ts.Format(time.RFC3339),
			fmt.Sprintf("%.4f", open),
			fmt.Sprintf("%.4f", high),
			fmt.Sprintf("%.4f", low),
			fmt.Sprintf("%.4f", price),
			fmt.Sprintf("%.2f", volume),
		}
		if err := w.Write(row); err != nil {
			t.Fatal(err)
		}
		ts = ts.Add(24 * time.Hour)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatal(err)
	}
	return path
}

func baseConfig(t *testing.T, dataPath string) *config.RunConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Symbol = "TEST"
	cfg.DataSource = dataPath
	cfg.NPaths = 10
	cfg.NSteps = 20
	cfg.Seed = 11
	cfg.DistributionModel = config.DistLaplace
	cfg.OutputDir = t.TempDir()
	return cfg
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(&logging.Config{Level: "error", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestExpandParamGridCartesianProduct(t *testing.T) {
	base := config.Default()
	base.StrategyParams = config.StrategyParams{Name: "dual_sma", Kind: "stock", Params: map[string]float64{"fast": 5}}
	grid := &config.GridConfig{ParamGrid: map[string][]float64{
		"fast": {5, 10},
		"slow": {20, 40},
	}}

	configs := ExpandParamGrid(base, grid)
	if len(configs) != 4 {
		t.Fatalf("expected 4 combinations, got %d", len(configs))
	}
	seen := make(map[string]bool)
	for _, c := range configs {
		key := fmt.Sprintf("%v-%v", c.StrategyParams.Params["fast"], c.StrategyParams.Params["slow"])
		seen[key] = true
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 distinct param combinations, got %d", len(seen))
	}
}

func TestExpandParamGridDegeneratesWithoutGrid(t *testing.T) {
	base := config.Default()
	configs := ExpandParamGrid(base, nil)
	if len(configs) != 1 {
		t.Fatalf("expected single config with nil grid, got %d", len(configs))
	}
}

func TestGridIDStableAcrossInvocations(t *testing.T) {
	base := config.Default()
	grid := &config.GridConfig{ParamGrid: map[string][]float64{"fast": {5, 10}}}
	a := ExpandParamGrid(base, grid)
	b := ExpandParamGrid(base, grid)
	if GridID(a) != GridID(b) {
		t.Error("expected identical GridID for identical grid expansions")
	}
}

func TestWorkerCountRespectsCeilingAndFloor(t *testing.T) {
	if n := workerCount(100); n > 6 {
		t.Errorf("expected worker count capped at 6, got %d", n)
	}
	if n := workerCount(0); n < 1 {
		t.Errorf("expected worker count floored at 1, got %d", n)
	}
}

func TestRunRanksMultipleConfigsAndResumes(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 150, 42)
	cfg := baseConfig(t, dataPath)
	cfg.StrategyParams = config.StrategyParams{Name: "dual_sma", Kind: "stock", Params: map[string]float64{"fast": 3, "slow": 10}}
	cfg.Grid = &config.GridConfig{ParamGrid: map[string][]float64{"fast": {3, 5}}}

	resolved := &config.Resolved{Config: cfg}
	logger := testLogger(t)

	report, err := Run(context.Background(), resolved, logger, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 2 {
		t.Fatalf("expected 2 expanded configs, got %d", report.Total)
	}
	if report.RanNow != 2 {
		t.Errorf("expected both configs to run on first invocation, got %d", report.RanNow)
	}
	if len(report.Ranking) != 2 {
		t.Errorf("expected a 2-entry ranking, got %d", len(report.Ranking))
	}

	manifestPath := filepath.Join(cfg.OutputDir, "grid_"+report.GridID, "grid_manifest.json")
	if _, statErr := os.Stat(manifestPath); statErr != nil {
		t.Errorf("expected grid_manifest.json to exist: %v", statErr)
	}

	report2, err := Run(context.Background(), resolved, logger, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report2.Resumed != 2 {
		t.Errorf("expected second invocation to resume both configs, got %d", report2.Resumed)
	}
	if report2.RanNow != 0 {
		t.Errorf("expected second invocation to run nothing new, got %d", report2.RanNow)
	}
	if len(report2.Ranking) != 2 {
		t.Errorf("expected resumed configs to re-enter ranking, got %d entries", len(report2.Ranking))
	}
}

func TestRankCompletedBreaksTiesByConfigID(t *testing.T) {
	results := []ConfigResult{
		{ConfigID: "zzz", Meta: &orchestrator.RunMetadata{Summary: metrics.Summary{MeanPnL: 1, Sharpe: 1}}},
		{ConfigID: "aaa", Meta: &orchestrator.RunMetadata{Summary: metrics.Summary{MeanPnL: 1, Sharpe: 1}}},
	}
	ranked := rankCompleted(results, metrics.DefaultObjectiveWeights())
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked entries, got %d", len(ranked))
	}
	if ranked[0].ConfigID != "aaa" || ranked[1].ConfigID != "zzz" {
		t.Errorf("expected tie broken by config_id ascending, got %+v", ranked)
	}
}

func TestRunSingleConfigDegeneratesWithEmptyRanking(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 150, 43)
	cfg := baseConfig(t, dataPath)

	report, err := Run(context.Background(), &config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 1 {
		t.Fatalf("expected a single config, got %d", report.Total)
	}
	if len(report.Ranking) != 0 {
		t.Errorf("expected no ranking for a single-config grid, got %d entries", len(report.Ranking))
	}
	if len(report.Results) != 1 || report.Results[0].Error != "" {
		t.Errorf("expected the single config to complete without error, got %+v", report.Results)
	}
}
