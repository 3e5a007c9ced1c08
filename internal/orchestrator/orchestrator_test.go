package orchestrator

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"qscenario/internal/config"
	"qscenario/internal/logging"
)

// writeSyntheticCSV builds n daily bars of geometric-noise prices (iid
// log-returns, so the stationarity check passes without differencing) and
// writes them to a CSV file in the schema databar.LoadCSV expects.
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
	cfg.NPaths = 20
	cfg.NSteps = 40
	cfg.Seed = 7
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

func TestCompareProducesMetadataWithSummary(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 150, 1)
	cfg := baseConfig(t, dataPath)

	run := NewRun(&config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	meta, err := run.Compare(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if meta.RunID == "" {
		t.Error("expected non-empty run ID")
	}
	if meta.FitRecord == nil {
		t.Fatal("expected a fit record")
	}
	if meta.Fingerprint.RowCount != 150 {
		t.Errorf("expected fingerprint row count 150, got %d", meta.Fingerprint.RowCount)
	}

	metaPath := filepath.Join(cfg.OutputDir, meta.RunID, "run_meta.json")
	if _, err := os.Stat(metaPath); err != nil {
		t.Errorf("expected run_meta.json to exist: %v", err)
	}
}

func TestCompareRejectsMissingSymbol(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 150, 2)
	cfg := baseConfig(t, dataPath)
	cfg.Symbol = ""

	run := NewRun(&config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	_, err := run.Compare(context.Background())
	if err == nil {
		t.Fatal("expected validation error for missing symbol")
	}

	incompletePath := filepath.Join(cfg.OutputDir, run.RunID, "incomplete.json")
	if _, statErr := os.Stat(incompletePath); statErr != nil {
		t.Errorf("expected incomplete.json marker: %v", statErr)
	}
}

func TestCompareRejectsInsufficientHistory(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 30, 3)
	cfg := baseConfig(t, dataPath)

	run := NewRun(&config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	_, err := run.Compare(context.Background())
	if err == nil {
		t.Fatal("expected InsufficientData error with only 30 bars")
	}
}

func TestScreenProducesCandidateEpisodes(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 150, 4)
	cfg := baseConfig(t, dataPath)

	run := NewRun(&config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	meta, err := run.Screen(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if meta.Screen == nil {
		t.Fatal("expected a screen result")
	}
	if len(meta.Screen.Episodes) == 0 {
		t.Error("expected at least one candidate episode from 150 bars")
	}
}

func TestConditionalProducesSummary(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 150, 5)
	cfg := baseConfig(t, dataPath)
	cfg.NPaths = 10
	cfg.NSteps = 5

	run := NewRun(&config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	meta, err := run.Conditional(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if meta.Conditional == nil {
		t.Fatal("expected a conditional result")
	}
	if meta.Conditional.MatchCount == 0 && !meta.Conditional.Fallback {
		t.Error("expected either matches or a recorded fallback")
	}
}

func TestReplayDetectsNoDriftOnIdenticalData(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 150, 6)
	cfg := baseConfig(t, dataPath)

	run1 := NewRun(&config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	meta1, err := run1.Compare(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	metaPath := filepath.Join(cfg.OutputDir, meta1.RunID, "run_meta.json")

	run2 := NewRun(&config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	meta2, err := run2.Replay(context.Background(), metaPath)
	if err != nil {
		t.Fatal(err)
	}
	if meta2.ReplayOf != meta1.RunID {
		t.Errorf("expected ReplayOf %q, got %q", meta1.RunID, meta2.ReplayOf)
	}
	if len(meta2.DriftNotes) != 0 {
		t.Errorf("expected no drift against identical data, got %v", meta2.DriftNotes)
	}
}

func TestReplayFatalOnSchemaDrift(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 150, 7)
	cfg := baseConfig(t, dataPath)

	run1 := NewRun(&config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	meta1, err := run1.Compare(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	metaPath := filepath.Join(cfg.OutputDir, meta1.RunID, "run_meta.json")

	// Corrupt the recorded fingerprint's schema so replay sees schema drift.
	var raw map[string]interface{}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	fingerprint := raw["Fingerprint"].(map[string]interface{})
	fingerprint["Schema"] = []string{"timestamp", "open", "high", "low", "close"}
	corrupted, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(metaPath, corrupted, 0o644); err != nil {
		t.Fatal(err)
	}

	run2 := NewRun(&config.Resolved{Config: cfg}, testLogger(t), nil, nil)
	_, err = run2.Replay(context.Background(), metaPath)
	if err == nil {
		t.Fatal("expected fatal schema drift error")
	}
}

func TestConfigIDStableAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeSyntheticCSV(t, dir, 150, 8)
	cfg1 := baseConfig(t, dataPath)
	cfg2 := baseConfig(t, dataPath)
	cfg2.OutputDir = cfg1.OutputDir // the only intentional difference path-wise

	if ConfigID(cfg1) != ConfigID(cfg2) {
		t.Error("expected identical ConfigID for identical parameter sets")
	}

	cfg2.Seed = cfg1.Seed + 1
	if ConfigID(cfg1) == ConfigID(cfg2) {
		t.Error("expected different ConfigID when seed differs")
	}
}
