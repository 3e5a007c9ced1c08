package pathgen

import (
	"math"
	"testing"

	"qscenario/internal/distribution"
	"qscenario/internal/qerrors"
)

func laplaceFit() *distribution.FitRecord {
	return &distribution.FitRecord{
		Kind:   distribution.KindLaplace,
		Params: map[string]float64{"loc": 0.0001, "scale": 0.01},
	}
}

func TestFootprintAndTierDecision(t *testing.T) {
	fp := footprintBytes(1000, 60)
	if fp == 0 {
		t.Fatal("expected non-zero footprint")
	}
	tier, err := decideTier(fp, fp*10, false) // footprint is 10% of RAM
	if err != nil || tier != TierMemory {
		t.Fatalf("expected memory tier, got %s err=%v", tier, err)
	}
	tier, err = decideTier(fp, fp*3, false) // footprint is ~33% of RAM
	if err != nil || tier != TierMemmap {
		t.Fatalf("expected memmap tier, got %s err=%v", tier, err)
	}
	_, err = decideTier(fp, fp, false) // footprint is 100% of RAM, not persistent
	if err == nil {
		t.Fatal("expected ResourceLimitError when footprint >= 50% RAM and not persistent")
	}
	tier, err = decideTier(fp, fp, true) // persistent allows compressed
	if err != nil || tier != TierCompressed {
		t.Fatalf("expected compressed tier, got %s err=%v", tier, err)
	}
}

func TestGenerateStorageInvariance(t *testing.T) {
	model, _ := distribution.Get(distribution.KindLaplace)
	fr := laplaceFit()

	memPaths, err := generateWithTier(model, fr, 100.0, 20, 30, 5, TierMemory, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer memPaths.Close()

	mmapPaths, err := generateWithTier(model, fr, 100.0, 20, 30, 5, TierMemmap, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer mmapPaths.Close()

	compPaths, err := generateWithTier(model, fr, 100.0, 20, 30, 5, TierCompressed, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer compPaths.Close()

	for pathIdx := 0; pathIdx < 20; pathIdx++ {
		for step := 0; step <= 30; step++ {
			a := memPaths.Get(pathIdx, step)
			b := mmapPaths.Get(pathIdx, step)
			c := compPaths.Get(pathIdx, step)
			if math.Abs(a-b) > 1e-10 {
				t.Fatalf("memory vs memmap mismatch at (%d,%d): %v vs %v", pathIdx, step, a, b)
			}
			if math.Abs(a-c) > 1e-10 {
				t.Fatalf("memory vs compressed mismatch at (%d,%d): %v vs %v", pathIdx, step, a, c)
			}
		}
	}
}

func TestGenerateChunkSizeInvariance(t *testing.T) {
	model, _ := distribution.Get(distribution.KindLaplace)
	fr := laplaceFit()

	// Small available RAM forces a tiny chunk size; large RAM forces one
	// giant chunk. Both must produce identical paths.
	small, err := generateWithTier(model, fr, 50.0, 12, 10, 9, TierMemory, 4096)
	if err != nil {
		t.Fatal(err)
	}
	large, err := generateWithTier(model, fr, 50.0, 12, 10, 9, TierMemory, 1<<40)
	if err != nil {
		t.Fatal(err)
	}
	for pathIdx := 0; pathIdx < 12; pathIdx++ {
		for step := 0; step <= 10; step++ {
			a := small.Get(pathIdx, step)
			b := large.Get(pathIdx, step)
			if a != b {
				t.Fatalf("chunk size affected output at (%d,%d): %v vs %v", pathIdx, step, a, b)
			}
		}
	}
}

func TestBankruptcyCascadeFailsGeneration(t *testing.T) {
	model, _ := distribution.Get(distribution.KindLaplace)
	// A sharply negative per-step drift drives cumulative log-returns past
	// -745 within a few steps, underflowing every path to exactly zero. A
	// bankruptcy rate above 50% fails generation with NumericError:Bankruptcy.
	fr := &distribution.FitRecord{Kind: distribution.KindLaplace, Params: map[string]float64{"loc": -50.0, "scale": 0.1}}
	_, err := generateWithTier(model, fr, 100.0, 50, 40, 3, TierMemory, 0)
	if err == nil {
		t.Fatal("expected NumericError:Bankruptcy when every path goes bankrupt")
	}
	e, ok := qerrors.As(err)
	if !ok || e.Kind != qerrors.KindNumeric {
		t.Fatalf("expected a NumericError, got %v", err)
	}
	if e.Sub != qerrors.SubBankruptcy {
		t.Errorf("expected sub-kind Bankruptcy, got %v", e.Sub)
	}
}

func TestFromReturnRowsAppliesCumulationAndBankruptcy(t *testing.T) {
	rows := [][]float64{
		{0.01, 0.01, 0.01},
		{-800, -800, -800}, // exp(-800) underflows to 0: bankrupt at the first step
	}
	paths, err := FromReturnRows(rows, 100.0, 11)
	if err != nil {
		t.Fatal(err)
	}
	if paths.NPaths != 2 || paths.NSteps != 3 {
		t.Fatalf("expected 2x3 paths, got %dx%d", paths.NPaths, paths.NSteps)
	}
	if paths.Get(0, 0) != 100.0 {
		t.Errorf("expected column 0 to hold s0, got %v", paths.Get(0, 0))
	}
	if paths.Get(0, 1) <= 0 {
		t.Error("expected a positive cumulated price for the benign row")
	}
	if len(paths.Bankruptcies) != 1 || paths.Bankruptcies[0].PathIndex != 1 {
		t.Fatalf("expected bankruptcy recorded on path 1, got %+v", paths.Bankruptcies)
	}
}

func TestFromReturnRowsRejectsEmpty(t *testing.T) {
	if _, err := FromReturnRows(nil, 100.0, 1); err == nil {
		t.Fatal("expected error for empty rows")
	}
}

func TestPathCopiesAllSteps(t *testing.T) {
	model, _ := distribution.Get(distribution.KindLaplace)
	fr := laplaceFit()
	paths, err := generateWithTier(model, fr, 100.0, 5, 8, 1, TierMemory, 0)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]float64, 9)
	paths.Path(2, buf)
	if buf[0] != 100.0 {
		t.Fatalf("expected Path()'s first entry to be s0, got %v", buf[0])
	}
	for step := 0; step <= 8; step++ {
		if buf[step] != paths.Get(2, step) {
			t.Fatalf("Path() mismatch at step %d", step)
		}
	}
}
