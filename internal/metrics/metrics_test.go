package metrics

import (
	"math"
	"testing"

	"qscenario/internal/pricer"
)

func TestStockPathPnLBasic(t *testing.T) {
	positions := []float64{10, 10, 0}
	prices := []float64{100, 101, 99}
	fees := FeeModel{} // no fees: isolate the raw P&L formula
	pnl := StockPathPnL(positions, prices, fees)
	if len(pnl) != 2 {
		t.Fatalf("expected 2 pnl entries, got %d", len(pnl))
	}
	if pnl[0] != 10 {
		t.Errorf("expected step0 pnl 10, got %f", pnl[0])
	}
	if pnl[1] != -20 {
		t.Errorf("expected step1 pnl -20 (position[1]=10 still held into the 101->99 drop), got %f", pnl[1])
	}
}

func TestStockPathPnLNoFeeWithoutPositionChange(t *testing.T) {
	positions := []float64{0, 10}
	prices := []float64{100, 101}
	fees := DefaultFeeModel()
	pnl := StockPathPnL(positions, prices, fees)
	// position[0]=0 so raw pnl is 0, but position[0] itself didn't change
	// from the implicit previous 0 -> no fee at t=0.
	if pnl[0] != 0 {
		t.Errorf("expected no fee/pnl at t=0 (position unchanged from 0), got %f", pnl[0])
	}
}

func TestOptionPathPnLUsesPremiumDelta(t *testing.T) {
	positions := []float64{1, 1}
	priced := []pricer.PriceResult{{Premium: 5}, {Premium: 6}}
	pnl := OptionPathPnL(positions, priced, FeeModel{})
	if pnl[0] != 1 {
		t.Errorf("expected premium delta 1, got %f", pnl[0])
	}
}

func TestSummarizeComputesSharpeAndDrawdown(t *testing.T) {
	paths := [][]float64{
		{1, 1, 1, 1},
		{-1, 2, -1, 2},
		{0.5, 0.5, 0.5, 0.5},
	}
	s := Summarize(paths, 0.0)
	if s.MeanPnL <= 0 {
		t.Error("expected positive mean pnl across these paths")
	}
	if s.MaxDrawdown < 0 {
		t.Error("drawdown should be non-negative")
	}
	if s.Sharpe == 0 {
		t.Error("expected non-zero sharpe with variance across paths")
	}
}

func TestSummarizePassesThroughBankruptcyRate(t *testing.T) {
	s := Summarize([][]float64{{1}, {2}}, 0.1)
	if s.BankruptcyRate != 0.1 {
		t.Errorf("expected bankruptcy rate 0.1, got %f", s.BankruptcyRate)
	}
}

func TestValueAtRiskOrdering(t *testing.T) {
	terminal := []float64{-10, -5, -1, 0, 1, 5, 10}
	vaR, cVaR := valueAtRisk(terminal, 0.05)
	if cVaR < vaR-1e-9 {
		t.Errorf("expected CVaR >= VaR (both as positive loss magnitudes), got VaR=%f CVaR=%f", vaR, cVaR)
	}
}

func TestCompositeScoreDegeneratesForSingleConfig(t *testing.T) {
	scores := CompositeScore([]Summary{{MeanPnL: 1}}, DefaultObjectiveWeights())
	if scores[0] != 0 {
		t.Errorf("expected degenerate single-config score of 0, got %f", scores[0])
	}
}

func TestCompositeScoreRanksHigherPnLAbove(t *testing.T) {
	summaries := []Summary{
		{MeanPnL: 10, Sharpe: 1, MaxDrawdown: 5, CVaR5: 2},
		{MeanPnL: -10, Sharpe: -1, MaxDrawdown: 20, CVaR5: 8},
	}
	scores := CompositeScore(summaries, DefaultObjectiveWeights())
	if scores[0] <= scores[1] {
		t.Errorf("expected config 0 (higher pnl/sharpe, lower dd/cvar) to outrank config 1, got %v", scores)
	}
}

func TestDownsideDeviationIgnoresGains(t *testing.T) {
	d := downsideDeviation([]float64{1, 2, 3}, 0)
	if d != 0 {
		t.Errorf("expected zero downside deviation with no losses, got %f", d)
	}
	if math.IsNaN(downsideDeviation([]float64{-1, -2}, 0)) {
		t.Error("unexpected NaN downside deviation")
	}
}
