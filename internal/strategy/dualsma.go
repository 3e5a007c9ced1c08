package strategy

import (
	"qscenario/internal/pricer"
	"qscenario/internal/qerrors"
)

// dualSMAStock is the built-in stock strategy: long when the fast SMA is
// above the slow SMA, flat/short otherwise, sized to a target daily-P&L
// band.
type dualSMAStock struct{}

func init() { Register(dualSMAStock{}) }

func (dualSMAStock) Name() string            { return "dual_sma" }
func (dualSMAStock) Kind() Kind               { return KindStock }
func (dualSMAStock) RequiredFeatures() []string { return nil }
func (dualSMAStock) OptionalFeatures() []string { return []string{"volatility"} }

func (d dualSMAStock) GenerateSignals(prices []float64, features Features, params Params, optSpec *pricer.OptionSpec) (*StrategySignals, error) {
	if err := validateOptionSpec(d.Kind(), optSpec); err != nil {
		return nil, err
	}
	warnings, err := ValidateFeatures(d.RequiredFeatures(), d.OptionalFeatures(), features)
	_ = warnings
	if err != nil {
		return nil, err
	}

	fastN := int(params["fast"])
	slowN := int(params["slow"])
	if fastN <= 0 {
		fastN = 10
	}
	if slowN <= 0 {
		slowN = 30
	}
	if fastN >= slowN {
		return nil, qerrors.New(qerrors.KindConfig, qerrors.SubNone, "dual_sma requires fast < slow").
			WithField("fast_slow", []int{fastN, slowN}, "fast < slow", "fix strategy_params")
	}

	targetDailyPnL := params["target_daily_pnl"]
	if targetDailyPnL == 0 {
		targetDailyPnL = 100
	}
	notionalCap := params["max_notional"]
	if notionalCap == 0 {
		notionalCap = 10000
	}

	n := len(prices)
	fastSMA := sma(prices, fastN)
	slowSMA := sma(prices, slowN)

	positions := make([]float64, n)
	for t := 0; t < n; t++ {
		if t < slowN-1 {
			continue // warmup: insufficient history for the slow SMA
		}
		expectedDailyChange := prices[t] * 0.01 // 1% daily move assumption
		size := sizeForDailyPnLBand(targetDailyPnL, expectedDailyChange, notionalCap)
		if fastSMA[t] > slowSMA[t] {
			positions[t] = size
		} else if fastSMA[t] < slowSMA[t] {
			positions[t] = -size
		}
	}

	return &StrategySignals{Positions: positions, FeaturesUsed: nil}, nil
}

func (dualSMAStock) CheckEarlyExercise(state PositionState) bool { return false }

// sma computes the trailing simple moving average of window n at each
// index; indices before the window has filled hold NaN-free zero (the
// caller treats those as warmup and ignores them).
func sma(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		sum += x
		if i >= n {
			sum -= xs[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}
