// Package pricer implements C3: the closed-form European Black-Scholes
// option pricer and its Greeks, vectorized over underlying arrays, plus a
// path repricer for intraday P&L. Vocabulary (leg/strategy/IV-source
// ordering) follows the option-replay reference engine.
package pricer

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"qscenario/internal/qerrors"
)

// OptionType is the closed set of supported contract types.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// IVSource names where an OptionSpec's implied volatility actually came
// from, in the fallback order spec section 4.3 fixes.
type IVSource string

const (
	IVSourceContractChain IVSource = "contract_chain"
	IVSourceRealizedVol   IVSource = "realized_30d_vol"
	IVSourceConfigDefault IVSource = "config_default"
)

// OptionSpec describes one option leg to price.
type OptionSpec struct {
	Type             OptionType
	Strike           float64
	MaturityYears    float64
	RiskFreeRate     float64
	IV               float64
	Contracts        int
	TickSize         float64
	IVSourceUsed     IVSource
	StaleQuoteMaxAge time.Duration
}

// Greeks are the option sensitivities.
type Greeks struct {
	Delta, Gamma, Vega, Theta, Rho float64
}

// PriceResult is a single premium/Greeks quote.
type PriceResult struct {
	Premium float64
	Greeks
}

var normal = distuv.Normal{Mu: 0, Sigma: 1}

// Price computes the Black-Scholes premium and Greeks for one
// (underlying, spec) pair, handling the two binding edge cases from spec
// section 4.3: non-positive maturity collapses to intrinsic value with
// zero Greeks, and non-positive IV is a hard error.
func Price(underlying float64, spec OptionSpec) (PriceResult, error) {
	if spec.IV <= 0 {
		return PriceResult{}, qerrors.New(qerrors.KindNumeric, qerrors.SubInvalidIV, "implied volatility must be positive").
			WithField("iv", spec.IV, "iv > 0", "supply a positive IV or fix the IV source chain")
	}
	strike := snapToTick(spec.Strike, spec.TickSize)

	if spec.MaturityYears <= 0 {
		return PriceResult{Premium: intrinsicValue(underlying, strike, spec.Type)}, nil
	}

	d1, d2 := d1d2(underlying, strike, spec.MaturityYears, spec.RiskFreeRate, spec.IV)
	sqrtT := math.Sqrt(spec.MaturityYears)
	discount := math.Exp(-spec.RiskFreeRate * spec.MaturityYears)
	pdf := normal.Prob(d1)

	var premium, delta, theta, rho float64
	switch spec.Type {
	case Put:
		premium = strike*discount*normal.CDF(-d2) - underlying*normal.CDF(-d1)
		delta = normal.CDF(d1) - 1
		theta = -(underlying*pdf*spec.IV)/(2*sqrtT) + spec.RiskFreeRate*strike*discount*normal.CDF(-d2)
		rho = -strike * spec.MaturityYears * discount * normal.CDF(-d2)
	default: // Call
		premium = underlying*normal.CDF(d1) - strike*discount*normal.CDF(d2)
		delta = normal.CDF(d1)
		theta = -(underlying*pdf*spec.IV)/(2*sqrtT) - spec.RiskFreeRate*strike*discount*normal.CDF(d2)
		rho = strike * spec.MaturityYears * discount * normal.CDF(d2)
	}

	gamma := pdf / (underlying * spec.IV * sqrtT)
	vega := underlying * pdf * sqrtT

	return PriceResult{
		Premium: premium,
		Greeks:  Greeks{Delta: delta, Gamma: gamma, Vega: vega, Theta: theta, Rho: rho},
	}, nil
}

// PriceVector prices the same OptionSpec across a slice of underlying
// values (spec section 4.3: "must be callable vectorized over underlying
// arrays").
func PriceVector(underlyings []float64, spec OptionSpec) ([]PriceResult, error) {
	out := make([]PriceResult, len(underlyings))
	for i, u := range underlyings {
		r, err := Price(u, spec)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// PriceAlongPath reprices spec at every step of a price path, decreasing
// time-to-maturity by stepYears at each step, for intraday-repricing P&L
// (spec section 4.3). exerciseAt, if non-nil and true for some step,
// flattens the position to intrinsic value from that step on (early
// exercise is never automatic).
func PriceAlongPath(path []float64, spec OptionSpec, stepYears float64, exerciseAt []bool) ([]PriceResult, error) {
	out := make([]PriceResult, len(path))
	exercised := false
	var realizedValue float64
	for i, s := range path {
		remaining := spec.MaturityYears - float64(i)*stepYears
		if remaining < 0 {
			remaining = 0
		}
		if !exercised && exerciseAt != nil && i < len(exerciseAt) && exerciseAt[i] {
			exercised = true
			realizedValue = intrinsicValue(s, snapToTick(spec.Strike, spec.TickSize), spec.Type)
		}
		if exercised {
			// Flattened: the position realized intrinsic value at the
			// exercise step and no longer marks to the underlying.
			out[i] = PriceResult{Premium: realizedValue}
			continue
		}
		stepSpec := spec
		stepSpec.MaturityYears = remaining
		r, err := Price(s, stepSpec)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func intrinsicValue(underlying, strike float64, typ OptionType) float64 {
	if typ == Put {
		return math.Max(strike-underlying, 0)
	}
	return math.Max(underlying-strike, 0)
}

func d1d2(s, k, t, r, iv float64) (d1, d2 float64) {
	d1 = (math.Log(s/k) + (r+0.5*iv*iv)*t) / (iv * math.Sqrt(t))
	d2 = d1 - iv*math.Sqrt(t)
	return
}

// snapToTick rounds strike to the nearest multiple of tick using
// banker's rounding (round-half-to-even), per spec section 4.3, so an
// at-the-money strike never lands on a numeric singularity from
// inconsistent rounding direction.
func snapToTick(strike, tick float64) float64 {
	if tick <= 0 {
		return strike
	}
	units := strike / tick
	rounded := math.RoundToEven(units)
	return rounded * tick
}
