package distribution

import (
	"math"
	"math/rand"
	"sort"

	"qscenario/internal/qerrors"
)

// laplaceModel fits by the closed-form Laplace MLE: location is the
// median, scale is the mean absolute deviation from the median. Excess
// kurtosis of a Laplace distribution is always exactly 3, so the fit is
// always classified success once the minimum sample size is met.
type laplaceModel struct{}

func (laplaceModel) Kind() Kind { return KindLaplace }

func (laplaceModel) Fit(returns []float64, seed int64, opts FitOptions) (*FitRecord, error) {
	loc := median(returns)
	var mad float64
	for _, x := range returns {
		mad += math.Abs(x - loc)
	}
	mad /= float64(len(returns))
	if mad == 0 {
		return nil, qerrors.New(qerrors.KindFit, qerrors.SubImplausibleParams, "degenerate Laplace scale").
			WithField("scale", mad, "scale > 0", "check for a constant return series")
	}

	ll := 0.0
	for _, x := range returns {
		ll += -math.Log(2*mad) - math.Abs(x-loc)/mad
	}

	return &FitRecord{
		Kind:              KindLaplace,
		Params:            map[string]float64{"loc": loc, "scale": mad},
		Seed:              seed,
		LogLikelihood:     ll,
		ExcessKurtosis:    3.0,
		IterationCap:      0,
		Tolerance:         0,
		ConvergenceDetail: "closed-form MLE (median, mean absolute deviation)",
	}, nil
}

func (laplaceModel) Sample(fr *FitRecord, n int, seed int64) []float64 {
	loc, scale := fr.Params["loc"], fr.Params["scale"]
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		u := rng.Float64() - 0.5
		sign := 1.0
		if u < 0 {
			sign = -1.0
		}
		out[i] = loc - scale*sign*math.Log(1-2*math.Abs(u))
	}
	return out
}

func median(xs []float64) float64 {
	cp := make([]float64, len(xs))
	copy(cp, xs)
	sort.Float64s(cp)
	n := len(cp)
	if n%2 == 1 {
		return cp[n/2]
	}
	return (cp[n/2-1] + cp[n/2]) / 2
}
