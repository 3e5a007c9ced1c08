package distribution

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"qscenario/internal/qerrors"
)

// normalModel fits by closed-form MLE (sample mean, population standard
// deviation). A Normal distribution has zero excess kurtosis, so the
// fat-tail gate (spec section 4.1) always classifies it fail; it only
// survives a run via fallback_to_default or an explicit caller choice.
type normalModel struct{}

func (normalModel) Kind() Kind { return KindNormal }

func (normalModel) Fit(returns []float64, seed int64, opts FitOptions) (*FitRecord, error) {
	mean := stat.Mean(returns, nil)
	std := stat.PopStdDev(returns, nil)
	if std == 0 {
		return nil, qerrors.New(qerrors.KindFit, qerrors.SubImplausibleParams, "degenerate Normal scale").
			WithField("std", std, "std > 0", "check for a constant return series")
	}

	n := distuv.Normal{Mu: mean, Sigma: std}
	ll := 0.0
	for _, x := range returns {
		ll += math.Log(n.Prob(x))
	}

	return &FitRecord{
		Kind:              KindNormal,
		Params:            map[string]float64{"mean": mean, "std": std},
		Seed:              seed,
		LogLikelihood:     ll,
		ExcessKurtosis:    0.0,
		ConvergenceDetail: "closed-form MLE (sample mean, population std dev)",
	}, nil
}

func (normalModel) Sample(fr *FitRecord, n int, seed int64) []float64 {
	d := distuv.Normal{Mu: fr.Params["mean"], Sigma: fr.Params["std"], Src: rand.New(rand.NewSource(seed))}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}
