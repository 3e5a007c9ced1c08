package distribution

import (
	"math"
	"math/rand"
	"strconv"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"qscenario/internal/qerrors"
)

// studentTModel fits (loc, scale, df) by maximum likelihood via a bounded
// Nelder-Mead search (spec section 4.1: "maximum-likelihood with bounded
// optimizer"). Parameters are reparametrized to unconstrained space so the
// optimizer never has to enforce bounds itself: scale = exp(theta1), df =
// 2.01 + exp(theta2).
type studentTModel struct{}

func (studentTModel) Kind() Kind { return KindStudentT }

func studentTNegLogLik(returns []float64) func([]float64) float64 {
	return func(theta []float64) float64 {
		loc := theta[0]
		scale := math.Exp(theta[1])
		df := 2.01 + math.Exp(theta[2])
		if scale <= 0 || math.IsNaN(scale) || math.IsNaN(df) {
			return math.Inf(1)
		}
		d := distuv.StudentsT{Mu: loc, Sigma: scale, Nu: df}
		nll := 0.0
		for _, x := range returns {
			p := d.Prob(x)
			if p <= 0 || math.IsNaN(p) {
				return math.Inf(1)
			}
			nll -= math.Log(p)
		}
		return nll
	}
}

func (studentTModel) Fit(returns []float64, seed int64, opts FitOptions) (*FitRecord, error) {
	mean := stat.Mean(returns, nil)
	std := stat.StdDev(returns, nil)
	if std == 0 {
		std = 1e-6
	}
	x0 := []float64{mean, math.Log(std), math.Log(6.0 - 2.01)} // df0 = 6

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 500
	}

	problem := optimize.Problem{Func: studentTNegLogLik(returns)}
	settings := &optimize.Settings{MajorIterations: maxIter}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindFit, qerrors.SubNonConvergence, "StudentT optimizer failed", err)
	}

	converged := result.Status == optimize.Success || result.Status == optimize.FunctionConvergence
	if !converged {
		return nil, qerrors.New(qerrors.KindFit, qerrors.SubNonConvergence, "StudentT fit did not converge").
			WithField("optimizer_status", result.Status.String(), "convergence within iteration cap", "increase max_iterations or use fallback_to_default")
	}

	loc := result.X[0]
	scale := math.Exp(result.X[1])
	df := 2.01 + math.Exp(result.X[2])
	if df < 2.5 {
		return nil, qerrors.New(qerrors.KindFit, qerrors.SubImplausibleParams, "StudentT degrees of freedom too low").
			WithField("df", df, "df >= 2.5", "collect more data or use a different distribution_model")
	}

	excessKurtosis := math.Inf(1)
	if df > 4 {
		excessKurtosis = 6.0 / (df - 4)
	}

	return &FitRecord{
		Kind:              KindStudentT,
		Params:            map[string]float64{"loc": loc, "scale": scale, "df": df},
		Seed:              seed,
		LogLikelihood:     -result.F,
		ExcessKurtosis:    excessKurtosis,
		IterationCap:      maxIter,
		Tolerance:         opts.Tolerance,
		ConvergenceDetail: result.Status.String() + ", iterations=" + strconv.Itoa(result.Stats.MajorIterations),
	}, nil
}

func (studentTModel) Sample(fr *FitRecord, n int, seed int64) []float64 {
	d := distuv.StudentsT{Mu: fr.Params["loc"], Sigma: fr.Params["scale"], Nu: fr.Params["df"], Src: rand.New(rand.NewSource(seed))}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}
