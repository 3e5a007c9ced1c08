package distribution

import (
	"math"
	"math/rand"
	"strconv"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"qscenario/internal/qerrors"
	"qscenario/internal/repro"
)

// garchTModel fits a GARCH(1,1) conditional-variance process with
// Student-t standardized innovations: sigma2_t = omega + alpha*r[t-1]^2 +
// beta*sigma2[t-1], r[t] = sigma_t * z[t], z[t] ~ StudentsT(0, 1, df).
// Parameters are fitted by maximum likelihood via the same bounded
// Nelder-Mead search as StudentT, reparametrized so alpha, beta >= 0 and
// alpha+beta < 1 without the optimizer needing explicit bound constraints.
type garchTModel struct{}

func (garchTModel) Kind() Kind { return KindGarchT }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// tDensity is the standardized (zero-mean, unit-variance) Student-t
// density evaluated at z with df degrees of freedom.
func tDensity(z, df float64) float64 {
	lgNum, _ := math.Lgamma((df + 1) / 2)
	lgDen, _ := math.Lgamma(df / 2)
	c := math.Exp(lgNum - lgDen)
	c /= math.Sqrt((df - 2) * math.Pi)
	return c * math.Pow(1+z*z/(df-2), -(df+1)/2)
}

func garchParams(theta []float64) (omega, alpha, beta, df float64) {
	omega = math.Exp(theta[0])
	alpha = sigmoid(theta[1])
	beta = sigmoid(theta[2]) * (1 - alpha)
	df = 2.01 + math.Exp(theta[3])
	return
}

func garchNegLogLik(returns []float64, sigma2_0 float64) func([]float64) float64 {
	return func(theta []float64) float64 {
		omega, alpha, beta, df := garchParams(theta)
		if omega <= 0 || df <= 2 {
			return math.Inf(1)
		}
		sigma2 := sigma2_0
		nll := 0.0
		for _, r := range returns {
			if sigma2 <= 0 || math.IsNaN(sigma2) {
				return math.Inf(1)
			}
			z := r / math.Sqrt(sigma2)
			scaled := tDensity(z, df) / math.Sqrt(sigma2)
			if scaled <= 0 || math.IsNaN(scaled) {
				return math.Inf(1)
			}
			nll -= math.Log(scaled)
			sigma2 = omega + alpha*r*r + beta*sigma2
		}
		return nll
	}
}

func (garchTModel) Fit(returns []float64, seed int64, opts FitOptions) (*FitRecord, error) {
	variance := stat.Variance(returns, nil)
	if variance == 0 {
		return nil, qerrors.New(qerrors.KindFit, qerrors.SubImplausibleParams, "degenerate GarchT variance").
			WithField("variance", variance, "variance > 0", "check for a constant return series")
	}

	// x0: modest persistence, omega set so unconditional variance ~= sample variance.
	x0 := []float64{math.Log(variance * 0.1), logit(0.08), logit(0.85), math.Log(6.0 - 2.01)}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 500
	}

	problem := optimize.Problem{Func: garchNegLogLik(returns, variance)}
	settings := &optimize.Settings{MajorIterations: maxIter}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindFit, qerrors.SubNonConvergence, "GarchT optimizer failed", err)
	}

	converged := result.Status == optimize.Success || result.Status == optimize.FunctionConvergence
	if !converged {
		return nil, qerrors.New(qerrors.KindFit, qerrors.SubNonConvergence, "GarchT fit did not converge").
			WithField("optimizer_status", result.Status.String(), "convergence within iteration cap", "increase max_iterations or use fallback_to_default")
	}

	omega, alpha, beta, df := garchParams(result.X)
	if alpha+beta >= 0.999 {
		return nil, qerrors.New(qerrors.KindFit, qerrors.SubImplausibleParams, "GarchT persistence too close to unit root").
			WithField("alpha_plus_beta", alpha+beta, "alpha + beta < 0.999", "collect more data or use a different distribution_model")
	}
	if df < 2.5 {
		return nil, qerrors.New(qerrors.KindFit, qerrors.SubImplausibleParams, "GarchT innovation degrees of freedom too low").
			WithField("df", df, "df >= 2.5", "collect more data or use a different distribution_model")
	}

	excessKurtosis := math.Inf(1)
	if df > 4 {
		excessKurtosis = 6.0 / (df - 4)
	}

	return &FitRecord{
		Kind:              KindGarchT,
		Params:            map[string]float64{"omega": omega, "alpha": alpha, "beta": beta, "df": df, "sigma2_0": variance},
		Seed:              seed,
		LogLikelihood:     -result.F,
		ExcessKurtosis:    excessKurtosis,
		IterationCap:      maxIter,
		Tolerance:         opts.Tolerance,
		ConvergenceDetail: result.Status.String() + ", iterations=" + strconv.Itoa(result.Stats.MajorIterations),
	}, nil
}

// Sample draws a path by running the fitted recursive variance process
// forward from sigma2_0, with the innovation stream seeded deterministically
// from the caller seed (spec section 4.1: "the recursion seed is derived
// deterministically from the caller seed").
func (garchTModel) Sample(fr *FitRecord, n int, seed int64) []float64 {
	omega := fr.Params["omega"]
	alpha := fr.Params["alpha"]
	beta := fr.Params["beta"]
	df := fr.Params["df"]
	sigma2 := fr.Params["sigma2_0"]

	innovSeed := repro.DeriveSeed(seed, "garch_recursion")
	rng := rand.New(rand.NewSource(innovSeed))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		z := sampleStandardT(rng, df)
		sigma := math.Sqrt(sigma2)
		r := sigma * z
		out[i] = r
		sigma2 = omega + alpha*r*r + beta*sigma2
	}
	return out
}

// sampleStandardT draws from a standardized (unit-variance) Student-t via
// the chi-square mixture representation: z = normal / sqrt(chi2(df)/df),
// rescaled by sqrt((df-2)/df) so the draw has unit variance.
func sampleStandardT(rng *rand.Rand, df float64) float64 {
	g := rng.NormFloat64()
	chi2 := sampleChiSquare(rng, df)
	return g / math.Sqrt(chi2/df) * math.Sqrt((df-2)/df)
}

func sampleChiSquare(rng *rand.Rand, df float64) float64 {
	// Sum-of-squared-normals is exact only for integer df; for the
	// fractional remainder add a normal draw with the matching chi-square
	// mean (frac) and variance (2*frac), truncated at zero; adequate for
	// the df range this model accepts (> 2.5).
	whole := int(df)
	frac := df - float64(whole)
	sum := 0.0
	for i := 0; i < whole; i++ {
		g := rng.NormFloat64()
		sum += g * g
	}
	if frac > 0 {
		mean := frac
		std := math.Sqrt(2 * frac)
		sum += math.Max(0, mean+std*rng.NormFloat64())
	}
	return sum
}

func logit(p float64) float64 { return math.Log(p / (1 - p)) }
