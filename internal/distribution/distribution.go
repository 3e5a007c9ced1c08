// Package distribution implements the C1 return-distribution models:
// Laplace, Normal, StudentT and GarchT. Each fits a log-return series by
// maximum likelihood (closed-form for Laplace/Normal, a bounded optimizer
// for StudentT/GarchT) and draws reproducible samples from the fitted
// parameters.
package distribution

import (
	"math"
	"strconv"
	"time"

	"qscenario/internal/qerrors"
)

// Kind names one of the four model families.
type Kind string

const (
	KindLaplace  Kind = "laplace"
	KindStudentT Kind = "student_t"
	KindNormal   Kind = "normal"
	KindGarchT   Kind = "garch_t"
)

// Status is the fit-quality verdict spec section 4.1's fat-tail validation
// assigns: excess kurtosis >= 1.0 is success, 0.5-1.0 is warn, below 0.5 is
// fail.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarn    Status = "warn"
	StatusFail    Status = "fail"
)

// minSamples is the per-model minimum input length (spec section 4.1).
var minSamples = map[Kind]int{
	KindLaplace:  60,
	KindStudentT: 60,
	KindNormal:   60,
	KindGarchT:   252,
}

// MinSamples returns the minimum sample count a model requires.
func MinSamples(k Kind) int { return minSamples[k] }

// FitOptions controls fit behavior.
type FitOptions struct {
	AllowTransform    bool
	FallbackToDefault bool
	MaxIterations     int
	Tolerance         float64
}

// DefaultFitOptions mirrors the built-in RunConfig defaults.
func DefaultFitOptions() FitOptions {
	return FitOptions{MaxIterations: 500, Tolerance: 1e-8}
}

// FitRecord captures everything the reproducibility envelope (C9) needs
// about how a model was fitted (spec sections 4.1, 4.9).
type FitRecord struct {
	Kind              Kind
	Params            map[string]float64
	Seed              int64
	NSamples          int
	FitWindow         int
	Differenced       bool
	LogLikelihood     float64
	AIC               float64
	BIC               float64
	ExcessKurtosis    float64
	Status            Status
	IterationCap      int
	Tolerance         float64
	ConvergenceDetail string
	FallbackApplied   bool
	FittedAt          time.Time
}

// Model is implemented by each return-distribution family.
type Model interface {
	Kind() Kind
	Fit(returns []float64, seed int64, opts FitOptions) (*FitRecord, error)
	Sample(fr *FitRecord, n int, seed int64) []float64
}

var registry = map[Kind]Model{
	KindLaplace:  laplaceModel{},
	KindStudentT: studentTModel{},
	KindNormal:   normalModel{},
	KindGarchT:   garchTModel{},
}

// Get returns the registered model for kind, or an error if unknown.
func Get(kind Kind) (Model, error) {
	m, ok := registry[kind]
	if !ok {
		return nil, qerrors.New(qerrors.KindConfig, qerrors.SubNone, "unknown distribution model").
			WithField("distribution_model", kind, "one of laplace|student_t|normal|garch_t", "fix distribution_model in config")
	}
	return m, nil
}

// Fit is the package-level entry point: validates sample size, checks
// stationarity, optionally differences the series, dispatches to the
// model's Fit, and applies the fat-tail status classification. On
// non-convergence of a non-Laplace model, when opts.FallbackToDefault is
// set, it refits the series with the Laplace model's own Fit (median and
// mean absolute deviation, not a method-of-moments fit) and sets
// FallbackApplied.
func Fit(kind Kind, returns []float64, seed int64, opts FitOptions) (*FitRecord, error) {
	fitWindow := len(returns)
	n := minSamples[kind]
	if len(returns) < n {
		return nil, qerrors.New(qerrors.KindFit, qerrors.SubInsufficientData, "too few samples to fit").
			WithField("n_samples", len(returns), formatMin(n), "collect more history or lower the fit window")
	}

	series := returns
	differenced := false
	if !isStationary(series) {
		if !opts.AllowTransform {
			return nil, qerrors.New(qerrors.KindFit, qerrors.SubNonStationary, "return series is not stationary").
				WithField("allow_transform", false, "set allow_transform=true to permit differencing", "retry with allow_transform=true")
		}
		series = diff(series)
		differenced = true
		if len(series) < n {
			return nil, qerrors.New(qerrors.KindFit, qerrors.SubInsufficientData, "too few samples after differencing").
				WithField("n_samples", len(series), formatMin(n), "collect more history")
		}
	}

	m, err := Get(kind)
	if err != nil {
		return nil, err
	}
	fr, fitErr := m.Fit(series, seed, opts)
	if fitErr != nil {
		e, ok := qerrors.As(fitErr)
		if ok && e.Sub == qerrors.SubNonConvergence && opts.FallbackToDefault && kind != KindLaplace {
			fallback, ferr := Get(KindLaplace)
			if ferr != nil {
				return nil, fitErr
			}
			fr, fitErr = fallback.Fit(series, seed, opts)
			if fitErr != nil {
				return nil, fitErr
			}
			fr.FallbackApplied = true
		} else {
			return nil, fitErr
		}
	}
	fr.Differenced = differenced
	fr.NSamples = len(series)
	fr.FitWindow = fitWindow
	fr.FittedAt = time.Now()
	fr.Status = kurtosisStatus(fr.ExcessKurtosis)
	k := float64(len(fr.Params))
	fr.AIC = 2*k - 2*fr.LogLikelihood
	fr.BIC = k*math.Log(float64(fr.NSamples)) - 2*fr.LogLikelihood
	return fr, nil
}

func kurtosisStatus(excessKurtosis float64) Status {
	switch {
	case excessKurtosis >= 1.0:
		return StatusSuccess
	case excessKurtosis >= 0.5:
		return StatusWarn
	default:
		return StatusFail
	}
}

func diff(xs []float64) []float64 {
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

func formatMin(n int) string {
	return "len(returns) >= " + strconv.Itoa(n)
}
