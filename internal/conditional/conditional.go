// Package conditional implements C6: conditional Monte Carlo sampling
// against a library of candidate episodes. It generalizes the teacher's
// walk-forward optimizer's windowed-resampling idiom
// (internal/strategy/optimizer/walkforward.go's in-sample/out-sample
// window slicing) from parameter validation into episode matching and
// historical-window resampling.
package conditional

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"qscenario/internal/distribution"
	"qscenario/internal/pathgen"
	"qscenario/internal/qerrors"
	"qscenario/internal/repro"
	"qscenario/internal/selector"

	"gonum.org/v1/gonum/stat"
)

// Method selects how conditional_sample fills the requested matrix.
type Method string

const (
	MethodBootstrap       Method = "bootstrap"
	MethodParametricRefit Method = "parametric_refit"
)

const (
	DefaultDistanceThreshold = 2.0
	DefaultMinMatch          = 10
)

// Options configures a conditional_sample call (spec section 4.6).
type Options struct {
	Method            Method
	DistanceThreshold float64
	MinMatch          int
	Distribution      distribution.Kind // used by MethodParametricRefit
	FitOptions        distribution.FitOptions
}

// DefaultOptions returns the bootstrap method with the spec's default
// thresholds.
func DefaultOptions() Options {
	return Options{
		Method:            MethodBootstrap,
		DistanceThreshold: DefaultDistanceThreshold,
		MinMatch:          DefaultMinMatch,
	}
}

// Result records what conditional_sample actually did, for the
// reproducibility envelope (spec section 4.6: "the method actually used,
// the number of matches, and any fallback are recorded on the run").
type Result struct {
	Method       Method
	MatchCount   int
	Fallback     bool
	FallbackNote string
	Paths        *pathgen.PricePaths
}

// ConditionalSample matches episodes against targetState and fills an
// (nPaths, nSteps) path matrix starting from s0, either by bootstrap
// resampling of matched historical windows or by refitting a
// distribution on the matched union and delegating to pathgen (C2).
func ConditionalSample(episodes []selector.CandidateEpisode, targetState map[string]float64, s0 float64, nPaths, nSteps int, seed int64, opts Options) (*Result, error) {
	if len(episodes) == 0 {
		return nil, qerrors.New(qerrors.KindData, qerrors.SubNone, "conditional_sample requires at least one candidate episode")
	}
	if opts.DistanceThreshold <= 0 {
		opts.DistanceThreshold = DefaultDistanceThreshold
	}
	if opts.MinMatch <= 0 {
		opts.MinMatch = DefaultMinMatch
	}

	matched, fallback, note := matchEpisodes(episodes, targetState, opts.DistanceThreshold, opts.MinMatch)

	switch opts.Method {
	case MethodParametricRefit:
		return refitAndGenerate(matched, fallback, note, s0, nPaths, nSteps, seed, opts)
	default:
		return bootstrapFill(matched, fallback, note, s0, nPaths, nSteps, seed)
	}
}

// matchEpisodes standardizes each declared state feature by its
// historical mean/std across all episodes, computes Euclidean distance
// from targetState in z-space, and retains episodes within
// distanceThreshold. Falls back to the full unconditional set (with a
// warning note) if fewer than minMatch episodes qualify.
func matchEpisodes(episodes []selector.CandidateEpisode, targetState map[string]float64, distanceThreshold float64, minMatch int) (matched []selector.CandidateEpisode, fallback bool, note string) {
	keys := featureKeys(episodes)
	meanStd := make(map[string][2]float64, len(keys))
	for _, k := range keys {
		xs := make([]float64, len(episodes))
		for i, ep := range episodes {
			xs[i] = ep.StateFeatures[k]
		}
		mean := stat.Mean(xs, nil)
		std := stat.StdDev(xs, nil)
		meanStd[k] = [2]float64{mean, std}
	}

	for _, ep := range episodes {
		d := 0.0
		for _, k := range keys {
			ms := meanStd[k]
			std := ms[1]
			if std == 0 {
				continue
			}
			epZ := (ep.StateFeatures[k] - ms[0]) / std
			targetZ := (targetState[k] - ms[0]) / std
			diff := epZ - targetZ
			d += diff * diff
		}
		d = math.Sqrt(d)
		if d <= distanceThreshold {
			matched = append(matched, ep)
		}
	}

	if len(matched) < minMatch {
		return episodes, true, "fewer than min_match episodes within distance_threshold; fell back to unconditional sampling over all candidates"
	}
	return matched, false, ""
}

func featureKeys(episodes []selector.CandidateEpisode) []string {
	seen := map[string]bool{}
	var keys []string
	for _, ep := range episodes {
		for k := range ep.StateFeatures {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys) // deterministic iteration order
	return keys
}

// bootstrapFill samples matched episode windows with replacement to fill
// an (nPaths, nSteps) return matrix, then builds cumulative price paths
// directly (no distribution refit).
func bootstrapFill(matched []selector.CandidateEpisode, fallback bool, note string, s0 float64, nPaths, nSteps int, seed int64) (*Result, error) {
	paths := make([][]float64, nPaths)
	for i := 0; i < nPaths; i++ {
		drawSeed := repro.DeriveSeed(seed, fmt.Sprintf("bootstrap_path:%d", i))
		rng := rand.New(rand.NewSource(drawSeed))
		row := make([]float64, nSteps)
		for t := 0; t < nSteps; t++ {
			ep := matched[rng.Intn(len(matched))]
			if len(ep.Returns) == 0 {
				continue
			}
			row[t] = ep.Returns[rng.Intn(len(ep.Returns))]
		}
		paths[i] = row
	}

	pp, err := pathgen.FromReturnRows(paths, s0, seed)
	if err != nil {
		return nil, err
	}
	return &Result{
		Method:       MethodBootstrap,
		MatchCount:   len(matched),
		Fallback:     fallback,
		FallbackNote: note,
		Paths:        pp,
	}, nil
}

// refitAndGenerate refits opts.Distribution on the union of matched
// episode returns and delegates path generation to pathgen (C2).
func refitAndGenerate(matched []selector.CandidateEpisode, fallback bool, note string, s0 float64, nPaths, nSteps int, seed int64, opts Options) (*Result, error) {
	var union []float64
	for _, ep := range matched {
		union = append(union, ep.Returns...)
	}

	fr, err := distribution.Fit(opts.Distribution, union, seed, opts.FitOptions)
	if err != nil {
		return nil, err
	}

	paths, err := pathgen.Generate(opts.Distribution, fr, s0, nPaths, nSteps, seed, pathgen.ResourceLimits{})
	if err != nil {
		return nil, err
	}

	return &Result{
		Method:       MethodParametricRefit,
		MatchCount:   len(matched),
		Fallback:     fallback,
		FallbackNote: note,
		Paths:        paths,
	}, nil
}
