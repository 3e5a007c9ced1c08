// Package selector implements C5: the candidate-episode selector and
// episode builder. The default rule scores overnight gap and rolling
// volume z-score, following the teacher's hotlist scorer's
// component-score-then-combine shape, generalized from a live screening
// score to the no-lookahead episode selector spec section 4.5 requires.
package selector

import (
	"math"
	"sort"

	"qscenario/internal/databar"
)

// CandidateEpisode is one selected (symbol, t) pair with its horizon
// window of forward log-returns and the state features the selector
// evaluated from bars before t plus bar t's open.
type CandidateEpisode struct {
	Symbol        string
	StartIndex    int
	Horizon       int
	Score         float64
	Gap           float64
	VolumeZ       float64
	StateFeatures map[string]float64
	Returns       []float64
}

// Selector is {name, rules, feature_requirements, min_lookback} (spec
// section 4.5).
type Selector struct {
	Name             string
	MinLookback      int
	Horizon          int
	MinEpisodes      int
	RequiredFeatures []string
}

// DefaultSelector is the built-in selector: it computes the overnight gap
// and a rolling volume z-score and scores by |gap| + max(volume_z, 0). It
// applies no threshold to either feature, so every index with enough
// lookback and horizon becomes a candidate.
func DefaultSelector(horizon int) Selector {
	return Selector{
		Name:             "gap_volume_zscore",
		MinLookback:      20,
		Horizon:          horizon,
		MinEpisodes:      30,
		RequiredFeatures: []string{"gap", "volume_z"},
	}
}

// Select scans bars and emits a CandidateEpisode for every index with
// sufficient lookback and horizon, globally sorted by score descending.
// The volume z-score uses only bars before the decision index t; the gap
// compares bar t's open with bar t-1's close. Neither reads bar t's close
// or any later bar, which is where the episode's forward returns begin
// (spec section 4.5). warnings includes a sparsity warning when the
// result falls below MinEpisodes.
func (s Selector) Select(bars *databar.DataBars) ([]CandidateEpisode, []string) {
	n := len(bars.Bars)
	var episodes []CandidateEpisode

	for t := s.MinLookback; t < n-s.Horizon; t++ {
		gap := (bars.Bars[t].Open - bars.Bars[t-1].Close) / bars.Bars[t-1].Close

		window := bars.Bars[t-s.MinLookback : t] // strictly before t
		vols := make([]float64, len(window))
		for i, b := range window {
			vols[i] = b.Volume
		}
		mean, std := meanStd(vols)
		volZ := 0.0
		if std > 0 {
			volZ = (bars.Bars[t-1].Volume - mean) / std
		}

		score := math.Abs(gap) + math.Max(volZ, 0)
		returns := logReturnWindow(bars, t, s.Horizon)

		episodes = append(episodes, CandidateEpisode{
			Symbol: bars.Symbol, StartIndex: t, Horizon: s.Horizon, Score: score,
			Gap: gap, VolumeZ: volZ,
			StateFeatures: map[string]float64{"gap": gap, "volume_z": volZ},
			Returns:       returns,
		})
	}

	sort.SliceStable(episodes, func(i, j int) bool { return episodes[i].Score > episodes[j].Score })

	var warnings []string
	if len(episodes) < s.MinEpisodes {
		warnings = append(warnings, "sparsity warning: selector produced fewer than min_episodes candidates")
	}
	return episodes, warnings
}

// ClipTopN clips a sorted (score descending) episode list to the top n;
// n <= 0 returns the input unchanged.
func ClipTopN(episodes []CandidateEpisode, n int) []CandidateEpisode {
	if n <= 0 || n >= len(episodes) {
		return episodes
	}
	return episodes[:n]
}

func logReturnWindow(bars *databar.DataBars, start, horizon int) []float64 {
	out := make([]float64, 0, horizon)
	for i := start; i < start+horizon && i+1 < len(bars.Bars); i++ {
		out = append(out, math.Log(bars.Bars[i+1].Close/bars.Bars[i].Close))
	}
	return out
}

func meanStd(xs []float64) (mean, std float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= n
	var sumSq float64
	for _, x := range xs {
		sumSq += (x - mean) * (x - mean)
	}
	std = math.Sqrt(sumSq / n)
	return
}
