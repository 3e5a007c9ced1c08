package conditional

import (
	"testing"

	"qscenario/internal/distribution"
	"qscenario/internal/selector"
)

func syntheticEpisodes(n int) []selector.CandidateEpisode {
	episodes := make([]selector.CandidateEpisode, n)
	for i := 0; i < n; i++ {
		gap := float64(i%5) * 0.01
		volZ := float64(i%3) - 1
		episodes[i] = selector.CandidateEpisode{
			Symbol:     "TEST",
			StartIndex: 100 + i,
			Horizon:    5,
			StateFeatures: map[string]float64{
				"gap": gap, "volume_z": volZ,
			},
			Returns: []float64{0.001 * float64(i%7-3), 0.002, -0.001, 0.0005, 0.0015},
		}
	}
	return episodes
}

func TestConditionalSampleBootstrapShape(t *testing.T) {
	episodes := syntheticEpisodes(50)
	target := map[string]float64{"gap": 0.01, "volume_z": 0}
	opts := DefaultOptions()
	res, err := ConditionalSample(episodes, target, 100.0, 20, 5, 42, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Paths.NPaths != 20 || res.Paths.NSteps != 5 {
		t.Fatalf("expected 20x5 paths, got %dx%d", res.Paths.NPaths, res.Paths.NSteps)
	}
	if res.Method != MethodBootstrap {
		t.Errorf("expected bootstrap method, got %s", res.Method)
	}
}

func TestConditionalSampleDeterministic(t *testing.T) {
	episodes := syntheticEpisodes(50)
	target := map[string]float64{"gap": 0.01, "volume_z": 0}
	opts := DefaultOptions()
	res1, err := ConditionalSample(episodes, target, 100.0, 5, 5, 7, opts)
	if err != nil {
		t.Fatal(err)
	}
	res2, err := ConditionalSample(episodes, target, 100.0, 5, 5, 7, opts)
	if err != nil {
		t.Fatal(err)
	}
	for p := 0; p < 5; p++ {
		for s := 0; s < 5; s++ {
			if res1.Paths.Get(p, s) != res2.Paths.Get(p, s) {
				t.Fatalf("same seed produced different paths at (%d,%d)", p, s)
			}
		}
	}
}

func TestConditionalSampleFallsBackWhenSparse(t *testing.T) {
	episodes := syntheticEpisodes(5) // fewer than DefaultMinMatch
	target := map[string]float64{"gap": 100, "volume_z": 100}
	opts := DefaultOptions()
	res, err := ConditionalSample(episodes, target, 100.0, 3, 5, 1, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fallback {
		t.Error("expected fallback when matched episodes fall below min_match")
	}
	if res.MatchCount != len(episodes) {
		t.Errorf("expected fallback to use all %d episodes, got %d", len(episodes), res.MatchCount)
	}
}

func TestConditionalSampleRejectsEmptyEpisodes(t *testing.T) {
	_, err := ConditionalSample(nil, nil, 100.0, 3, 5, 1, DefaultOptions())
	if err == nil {
		t.Fatal("expected error for empty episode set")
	}
}

func TestConditionalSampleParametricRefit(t *testing.T) {
	episodes := syntheticEpisodes(50)
	target := map[string]float64{"gap": 0.01, "volume_z": 0}
	fitOpts := distribution.DefaultFitOptions()
	fitOpts.AllowTransform = true
	opts := Options{
		Method:            MethodParametricRefit,
		DistanceThreshold: DefaultDistanceThreshold,
		MinMatch:          DefaultMinMatch,
		Distribution:      distribution.KindLaplace,
		FitOptions:        fitOpts,
	}
	res, err := ConditionalSample(episodes, target, 100.0, 10, 5, 3, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != MethodParametricRefit {
		t.Errorf("expected parametric_refit method, got %s", res.Method)
	}
	if res.Paths.NPaths != 10 {
		t.Errorf("expected 10 paths, got %d", res.Paths.NPaths)
	}
}
