package orchestrator

import (
	"context"
	"strings"
	"time"

	"qscenario/internal/conditional"
	"qscenario/internal/distribution"
	"qscenario/internal/qerrors"
	"qscenario/internal/selector"
)

// mostRecentEpisode picks the episode with the latest StartIndex as the
// state to condition on: the engine has no separate notion of "today's
// features" distinct from the episode library, so the most recent
// historical analog stands in for "the situation we are in now" (an Open
// Question spec section 4.6 leaves to the implementation).
func mostRecentEpisode(episodes []selector.CandidateEpisode) selector.CandidateEpisode {
	best := episodes[0]
	for _, ep := range episodes[1:] {
		if ep.StartIndex > best.StartIndex {
			best = ep
		}
	}
	return best
}

// Conditional runs C5 then C6: select candidate episodes, match them
// against the most recent one's state, and sample paths conditioned on
// that match (spec section 4.7: the `conditional` command is "C5+C6").
func (r *Run) Conditional(ctx context.Context) (*RunMetadata, error) {
	cfg := r.Config.Config
	if err := validateConfig(cfg); err != nil {
		return r.abort(err)
	}

	stageStart := time.Now()
	bars, err := r.loadData(cfg)
	r.recordStage("load_data", stageStart)
	if err != nil {
		return r.abort(err)
	}
	fingerprint := bars.ComputeFingerprint()

	sel := selectorFromConfig(cfg)
	episodes, selWarnings := sel.Select(bars)
	if len(episodes) == 0 {
		return r.abort(qerrors.New(qerrors.KindData, qerrors.SubNone, "no candidate episodes available for conditional sampling").
			WithField("episodes", 0, "> 0", "widen the selector's lookback/horizon or check the data source"))
	}

	target := mostRecentEpisode(episodes).StateFeatures

	method := conditional.MethodBootstrap
	if strings.HasPrefix(cfg.ConditionalMethod, "parametric") {
		method = conditional.MethodParametricRefit
	}
	opts := conditional.Options{
		Method:            method,
		DistanceThreshold: cfg.DistanceThreshold,
		MinMatch:          cfg.MinMatch,
		Distribution:      distribution.Kind(cfg.DistributionModel),
		FitOptions:        fitOptionsFrom(cfg),
	}

	stageStart = time.Now()
	result, err := conditional.ConditionalSample(episodes, target, cfg.S0, cfg.NPaths, cfg.NSteps, cfg.Seed, opts)
	r.recordStage("conditional_sample", stageStart)
	if err != nil {
		return r.abort(err)
	}
	defer result.Paths.Close()
	if r.Recorder != nil {
		r.Recorder.BankruptcyRate.Set(result.Paths.BankruptcyRate)
	}

	stageStart = time.Now()
	summary, conditionalSummary, partial, err := r.scorePaths(cfg, result.Paths)
	r.recordStage("score_paths", stageStart)
	if err != nil {
		return r.abort(err)
	}

	meta := &RunMetadata{
		RunID:       r.RunID,
		ConfigID:    ConfigID(cfg),
		Config:      cfg,
		Provenance:  r.Config.Provenance,
		Fingerprint: fingerprint,
		Environment: captureEnvironment(),
		Conditional: &ConditionalRunResult{
			Method: result.Method, MatchCount: result.MatchCount,
			Fallback: result.Fallback, FallbackNote: result.FallbackNote,
			TargetState: target,
		},
		PathStorage:        result.Paths.Tier,
		ArtifactPaths:      []string{r.metaPath()},
		Summary:            summary,
		ConditionalSummary: conditionalSummary,
		Warnings:           selWarnings,
		Partial:            partial,
		CreatedAt:          time.Now(),
	}
	if err := r.writeMetadata(meta); err != nil {
		return nil, err
	}
	return meta, nil
}
