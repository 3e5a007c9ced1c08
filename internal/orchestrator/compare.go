package orchestrator

import (
	"context"
	"time"
)

// Compare runs the full DAG spec section 4.7 names for the
// `compare` command: validate config, load and schema-check data,
// fingerprint it, fit a distribution, generate paths, run the configured
// strategy, score it, and emit RunMetadata. On any stage failure the run
// directory is tagged incomplete=true and the error is returned unchanged
// for the caller to map to an exit code.
func (r *Run) Compare(ctx context.Context) (*RunMetadata, error) {
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
	returns := bars.LogReturns()

	stageStart = time.Now()
	fr, err := r.fitDistribution(cfg, bars)
	r.recordStage("fit_distribution", stageStart)
	if err != nil {
		return r.abort(err)
	}
	if r.Recorder != nil {
		r.Recorder.FitsEvaluated.Inc()
		if fr.FallbackApplied {
			r.Recorder.FitFailures.Inc()
		}
	}

	stageStart = time.Now()
	paths, err := r.generatePaths(cfg, fr)
	r.recordStage("generate_paths", stageStart)
	if err != nil {
		return r.abort(err)
	}
	defer paths.Close()
	if r.Recorder != nil {
		r.Recorder.BankruptcyRate.Set(paths.BankruptcyRate)
	}

	stageStart = time.Now()
	summary, conditionalSummary, partial, err := r.scorePaths(cfg, paths)
	r.recordStage("score_paths", stageStart)
	if err != nil {
		return r.abort(err)
	}

	meta := &RunMetadata{
		RunID:              r.RunID,
		ConfigID:           ConfigID(cfg),
		Config:             cfg,
		Provenance:         r.Config.Provenance,
		FitRecord:          fr,
		Fingerprint:        fingerprint,
		Environment:        captureEnvironment(),
		DataReturns:        returns,
		PathStorage:        paths.Tier,
		ArtifactPaths:      []string{r.metaPath()},
		Summary:            summary,
		ConditionalSummary: conditionalSummary,
		Partial:            partial,
		CreatedAt:          time.Now(),
	}
	if err := r.writeMetadata(meta); err != nil {
		return nil, err
	}
	return meta, nil
}
