package orchestrator

import (
	"context"
	"time"

	"qscenario/internal/config"
	"qscenario/internal/selector"
)

// selectorFromConfig builds a Selector from RunConfig.Selector, falling
// back to the built-in default (spec section 4.5's default rule) when the
// config leaves it unset.
func selectorFromConfig(cfg *config.RunConfig) selector.Selector {
	horizon := 5
	if cfg.Selector != nil && cfg.Selector.Horizon > 0 {
		horizon = cfg.Selector.Horizon
	}
	s := selector.DefaultSelector(horizon)
	if cfg.Selector == nil {
		return s
	}
	if cfg.Selector.Name != "" {
		s.Name = cfg.Selector.Name
	}
	if cfg.Selector.MinEpisodes > 0 {
		s.MinEpisodes = cfg.Selector.MinEpisodes
	}
	return s
}

func selectorTopN(cfg *config.RunConfig) int {
	if cfg.Selector == nil {
		return 0
	}
	return cfg.Selector.TopN
}

// Screen runs C5 alone: load data, fingerprint it, select candidate
// episodes, and emit RunMetadata carrying the episode list (spec section
// 4.7: the `screen` command is "C5 only").
func (r *Run) Screen(ctx context.Context) (*RunMetadata, error) {
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
	episodes, warnings := sel.Select(bars)
	episodes = selector.ClipTopN(episodes, selectorTopN(cfg))

	meta := &RunMetadata{
		RunID:         r.RunID,
		ConfigID:      ConfigID(cfg),
		Config:        cfg,
		Provenance:    r.Config.Provenance,
		Fingerprint:   fingerprint,
		Environment:   captureEnvironment(),
		Screen:        &ScreenResult{Episodes: episodes, Warnings: warnings},
		ArtifactPaths: []string{r.metaPath()},
		Warnings:      warnings,
		CreatedAt:     time.Now(),
	}
	if err := r.writeMetadata(meta); err != nil {
		return nil, err
	}
	return meta, nil
}
