package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"qscenario/internal/databar"
	"qscenario/internal/qerrors"
)

// driftSub maps a databar.DriftClass to the qerrors sub-kind a fatal
// instance of it should carry.
func driftSub(class databar.DriftClass) qerrors.SubKind {
	switch class {
	case databar.DriftSchema:
		return qerrors.SubSchemaDrift
	case databar.DriftCount:
		return qerrors.SubCountDrift
	case databar.DriftDistribution:
		return qerrors.SubDistributionDrift
	default:
		return qerrors.SubNone
	}
}

// LoadRunMetadata reads and parses a run_meta.json artifact written by any
// command's writeMetadata, used by `replay` to rehydrate a prior run and
// by a resumed grid (C8) to restore a previously-completed config's
// metadata into its ranking set.
func LoadRunMetadata(path string) (*RunMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindData, qerrors.SubNone, "cannot read prior run metadata", err).
			WithField("from", path, "existing run_meta.json path", "check --from")
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, qerrors.Wrap(qerrors.KindData, qerrors.SubNone, "cannot parse prior run metadata", err).
			WithField("from", path, "valid run_meta.json", "check --from")
	}
	return &meta, nil
}

// Replay regenerates a prior run's paths and metrics, recomputing the
// data fingerprint against current historical data and detecting drift
// against the value recorded at the original run (spec section 4.7's
// `replay` command). Schema drift, count drift beyond 10% and
// distribution drift beyond 20% are each fatal unless cfg.DriftOverride
// downgrades them to warnings.
func (r *Run) Replay(ctx context.Context, fromPath string) (*RunMetadata, error) {
	prior, err := LoadRunMetadata(fromPath)
	if err != nil {
		return r.abort(err)
	}

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

	reports := databar.DetectDrift(prior.Fingerprint, bars, prior.DataReturns, cfg.DriftOverride)
	var notes []string
	for _, rep := range reports {
		note := fmt.Sprintf("%s drift: %s", rep.Class, rep.Detail)
		notes = append(notes, note)
		if rep.Fatal {
			return r.abort(qerrors.New(qerrors.KindDrift, driftSub(rep.Class), "data drift detected during replay").
				WithField("drift_class", rep.Class, "no fatal drift, or --set drift_override=true", "inspect the data source for the noted change"))
		}
	}

	stageStart = time.Now()
	paths, err := r.generatePaths(prior.Config, prior.FitRecord)
	r.recordStage("generate_paths", stageStart)
	if err != nil {
		return r.abort(err)
	}
	defer paths.Close()

	stageStart = time.Now()
	summary, conditionalSummary, partial, err := r.scorePaths(prior.Config, paths)
	r.recordStage("score_paths", stageStart)
	if err != nil {
		return r.abort(err)
	}

	meta := &RunMetadata{
		RunID:              r.RunID,
		ConfigID:           ConfigID(prior.Config),
		Config:             prior.Config,
		Provenance:         prior.Provenance,
		FitRecord:          prior.FitRecord,
		Fingerprint:        bars.ComputeFingerprint(),
		Environment:        captureEnvironment(),
		DataReturns:        bars.LogReturns(),
		PathStorage:        paths.Tier,
		ArtifactPaths:      []string{r.metaPath()},
		Summary:            summary,
		ConditionalSummary: conditionalSummary,
		ReplayOf:           prior.RunID,
		DriftNotes:         notes,
		Partial:            partial,
		CreatedAt:          time.Now(),
	}
	if err := r.writeMetadata(meta); err != nil {
		return nil, err
	}
	return meta, nil
}
