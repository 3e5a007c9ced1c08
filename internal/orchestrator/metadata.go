package orchestrator

import (
	"time"

	"qscenario/internal/conditional"
	"qscenario/internal/config"
	"qscenario/internal/databar"
	"qscenario/internal/distribution"
	"qscenario/internal/metrics"
	"qscenario/internal/pathgen"
	"qscenario/internal/repro"
	"qscenario/internal/selector"
)

// RunMetadata is the reproducibility envelope (C9) composed at the end of
// every command: the resolved config with precedence annotations, the
// distribution fit record, the data fingerprint, the environment snapshot,
// and whatever command-specific result the DAG produced. Deliberately
// lives here rather than in internal/repro: repro must stay free of
// domain types (distribution/pathgen/conditional all import it), so the
// composition happens at the one layer that already depends on everything.
type RunMetadata struct {
	RunID    string
	ConfigID string

	Config     *config.RunConfig
	Provenance []config.FieldProvenance

	FitRecord   *distribution.FitRecord `json:",omitempty"`
	Fingerprint databar.Fingerprint
	Environment repro.Environment

	// DataReturns is the log-return series the fit/fingerprint were
	// computed against, kept so a later `replay` can run distribution
	// drift detection against the dataset as it stood at this run.
	DataReturns []float64 `json:",omitempty"`

	// PathStorage is the storage tier C2 selected for the generated path
	// set ("memory" | "memmap" | "compressed"), spec section 3's
	// `path_storage` RunMetadata attribute.
	PathStorage pathgen.Tier `json:",omitempty"`

	// ArtifactPaths lists every file this run wrote under its run
	// directory, spec section 3's `artifact_paths` RunMetadata attribute.
	ArtifactPaths []string `json:",omitempty"`

	Summary            metrics.Summary
	ConditionalSummary *metrics.Summary `json:",omitempty"`

	Screen      *ScreenResult         `json:",omitempty"`
	Conditional *ConditionalRunResult `json:",omitempty"`
	ReplayOf    string                `json:",omitempty"`
	DriftNotes  []string              `json:",omitempty"`

	Warnings   []string
	Incomplete bool
	Partial    bool
	CreatedAt  time.Time
}

// ScreenResult is the `screen` command's output: the candidate episodes
// C5 selected, and any sparsity warnings.
type ScreenResult struct {
	Episodes []selector.CandidateEpisode
	Warnings []string
}

// ConditionalRunResult records what `conditional_sample` actually did
// (spec section 4.6), independent of the price paths themselves.
type ConditionalRunResult struct {
	Method       conditional.Method
	MatchCount   int
	Fallback     bool
	FallbackNote string
	TargetState  map[string]float64
}
