// Package strategy implements C4: the strategy interface/registry, the
// signal/feature contract, and position sizing. Registry pattern follows
// the teacher's strategy SDK + template registration idiom, generalized
// from a live-trading event interface to the scenario engine's
// step-aligned signal contract.
package strategy

import (
	"qscenario/internal/pricer"
	"qscenario/internal/qerrors"
)

// Kind is the closed set a strategy is keyed by, alongside its name.
type Kind string

const (
	KindStock  Kind = "stock"
	KindOption Kind = "option"
)

// Features maps a feature name to its step-aligned series.
type Features map[string][]float64

// Params are the strategy's numeric hyperparameters.
type Params map[string]float64

// StrategySignals is the output contract: signals aligned to the step
// axis of prices, so Positions[t] is the position held from step t to
// step t+1 (spec section 4.4).
type StrategySignals struct {
	Positions     []float64
	FeaturesUsed  []string
	ExerciseFlags []bool // only meaningful for option strategies
}

// PositionState is the minimal state an option strategy's early-exercise
// check needs.
type PositionState struct {
	Step          int
	Underlying    float64
	Strike        float64
	Type          pricer.OptionType
	DaysToExpiry  int
	UnrealizedPnL float64
}

// Strategy is implemented by every registered strategy.
type Strategy interface {
	Name() string
	Kind() Kind
	RequiredFeatures() []string
	OptionalFeatures() []string
	GenerateSignals(prices []float64, features Features, params Params, optSpec *pricer.OptionSpec) (*StrategySignals, error)
	CheckEarlyExercise(state PositionState) bool
}

type registryKey struct {
	name string
	kind Kind
}

var registry = map[registryKey]Strategy{}

// Register adds a strategy to the process-wide registry, keyed by
// (name, kind). Called from each strategy's init().
func Register(s Strategy) {
	registry[registryKey{s.Name(), s.Kind()}] = s
}

// Get looks up a strategy by (name, kind).
func Get(name string, kind Kind) (Strategy, error) {
	s, ok := registry[registryKey{name, kind}]
	if !ok {
		return nil, qerrors.New(qerrors.KindConfig, qerrors.SubNone, "unknown strategy").
			WithField("strategy", name+"/"+string(kind), "a registered (name, kind) pair", "check strategy_params.name and .kind in config")
	}
	return s, nil
}

// ValidateFeatures checks the feature contract (spec section 4.4):
// features_used must be a subset of keys present in features; a missing
// required feature is fatal, a missing optional feature produces a
// warning and the caller proceeds with defaults.
func ValidateFeatures(required, optional []string, features Features) (warnings []string, err error) {
	for _, name := range required {
		if _, ok := features[name]; !ok {
			return nil, qerrors.New(qerrors.KindMissingFeature, qerrors.SubNone, "required feature missing").
				WithField("feature", name, "present in features map", "compute and supply the feature, or choose a strategy that doesn't need it")
		}
	}
	for _, name := range optional {
		if _, ok := features[name]; !ok {
			warnings = append(warnings, "optional feature \""+name+"\" missing, proceeding with default")
		}
	}
	return warnings, nil
}

// validateOptionSpec enforces "option signals without an option_spec fail
// validation" (spec section 4.4).
func validateOptionSpec(kind Kind, optSpec *pricer.OptionSpec) error {
	if kind == KindOption && optSpec == nil {
		return qerrors.New(qerrors.KindConfig, qerrors.SubNone, "option strategy requires an option_spec").
			WithField("option_spec", nil, "non-nil for kind=option", "set option_spec in RunConfig")
	}
	return nil
}
