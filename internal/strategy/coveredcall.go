package strategy

import (
	"qscenario/internal/pricer"
)

// coveredCallOption is the built-in option strategy: hold the underlying
// and write (sell) a call against it. The stock leg stays fully invested;
// the written call is modeled through CheckEarlyExercise, which flags
// in-the-money assignment near expiry.
type coveredCallOption struct{}

func init() { Register(coveredCallOption{}) }

func (coveredCallOption) Name() string              { return "covered_call" }
func (coveredCallOption) Kind() Kind                 { return KindOption }
func (coveredCallOption) RequiredFeatures() []string { return nil }
func (coveredCallOption) OptionalFeatures() []string { return nil }

func (c coveredCallOption) GenerateSignals(prices []float64, features Features, params Params, optSpec *pricer.OptionSpec) (*StrategySignals, error) {
	if err := validateOptionSpec(c.Kind(), optSpec); err != nil {
		return nil, err
	}

	stockFraction := params["stock_fraction"]
	if stockFraction == 0 {
		stockFraction = 1.0
	}

	n := len(prices)
	totalDays := int(optSpec.MaturityYears * 365)
	positions := make([]float64, n)
	exercise := make([]bool, n)
	for t := 0; t < n; t++ {
		positions[t] = stockFraction

		stepsRemaining := n - 1 - t
		daysToExpiry := totalDays
		if n > 1 {
			daysToExpiry = totalDays * stepsRemaining / (n - 1)
		}
		state := PositionState{
			Step:         t,
			Underlying:   prices[t],
			Strike:       optSpec.Strike,
			Type:         pricer.Call,
			DaysToExpiry: daysToExpiry,
		}
		exercise[t] = c.CheckEarlyExercise(state)
	}

	return &StrategySignals{Positions: positions, ExerciseFlags: exercise}, nil
}

// CheckEarlyExercise assigns the written call (exercised against us) once
// it is in-the-money with one day or less remaining to expiry.
func (coveredCallOption) CheckEarlyExercise(state PositionState) bool {
	return state.DaysToExpiry <= 1 && state.Underlying > state.Strike
}
