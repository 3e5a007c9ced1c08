package strategy

import (
	"testing"

	"qscenario/internal/pricer"
)

func TestGetKnownStrategies(t *testing.T) {
	if _, err := Get("dual_sma", KindStock); err != nil {
		t.Fatal(err)
	}
	if _, err := Get("covered_call", KindOption); err != nil {
		t.Fatal(err)
	}
}

func TestGetUnknownStrategy(t *testing.T) {
	if _, err := Get("nonexistent", KindStock); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestDualSMAProducesPositionsInUptrend(t *testing.T) {
	s, _ := Get("dual_sma", KindStock)
	prices := make([]float64, 50)
	for i := range prices {
		prices[i] = 100 + float64(i)*0.1
	}
	sig, err := s.GenerateSignals(prices, Features{}, Params{"fast": 5, "slow": 20}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig.Positions) != len(prices) {
		t.Fatalf("expected %d positions, got %d", len(prices), len(sig.Positions))
	}
	// uptrend should eventually produce a long position once the slow SMA fills
	nonZero := false
	for _, p := range sig.Positions {
		if p != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Error("expected at least one non-zero position in a clear uptrend")
	}
}

func TestDualSMARejectsFastNotLessThanSlow(t *testing.T) {
	s, _ := Get("dual_sma", KindStock)
	prices := make([]float64, 10)
	_, err := s.GenerateSignals(prices, Features{}, Params{"fast": 30, "slow": 10}, nil)
	if err == nil {
		t.Fatal("expected error when fast >= slow")
	}
}

func TestCoveredCallRequiresOptionSpec(t *testing.T) {
	s, _ := Get("covered_call", KindOption)
	prices := []float64{100, 101, 102}
	if _, err := s.GenerateSignals(prices, Features{}, Params{}, nil); err == nil {
		t.Fatal("expected error: option strategy requires option_spec")
	}
}

func TestCoveredCallExerciseNearExpiryITM(t *testing.T) {
	s, _ := Get("covered_call", KindOption)
	spec := &pricer.OptionSpec{Type: pricer.Call, Strike: 100, MaturityYears: 30.0 / 365}
	prices := []float64{100, 105, 110}
	sig, err := s.GenerateSignals(prices, Features{}, Params{}, spec)
	if err != nil {
		t.Fatal(err)
	}
	if !sig.ExerciseFlags[len(sig.ExerciseFlags)-1] {
		t.Error("expected exercise flag true at final ITM step near expiry")
	}
}

func TestValidateFeaturesMissingRequired(t *testing.T) {
	_, err := ValidateFeatures([]string{"volume_z"}, nil, Features{})
	if err == nil {
		t.Fatal("expected MissingFeatureError")
	}
}

func TestValidateFeaturesMissingOptionalWarns(t *testing.T) {
	warnings, err := ValidateFeatures(nil, []string{"volatility"}, Features{})
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(warnings))
	}
}
