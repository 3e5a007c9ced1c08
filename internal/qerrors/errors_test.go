package qerrors

import "testing"

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{New(KindConfig, SubNone, "bad config"), 2},
		{New(KindMissingFeature, SubNone, "missing feature"), 2},
		{New(KindData, SubNone, "bad data"), 3},
		{New(KindDrift, SubSchemaDrift, "schema drift"), 3},
		{New(KindResourceLimit, SubNone, "oom"), 4},
		{New(KindFit, SubNonConvergence, "no converge"), 5},
		{New(KindNumeric, SubBankruptcy, "bankrupt"), 5},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Errorf("ExitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestTagFormatting(t *testing.T) {
	e := New(KindFit, SubImplausibleParams, "df too low")
	if got := e.Tag(); got != "FitError:ImplausibleParams" {
		t.Errorf("Tag() = %q", got)
	}
	e2 := New(KindResourceLimit, SubNone, "over budget")
	if got := e2.Tag(); got != "ResourceLimitError" {
		t.Errorf("Tag() = %q", got)
	}
}

func TestWithFieldRoundTrip(t *testing.T) {
	e := New(KindConfig, SubNone, "n_paths invalid").
		WithField("n_paths", -1, "n_paths > 0", "set n_paths to a positive integer")
	if e.Field != "n_paths" || e.Constraint != "n_paths > 0" {
		t.Errorf("WithField did not populate expected fields: %+v", e)
	}
}
