package databar

import (
	"testing"
	"time"
)

func mkBars(n int, start time.Time, interval time.Duration, close0 float64) []Bar {
	bars := make([]Bar, n)
	c := close0
	for i := 0; i < n; i++ {
		bars[i] = Bar{Timestamp: start.Add(time.Duration(i) * interval), Open: c, High: c * 1.01, Low: c * 0.99, Close: c, Volume: 1000}
		c *= 1.001
	}
	return bars
}

func TestNewDetectsNonMonotonic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := mkBars(3, start, time.Hour, 100)
	bars[2].Timestamp = bars[0].Timestamp // duplicate -> non-monotonic after sort
	if _, err := New("TEST", time.Hour, bars); err == nil {
		t.Fatal("expected error for non-monotonic timestamps")
	}
}

func TestNewFlagsGaps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := mkBars(3, start, time.Hour, 100)
	bars[2].Timestamp = bars[1].Timestamp.Add(5 * time.Hour) // > 3x interval
	db, err := New("TEST", time.Hour, bars)
	if err != nil {
		t.Fatal(err)
	}
	if !db.GapFlags[2] {
		t.Error("expected gap flag at index 2")
	}
}

func TestFingerprintStability(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := mkBars(10, start, time.Hour, 100)
	db, err := New("TEST", time.Hour, bars)
	if err != nil {
		t.Fatal(err)
	}
	fp1 := db.ComputeFingerprint()
	fp2 := db.ComputeFingerprint()
	if fp1.ContentHash != fp2.ContentHash {
		t.Error("fingerprint should be stable across recomputation")
	}

	bars2 := mkBars(10, start, time.Hour, 100)
	bars2[5].Close += 1.0
	db2, _ := New("TEST", time.Hour, bars2)
	fp3 := db2.ComputeFingerprint()
	if fp3.ContentHash == fp1.ContentHash {
		t.Error("fingerprint should change when content changes")
	}
}

func TestDetectDriftCount(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orig, _ := New("TEST", time.Hour, mkBars(1000, start, time.Hour, 100))
	fp := orig.ComputeFingerprint()
	returns := orig.LogReturns()

	cur, _ := New("TEST", time.Hour, mkBars(1200, start, time.Hour, 100))
	reports := DetectDrift(fp, cur, returns, false)
	found := false
	for _, r := range reports {
		if r.Class == DriftCount && r.Fatal {
			found = true
		}
	}
	if !found {
		t.Error("expected fatal count drift for a 20% row count change")
	}

	reportsOverride := DetectDrift(fp, cur, returns, true)
	for _, r := range reportsOverride {
		if r.Class == DriftCount && r.Fatal {
			t.Error("override should downgrade count drift to non-fatal")
		}
	}
}
