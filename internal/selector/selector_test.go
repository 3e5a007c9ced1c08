package selector

import (
	"testing"
	"time"

	"qscenario/internal/databar"
)

func syntheticBars(n int) *databar.DataBars {
	bars := make([]databar.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		ts := time.Unix(int64(i)*86400, 0)
		open := price
		if i%17 == 0 {
			open *= 1.05 // occasional large overnight gap
		}
		high := open * 1.01
		low := open * 0.99
		vol := 1000.0
		if i%23 == 0 {
			vol *= 5 // occasional volume spike
		}
		bars[i] = databar.Bar{Timestamp: ts, Open: open, High: high, Low: low, Close: open * 1.002, Volume: vol}
		price = bars[i].Close
	}
	db, err := databar.New("TEST", 24*time.Hour, bars)
	if err != nil {
		panic(err)
	}
	return db
}

func TestDefaultSelectorProducesEpisodes(t *testing.T) {
	bars := syntheticBars(200)
	s := DefaultSelector(5)
	episodes, _ := s.Select(bars)
	if len(episodes) == 0 {
		t.Fatal("expected at least one candidate episode")
	}
	for i, ep := range episodes {
		if ep.StartIndex < s.MinLookback {
			t.Errorf("episode %d references index before min_lookback: %d", i, ep.StartIndex)
		}
		if len(ep.Returns) == 0 {
			t.Errorf("episode %d has no horizon returns", i)
		}
	}
}

func TestSelectSortsByScoreDescending(t *testing.T) {
	bars := syntheticBars(200)
	s := DefaultSelector(5)
	episodes, _ := s.Select(bars)
	for i := 1; i < len(episodes); i++ {
		if episodes[i].Score > episodes[i-1].Score {
			t.Fatalf("episodes not sorted descending at index %d: %f > %f", i, episodes[i].Score, episodes[i-1].Score)
		}
	}
}

func TestSparsityWarning(t *testing.T) {
	bars := syntheticBars(40) // too few bars for 30 episodes given horizon+lookback
	s := DefaultSelector(5)
	_, warnings := s.Select(bars)
	if len(warnings) == 0 {
		t.Error("expected sparsity warning for small bar set")
	}
}

func TestClipTopN(t *testing.T) {
	bars := syntheticBars(200)
	s := DefaultSelector(5)
	episodes, _ := s.Select(bars)
	clipped := ClipTopN(episodes, 3)
	if len(clipped) != 3 {
		t.Fatalf("expected 3 episodes, got %d", len(clipped))
	}
	if clipped[0].Score < clipped[1].Score || clipped[1].Score < clipped[2].Score {
		t.Error("clipped episodes should remain score-descending")
	}
}

func TestClipTopNNoopWhenNonPositiveOrLarge(t *testing.T) {
	bars := syntheticBars(200)
	s := DefaultSelector(5)
	episodes, _ := s.Select(bars)
	if len(ClipTopN(episodes, 0)) != len(episodes) {
		t.Error("n<=0 should return all episodes")
	}
	if len(ClipTopN(episodes, len(episodes)+100)) != len(episodes) {
		t.Error("n beyond length should return all episodes")
	}
}

func TestStateFeaturesCarryDeclaredContract(t *testing.T) {
	bars := syntheticBars(200)
	s := DefaultSelector(5)
	episodes, _ := s.Select(bars)
	for _, ep := range episodes {
		// gap and volume_z use nothing later than StartIndex's open; this
		// test only asserts presence of the declared feature contract.
		if _, ok := ep.StateFeatures["gap"]; !ok {
			t.Error("missing gap feature")
		}
		if _, ok := ep.StateFeatures["volume_z"]; !ok {
			t.Error("missing volume_z feature")
		}
	}
}
