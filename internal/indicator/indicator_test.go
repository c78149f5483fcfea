package indicator

import (
	"math"
	"testing"
)

func feed(s *State, closes []float64) Snapshot {
	var snap Snapshot
	for _, c := range closes {
		snap = s.Update(c+1, c-1, c, 100)
	}
	return snap
}

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestPhaseSeedsUntilWindowsFill(t *testing.T) {
	s := New()
	snap := feed(s, rising(10, 100, 1))
	if snap.Phase != Seeding {
		t.Fatal("expected Seeding with only 10 bars")
	}
	snap = feed(s, rising(40, 110, 1))
	if snap.Phase != Ready {
		t.Fatal("expected Ready after 50 bars")
	}
}

func TestEMATracksRisingSeries(t *testing.T) {
	s := New()
	snap := feed(s, rising(60, 100, 1))
	if snap.EMAShort <= snap.EMALong {
		t.Fatalf("short EMA should lead in an uptrend: short=%v long=%v", snap.EMAShort, snap.EMALong)
	}
	if snap.EMAShort >= snap.Close {
		t.Fatalf("EMA must trail the rising close: ema=%v close=%v", snap.EMAShort, snap.Close)
	}
}

func TestRSIHighOnMonotonicGains(t *testing.T) {
	s := New()
	snap := feed(s, rising(60, 100, 1))
	if snap.RSI < 90 {
		t.Fatalf("expected RSI near 100 on all-gain series, got %v", snap.RSI)
	}
}

func TestRSIMidOnAlternatingSeries(t *testing.T) {
	s := New()
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 101
		}
	}
	snap := feed(s, closes)
	if snap.RSI < 30 || snap.RSI > 70 {
		t.Fatalf("expected mid-range RSI on alternating series, got %v", snap.RSI)
	}
}

func TestATRPositiveAndStable(t *testing.T) {
	s := New()
	snap := feed(s, rising(60, 100, 1))
	// True range is ~2-3 per bar (high-low = 2, close step = 1).
	if snap.ATR <= 0 || snap.ATR > 5 {
		t.Fatalf("ATR out of expected band: %v", snap.ATR)
	}
}

func TestVolumeRatioAgainstSMA(t *testing.T) {
	s := New()
	for i := 0; i < 59; i++ {
		s.Update(101, 99, 100, 100)
	}
	snap := s.Update(101, 99, 100, 200) // double the recent average
	if snap.VolRatio < 1.5 {
		t.Fatalf("expected elevated volume ratio, got %v", snap.VolRatio)
	}
}

func TestMACDSignOnTrend(t *testing.T) {
	s := New()
	snap := feed(s, rising(80, 100, 1))
	if snap.MACD <= 0 {
		t.Fatalf("expected positive MACD in an uptrend, got %v", snap.MACD)
	}
}

func TestUpdateIsCausal(t *testing.T) {
	// Identical prefixes must produce identical snapshots regardless of
	// what comes after.
	a, b := New(), New()
	prefix := rising(55, 100, 1)
	snapA := feed(a, prefix)
	snapB := feed(b, prefix)
	feed(b, rising(20, 200, -5))
	if math.Abs(snapA.EMAShort-snapB.EMAShort) > 1e-12 || snapA.RSI != snapB.RSI {
		t.Fatal("snapshot depends on future bars")
	}
}
