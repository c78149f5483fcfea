package refinement

import (
	"math/rand"
	"testing"
)

func readyInput() Input {
	return Input{
		Close:           60100,
		Prev:            60050,
		EMAShort:        60080,
		EMALong:         59900,
		ATR:             300,
		RSI:             58,
		RSIRising:       true,
		VolRatio:        1.2,
		BarsSeen:        120,
		Holdings:        0,
		MinScore:        0.62,
		MinAtrPct:       0.0015,
		MaxAtrPct:       0.03,
		LastTradeUnixMs: 0,
		NowUnixMs:       1_700_000_000_000,
	}
}

func TestDecideHoldsOnInsufficientHistory(t *testing.T) {
	in := readyInput()
	in.BarsSeen = 49
	d := Decide(in)
	if d.Action != ActionHold {
		t.Fatalf("expected HOLD with too few bars, got %s", d.Action)
	}
	if d.Confidence != 0.2 {
		t.Fatalf("expected confidence 0.2, got %v", d.Confidence)
	}
}

func TestDecideSellsOnDowntrendWithHoldings(t *testing.T) {
	in := readyInput()
	in.EMAShort = 59000
	in.EMALong = 60000
	in.Close = 58900
	in.Holdings = 1
	d := Decide(in)
	if d.Regime != RegimeTrendingDown {
		t.Fatalf("expected TRENDING_DOWN, got %s", d.Regime)
	}
	if d.Action != ActionSell {
		t.Fatalf("expected SELL with holdings in a downtrend, got %s", d.Action)
	}
}

func TestDecideHoldsOnDowntrendWithoutHoldings(t *testing.T) {
	in := readyInput()
	in.EMAShort = 59000
	in.EMALong = 60000
	in.Close = 58900
	in.Holdings = 0
	if d := Decide(in); d.Action != ActionHold {
		t.Fatalf("expected HOLD without holdings, got %s", d.Action)
	}
}

func TestDecideBuyConfidenceFloor(t *testing.T) {
	// A low-score uptrend entry (after 14h idle the threshold has fully
	// relaxed) still carries at least 0.62 confidence.
	in := readyInput()
	in.MinScore = 0.5
	in.LastTradeUnixMs = in.NowUnixMs - 15*3_600_000
	d := Decide(in)
	if d.Action == ActionBuy && d.Confidence < 0.62 {
		t.Fatalf("BUY confidence below floor: %v", d.Confidence)
	}
}

func TestDecideConfidenceBounds(t *testing.T) {
	for _, in := range []Input{readyInput(), func() Input {
		i := readyInput()
		i.ATR = 5 // chop
		return i
	}(), func() Input {
		i := readyInput()
		i.ATR = 3000 // high volatility
		return i
	}()} {
		d := Decide(in)
		if d.Confidence < 0.1 || d.Confidence > 0.95 {
			t.Fatalf("confidence out of [0.1,0.95]: %v", d.Confidence)
		}
	}
}

func TestClassifyRegimeBands(t *testing.T) {
	cases := []struct {
		name     string
		atrPct   float64
		close    float64
		emaShort float64
		emaLong  float64
		want     Regime
	}{
		{"chop below band", 0.001, 100, 100, 100, RegimeChop},
		{"high vol above band", 0.05, 100, 100, 100, RegimeHighVolatility},
		{"trending up", 0.01, 101, 100.5, 100, RegimeTrendingUp},
		{"trending down", 0.01, 99, 99.5, 100, RegimeTrendingDown},
		{"ranging in between", 0.01, 100, 100.05, 100, RegimeRanging},
	}
	for _, tc := range cases {
		if got := ClassifyRegime(tc.atrPct, tc.close, tc.emaShort, tc.emaLong, 0.0015, 0.03); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestSetupScoreStaysInUnitInterval(t *testing.T) {
	extremes := []SetupScoreInputs{
		{Close: 1e9, Prev: 1, EMAShort: 0, RSI: 100, RSIRising: true, VolRatio: 100, Regime: RegimeTrendingUp},
		{Close: 1, Prev: 1e9, EMAShort: 1e9, RSI: 0, VolRatio: 0, Regime: RegimeChop},
	}
	for _, in := range extremes {
		s := SetupScore(in)
		if s < 0 || s > 1 {
			t.Fatalf("score out of [0,1]: %v for %+v", s, in)
		}
	}
}

func TestStabilityAuditIsDeterministic(t *testing.T) {
	stable, maxDelta := StabilityAudit(readyInput())
	if !stable {
		t.Fatalf("expected deterministic decide, max confidence delta %v", maxDelta)
	}
	if maxDelta >= 1e-12 {
		t.Fatalf("confidence drift too large: %v", maxDelta)
	}
}

func TestRobustnessAuditAgreesOnMostTrials(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	perturbations := make([]float64, 20)
	for i := range perturbations {
		perturbations[i] = (rng.Float64()*2 - 1) * 0.001
	}
	agree, total := RobustnessAudit(readyInput(), perturbations)
	if total != 20 {
		t.Fatalf("expected 20 trials, got %d", total)
	}
	if agree < 12 {
		t.Fatalf("expected agreement on >=12/20 trials, got %d", agree)
	}
}

func TestRelaxMinScoreSchedule(t *testing.T) {
	now := int64(1_700_000_000_000)
	base := 0.7

	if got := relaxMinScore(base, now-3_600_000, now); got != base {
		t.Fatalf("no relaxation expected under 2h idle, got %v", got)
	}
	fully := relaxMinScore(base, now-15*3_600_000, now)
	if got := base - fully; got < 0.079 || got > 0.081 {
		t.Fatalf("expected full 0.08 relaxation after 14h, got delta %v", got)
	}
	half := relaxMinScore(base, now-8*3_600_000, now)
	if half >= base || half <= fully {
		t.Fatalf("expected partial relaxation between %v and %v, got %v", fully, base, half)
	}
}
