package refinement

import (
	"math"
	"time"
)

// Action is the discrete trading decision emitted per evaluation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

const minBarsRequired = 50

// Decision is the {action, confidence, regime, reasons} tuple produced by
// one evaluation tick.
type Decision struct {
	Action     Action
	Confidence float64
	Regime     Regime
	Reasons    []string
}

// Input bundles the indicator snapshot and strategy parameters a single
// Decide call needs. All fields are read-only; Decide is a pure function
// of Input.
type Input struct {
	Close, Prev        float64
	EMAShort, EMALong  float64
	ATR                float64
	RSI                float64
	RSIRising          bool
	VolRatio           float64
	BarsSeen           int
	Holdings           float64
	MinScore           float64
	MinAtrPct          float64
	MaxAtrPct          float64
	LastTradeUnixMs    int64
	NowUnixMs          int64
}

// regimePenalty shaves confidence in regimes that are structurally less
// reliable than a clean uptrend; TRENDING_UP carries no penalty.
func regimePenalty(r Regime) float64 {
	switch r {
	case RegimeTrendingUp:
		return 0
	case RegimeRanging:
		return 0.08
	case RegimeTrendingDown:
		return 0.12
	case RegimeHighVolatility:
		return 0.18
	default: // CHOP
		return 0.15
	}
}

// Decide maps an indicator snapshot to a BUY/SELL/HOLD decision. It is a
// pure function of its Input — nothing outside Input is consulted, which
// is what makes the stability and robustness audits meaningful.
func Decide(in Input) Decision {
	if in.BarsSeen < minBarsRequired {
		return Decision{Action: ActionHold, Confidence: 0.2, Regime: RegimeChop, Reasons: []string{"insufficient history"}}
	}
	if in.Close <= 0 {
		return Decision{Action: ActionHold, Confidence: 0.2, Reasons: []string{"invalid close"}}
	}

	atrPct := in.ATR / in.Close
	regime := ClassifyRegime(atrPct, in.Close, in.EMAShort, in.EMALong, in.MinAtrPct, in.MaxAtrPct)

	score := SetupScore(SetupScoreInputs{
		Close:     in.Close,
		Prev:      in.Prev,
		EMAShort:  in.EMAShort,
		RSI:       in.RSI,
		RSIRising: in.RSIRising,
		VolRatio:  in.VolRatio,
		Regime:    regime,
	})

	effectiveMinScore := relaxMinScore(in.MinScore, in.LastTradeUnixMs, in.NowUnixMs)
	idleHours := idleHours(in.LastTradeUnixMs, in.NowUnixMs)

	reasons := []string{string(regime)}
	var action Action

	switch {
	case regime == RegimeTrendingUp && score >= effectiveMinScore:
		action = ActionBuy
		reasons = append(reasons, "trending_up setup")
	case regime == RegimeRanging && score >= effectiveMinScore+rangingBuffer(idleHours) &&
		rsiRecoveryScore(SetupScoreInputs{RSI: in.RSI, RSIRising: in.RSIRising}) >= 0.55 &&
		momentumScore(SetupScoreInputs{Close: in.Close, Prev: in.Prev}) >= 0.5:
		action = ActionBuy
		reasons = append(reasons, "ranging setup")
	case (regime == RegimeTrendingDown || regime == RegimeHighVolatility) && in.Holdings > 0:
		action = ActionSell
		reasons = append(reasons, "exit signal")
	default:
		action = ActionHold
	}

	confidence := clampF(0.35+0.55*score-regimePenalty(regime), 0.1, 0.95)
	if action == ActionBuy && confidence < 0.62 {
		confidence = 0.62
	}

	return Decision{Action: action, Confidence: confidence, Regime: regime, Reasons: reasons}
}

// relaxMinScore: after 2h idle, minScore relaxes linearly by up to 0.08
// over the next 12h.
func relaxMinScore(minScore float64, lastTradeUnixMs, nowUnixMs int64) float64 {
	idle := idleHours(lastTradeUnixMs, nowUnixMs)
	if idle < 2 {
		return minScore
	}
	progress := math.Min((idle-2)/12, 1)
	return minScore - 0.08*progress
}

// rangingBuffer: the inactivity relax composes first (already applied to
// effectiveMinScore above), then this buffer narrows from 0.04 to 0.01
// once idle exceeds 6h.
func rangingBuffer(idle float64) float64 {
	if idle >= 6 {
		return 0.01
	}
	return 0.04
}

func idleHours(lastTradeUnixMs, nowUnixMs int64) float64 {
	if lastTradeUnixMs == 0 {
		return math.Inf(1)
	}
	d := time.Duration(nowUnixMs-lastTradeUnixMs) * time.Millisecond
	return d.Hours()
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
