// Package refinement implements the Refinement Engine: regime
// classification, the weighted setup score, BUY/SELL/HOLD decisioning,
// and the periodic strategy-parameter refinement cycle with walk-forward
// validation.
package refinement

// Regime is the coarse market-state label driving entry eligibility.
type Regime string

const (
	RegimeTrendingUp      Regime = "TRENDING_UP"
	RegimeTrendingDown    Regime = "TRENDING_DOWN"
	RegimeRanging         Regime = "RANGING"
	RegimeChop            Regime = "CHOP"
	RegimeHighVolatility  Regime = "HIGH_VOLATILITY"
)

// ClassifyRegime labels the current market state from ATR% and the
// short/long EMA gap: volatility bands first, then trend direction.
func ClassifyRegime(atrPct, close, emaShort, emaLong, minAtrPct, maxAtrPct float64) Regime {
	if atrPct < minAtrPct {
		return RegimeChop
	}
	if atrPct > 1.2*maxAtrPct {
		return RegimeHighVolatility
	}
	if close == 0 {
		return RegimeRanging
	}
	trendGap := (emaShort - emaLong) / close
	switch {
	case trendGap > 0.0015 && close >= emaShort:
		return RegimeTrendingUp
	case trendGap < -0.0015 && close <= emaShort:
		return RegimeTrendingDown
	default:
		return RegimeRanging
	}
}
