// Package indicator maintains incremental, causal technical indicators per
// symbol: EMA(9,21), RSI(14), ATR(14), a 20-bar volume SMA, and MACD.
// Every update consumes exactly one closed candle and never looks ahead.
package indicator

import "math"

const (
	emaShortPeriod = 9
	emaLongPeriod  = 21
	rsiPeriod      = 14
	atrPeriod      = 14
	volumeWindow   = 20
	macdFastPeriod = 12
	macdSlowPeriod = 26
	macdSigPeriod  = 9
)

// Phase tags whether a State has accumulated enough bars to emit values.
// Evaluators must check Phase before reading any field — this is the
// tagged Seeding/Ready variant called for in place of zero-valued,
// partially-initialized indicator fields.
type Phase int

const (
	Seeding Phase = iota
	Ready
)

// Snapshot is the read-only view an evaluator consumes. It is only
// meaningful when Phase == Ready.
type Snapshot struct {
	Phase     Phase
	EMAShort  float64
	EMALong   float64
	RSI       float64
	ATR       float64
	VolSMA    float64
	VolRatio  float64
	MACD      float64
	MACDSig   float64
	Close     float64
	Prev      float64
	BarsSeen  int
}

// State is the per-symbol incremental indicator machine. It is not safe
// for concurrent use; the symbol actor that owns it serializes updates.
type State struct {
	barsSeen int

	emaShort     float64
	emaShortInit bool
	emaLong      float64
	emaLongInit  bool

	avgGain float64
	avgLoss float64
	rsiInit bool
	prevClose float64
	haveClose bool

	atr     float64
	atrInit bool
	prevClosePx float64

	volWindow []float64

	emaFast     float64
	emaFastInit bool
	emaSlow     float64
	emaSlowInit bool
	macdSig     float64
	macdSigInit bool

	lastClose float64
	prevCloseForSnapshot float64
}

// New creates an empty indicator state seeded on the first Update call.
func New() *State {
	return &State{}
}

// Update folds in one newly closed bar (high, low, close, volume) and
// returns the resulting snapshot. Seeding uses a simple average over the
// first `period` bars per indicator before switching each series to its
// own smoothing.
func (s *State) Update(high, low, close, volume float64) Snapshot {
	s.barsSeen++

	s.updateEMA(&s.emaShort, &s.emaShortInit, close, emaShortPeriod)
	s.updateEMA(&s.emaLong, &s.emaLongInit, close, emaLongPeriod)
	s.updateEMA(&s.emaFast, &s.emaFastInit, close, macdFastPeriod)
	s.updateEMA(&s.emaSlow, &s.emaSlowInit, close, macdSlowPeriod)

	s.updateRSI(close)
	s.updateATR(high, low, close)
	s.updateVolume(volume)

	macd := s.emaFast - s.emaSlow
	s.updateEMA(&s.macdSig, &s.macdSigInit, macd, macdSigPeriod)

	s.prevCloseForSnapshot = s.lastClose
	s.lastClose = close

	snap := Snapshot{
		EMAShort: s.emaShort,
		EMALong:  s.emaLong,
		RSI:      s.rsi(),
		ATR:      s.atr,
		VolSMA:   s.volSMA(),
		MACD:     macd,
		MACDSig:  s.macdSig,
		Close:    close,
		Prev:     s.prevCloseForSnapshot,
		BarsSeen: s.barsSeen,
	}
	if snap.VolSMA > 0 {
		snap.VolRatio = volume / snap.VolSMA
	}
	if s.ready() {
		snap.Phase = Ready
	} else {
		snap.Phase = Seeding
	}
	return snap
}

func (s *State) ready() bool {
	return s.emaShortInit && s.emaLongInit && s.rsiInit && s.atrInit &&
		len(s.volWindow) >= volumeWindow && s.emaFastInit && s.emaSlowInit && s.macdSigInit
}

// updateEMA applies ema = (close-prev)*2/(p+1) + prev once seeded by a
// simple average of the first `period` values.
func (s *State) updateEMA(value *float64, init *bool, x float64, period int) {
	if !*init {
		// Seed with a running mean until `period` samples are in, then
		// switch to exponential smoothing.
		n := float64(s.barsSeen)
		if n <= float64(period) {
			*value = (*value*(n-1) + x) / n
		}
		if s.barsSeen >= period {
			*init = true
		}
		return
	}
	k := 2.0 / (float64(period) + 1)
	*value = (x-*value)*k + *value
}

func (s *State) updateRSI(close float64) {
	if !s.haveClose {
		s.prevClose = close
		s.haveClose = true
		return
	}
	delta := close - s.prevClose
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	if !s.rsiInit {
		s.avgGain += gain
		s.avgLoss += loss
		if s.barsSeen-1 >= rsiPeriod { // barsSeen-1 deltas accumulated so far
			s.avgGain /= rsiPeriod
			s.avgLoss /= rsiPeriod
			s.rsiInit = true
		}
	} else {
		s.avgGain = (s.avgGain*(rsiPeriod-1) + gain) / rsiPeriod
		s.avgLoss = (s.avgLoss*(rsiPeriod-1) + loss) / rsiPeriod
	}
	s.prevClose = close
}

func (s *State) rsi() float64 {
	if !s.rsiInit {
		return 50
	}
	if s.avgLoss == 0 {
		return 100
	}
	rs := s.avgGain / s.avgLoss
	return 100 - 100/(1+rs)
}

func (s *State) updateATR(high, low, close float64) {
	tr := high - low
	if s.atrInit || s.prevClosePx != 0 {
		tr = math.Max(high-low, math.Max(math.Abs(high-s.prevClosePx), math.Abs(low-s.prevClosePx)))
	}
	if !s.atrInit {
		s.atr += tr
		if s.barsSeen >= atrPeriod {
			s.atr /= atrPeriod
			s.atrInit = true
		}
	} else {
		s.atr = (s.atr*(atrPeriod-1) + tr) / atrPeriod
	}
	s.prevClosePx = close
}

func (s *State) updateVolume(volume float64) {
	s.volWindow = append(s.volWindow, volume)
	if len(s.volWindow) > volumeWindow {
		s.volWindow = s.volWindow[len(s.volWindow)-volumeWindow:]
	}
}

func (s *State) volSMA() float64 {
	if len(s.volWindow) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.volWindow {
		sum += v
	}
	return sum / float64(len(s.volWindow))
}
