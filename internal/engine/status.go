package engine

// Status is the process-wide EngineStatus singleton: heartbeat, counters
// and the two runtime-tunable settings. Counters preserve
// tradesExecuted <= signals <= evaluations.
type Status struct {
	Running             bool    `json:"running"`
	LastHeartbeat       int64   `json:"lastHeartbeat"`
	Evaluations         int64   `json:"evaluations"`
	Signals             int64   `json:"signals"`
	TradesExecuted      int64   `json:"tradesExecuted"`
	OpenPositions       int     `json:"openPositions"`
	AutoPaper           bool    `json:"autoPaper"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
}

// StatusSnapshot returns a copy of the current status.
func (e *Engine) StatusSnapshot() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	s := e.status
	s.OpenPositions = e.openPositionCount()
	return s
}

// UpdateSettings applies the runtime-tunable settings. A nil field
// leaves the current value untouched.
func (e *Engine) UpdateSettings(confidenceThreshold *float64, autoPaper *bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if confidenceThreshold != nil {
		e.status.ConfidenceThreshold = *confidenceThreshold
	}
	if autoPaper != nil {
		e.status.AutoPaper = *autoPaper
	}
}

func (e *Engine) settings() (confidenceThreshold float64, autoPaper bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status.ConfidenceThreshold, e.status.AutoPaper
}

func (e *Engine) heartbeat() {
	e.statusMu.Lock()
	e.status.LastHeartbeat = e.now().UnixMilli()
	e.statusMu.Unlock()
}

func (e *Engine) countEvaluation() {
	e.statusMu.Lock()
	e.status.Evaluations++
	e.statusMu.Unlock()
	e.metrics.Evaluations.Inc()
}

func (e *Engine) countSignal() {
	e.statusMu.Lock()
	e.status.Signals++
	e.statusMu.Unlock()
	e.metrics.Signals.Inc()
}

func (e *Engine) countTrade() {
	e.statusMu.Lock()
	e.status.TradesExecuted++
	e.statusMu.Unlock()
	e.metrics.TradesExecuted.Inc()
	e.metrics.OpenPositions.Set(float64(e.openPositionCount()))
}
