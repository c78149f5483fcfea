package strategyparam

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile mirrors Parameters with yaml tags for the optional seed file
// that supplies the initial parameter set before the first refinement
// commit. Runtime configuration otherwise stays entirely env-var driven.
type seedFile struct {
	MinScore            float64 `yaml:"min_score"`
	ATRMultiplier       float64 `yaml:"atr_multiplier"`
	StopLossATR         float64 `yaml:"stop_loss_atr"`
	TakeProfitATR       float64 `yaml:"take_profit_atr"`
	MaxRiskPerTradePct  float64 `yaml:"max_risk_per_trade_pct"`
	DailyMaxLossPct     float64 `yaml:"daily_max_loss_pct"`
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
	KillSwitchLosses    int     `yaml:"kill_switch_losses"`
	MinAtrPct           float64 `yaml:"min_atr_pct"`
	MaxAtrPct           float64 `yaml:"max_atr_pct"`
}

// LoadSeedFile reads an initial Parameters set from a YAML file, falling
// back to Default() fields for anything left zero, then clamping and
// validating the result. A missing or unreadable file is returned as an
// error; a caller with no seed file configured uses Default() without
// calling LoadSeedFile.
func LoadSeedFile(path string) (Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Parameters{}, fmt.Errorf("strategyparam: read seed file: %w", err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return Parameters{}, fmt.Errorf("strategyparam: parse seed file: %w", err)
	}

	p := Default()
	if sf.MinScore != 0 {
		p.MinScore = sf.MinScore
	}
	if sf.ATRMultiplier != 0 {
		p.ATRMultiplier = sf.ATRMultiplier
	}
	if sf.StopLossATR != 0 {
		p.StopLossATR = sf.StopLossATR
	}
	if sf.TakeProfitATR != 0 {
		p.TakeProfitATR = sf.TakeProfitATR
	}
	if sf.MaxRiskPerTradePct != 0 {
		p.MaxRiskPerTradePct = sf.MaxRiskPerTradePct
	}
	if sf.DailyMaxLossPct != 0 {
		p.DailyMaxLossPct = sf.DailyMaxLossPct
	}
	if sf.MaxConcurrentTrades != 0 {
		p.MaxConcurrentTrades = sf.MaxConcurrentTrades
	}
	if sf.KillSwitchLosses != 0 {
		p.KillSwitchLosses = sf.KillSwitchLosses
	}
	if sf.MinAtrPct != 0 {
		p.MinAtrPct = sf.MinAtrPct
	}
	if sf.MaxAtrPct != 0 {
		p.MaxAtrPct = sf.MaxAtrPct
	}

	p = p.Clamp()
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}
