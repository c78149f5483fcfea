package config

import (
	"fmt"
	"strings"
)

// ApplyMode normalizes and applies an ENGINE_MODE override, deriving the
// dependent fields each mode implies. PAPER is the only mode in which
// orders are ever actually placed (against the Execution Simulator);
// LIVE only plumbs exchange credentials through config validation — no
// real order placement path exists.
func ApplyMode(cfg *Config, mode string) error {
	m := strings.ToUpper(strings.TrimSpace(mode))
	if m == "" {
		return nil
	}
	switch Mode(m) {
	case ModePaper:
		cfg.EngineMode = ModePaper
	case ModeLive:
		cfg.EngineMode = ModeLive
	default:
		return fmt.Errorf("config: unknown ENGINE_MODE %q (supported: PAPER|LIVE)", mode)
	}
	return nil
}
