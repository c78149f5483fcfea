// Package config loads and validates the engine's runtime configuration
// from the environment, per the External Interfaces contract.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects whether the engine executes against simulated fills only
// (PAPER, the only mode this engine actually places orders in) or plumbs
// through live exchange credentials for validation (LIVE).
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

// Config is the full set of environment-driven runtime configuration.
type Config struct {
	DatabaseURL         string
	BackendPort         string
	CORSOrigin          string
	EngineMode          Mode
	AutoPaper           bool
	ConfidenceThreshold float64
	EngineSymbol        string
	Timeframe           string
	StaleDataMs         int64
	MinExpectedEdge     float64
	MaxPositionSizePct  float64
	MaxExposurePct      float64
	PaperSlippageBps    float64
	PaperFeeBps         float64
	LoopInterval        time.Duration

	KuCoinAPIKey        string
	KuCoinAPISecret     string
	KuCoinAPIPassphrase string

	TelegramBotToken string
	TelegramChatID   string

	StrategySeedFile string
}

// Default returns the documented defaults for every optional field.
func Default() Config {
	return Config{
		BackendPort:         "8080",
		EngineMode:          ModePaper,
		AutoPaper:           true,
		ConfidenceThreshold: 0.6,
		EngineSymbol:        "BTC-USDC",
		Timeframe:           "1h",
		StaleDataMs:         7_200_000,
		MinExpectedEdge:     5e-4,
		MaxPositionSizePct:  0.25,
		MaxExposurePct:      0.7,
		PaperSlippageBps:    4,
		PaperFeeBps:         10,
		LoopInterval:        15 * time.Second,
	}
}

// Load builds a Config from Default() overlaid with every recognized
// environment variable.
func Load() Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overlays recognized environment variables onto cfg, matching
// the names in the External Interfaces contract exactly.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("BACKEND_PORT"); v != "" {
		c.BackendPort = v
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		c.CORSOrigin = v
	}
	if v := strings.ToUpper(strings.TrimSpace(os.Getenv("ENGINE_MODE"))); v != "" {
		c.EngineMode = Mode(v)
	}
	if v := os.Getenv("AUTO_PAPER"); v != "" {
		c.AutoPaper = parseBool(v, c.AutoPaper)
	}
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		c.ConfidenceThreshold = parseFloat(v, c.ConfidenceThreshold)
	}
	if v := os.Getenv("ENGINE_SYMBOL"); v != "" {
		c.EngineSymbol = v
	}
	if v := os.Getenv("BOT_TIMEFRAME"); v != "" {
		c.Timeframe = v
	}
	if v := os.Getenv("BOT_STALE_DATA_MS"); v != "" {
		c.StaleDataMs = parseInt64(v, c.StaleDataMs)
	}
	if v := os.Getenv("BOT_MIN_EXPECTED_EDGE"); v != "" {
		c.MinExpectedEdge = parseFloat(v, c.MinExpectedEdge)
	}
	if v := os.Getenv("BOT_MAX_POSITION_SIZE_PCT"); v != "" {
		c.MaxPositionSizePct = parseFloat(v, c.MaxPositionSizePct)
	}
	if v := os.Getenv("BOT_MAX_EXPOSURE_PCT"); v != "" {
		c.MaxExposurePct = parseFloat(v, c.MaxExposurePct)
	}
	if v := os.Getenv("BOT_PAPER_SLIPPAGE_BPS"); v != "" {
		c.PaperSlippageBps = parseFloat(v, c.PaperSlippageBps)
	}
	if v := os.Getenv("BOT_PAPER_FEE_BPS"); v != "" {
		c.PaperFeeBps = parseFloat(v, c.PaperFeeBps)
	}
	if v := os.Getenv("BOT_LOOP_MS"); v != "" {
		if ms := parseInt64(v, int64(c.LoopInterval/time.Millisecond)); ms > 0 {
			c.LoopInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("KUCOIN_API_KEY"); v != "" {
		c.KuCoinAPIKey = v
	}
	if v := os.Getenv("KUCOIN_API_SECRET"); v != "" {
		c.KuCoinAPISecret = v
	}
	if v := os.Getenv("KUCOIN_API_PASSPHRASE"); v != "" {
		c.KuCoinAPIPassphrase = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramBotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.TelegramChatID = v
	}
	if v := os.Getenv("STRATEGY_SEED_FILE"); v != "" {
		c.StrategySeedFile = v
	}
}

// Symbols splits EngineSymbol on commas, trimming whitespace, so a
// single ENGINE_SYMBOL env var can drive a multi-symbol engine (e.g.
// "BTC-USDC,ETH-USDC").
func (c Config) Symbols() []string {
	parts := strings.Split(c.EngineSymbol, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string, fallback bool) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func parseFloat(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseInt64(v string, fallback int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
