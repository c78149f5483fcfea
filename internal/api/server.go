// Package api is the thin HTTP facade over the engine: status, recent
// trades and decisions, force-trade, and runtime settings. The dashboard
// and any richer surface live outside this repository; this server only
// binds what the engine itself needs to be operable.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbot/trading-engine/internal/engine"
	"github.com/paperbot/trading-engine/internal/history"
)

// EngineView is the slice of the engine the facade reads and pokes.
type EngineView interface {
	StatusSnapshot() engine.Status
	RecentTrades(ctx context.Context, limit int) ([]history.Trade, error)
	RecentDecisions(ctx context.Context, limit int) ([]history.Decision, error)
	ForceTrade(ctx context.Context, req engine.ForceTradeRequest) (tradeID, decisionID string, err error)
	UpdateSettings(confidenceThreshold *float64, autoPaper *bool)
}

// Server serves the facade endpoints plus /metrics.
type Server struct {
	httpServer *http.Server
	view       EngineView
	corsOrigin string
	log        zerolog.Logger
}

// New builds a Server. metricsHandler may be nil to skip /metrics.
func New(view EngineView, port, corsOrigin string, metricsHandler http.Handler, log zerolog.Logger) *Server {
	s := &Server{
		view:       view,
		corsOrigin: corsOrigin,
		log:        log.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/decisions", s.handleDecisions)
	mux.HandleFunc("/api/force-trade", s.handleForceTrade)
	mux.HandleFunc("/api/settings", s.handleSettings)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           s.withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server failed")
		}
	}()
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("api listening")
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the full handler chain for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.view.StatusSnapshot())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	trades, err := s.view.RecentTrades(r.Context(), limitParam(r, 50))
	if err != nil {
		s.log.Error().Err(err).Msg("trades query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []history.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	decisions, err := s.view.RecentDecisions(r.Context(), limitParam(r, 50))
	if err != nil {
		s.log.Error().Err(err).Msg("decisions query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if decisions == nil {
		decisions = []history.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

type forceTradeBody struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	NotionalUSD float64 `json:"notionalUsd"`
	Qty         float64 `json:"qty"`
	TpPct       float64 `json:"tpPct"`
	SlPct       float64 `json:"slPct"`
	TpPrice     float64 `json:"tpPrice"`
	SlPrice     float64 `json:"slPrice"`
	DecisionID  string  `json:"decisionId"`
}

func (s *Server) handleForceTrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body forceTradeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Symbol == "" || body.Side == "" {
		http.Error(w, "symbol and side are required", http.StatusBadRequest)
		return
	}

	tradeID, decisionID, err := s.view.ForceTrade(r.Context(), engine.ForceTradeRequest{
		Symbol:      body.Symbol,
		Side:        body.Side,
		NotionalUSD: body.NotionalUSD,
		Qty:         body.Qty,
		TpPct:       body.TpPct,
		SlPct:       body.SlPct,
		TpPrice:     body.TpPrice,
		SlPrice:     body.SlPrice,
		DecisionID:  body.DecisionID,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("force-trade rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"tradeId":    tradeID,
		"decisionId": decisionID,
	})
}

type settingsBody struct {
	ConfidenceThreshold *float64 `json:"confidenceThreshold"`
	AutoPaper           *bool    `json:"autoPaper"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body settingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.ConfidenceThreshold != nil && (*body.ConfidenceThreshold < 0 || *body.ConfidenceThreshold > 1) {
		http.Error(w, "confidenceThreshold must be in [0,1]", http.StatusBadRequest)
		return
	}
	s.view.UpdateSettings(body.ConfidenceThreshold, body.AutoPaper)
	writeJSON(w, http.StatusOK, s.view.StatusSnapshot())
}

func limitParam(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
