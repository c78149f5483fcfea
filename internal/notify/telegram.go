// Package notify sends operational alerts to a Telegram chat: fills,
// protective exits, circuit-breaker transitions and refinement results.
// With no credentials configured every call is a silent no-op.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyFill sends a simulated-fill alert.
func (n *Notifier) NotifyFill(ctx context.Context, symbol, side string, price, qty float64) error {
	msg := fmt.Sprintf("<b>Fill</b>\nSymbol: <code>%s</code>\nSide: %s\nPrice: %.6f\nQty: %.8f", symbol, side, price, qty)
	return n.Send(ctx, msg)
}

// NotifyExit sends a stop-loss/take-profit exit alert.
func (n *Notifier) NotifyExit(ctx context.Context, symbol, reason string, pnl, rMultiple float64) error {
	msg := fmt.Sprintf(
		"<b>Exit: %s</b>\nSymbol: <code>%s</code>\nPnL: %.2f USDC\nR: %.2f",
		reason, symbol, pnl, rMultiple,
	)
	return n.Send(ctx, msg)
}

// NotifyBreakerLatched sends a circuit-breaker trip alert. Trading is
// halted until an explicit reset.
func (n *Notifier) NotifyBreakerLatched(ctx context.Context, reasons []string) error {
	msg := fmt.Sprintf("<b>CIRCUIT BREAKER LATCHED</b>\nReasons: %s\nNo orders until reset.", strings.Join(reasons, ", "))
	return n.Send(ctx, msg)
}

// NotifyBreakerReset sends the all-clear after an operator reset.
func (n *Notifier) NotifyBreakerReset(ctx context.Context) error {
	return n.Send(ctx, "<b>Circuit breaker reset</b>\nOrder placement resumed.")
}

// NotifyRefinement reports a refinement cycle's outcome.
func (n *Notifier) NotifyRefinement(ctx context.Context, accepted bool, version int64, note string) error {
	if accepted {
		return n.Send(ctx, fmt.Sprintf("<b>Refinement accepted</b>\nStrategy version: %d", version))
	}
	return n.Send(ctx, fmt.Sprintf("<b>Refinement rejected</b>\n%s", note))
}

// NotifyDailySummary sends a daily performance summary.
func (n *Notifier) NotifyDailySummary(ctx context.Context, pnl float64, trades int, winRate float64) error {
	msg := fmt.Sprintf("<b>Daily Summary</b>\nPnL: %.2f USDC\nTrades: %d\nWin rate: %.0f%%", pnl, trades, winRate*100)
	return n.Send(ctx, msg)
}
