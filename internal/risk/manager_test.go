package risk

import (
	"testing"

	"github.com/paperbot/trading-engine/internal/refinement"
	"github.com/paperbot/trading-engine/internal/strategyparam"
)

func baseInput() BuyCheckInput {
	return BuyCheckInput{
		Balance:          1000,
		Equity:           1000,
		Regime:           refinement.RegimeTrendingUp,
		OpenPositions:    0,
		DailyRealizedPnL: 0,
		LossStreak:       0,
		AtrPct:           0.01,
		Price:            100,
		ATR:              1,
		Params:           strategyparam.Default(),
	}
}

func TestCheckBuyPassesCleanInput(t *testing.T) {
	m := New()
	if gate := m.CheckBuy(baseInput()); gate != "" {
		t.Fatalf("expected all gates to pass, failed on %q", gate)
	}
}

func TestCheckBuyBalanceFloor(t *testing.T) {
	m := New()
	in := baseInput()
	in.Balance = 10
	if gate := m.CheckBuy(in); gate != GateBalance {
		t.Fatalf("expected %q, got %q", GateBalance, gate)
	}
}

func TestCheckBuyRejectsChop(t *testing.T) {
	m := New()
	in := baseInput()
	in.Regime = refinement.RegimeChop
	if gate := m.CheckBuy(in); gate != GateRegime {
		t.Fatalf("expected %q, got %q", GateRegime, gate)
	}
}

func TestCheckBuyMaxConcurrentTrades(t *testing.T) {
	m := New()
	in := baseInput()
	in.OpenPositions = in.Params.MaxConcurrentTrades
	if gate := m.CheckBuy(in); gate != GateConcurrency {
		t.Fatalf("expected %q, got %q", GateConcurrency, gate)
	}
}

func TestCheckBuyDailyLossLimit(t *testing.T) {
	m := New()
	in := baseInput()
	in.DailyRealizedPnL = -in.Params.DailyMaxLossPct * in.Equity
	if gate := m.CheckBuy(in); gate != GateDailyLoss {
		t.Fatalf("expected %q, got %q", GateDailyLoss, gate)
	}
}

func TestCheckBuyKillSwitch(t *testing.T) {
	m := New()
	in := baseInput()
	in.LossStreak = in.Params.KillSwitchLosses
	if gate := m.CheckBuy(in); gate != GateLossStreak {
		t.Fatalf("expected %q, got %q", GateLossStreak, gate)
	}
}

func TestCheckBuyVolatilityBand(t *testing.T) {
	m := New()
	in := baseInput()
	in.AtrPct = in.Params.MaxAtrPct + 0.01
	if gate := m.CheckBuy(in); gate != GateVolatility {
		t.Fatalf("expected %q, got %q", GateVolatility, gate)
	}
}

func TestSizeBuyScalesWithLossStreak(t *testing.T) {
	m := &Manager{lossStreak: 2}
	in := baseInput()
	sized, err := m.SizeBuy(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unstreaked := &Manager{}
	base, err := unstreaked.SizeBuy(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sized.Quantity >= base.Quantity {
		t.Fatalf("expected loss-streak sizing to shrink quantity: streaked=%v base=%v", sized.Quantity, base.Quantity)
	}
}

func TestSizeBuyRejectsBelowNotionalFloor(t *testing.T) {
	m := New()
	in := baseInput()
	in.Equity = 100
	in.Balance = 100
	in.Params.MaxRiskPerTradePct = 0.003
	in.ATR = 50 // huge stop distance shrinks size to nearly nothing
	if _, err := m.SizeBuy(in); err == nil {
		t.Fatal("expected notional floor rejection")
	}
}

func TestCheckSellDefaultsToFullPosition(t *testing.T) {
	qty, allowed := CheckSell(5, 0)
	if !allowed || qty != 5 {
		t.Fatalf("expected full position sell, got qty=%v allowed=%v", qty, allowed)
	}
}

func TestCheckSellPartial(t *testing.T) {
	qty, allowed := CheckSell(5, 2)
	if !allowed || qty != 2 {
		t.Fatalf("expected partial sell of 2, got qty=%v allowed=%v", qty, allowed)
	}
}

func TestCheckSellBlocksWithoutHoldings(t *testing.T) {
	if _, allowed := CheckSell(0, 0); allowed {
		t.Fatal("expected sell to be blocked with zero holdings")
	}
}
