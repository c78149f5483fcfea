package execution

import "testing"

func TestEntryFillPriceMovesAwayFromCloseByDirection(t *testing.T) {
	buy := Entry("BTC-USDC", 1000, Buy, 60000, 0.01, 0.1, 0.001)
	sell := Entry("BTC-USDC", 1000, Sell, 60000, 0.01, 0.1, 0.001)

	if buy.FillPrice.Float64() <= 60000 {
		t.Fatalf("expected BUY fill above close, got %v", buy.FillPrice.Float64())
	}
	if sell.FillPrice.Float64() >= 60000 {
		t.Fatalf("expected SELL fill below close, got %v", sell.FillPrice.Float64())
	}
}

func TestEntryIsDeterministicForSameInputs(t *testing.T) {
	a := Entry("ETH-USDC", 42, Buy, 3000, 0.02, 1, 0.001)
	b := Entry("ETH-USDC", 42, Buy, 3000, 0.02, 1, 0.001)
	if a.FillPrice.Float64() != b.FillPrice.Float64() {
		t.Fatalf("expected identical fills for identical inputs, got %v vs %v", a.FillPrice.Float64(), b.FillPrice.Float64())
	}
}

func TestExitComputesPnLAndRMultiple(t *testing.T) {
	res := Exit("BTC-USDC", 2000, 61000, 0.01, 1, 60000, 6, 100, 0.001)
	if res.PnL.Float64() <= 0 {
		t.Fatalf("expected positive pnl for a price increase, got %v", res.PnL.Float64())
	}
	if res.RMultiple <= 0 {
		t.Fatalf("expected positive r-multiple, got %v", res.RMultiple)
	}
}

func TestExitRMultipleZeroWithoutRisk(t *testing.T) {
	res := Exit("BTC-USDC", 2000, 61000, 0.01, 1, 60000, 6, 0, 0.001)
	if res.RMultiple != 0 {
		t.Fatalf("expected zero r-multiple with zero initial risk, got %v", res.RMultiple)
	}
}
