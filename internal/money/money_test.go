package money

import "testing"

func TestPriceRoundsToSixDecimals(t *testing.T) {
	a := Price(100.12345678)
	if got := a.String(); got != "100.123457" {
		t.Fatalf("expected 6dp rounding, got %s", got)
	}
}

func TestSizeRoundsToEightDecimals(t *testing.T) {
	a := Size(0.123456789012)
	if got := a.String(); got != "0.12345679" {
		t.Fatalf("expected 8dp rounding, got %s", got)
	}
}

func TestRepeatedAdditionDoesNotDrift(t *testing.T) {
	total := Zero
	step := Price(0.1)
	for i := 0; i < 1000; i++ {
		total = total.Add(step)
	}
	if total.String() != "100" {
		t.Fatalf("expected exactly 100, got %s", total.String())
	}
}

func TestSubAndNeg(t *testing.T) {
	a := Price(10).Sub(Price(3))
	if a.Float64() != 7 {
		t.Fatalf("expected 7, got %v", a.Float64())
	}
	if !Price(5).Neg().IsNegative() {
		t.Fatal("expected negative")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a := Price(123.456)
	data, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var b Amount
	if err := b.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.Cmp(b) != 0 {
		t.Fatalf("round trip changed value: %s -> %s", a, b)
	}
}
