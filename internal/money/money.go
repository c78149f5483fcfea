// Package money provides fixed-point decimal amounts for prices, sizes,
// fees and PnL so balance and notional arithmetic never drifts the way
// repeated float64 addition does over a long-running session.
package money

import (
	"github.com/shopspring/decimal"
)

// PriceScale and SizeScale match the rounding points the history store
// enforces at its boundary: prices to 6dp, sizes to 8dp.
const (
	PriceScale = 6
	SizeScale  = 8
)

// Amount wraps decimal.Decimal with explicit rounding at construction so
// every value entering the ledger or a journal is already canonical.
type Amount struct {
	d decimal.Decimal
}

// Price builds an Amount rounded to PriceScale.
func Price(v float64) Amount {
	return Amount{decimal.NewFromFloat(v).Round(PriceScale)}
}

// Size builds an Amount rounded to SizeScale.
func Size(v float64) Amount {
	return Amount{decimal.NewFromFloat(v).Round(SizeScale)}
}

// Raw builds an Amount with no implicit rounding, for intermediate sums
// that will be rounded again at their own boundary.
func Raw(v float64) Amount {
	return Amount{decimal.NewFromFloat(v)}
}

// Zero is the additive identity.
var Zero = Amount{decimal.Zero}

func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

func (a Amount) Add(b Amount) Amount  { return Amount{a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount  { return Amount{a.d.Sub(b.d)} }
func (a Amount) Mul(b Amount) Amount  { return Amount{a.d.Mul(b.d)} }
func (a Amount) Neg() Amount          { return Amount{a.d.Neg()} }
func (a Amount) IsZero() bool         { return a.d.IsZero() }
func (a Amount) IsNegative() bool     { return a.d.IsNegative() }
func (a Amount) IsPositive() bool     { return a.d.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }
func (a Amount) LessThan(b Amount) bool    { return a.d.LessThan(b.d) }
func (a Amount) Cmp(b Amount) int          { return a.d.Cmp(b.d) }

func (a Amount) RoundPrice() Amount { return Amount{a.d.Round(PriceScale)} }
func (a Amount) RoundSize() Amount  { return Amount{a.d.Round(SizeScale)} }

func (a Amount) String() string { return a.d.String() }

// MarshalJSON renders the amount as a quoted JSON string with full decimal
// precision, matching how the Persisted Schema contract stores prices.
func (a Amount) MarshalJSON() ([]byte, error) { return a.d.MarshalJSON() }

func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	a.d = d
	return nil
}

// Sum adds a slice of Amounts.
func Sum(vals ...Amount) Amount {
	total := Zero
	for _, v := range vals {
		total = total.Add(v)
	}
	return total
}
