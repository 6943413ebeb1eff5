// Package oracle provides mark prices and funding rates per symbol.
package oracle

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrPriceUnavailable = errors.New("price unavailable")

// Tick is a two-sided quote. The mark price is its mid.
type Tick struct {
	Symbol string
	Time   time.Time
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

var two = decimal.NewFromInt(2)

func (t Tick) Mid() decimal.Decimal {
	if t.Bid.IsZero() && t.Ask.IsZero() {
		return decimal.Zero
	}
	return t.Bid.Add(t.Ask).Div(two)
}

func (t Tick) Spread() decimal.Decimal {
	return t.Ask.Sub(t.Bid)
}

func unavailable(symbol string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return fmt.Errorf("%w: %s: %w", ErrPriceUnavailable, symbol, cause)
}

func checkPrice(symbol string, p decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsPositive() {
		return decimal.Zero, unavailable(symbol, fmt.Errorf("non-positive price %s", p))
	}
	return p, nil
}
