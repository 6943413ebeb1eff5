// Package calc holds the margin math shared by the account store, the
// position ledger and the liquidation executor. Everything here is pure.
package calc

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places P&L results are rounded to.
// Fraction-of-notional P&L divides by the entry price, which leaves a
// residue in the 16th place; rounding here keeps open/close round trips exact.
const Precision int32 = 8

var ErrInvalidLeverage = errors.New("invalid leverage")

// Side mirrors the position side without importing the margin package.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func (s Side) Valid() bool { return s == Long || s == Short }

// sign is +1 for longs and -1 for shorts.
func (s Side) sign() decimal.Decimal {
	if s == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

var one = decimal.NewFromInt(1)

// ValidateLeverage checks 1 <= leverage <= maxLeverage.
func ValidateLeverage(leverage, maxLeverage int) error {
	if leverage < 1 || leverage > maxLeverage {
		return fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidLeverage, leverage, maxLeverage)
	}
	return nil
}

// RequiredMargin = size * price / leverage.
func RequiredMargin(size, price decimal.Decimal, leverage, maxLeverage int) (decimal.Decimal, error) {
	if err := ValidateLeverage(leverage, maxLeverage); err != nil {
		return decimal.Zero, err
	}
	return size.Mul(price).Div(decimal.NewFromInt(int64(leverage))), nil
}

// Notional = size * price.
func Notional(size, price decimal.Decimal) decimal.Decimal {
	return size.Mul(price)
}

// UnrealizedPnl returns the fraction-of-notional P&L:
//
//	long:  (current - entry) / entry * size * entry
//	short: the negation
//
// Realized P&L is this same value taken at the close price.
func UnrealizedPnl(side Side, entryPrice, currentPrice, size decimal.Decimal) decimal.Decimal {
	if entryPrice.IsZero() || size.IsZero() {
		return decimal.Zero
	}
	ret := currentPrice.Sub(entryPrice).Div(entryPrice)
	pnl := ret.Mul(size).Mul(entryPrice).Mul(side.sign())
	return pnl.Round(Precision)
}

// MarginLevel = equity / usedMargin, defined as zero without exposure.
func MarginLevel(equity, usedMargin decimal.Decimal) decimal.Decimal {
	if usedMargin.IsZero() {
		return decimal.Zero
	}
	return equity.Div(usedMargin)
}

// MarginRatio = usedMargin / equity, defined as zero when equity is zero.
func MarginRatio(usedMargin, equity decimal.Decimal) decimal.Decimal {
	if equity.IsZero() {
		return decimal.Zero
	}
	return usedMargin.Div(equity)
}

// LiquidationPrice is the mark at which an isolated position's margin level
// (marginUsed + pnl) / marginUsed equals threshold. Solving for the price:
//
//	long:  entry * (1 + (threshold - 1) / leverage)
//	short: entry * (1 + (1 - threshold) / leverage)
//
// A long price is floored at zero.
func LiquidationPrice(side Side, entryPrice decimal.Decimal, leverage int, threshold decimal.Decimal) decimal.Decimal {
	if leverage < 1 {
		return decimal.Zero
	}
	lev := decimal.NewFromInt(int64(leverage))
	var move decimal.Decimal
	if side == Short {
		move = one.Sub(threshold).Div(lev)
	} else {
		move = threshold.Sub(one).Div(lev)
	}
	p := entryPrice.Mul(one.Add(move))
	if p.IsNegative() {
		return decimal.Zero
	}
	return p.Round(Precision)
}

// PenaltyFee = value * rate.
func PenaltyFee(value, rate decimal.Decimal) decimal.Decimal {
	return value.Mul(rate).Round(Precision)
}

// FundingPayment is what the holder pays for one funding period. A positive
// rate has longs paying shorts; a negative result means the holder receives.
func FundingPayment(side Side, notional, rate decimal.Decimal) decimal.Decimal {
	return notional.Mul(rate).Mul(side.sign()).Round(Precision)
}

// Interest charged on the borrowed part of a leveraged position.
func Interest(notional, marginUsed, rate decimal.Decimal) decimal.Decimal {
	borrowed := notional.Sub(marginUsed)
	if !borrowed.IsPositive() {
		return decimal.Zero
	}
	return borrowed.Mul(rate).Round(Precision)
}

// Proportion returns part/whole, or zero for an empty whole.
func Proportion(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole)
}
