// journal/journal.go
package journal

import (
	"time"

	"github.com/shopspring/decimal"
)

// LiquidationRecord is one row of the liquidation audit trail, executed or failed.
type LiquidationRecord struct {
	ID              string
	AccountID       string
	PositionID      string
	Symbol          string
	Price           decimal.Decimal
	Amount          decimal.Decimal
	RemainingMargin decimal.Decimal
	PenaltyFee      decimal.Decimal
	MarginRatio     decimal.Decimal
	Reason          string
	Status          string
	Error           string
	CreatedAt       time.Time
}

// EquitySnapshot is taken for every account on every risk sweep.
type EquitySnapshot struct {
	Time        time.Time
	AccountID   string
	TotalMargin decimal.Decimal
	Equity      decimal.Decimal
	UsedMargin  decimal.Decimal
	FreeMargin  decimal.Decimal
	MarginLevel decimal.Decimal
	Status      string
}

// Posting is a ledger entry against an account's settlement balance.
// Negative amounts are debits. Ref is unique per posting.
type Posting struct {
	Ref         string
	AccountID   string
	Amount      decimal.Decimal
	Currency    string
	Description string
	CreatedAt   time.Time
}

type Journal interface {
	RecordLiquidation(LiquidationRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

type nop struct{}

func (nop) RecordLiquidation(LiquidationRecord) error { return nil }
func (nop) RecordEquity(EquitySnapshot) error         { return nil }
func (nop) Close() error                              { return nil }

// Nop discards everything.
func Nop() Journal { return nop{} }
