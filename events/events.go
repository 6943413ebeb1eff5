// Package events defines the notifications the margin engine publishes and
// the sinks that carry them. Each event type has a fixed schema.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeMarginCall          Type = "margin.margin_call"
	TypeLiquidationExecuted Type = "margin.liquidation_executed"
	TypeLiquidationFailed   Type = "margin.liquidation_failed"
	TypeFundingSettled      Type = "margin.funding_settled"
	TypeStatusChanged       Type = "margin.status_changed"
)

type Event interface {
	Type() Type
	// Key groups events of one account on a partitioned transport.
	Key() string
}

// Bus is fire-and-forget. A failed Emit never undoes the state change that
// produced the event.
type Bus interface {
	Emit(ctx context.Context, ev Event) error
}

type MarginCall struct {
	AccountID   string          `json:"account_id"`
	UserID      string          `json:"user_id"`
	TenantID    string          `json:"tenant_id"`
	Equity      decimal.Decimal `json:"equity"`
	UsedMargin  decimal.Decimal `json:"used_margin"`
	MarginLevel decimal.Decimal `json:"margin_level"`
	Threshold   decimal.Decimal `json:"threshold"`
	At          time.Time       `json:"at"`
}

func (MarginCall) Type() Type    { return TypeMarginCall }
func (e MarginCall) Key() string { return e.AccountID }

type LiquidationExecuted struct {
	LiquidationID   string          `json:"liquidation_id"`
	AccountID       string          `json:"account_id"`
	PositionID      string          `json:"position_id"`
	Symbol          string          `json:"symbol"`
	Reason          string          `json:"reason"`
	Price           decimal.Decimal `json:"price"`
	Amount          decimal.Decimal `json:"amount"`
	RealizedPnl     decimal.Decimal `json:"realized_pnl"`
	PenaltyFee      decimal.Decimal `json:"penalty_fee"`
	RemainingMargin decimal.Decimal `json:"remaining_margin"`
	MarginRatio     decimal.Decimal `json:"margin_ratio"`
	At              time.Time       `json:"at"`
}

func (LiquidationExecuted) Type() Type    { return TypeLiquidationExecuted }
func (e LiquidationExecuted) Key() string { return e.AccountID }

type LiquidationFailed struct {
	LiquidationID string    `json:"liquidation_id"`
	AccountID     string    `json:"account_id"`
	PositionID    string    `json:"position_id"`
	Symbol        string    `json:"symbol"`
	Reason        string    `json:"reason"`
	Error         string    `json:"error"`
	At            time.Time `json:"at"`
}

func (LiquidationFailed) Type() Type    { return TypeLiquidationFailed }
func (e LiquidationFailed) Key() string { return e.AccountID }

type FundingSettled struct {
	AccountID   string          `json:"account_id"`
	PositionID  string          `json:"position_id"`
	Symbol      string          `json:"symbol"`
	Rate        decimal.Decimal `json:"rate"`
	FundingFee  decimal.Decimal `json:"funding_fee"`
	InterestFee decimal.Decimal `json:"interest_fee"`
	At          time.Time       `json:"at"`
}

func (FundingSettled) Type() Type    { return TypeFundingSettled }
func (e FundingSettled) Key() string { return e.AccountID }

type StatusChanged struct {
	AccountID string    `json:"account_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

func (StatusChanged) Type() Type    { return TypeStatusChanged }
func (e StatusChanged) Key() string { return e.AccountID }

type nop struct{}

func (nop) Emit(context.Context, Event) error { return nil }

// Nop discards every event.
func Nop() Bus { return nop{} }
