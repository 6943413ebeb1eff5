// Package margin tracks leveraged positions per margin account, marks them
// to market, moves accounts through active, margin call and liquidation, and
// force-closes positions when equity no longer covers the margin in use.
package margin

import (
	"time"

	"github.com/rustyeddy/margin/calc"
	"github.com/rustyeddy/margin/risk"
	"github.com/shopspring/decimal"
)

type AccountType string

const (
	Isolated AccountType = "isolated"
	Cross    AccountType = "cross"
)

func (t AccountType) Valid() bool { return t == Isolated || t == Cross }

type AccountStatus string

const (
	StatusActive      AccountStatus = "active"
	StatusMarginCall  AccountStatus = "margin_call"
	StatusLiquidation AccountStatus = "liquidation"
	StatusSuspended   AccountStatus = "suspended"
	StatusClosed      AccountStatus = "closed"
)

type Side = calc.Side

const (
	Long  = calc.Long
	Short = calc.Short
)

type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosing    PositionStatus = "closing"
	PositionClosed     PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
)

// Terminal positions are never mutated again.
func (s PositionStatus) Terminal() bool {
	return s == PositionClosed || s == PositionLiquidated
}

type LiquidationReason string

const (
	ReasonMarginCall        LiquidationReason = "margin_call"
	ReasonForcedLiquidation LiquidationReason = "forced_liquidation"
	ReasonRiskLimitExceeded LiquidationReason = "risk_limit_exceeded"
)

type LiquidationStatus string

const (
	LiquidationPending  LiquidationStatus = "pending"
	LiquidationExecuted LiquidationStatus = "executed"
	LiquidationFailed   LiquidationStatus = "failed"
)

// Account is a copy of a margin account's state. The derived fields are
// only ever written by a recompute over the account's open positions.
type Account struct {
	ID       string
	UserID   string
	TenantID string
	Type     AccountType
	Symbol   string
	Currency string

	// TotalMargin is cash collateral: deposits less withdrawals, plus
	// realized P&L, less fees.
	TotalMargin      decimal.Decimal
	UnrealizedPnl    decimal.Decimal
	TotalEquity      decimal.Decimal
	UsedMargin       decimal.Decimal
	AvailableBalance decimal.Decimal
	FreeMargin       decimal.Decimal
	MarginLevel      decimal.Decimal
	MarginRatio      decimal.Decimal

	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Position struct {
	ID        string
	AccountID string
	UserID    string
	TenantID  string
	Symbol    string
	Side      Side

	Size         decimal.Decimal
	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	Leverage     int
	MarginUsed   decimal.Decimal

	// LiquidationPrice is the mark at which this position alone would reach
	// the liquidation threshold. Cross accounts net positions, so it is a
	// bound for them, not a trigger.
	LiquidationPrice decimal.Decimal

	UnrealizedPnl decimal.Decimal
	RealizedPnl   decimal.Decimal
	// FundingFee and InterestFee are cumulative amounts paid. Negative
	// means received.
	FundingFee  decimal.Decimal
	InterestFee decimal.Decimal

	Status    PositionStatus
	OpenedAt  time.Time
	UpdatedAt time.Time
	ClosedAt  time.Time
}

func (p Position) Notional() decimal.Decimal {
	return calc.Notional(p.Size, p.CurrentPrice)
}

type LiquidationEvent struct {
	ID                string
	AccountID         string
	PositionID        string
	Symbol            string
	LiquidationPrice  decimal.Decimal
	LiquidationAmount decimal.Decimal
	RemainingMargin   decimal.Decimal
	PenaltyFee        decimal.Decimal
	MarginRatio       decimal.Decimal
	Reason            LiquidationReason
	Status            LiquidationStatus
	Error             string
	CreatedAt         time.Time
}

type FundingRate struct {
	Symbol          string
	Rate            decimal.Decimal
	NextFundingTime time.Time
}

type OpenRequest struct {
	AccountID string
	Symbol    string
	Side      Side
	Size      decimal.Decimal
	Leverage  int
	// EntryPrice zero opens at the oracle mark.
	EntryPrice decimal.Decimal
}

type CloseResult struct {
	Position    Position
	RealizedPnl decimal.Decimal
}

// Params are the engine's tunables.
type Params struct {
	MaxLeverage            int
	MaintenanceMarginRatio decimal.Decimal
	LiquidationThreshold   decimal.Decimal
	PenaltyFeeRate         decimal.Decimal
	Currency               string

	// InterestRate is charged on borrowed notional once per accrual.
	InterestRate    decimal.Decimal
	FundingInterval time.Duration
	RefreshInterval time.Duration

	SweepInterval       time.Duration
	LiquidationInterval time.Duration
	// Workers bounds how many accounts a sweep processes at once.
	Workers      int
	PriceTimeout time.Duration

	Risk risk.Policy
}

func DefaultParams() Params {
	return Params{
		MaxLeverage:            100,
		MaintenanceMarginRatio: decimal.RequireFromString("0.5"),
		LiquidationThreshold:   decimal.RequireFromString("0.25"),
		PenaltyFeeRate:         decimal.RequireFromString("0.005"),
		Currency:               "USDT",
		FundingInterval:        8 * time.Hour,
		RefreshInterval:        time.Minute,
		SweepInterval:          time.Second,
		LiquidationInterval:    250 * time.Millisecond,
		Workers:                8,
		PriceTimeout:           2 * time.Second,
	}
}
