package margin

import (
	"errors"

	"github.com/rustyeddy/margin/calc"
	"github.com/rustyeddy/margin/internal/worker"
	"github.com/rustyeddy/margin/oracle"
)

var (
	ErrInvalidLeverage     = calc.ErrInvalidLeverage
	ErrPriceUnavailable    = oracle.ErrPriceUnavailable
	ErrAccountExists       = errors.New("account already exists")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientMargin  = errors.New("insufficient margin")
	ErrMarginViolation     = errors.New("withdrawal would breach margin")
	ErrPositionNotOpen     = errors.New("position not open")
	ErrPositionNotFound    = errors.New("position not found")
	ErrLiquidationFailed   = errors.New("liquidation failed")
	ErrComplianceBlocked   = errors.New("blocked by compliance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrInvalidSide         = errors.New("invalid side")
	ErrSymbolRequired      = errors.New("isolated account requires a symbol")
	ErrSymbolForbidden     = errors.New("cross account must not have a symbol")
	ErrSymbolMismatch      = errors.New("symbol does not match isolated account")
	ErrAccountSuspended    = errors.New("account suspended")
	ErrAccountClosed       = errors.New("account closed")
	ErrOpenPositions       = errors.New("account has open positions")
	ErrRiskLimit           = errors.New("risk limit exceeded")
	ErrSettlementClosed    = worker.ErrClosed
)

// Checked in order, so an error wrapping several sentinels reports the first.
var kinds = []struct {
	err  error
	kind string
}{
	{ErrLiquidationFailed, "liquidation_failed"},
	{ErrComplianceBlocked, "compliance_blocked"},
	{ErrInvalidLeverage, "invalid_leverage"},
	{ErrAccountExists, "account_exists"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInsufficientMargin, "insufficient_margin"},
	{ErrMarginViolation, "margin_violation"},
	{ErrPositionNotOpen, "position_not_open"},
	{ErrPositionNotFound, "position_not_found"},
	{ErrPriceUnavailable, "price_unavailable"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidAccount, "invalid_account"},
	{ErrInvalidSide, "invalid_side"},
	{ErrSymbolRequired, "symbol_required"},
	{ErrSymbolForbidden, "symbol_forbidden"},
	{ErrSymbolMismatch, "symbol_mismatch"},
	{ErrAccountSuspended, "account_suspended"},
	{ErrAccountClosed, "account_closed"},
	{ErrOpenPositions, "open_positions"},
	{ErrRiskLimit, "risk_limit"},
	{ErrSettlementClosed, "settlement_closed"},
}

// Kind maps err to a stable string for API layers. It returns "" for nil
// and "internal" for errors that wrap none of the package's sentinels.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
