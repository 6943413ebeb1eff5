package risk

import "github.com/shopspring/decimal"

// Policy caps exposure per margin account. Zero values disable a limit.
type Policy struct {
	MaxOpenPositions int

	// Notional of a single new position at its entry price.
	MaxPositionNotional decimal.Decimal

	// Notional of all open positions at mark. Breaching it during a sweep
	// sends the account to liquidation with reason risk_limit_exceeded.
	MaxAccountNotional decimal.Decimal
}

// Intent describes a position about to be opened.
type Intent struct {
	Symbol   string
	Notional decimal.Decimal
}

// Exposure is the account's current open book.
type Exposure struct {
	OpenPositions int
	Notional      decimal.Decimal
}
