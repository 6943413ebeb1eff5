package margin

import (
	"context"

	"github.com/rustyeddy/margin/journal"
	"github.com/shopspring/decimal"
)

type PriceOracle interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Custody is the external ledger. PostEntry must be idempotent on Posting.Ref.
type Custody interface {
	PostEntry(ctx context.Context, p journal.Posting) error
}

type ComplianceGate interface {
	IsPermitted(ctx context.Context, userID string) (bool, error)
}

type RateSource interface {
	FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type nopCustody struct{}

func (nopCustody) PostEntry(context.Context, journal.Posting) error { return nil }

type allowAll struct{}

func (allowAll) IsPermitted(context.Context, string) (bool, error) { return true, nil }

type zeroRates struct{}

func (zeroRates) FundingRate(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
