package margin

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/margin/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccrueZeroRate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.funded(t, "alice", "3000")
	pos := h.open(t, a.ID, "BTCUSDT", Long, "1", "45000", 20)

	require.NoError(t, h.svc.Funding.RefreshRates(ctx))
	require.NoError(t, h.svc.Funding.Accrue(ctx))

	assertDec(t, "3000", h.account(t, a.ID).TotalMargin)
	assertDec(t, "0", h.position(t, pos.ID).FundingFee)
	assert.Empty(t, h.bus.OfType(events.TypeFundingSettled))

	h.svc.Settlement.Wait()
	assert.Len(t, h.custody.all(), 1, "only the deposit was posted")
}

func TestAccrueFundingSign(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	long := h.funded(t, "alice", "3000")
	short := h.funded(t, "bob", "3000")
	longPos := h.open(t, long.ID, "BTCUSDT", Long, "1", "45000", 20)
	shortPos := h.open(t, short.ID, "BTCUSDT", Short, "1", "45000", 20)

	h.prices.SetRate("BTCUSDT", d("0.0001"))
	require.NoError(t, h.svc.Funding.RefreshRates(ctx))
	require.NoError(t, h.svc.Funding.Accrue(ctx))

	assertDec(t, "2995.5", h.account(t, long.ID).TotalMargin)
	assertDec(t, "4.5", h.position(t, longPos.ID).FundingFee)
	assertDec(t, "3004.5", h.account(t, short.ID).TotalMargin)
	assertDec(t, "-4.5", h.position(t, shortPos.ID).FundingFee)
	h.assertUsedMargin(t, long.ID)

	settled := h.bus.OfType(events.TypeFundingSettled)
	require.Len(t, settled, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.FundingApplied.WithLabelValues("funding")))

	h.svc.Settlement.Wait()
	var amounts []string
	for _, p := range h.custody.all() {
		if p.Description == "funding BTCUSDT" {
			amounts = append(amounts, p.Amount.String())
		}
	}
	assert.ElementsMatch(t, []string{"-4.5", "4.5"}, amounts)
}

func TestAccrueInterest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(p *Params, _ *Deps) {
		p.InterestRate = d("0.0001")
	})
	ctx := context.Background()
	a := h.funded(t, "alice", "3000")
	pos := h.open(t, a.ID, "BTCUSDT", Long, "1", "45000", 20)

	require.NoError(t, h.svc.Funding.Accrue(ctx))

	assertDec(t, "4.275", h.position(t, pos.ID).InterestFee)
	assertDec(t, "0", h.position(t, pos.ID).FundingFee)
	assertDec(t, "2995.725", h.account(t, a.ID).TotalMargin)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FundingApplied.WithLabelValues("interest")))
}

func TestAccrueUsesCurrentMark(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.funded(t, "alice", "3000")
	pos := h.open(t, a.ID, "BTCUSDT", Long, "1", "45000", 20)

	h.prices.SetRate("BTCUSDT", d("0.0001"))
	h.prices.Set("BTCUSDT", d("46000"))
	require.NoError(t, h.svc.Funding.RefreshRates(ctx))
	require.NoError(t, h.svc.Funding.Accrue(ctx))

	p := h.position(t, pos.ID)
	assertDec(t, "46000", p.CurrentPrice)
	assertDec(t, "4.6", p.FundingFee)
	assertDec(t, "3995.4", h.account(t, a.ID).TotalEquity)
}

func TestRefreshRatesFallsBackToZero(t *testing.T) {
	t.Parallel()

	rates := fakeRates{
		rates: map[string]decimal.Decimal{"BTCUSDT": d("0.0003"), "ETHUSDT": d("0.0002")},
		fail:  map[string]bool{"ETHUSDT": true},
	}
	h := newHarness(t, func(p *Params, deps *Deps) {
		p.FundingInterval = 8 * time.Hour
		deps.Rates = rates
	})
	ctx := context.Background()
	a := h.funded(t, "alice", "10000")
	h.open(t, a.ID, "BTCUSDT", Long, "0.1", "45000", 10)
	h.open(t, a.ID, "ETHUSDT", Long, "1", "3000", 10)

	before := time.Now().UTC()
	err := h.svc.Funding.RefreshRates(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ETHUSDT")

	got := h.svc.GetFundingRates()
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assertDec(t, "0.0003", got[0].Rate)
	assert.Equal(t, "ETHUSDT", got[1].Symbol)
	assertDec(t, "0", got[1].Rate)
	assert.False(t, got[0].NextFundingTime.Before(before.Add(8*time.Hour)))

	require.NoError(t, h.svc.Funding.Accrue(ctx))
	assertDec(t, "9998.65", h.account(t, a.ID).TotalMargin)
}
