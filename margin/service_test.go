package margin

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/margin/oracle"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewServiceRequiresOracle(t *testing.T) {
	_, err := NewService(DefaultParams(), Deps{})
	assert.Error(t, err)
}

func TestNewServiceDefaults(t *testing.T) {
	svc, err := NewService(DefaultParams(), Deps{Oracle: oracle.NewStatic(), Logger: zap.NewNop()})
	require.NoError(t, err)
	defer svc.Settlement.Close()

	ctx := context.Background()
	a, err := svc.CreateAccount(ctx, "alice", "t1", Cross, "")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, a.ID, d("100"), "")
	require.NoError(t, err)
	assert.Len(t, svc.ListAccounts(), 1)
	assert.Empty(t, svc.GetFundingRates())
}

func TestServiceRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(p *Params, _ *Deps) {
		p.SweepInterval = 10 * time.Millisecond
		p.LiquidationInterval = 5 * time.Millisecond
		p.RefreshInterval = 10 * time.Millisecond
		p.FundingInterval = time.Hour
	})
	a := h.funded(t, "alice", "3000")
	pos := h.open(t, a.ID, "BTCUSDT", Long, "1", "45000", 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	h.prices.Set("BTCUSDT", d("42100"))
	require.Eventually(t, func() bool {
		p, err := h.svc.Ledger.Position(pos.ID)
		return err == nil && p.Status == PositionLiquidated
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	records := h.journal.liquidationsWith(LiquidationExecuted)
	require.Len(t, records, 1)
	penalty, ok := h.custody.byRef(records[0].ID)
	require.True(t, ok, "queued postings are drained on shutdown")
	assertDec(t, "-210.5", penalty.Amount)
}

func TestSettlingOperationsAfterShutdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.funded(t, "alice", "3000")
	pos := h.open(t, a.ID, "BTCUSDT", Long, "1", "45000", 20)
	h.svc.Settlement.Close()
	before := h.account(t, a.ID)

	_, err := h.svc.ClosePosition(ctx, pos.ID, decimal.Zero, d("46000"))
	require.ErrorIs(t, err, ErrSettlementClosed)
	_, err = h.svc.Liquidator.Liquidate(ctx, pos.ID, ReasonForcedLiquidation)
	require.ErrorIs(t, err, ErrSettlementClosed)
	require.ErrorIs(t, h.svc.Funding.Accrue(ctx), ErrSettlementClosed)

	assert.Equal(t, PositionOpen, h.position(t, pos.ID).Status)
	assertDec(t, before.TotalMargin.String(), h.account(t, a.ID).TotalMargin)
	assert.Empty(t, h.journal.liquidationsWith(LiquidationFailed))

	// reads and deposits do not settle through the queue
	_, err = h.svc.Deposit(ctx, a.ID, d("10"), "dep-late")
	assert.NoError(t, err)
}
