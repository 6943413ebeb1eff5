package margin

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentDepositsAndSweeps(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	const accounts, deposits = 8, 50
	ids := make([]string, accounts)
	for i := range ids {
		a := h.funded(t, fmt.Sprintf("user-%d", i), "10000")
		h.open(t, a.ID, "BTCUSDT", Long, "0.1", "45000", 10)
		ids[i] = a.ID
	}

	var wg sync.WaitGroup
	for _, accountID := range ids {
		accountID := accountID
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < deposits; j++ {
				_, err := h.svc.Deposit(ctx, accountID, d("1"), fmt.Sprintf("%s-%d", accountID, j))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			h.prices.Set("BTCUSDT", decimal.NewFromInt(int64(44000+j*100)))
			assert.NoError(t, h.svc.Monitor.Tick(ctx))
		}
	}()
	wg.Wait()

	for _, accountID := range ids {
		a := h.account(t, accountID)
		assertDec(t, "10050", a.TotalMargin)
		assertDec(t, "450", a.UsedMargin)
		h.assertUsedMargin(t, accountID)
	}
}

func TestConcurrentLiquidationOfOnePosition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.funded(t, "alice", "3000")
	pos := h.open(t, a.ID, "BTCUSDT", Long, "1", "45000", 20)
	h.prices.Set("BTCUSDT", d("42100"))

	const callers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		executed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := h.svc.Liquidator.Liquidate(ctx, pos.ID, ReasonForcedLiquidation)
			if err != nil {
				assert.ErrorIs(t, err, ErrPositionNotOpen)
				return
			}
			assert.Equal(t, LiquidationExecuted, ev.Status)
			mu.Lock()
			executed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, executed)
	assertDec(t, "-110.5", h.account(t, a.ID).TotalMargin)
	assert.Len(t, h.journal.liquidationsWith(LiquidationExecuted), 1)
}

func TestCloseDoesNotHoldAccountWhileQueueFull(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Params, deps *Deps) {
		deps.Settlement = SettlementOptions{Workers: 1, QueueSize: 1, Attempts: 1}
	})
	ctx := context.Background()
	a := h.funded(t, "alice", "3000")
	pos := h.open(t, a.ID, "BTCUSDT", Long, "1", "45000", 20)
	release := h.custody.block(t)

	// one posting held by the worker, one buffered
	for i := 0; i < 2; i++ {
		_, err := h.svc.ClosePosition(ctx, pos.ID, d("0.1"), d("46000"))
		require.NoError(t, err)
	}

	closed := make(chan error, 1)
	go func() {
		_, err := h.svc.ClosePosition(ctx, pos.ID, d("0.1"), d("46000"))
		closed <- err
	}()

	read := make(chan struct{})
	go func() {
		_, _ = h.svc.GetAccount(a.ID)
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(2 * time.Second):
		t.Fatal("account locked while settlement queue is full")
	}

	release()
	require.NoError(t, <-closed)
	h.svc.Settlement.Wait()
	assert.Len(t, h.custody.all(), 4, "deposit plus three realized pnl postings")
}
