package margin

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	a, err := h.svc.CreateAccount(ctx, "alice", "t1", Cross, "")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, a.Status)
	assert.Equal(t, "USDT", a.Currency)
	assert.True(t, a.MarginLevel.IsZero())
	assert.Contains(t, a.ID, "acct_")

	_, err = h.svc.CreateAccount(ctx, "alice", "t1", Cross, "")
	assert.ErrorIs(t, err, ErrAccountExists)

	_, err = h.svc.CreateAccount(ctx, "alice", "t1", Isolated, "BTCUSDT")
	assert.NoError(t, err, "isolated account is a different key")

	_, err = h.svc.CreateAccount(ctx, "alice", "t2", Cross, "")
	assert.NoError(t, err, "other tenant is a different key")

	_, err = h.svc.CreateAccount(ctx, "bob", "t1", Isolated, "")
	assert.ErrorIs(t, err, ErrSymbolRequired)

	_, err = h.svc.CreateAccount(ctx, "bob", "t1", Cross, "BTCUSDT")
	assert.ErrorIs(t, err, ErrSymbolForbidden)

	_, err = h.svc.CreateAccount(ctx, "bob", "t1", "margin", "")
	assert.ErrorIs(t, err, ErrInvalidAccount)

	_, err = h.svc.CreateAccount(ctx, "", "t1", Cross, "")
	assert.ErrorIs(t, err, ErrInvalidAccount)

	assert.Len(t, h.svc.ListAccounts(), 3)

	_, err = h.svc.GetAccount("acct_missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDepositWithdraw(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	a, err := h.svc.CreateAccount(ctx, "alice", "t1", Cross, "")
	require.NoError(t, err)

	_, err = h.svc.Deposit(ctx, a.ID, d("-5"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = h.svc.Deposit(ctx, a.ID, d("0"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = h.svc.Deposit(ctx, "acct_missing", d("10"), "")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	a, err = h.svc.Deposit(ctx, a.ID, d("3000"), "d1")
	require.NoError(t, err)
	assertDec(t, "3000", a.TotalMargin)
	assertDec(t, "3000", a.TotalEquity)
	assertDec(t, "3000", a.AvailableBalance)

	a, err = h.svc.Deposit(ctx, a.ID, d("3000"), "d1")
	require.NoError(t, err)
	assertDec(t, "3000", a.TotalMargin, "replayed ref applies once")
	assert.Len(t, h.custody.all(), 1)

	_, err = h.svc.Withdraw(ctx, a.ID, d("3000.01"), "w1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	a, err = h.svc.Withdraw(ctx, a.ID, d("1000"), "w1")
	require.NoError(t, err)
	assertDec(t, "2000", a.TotalMargin)

	a, err = h.svc.Withdraw(ctx, a.ID, d("1000"), "w1")
	require.NoError(t, err)
	assertDec(t, "2000", a.TotalMargin, "replayed ref applies once")

	p, ok := h.custody.byRef("w1")
	require.True(t, ok)
	assertDec(t, "-1000", p.Amount)
	assert.Equal(t, "withdrawal", p.Description)
}

func TestDepositCustodyFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	a, err := h.svc.CreateAccount(ctx, "alice", "t1", Cross, "")
	require.NoError(t, err)

	h.custody.setFail(errors.New("custody offline"))
	_, err = h.svc.Deposit(ctx, a.ID, d("500"), "d1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custody offline")
	assertDec(t, "0", h.account(t, a.ID).TotalMargin)

	h.custody.setFail(nil)
	a, err = h.svc.Deposit(ctx, a.ID, d("500"), "d1")
	require.NoError(t, err, "a failed posting does not consume the ref")
	assertDec(t, "500", a.TotalMargin)
}

func TestWithdrawMarginBoundary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.funded(t, "alice", "3000")
	h.open(t, a.ID, "BTCUSDT", Long, "1", "45000", 20)

	h.prices.Set("BTCUSDT", d("44900"))
	require.NoError(t, h.svc.Ledger.RefreshMarks(ctx))

	a = h.account(t, a.ID)
	assertDec(t, "-100", a.UnrealizedPnl)
	assertDec(t, "2900", a.TotalEquity)
	assertDec(t, "2250", a.UsedMargin)
	assertDec(t, "750", a.AvailableBalance)

	_, err := h.svc.Withdraw(ctx, a.ID, d("650.01"), "w1")
	assert.ErrorIs(t, err, ErrMarginViolation)

	a, err = h.svc.Withdraw(ctx, a.ID, d("650"), "w2")
	require.NoError(t, err)
	assertDec(t, "2250", a.TotalEquity)
	assertDec(t, "2250", a.UsedMargin)
	assertDec(t, "1", a.MarginLevel)
	assert.Equal(t, StatusActive, a.Status)
}

func TestSuspendResumeClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.funded(t, "alice", "3000")
	pos := h.open(t, a.ID, "BTCUSDT", Long, "1", "45000", 20)

	a, err := h.svc.Suspend(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, a.Status)

	_, err = h.svc.Withdraw(ctx, a.ID, d("10"), "")
	assert.ErrorIs(t, err, ErrAccountSuspended)

	_, err = h.svc.OpenPosition(ctx, OpenRequest{AccountID: a.ID, Symbol: "BTCUSDT", Side: Long, Size: d("0.01"), Leverage: 10})
	assert.ErrorIs(t, err, ErrAccountSuspended)

	h.prices.Set("BTCUSDT", d("43000"))
	require.NoError(t, h.svc.Ledger.RefreshMarks(ctx))
	assert.Equal(t, StatusSuspended, h.account(t, a.ID).Status, "suspension survives recompute")

	a, err = h.svc.Resume(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMarginCall, a.Status, "resume restores the derived status")

	_, err = h.svc.CloseAccount(ctx, a.ID)
	assert.ErrorIs(t, err, ErrOpenPositions)

	_, err = h.svc.ClosePosition(ctx, pos.ID, d("0"), d("0"))
	require.NoError(t, err)

	a, err = h.svc.CloseAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, a.Status)

	_, err = h.svc.Deposit(ctx, a.ID, d("1"), "")
	assert.ErrorIs(t, err, ErrAccountClosed)
	_, err = h.svc.Withdraw(ctx, a.ID, d("1"), "")
	assert.ErrorIs(t, err, ErrAccountClosed)
	_, err = h.svc.Resume(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAccountClosed)

	a, err = h.svc.CloseAccount(ctx, a.ID)
	require.NoError(t, err, "closing twice is a no-op")
	assert.Equal(t, StatusClosed, a.Status)
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	p := testParams()
	tests := []struct {
		used, level string
		want        AccountStatus
	}{
		{"0", "0", StatusActive},
		{"100", "2", StatusActive},
		{"100", "0.5", StatusActive},
		{"100", "0.49", StatusMarginCall},
		{"100", "0.05", StatusMarginCall},
		{"100", "0.0499", StatusLiquidation},
		{"100", "-1", StatusLiquidation},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, deriveStatus(p, d(tt.used), d(tt.level)), "used %s level %s", tt.used, tt.level)
	}
}

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("boom"), "internal"},
		{fmt.Errorf("open: %w", ErrInsufficientMargin), "insufficient_margin"},
		{fmt.Errorf("open: %w", ErrInvalidLeverage), "invalid_leverage"},
		{fmt.Errorf("%w: %w", ErrLiquidationFailed, ErrPositionNotOpen), "liquidation_failed"},
		{fmt.Errorf("x: %w", ErrPriceUnavailable), "price_unavailable"},
		{ErrRiskLimit, "risk_limit"},
		{fmt.Errorf("close: %w", ErrSettlementClosed), "settlement_closed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err))
	}
}
