package margin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/margin/compliance"
	"github.com/rustyeddy/margin/events"
	"github.com/rustyeddy/margin/internal/metrics"
	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/oracle"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

type fakeCustody struct {
	mu       sync.Mutex
	postings []journal.Posting
	refs     map[string]struct{}
	fail     error
	// gate, when set, blocks each posting until it is closed.
	gate chan struct{}
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{refs: make(map[string]struct{})}
}

func (c *fakeCustody) PostEntry(_ context.Context, p journal.Posting) error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	if _, ok := c.refs[p.Ref]; ok {
		return nil
	}
	c.refs[p.Ref] = struct{}{}
	c.postings = append(c.postings, p)
	return nil
}

// block holds every later posting until the returned func is called.
func (c *fakeCustody) block(t *testing.T) func() {
	t.Helper()
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return release
}

func (c *fakeCustody) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *fakeCustody) all() []journal.Posting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]journal.Posting(nil), c.postings...)
}

func (c *fakeCustody) byRef(ref string) (journal.Posting, bool) {
	for _, p := range c.all() {
		if p.Ref == ref {
			return p, true
		}
	}
	return journal.Posting{}, false
}

type memJournal struct {
	mu           sync.Mutex
	liquidations []journal.LiquidationRecord
	equity       []journal.EquitySnapshot
}

func (j *memJournal) RecordLiquidation(r journal.LiquidationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.liquidations = append(j.liquidations, r)
	return nil
}

func (j *memJournal) RecordEquity(e journal.EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.equity = append(j.equity, e)
	return nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) liquidationsWith(status LiquidationStatus) []journal.LiquidationRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journal.LiquidationRecord
	for _, r := range j.liquidations {
		if r.Status == string(status) {
			out = append(out, r)
		}
	}
	return out
}

func (j *memJournal) equityFor(accountID string) []journal.EquitySnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journal.EquitySnapshot
	for _, e := range j.equity {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

type fakeRates struct {
	rates map[string]decimal.Decimal
	fail  map[string]bool
}

func (f fakeRates) FundingRate(_ context.Context, symbol string) (decimal.Decimal, error) {
	if f.fail[symbol] {
		return decimal.Zero, errors.New("rate feed down")
	}
	return f.rates[symbol], nil
}

type harness struct {
	svc     *Service
	prices  *oracle.Static
	custody *fakeCustody
	bus     *events.Memory
	journal *memJournal
	gate    *compliance.StaticGate
	metrics *metrics.Margin
}

func testParams() Params {
	p := DefaultParams()
	p.MaintenanceMarginRatio = d("0.5")
	p.LiquidationThreshold = d("0.05")
	p.PenaltyFeeRate = d("0.005")
	p.Workers = 4
	return p
}

func newHarness(t *testing.T, mutate func(p *Params, deps *Deps)) *harness {
	t.Helper()

	h := &harness{
		prices:  oracle.NewStatic(),
		custody: newFakeCustody(),
		bus:     events.NewMemory(),
		journal: &memJournal{},
		gate:    compliance.NewStaticGate(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	h.prices.Set("BTCUSDT", d("45000"))
	h.prices.Set("ETHUSDT", d("3000"))

	p := testParams()
	deps := Deps{
		Oracle:     h.prices,
		Rates:      h.prices,
		Custody:    h.custody,
		Gate:       h.gate,
		Journal:    h.journal,
		Bus:        h.bus,
		Metrics:    h.metrics,
		Logger:     zaptest.NewLogger(t),
		Settlement: SettlementOptions{Workers: 2, QueueSize: 64, Attempts: 3},
	}
	if mutate != nil {
		mutate(&p, &deps)
	}

	svc, err := NewService(p, deps)
	require.NoError(t, err)
	t.Cleanup(svc.Settlement.Close)
	h.svc = svc
	return h
}

// funded creates a cross account for user and deposits amount.
func (h *harness) funded(t *testing.T, user, amount string) Account {
	t.Helper()
	ctx := context.Background()
	a, err := h.svc.CreateAccount(ctx, user, "tenant-1", Cross, "")
	require.NoError(t, err)
	a, err = h.svc.Deposit(ctx, a.ID, d(amount), "dep-"+user)
	require.NoError(t, err)
	return a
}

func (h *harness) open(t *testing.T, accountID, symbol string, side Side, size, price string, leverage int) Position {
	t.Helper()
	p, err := h.svc.OpenPosition(context.Background(), OpenRequest{
		AccountID:  accountID,
		Symbol:     symbol,
		Side:       side,
		Size:       d(size),
		Leverage:   leverage,
		EntryPrice: d(price),
	})
	require.NoError(t, err)
	return p
}

func (h *harness) account(t *testing.T, accountID string) Account {
	t.Helper()
	a, err := h.svc.GetAccount(accountID)
	require.NoError(t, err)
	return a
}

func (h *harness) position(t *testing.T, positionID string) Position {
	t.Helper()
	p, err := h.svc.Ledger.Position(positionID)
	require.NoError(t, err)
	return p
}

// assertUsedMargin checks the account's used margin against its open positions.
func (h *harness) assertUsedMargin(t *testing.T, accountID string) {
	t.Helper()
	a := h.account(t, accountID)
	positions, err := h.svc.GetPositions(accountID)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, p := range positions {
		if !p.Status.Terminal() {
			sum = sum.Add(p.MarginUsed)
		}
	}
	assert.True(t, sum.Equal(a.UsedMargin), "used margin %s, positions sum %s", a.UsedMargin, sum)
	if a.UsedMargin.IsZero() {
		assert.True(t, a.MarginLevel.IsZero(), "margin level %s without margin in use", a.MarginLevel)
	}
}
