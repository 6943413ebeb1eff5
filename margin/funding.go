package margin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/margin/calc"
	"github.com/rustyeddy/margin/events"
	"github.com/rustyeddy/margin/internal/id"
	"github.com/rustyeddy/margin/internal/metrics"
	"github.com/rustyeddy/margin/journal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Funding caches per-symbol funding rates and applies funding and borrow
// interest to open positions.
type Funding struct {
	store   *Store
	oracle  PriceOracle
	source  RateSource
	settle  *Settlement
	bus     events.Bus
	metrics *metrics.Margin
	log     *zap.Logger

	mu    sync.RWMutex
	rates map[string]FundingRate
}

func NewFunding(store *Store, oracle PriceOracle, source RateSource, settle *Settlement, bus events.Bus, m *metrics.Margin, log *zap.Logger) *Funding {
	if source == nil {
		source = zeroRates{}
	}
	if bus == nil {
		bus = events.Nop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Funding{
		store:   store,
		oracle:  oracle,
		source:  source,
		settle:  settle,
		bus:     bus,
		metrics: m,
		log:     log.Named("funding"),
		rates:   make(map[string]FundingRate),
	}
}

// RefreshRates fetches a rate for every symbol with open positions. A symbol
// whose fetch fails gets a zero rate until the next refresh.
func (f *Funding) RefreshRates(ctx context.Context) error {
	seen := map[string]struct{}{}
	var symbols []string
	for _, rec := range f.store.records() {
		rec.mu.Lock()
		for _, s := range rec.openSymbolsLocked() {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				symbols = append(symbols, s)
			}
		}
		rec.mu.Unlock()
	}
	sort.Strings(symbols)

	next := f.store.now().UTC().Add(f.store.params.FundingInterval)
	fetched := make(map[string]FundingRate, len(symbols))
	var errs []error
	for _, sym := range symbols {
		rate, err := f.source.FundingRate(ctx, sym)
		if err != nil {
			f.log.Warn("funding rate unavailable, using zero", zap.String("symbol", sym), zap.Error(err))
			errs = append(errs, fmt.Errorf("funding rate %s: %w", sym, err))
			rate = decimal.Zero
		}
		fetched[sym] = FundingRate{Symbol: sym, Rate: rate, NextFundingTime: next}
	}

	f.mu.Lock()
	for sym, r := range fetched {
		f.rates[sym] = r
	}
	f.mu.Unlock()
	return errors.Join(errs...)
}

// FundingRates returns the cached rates sorted by symbol.
func (f *Funding) FundingRates() []FundingRate {
	f.mu.RLock()
	out := make([]FundingRate, 0, len(f.rates))
	for _, r := range f.rates {
		out = append(out, r)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (f *Funding) rate(symbol string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rates[symbol].Rate
}

// Accrue applies one funding period to every open position. A positive rate
// has longs pay and shorts receive. Interest is charged on the borrowed part
// of the notional. Zero amounts are skipped.
func (f *Funding) Accrue(ctx context.Context) error {
	var errs []error
	for _, rec := range f.store.records() {
		if err := f.accrueAccount(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Funding) accrueAccount(ctx context.Context, rec *record) error {
	rec.mu.Lock()
	symbols := rec.openSymbolsLocked()
	accountID := rec.account.ID
	rec.mu.Unlock()
	if len(symbols) == 0 {
		return nil
	}
	if f.settle.Closed() {
		return fmt.Errorf("accrue %s: %w", accountID, ErrSettlementClosed)
	}

	prices, err := fetchPrices(ctx, f.oracle, f.store.params, symbols)
	if err != nil {
		return fmt.Errorf("accrue %s: %w", accountID, err)
	}

	var (
		postings []journal.Posting
		settled  []events.FundingSettled
	)

	rec.mu.Lock()
	now := f.store.now().UTC()
	rec.markLocked(prices, now)
	currency := rec.account.Currency
	for _, p := range rec.openLocked() {
		rate := f.rate(p.Symbol)
		notional := p.Notional()
		fee := calc.FundingPayment(p.Side, notional, rate)
		interest := calc.Interest(notional, p.MarginUsed, f.store.params.InterestRate)
		if fee.IsZero() && interest.IsZero() {
			continue
		}

		if !fee.IsZero() {
			p.FundingFee = p.FundingFee.Add(fee)
			rec.account.TotalMargin = rec.account.TotalMargin.Sub(fee)
			postings = append(postings, journal.Posting{
				Ref:         id.With(id.Posting),
				AccountID:   accountID,
				Amount:      fee.Neg(),
				Currency:    currency,
				Description: "funding " + p.Symbol,
				CreatedAt:   now,
			})
			f.metrics.FundingApplied.WithLabelValues("funding").Inc()
		}
		if !interest.IsZero() {
			p.InterestFee = p.InterestFee.Add(interest)
			rec.account.TotalMargin = rec.account.TotalMargin.Sub(interest)
			postings = append(postings, journal.Posting{
				Ref:         id.With(id.Posting),
				AccountID:   accountID,
				Amount:      interest.Neg(),
				Currency:    currency,
				Description: "interest " + p.Symbol,
				CreatedAt:   now,
			})
			f.metrics.FundingApplied.WithLabelValues("interest").Inc()
		}
		p.UpdatedAt = now
		settled = append(settled, events.FundingSettled{
			AccountID:   accountID,
			PositionID:  p.ID,
			Symbol:      p.Symbol,
			Rate:        rate,
			FundingFee:  fee,
			InterestFee: interest,
			At:          now,
		})
	}
	rec.recomputeLocked(f.store.params, now)
	rec.mu.Unlock()

	for _, p := range postings {
		f.settle.Queue(ctx, p)
	}
	for _, ev := range settled {
		emit(ctx, f.bus, f.log, ev)
	}
	if len(settled) > 0 {
		f.log.Info("funding applied", zap.String("account_id", accountID), zap.Int("positions", len(settled)))
	}
	return nil
}

// Run refreshes rates on the refresh interval and accrues on the funding
// interval until ctx is cancelled.
func (f *Funding) Run(ctx context.Context) error {
	p := f.store.params
	refresh := time.NewTicker(nonZero(p.RefreshInterval, time.Minute))
	defer refresh.Stop()
	accrue := time.NewTicker(nonZero(p.FundingInterval, 8*time.Hour))
	defer accrue.Stop()

	if err := f.RefreshRates(ctx); err != nil {
		f.log.Warn("refresh funding rates", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			if err := f.RefreshRates(ctx); err != nil {
				f.log.Warn("refresh funding rates", zap.Error(err))
			}
		case <-accrue.C:
			if err := f.RefreshRates(ctx); err != nil {
				f.log.Warn("refresh funding rates", zap.Error(err))
			}
			if err := f.Accrue(ctx); err != nil {
				f.log.Warn("accrue funding", zap.Error(err))
			}
		}
	}
}
