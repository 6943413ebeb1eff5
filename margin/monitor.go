package margin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/margin/events"
	"github.com/rustyeddy/margin/internal/metrics"
	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/risk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	sweepRisk        = "risk"
	sweepLiquidation = "liquidation"
)

// Monitor sweeps accounts, drives status transitions and hands accounts in
// liquidation to the Liquidator.
type Monitor struct {
	store      *Store
	ledger     *Ledger
	liquidator *Liquidator
	journal    journal.Journal
	bus        events.Bus
	metrics    *metrics.Margin
	log        *zap.Logger
}

func NewMonitor(store *Store, ledger *Ledger, liq *Liquidator, j journal.Journal, bus events.Bus, m *metrics.Margin, log *zap.Logger) *Monitor {
	if j == nil {
		j = journal.Nop()
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
	return &Monitor{
		store:      store,
		ledger:     ledger,
		liquidator: liq,
		journal:    j,
		bus:        bus,
		metrics:    m,
		log:        log.Named("monitor"),
	}
}

// Tick is one risk sweep over every account with margin in use.
func (m *Monitor) Tick(ctx context.Context) error {
	start := time.Now()
	defer m.metrics.ObserveSweep(sweepRisk, start)

	var targets []*record
	for _, rec := range m.store.records() {
		rec.mu.Lock()
		inUse := rec.account.UsedMargin.IsPositive()
		rec.mu.Unlock()
		if inUse {
			targets = append(targets, rec)
		}
	}

	err := m.sweep(ctx, sweepRisk, targets)
	m.observeBook()
	return err
}

// LiquidationTick re-checks only accounts in liquidation or escalated after
// a failed liquidation.
func (m *Monitor) LiquidationTick(ctx context.Context) error {
	start := time.Now()
	defer m.metrics.ObserveSweep(sweepLiquidation, start)

	var targets []*record
	for _, rec := range m.store.records() {
		rec.mu.Lock()
		accountID := rec.account.ID
		due := rec.risk == StatusLiquidation
		rec.mu.Unlock()
		if due || m.liquidator.isEscalated(accountID) {
			targets = append(targets, rec)
		}
	}
	return m.sweep(ctx, sweepLiquidation, targets)
}

func (m *Monitor) sweep(ctx context.Context, name string, targets []*record) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	workers := m.store.params.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, rec := range targets {
		rec := rec
		g.Go(func() error {
			if err := m.checkAccount(gctx, name, rec); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			// one account failing never stops the sweep
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (m *Monitor) checkAccount(ctx context.Context, sweep string, rec *record) error {
	res, err := m.ledger.markAccount(ctx, rec, true)
	if err != nil {
		m.metrics.SweepErrors.WithLabelValues(sweep, "price").Inc()
		m.log.Warn("mark failed", zap.String("sweep", sweep), zap.Error(err))
		return err
	}
	a := res.account
	if len(res.open) == 0 {
		m.liquidator.clearEscalation(a.ID)
		return nil
	}

	if err := m.journal.RecordEquity(res.snapshot); err != nil {
		m.metrics.SweepErrors.WithLabelValues(sweep, "journal").Inc()
		m.log.Error("journal equity", zap.String("account_id", a.ID), zap.Error(err))
	}

	if res.risk != res.prevRisk && !res.held {
		emit(ctx, m.bus, m.log, events.StatusChanged{
			AccountID: a.ID,
			From:      string(res.prevRisk),
			To:        string(res.risk),
			At:        a.UpdatedAt,
		})
	}

	if res.risk == StatusMarginCall && res.prevRisk != StatusMarginCall {
		m.metrics.MarginCalls.Inc()
		m.log.Warn("margin call",
			zap.String("account_id", a.ID),
			zap.String("user_id", a.UserID),
			zap.Stringer("equity", a.TotalEquity),
			zap.Stringer("used_margin", a.UsedMargin),
			zap.Stringer("margin_level", a.MarginLevel),
		)
		emit(ctx, m.bus, m.log, events.MarginCall{
			AccountID:   a.ID,
			UserID:      a.UserID,
			TenantID:    a.TenantID,
			Equity:      a.TotalEquity,
			UsedMargin:  a.UsedMargin,
			MarginLevel: a.MarginLevel,
			Threshold:   m.store.params.MaintenanceMarginRatio,
			At:          a.UpdatedAt,
		})
	}

	var reason LiquidationReason
	switch {
	case res.risk == StatusLiquidation && res.prevRisk == StatusMarginCall:
		reason = ReasonMarginCall
	case res.risk == StatusLiquidation:
		reason = ReasonForcedLiquidation
	default:
		exp := risk.Exposure{OpenPositions: len(res.open), Notional: res.notional}
		if d := risk.CheckExposure(m.store.params.Risk, exp); !d.Allowed {
			m.log.Warn("exposure limit breached", zap.String("account_id", a.ID), zap.String("reason", d.Reason()))
			reason = ReasonRiskLimitExceeded
		}
	}
	if reason == "" {
		m.liquidator.clearEscalation(a.ID)
		return nil
	}
	return m.liquidateAll(ctx, sweep, a.ID, res.open, reason)
}

func (m *Monitor) liquidateAll(ctx context.Context, sweep, accountID string, positions []string, reason LiquidationReason) error {
	var errs []error
	for _, pid := range positions {
		if _, err := m.liquidator.Liquidate(ctx, pid, reason); err != nil {
			if errors.Is(err, ErrPositionNotOpen) {
				continue
			}
			m.metrics.SweepErrors.WithLabelValues(sweep, "liquidation").Inc()
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("liquidate %s: %w", accountID, errors.Join(errs...))
	}
	return nil
}

func (m *Monitor) observeBook() {
	counts := map[AccountStatus]int{}
	open := 0
	for _, rec := range m.store.records() {
		rec.mu.Lock()
		counts[rec.account.Status]++
		open += rec.openCountLocked()
		rec.mu.Unlock()
	}
	for _, s := range []AccountStatus{StatusActive, StatusMarginCall, StatusLiquidation, StatusSuspended, StatusClosed} {
		m.metrics.Accounts.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	m.metrics.OpenPositions.Set(float64(open))
}

// Run sweeps on both intervals until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	p := m.store.params
	sweep := time.NewTicker(nonZero(p.SweepInterval, time.Second))
	defer sweep.Stop()
	fast := time.NewTicker(nonZero(p.LiquidationInterval, 250*time.Millisecond))
	defer fast.Stop()

	m.log.Info("monitor started",
		zap.Duration("sweep_interval", p.SweepInterval),
		zap.Duration("liquidation_interval", p.LiquidationInterval),
	)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return nil
		case <-sweep.C:
			if err := m.Tick(ctx); err != nil {
				m.log.Warn("risk sweep", zap.Error(err))
			}
		case <-fast.C:
			if err := m.LiquidationTick(ctx); err != nil {
				m.log.Warn("liquidation sweep", zap.Error(err))
			}
		}
	}
}

func nonZero(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
