package margin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/margin/calc"
	"github.com/rustyeddy/margin/events"
	"github.com/rustyeddy/margin/internal/id"
	"github.com/rustyeddy/margin/internal/metrics"
	"github.com/rustyeddy/margin/journal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Liquidator force-closes positions at the oracle mark and charges the
// liquidation penalty.
type Liquidator struct {
	store   *Store
	oracle  PriceOracle
	journal journal.Journal
	bus     events.Bus
	settle  *Settlement
	metrics *metrics.Margin
	log     *zap.Logger

	mu        sync.Mutex
	escalated map[string]struct{}
}

func NewLiquidator(store *Store, oracle PriceOracle, j journal.Journal, bus events.Bus, settle *Settlement, m *metrics.Margin, log *zap.Logger) *Liquidator {
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
	return &Liquidator{
		store:     store,
		oracle:    oracle,
		journal:   j,
		bus:       bus,
		settle:    settle,
		metrics:   m,
		log:       log.Named("liquidator"),
		escalated: make(map[string]struct{}),
	}
}

// Liquidate closes the whole position. A terminal position is left alone
// and reported as a failed event wrapping ErrPositionNotOpen.
func (l *Liquidator) Liquidate(ctx context.Context, positionID string, reason LiquidationReason) (LiquidationEvent, error) {
	rec, err := l.store.recordFor(positionID)
	if err != nil {
		return LiquidationEvent{}, err
	}

	rec.mu.Lock()
	pos := *rec.positionLocked(positionID)
	rec.mu.Unlock()

	ev := LiquidationEvent{
		ID:         id.With(id.Liquidation),
		AccountID:  pos.AccountID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Reason:     reason,
		Status:     LiquidationPending,
	}

	if pos.Status.Terminal() {
		return l.notOpen(ev, pos.Status)
	}
	if l.settle.Closed() {
		return LiquidationEvent{}, fmt.Errorf("liquidate %s: %w", positionID, ErrSettlementClosed)
	}

	prices, err := fetchPrices(ctx, l.oracle, l.store.params, []string{pos.Symbol})
	if err != nil {
		return l.failed(ctx, ev, err)
	}
	price := prices[pos.Symbol]

	rec.mu.Lock()
	p := rec.positionLocked(positionID)
	if p.Status.Terminal() {
		status := p.Status
		rec.mu.Unlock()
		return l.notOpen(ev, status)
	}

	now := l.store.now().UTC()
	params := l.store.params
	realized := calc.UnrealizedPnl(p.Side, p.EntryPrice, price, p.Size)
	penalty := calc.PenaltyFee(calc.Notional(p.Size, price), params.PenaltyFeeRate)

	p.RealizedPnl = p.RealizedPnl.Add(realized)
	p.UnrealizedPnl = decimal.Zero
	p.MarginUsed = decimal.Zero
	p.CurrentPrice = price
	p.Status = PositionLiquidated
	p.UpdatedAt = now
	p.ClosedAt = now

	rec.account.TotalMargin = rec.account.TotalMargin.Add(realized).Sub(penalty)
	rec.recomputeLocked(params, now)

	a := rec.account
	ev.LiquidationPrice = price
	ev.LiquidationAmount = p.Size
	ev.PenaltyFee = penalty
	ev.RemainingMargin = a.TotalEquity.Sub(a.UsedMargin)
	ev.MarginRatio = a.MarginRatio
	ev.Status = LiquidationExecuted
	ev.CreatedAt = now
	stillLiquidating := rec.risk == StatusLiquidation
	userID, tenantID := a.UserID, a.TenantID
	rec.mu.Unlock()

	if !stillLiquidating {
		l.clearEscalation(ev.AccountID)
	}

	if !realized.IsZero() {
		l.settle.Queue(ctx, journal.Posting{
			Ref:         ev.ID + ":pnl",
			AccountID:   ev.AccountID,
			Amount:      realized,
			Currency:    a.Currency,
			Description: "liquidation pnl " + ev.Symbol,
			CreatedAt:   now,
		})
	}
	if !penalty.IsZero() {
		l.settle.Queue(ctx, journal.Posting{
			Ref:         ev.ID,
			AccountID:   ev.AccountID,
			Amount:      penalty.Neg(),
			Currency:    a.Currency,
			Description: "liquidation penalty " + ev.Symbol,
			CreatedAt:   now,
		})
	}

	l.record(ev)
	l.metrics.Liquidations.WithLabelValues(string(ev.Status), string(reason)).Inc()
	emit(ctx, l.bus, l.log, events.LiquidationExecuted{
		LiquidationID:   ev.ID,
		AccountID:       ev.AccountID,
		PositionID:      ev.PositionID,
		Symbol:          ev.Symbol,
		Reason:          string(reason),
		Price:           price,
		Amount:          ev.LiquidationAmount,
		RealizedPnl:     realized,
		PenaltyFee:      penalty,
		RemainingMargin: ev.RemainingMargin,
		MarginRatio:     ev.MarginRatio,
		At:              now,
	})

	l.log.Warn("position liquidated",
		zap.String("liquidation_id", ev.ID),
		zap.String("account_id", ev.AccountID),
		zap.String("user_id", userID),
		zap.String("tenant_id", tenantID),
		zap.String("position_id", ev.PositionID),
		zap.String("reason", string(reason)),
		zap.Stringer("price", price),
		zap.Stringer("realized_pnl", realized),
		zap.Stringer("penalty_fee", penalty),
		zap.Stringer("remaining_margin", ev.RemainingMargin),
	)
	return ev, nil
}

func (l *Liquidator) notOpen(ev LiquidationEvent, status PositionStatus) (LiquidationEvent, error) {
	ev.Status = LiquidationFailed
	ev.Error = ErrPositionNotOpen.Error()
	ev.CreatedAt = l.store.now().UTC()
	return ev, fmt.Errorf("%w: %s is %s: %w", ErrLiquidationFailed, ev.PositionID, status, ErrPositionNotOpen)
}

// failed records a liquidation that could not run and escalates the
// account so the liquidation sweep retries it.
func (l *Liquidator) failed(ctx context.Context, ev LiquidationEvent, cause error) (LiquidationEvent, error) {
	ev.Status = LiquidationFailed
	ev.Error = cause.Error()
	ev.CreatedAt = l.store.now().UTC()

	l.escalate(ev.AccountID)
	l.record(ev)
	l.metrics.Liquidations.WithLabelValues(string(ev.Status), string(ev.Reason)).Inc()
	emit(ctx, l.bus, l.log, events.LiquidationFailed{
		LiquidationID: ev.ID,
		AccountID:     ev.AccountID,
		PositionID:    ev.PositionID,
		Symbol:        ev.Symbol,
		Reason:        string(ev.Reason),
		Error:         ev.Error,
		At:            ev.CreatedAt,
	})

	l.log.Error("liquidation failed",
		zap.String("liquidation_id", ev.ID),
		zap.String("account_id", ev.AccountID),
		zap.String("position_id", ev.PositionID),
		zap.Error(cause),
	)
	return ev, fmt.Errorf("%w: %s: %w", ErrLiquidationFailed, ev.PositionID, cause)
}

func (l *Liquidator) record(ev LiquidationEvent) {
	err := l.journal.RecordLiquidation(journal.LiquidationRecord{
		ID:              ev.ID,
		AccountID:       ev.AccountID,
		PositionID:      ev.PositionID,
		Symbol:          ev.Symbol,
		Price:           ev.LiquidationPrice,
		Amount:          ev.LiquidationAmount,
		RemainingMargin: ev.RemainingMargin,
		PenaltyFee:      ev.PenaltyFee,
		MarginRatio:     ev.MarginRatio,
		Reason:          string(ev.Reason),
		Status:          string(ev.Status),
		Error:           ev.Error,
		CreatedAt:       ev.CreatedAt,
	})
	if err != nil {
		l.log.Error("journal liquidation", zap.String("liquidation_id", ev.ID), zap.Error(err))
	}
}

func (l *Liquidator) escalate(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.escalated[accountID] = struct{}{}
}

func (l *Liquidator) clearEscalation(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.escalated, accountID)
}

// Escalated lists accounts waiting for a liquidation retry.
func (l *Liquidator) Escalated() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.escalated))
	for a := range l.escalated {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (l *Liquidator) isEscalated(accountID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.escalated[accountID]
	return ok
}

// emit publishes ev. Bus failures are logged and never undo state.
func emit(ctx context.Context, bus events.Bus, log *zap.Logger, ev events.Event) {
	if err := bus.Emit(ctx, ev); err != nil {
		log.Warn("emit event",
			zap.String("type", string(ev.Type())),
			zap.String("key", ev.Key()),
			zap.Error(err),
		)
	}
}
