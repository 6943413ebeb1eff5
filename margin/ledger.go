package margin

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rustyeddy/margin/calc"
	"github.com/rustyeddy/margin/internal/id"
	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger opens, closes and marks positions on the store's accounts.
type Ledger struct {
	store  *Store
	oracle PriceOracle
	gate   ComplianceGate
	settle *Settlement
	log    *zap.Logger
}

func NewLedger(store *Store, oracle PriceOracle, gate ComplianceGate, settle *Settlement, log *zap.Logger) *Ledger {
	if gate == nil {
		gate = allowAll{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, oracle: oracle, gate: gate, settle: settle, log: log.Named("ledger")}
}

// fetchPrices looks up every symbol, bounded by the price timeout. It is
// called without any account lock held.
func fetchPrices(ctx context.Context, o PriceOracle, p Params, symbols []string) (map[string]decimal.Decimal, error) {
	if p.PriceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.PriceTimeout)
		defer cancel()
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		price, err := o.Price(ctx, sym)
		if err != nil {
			return nil, err
		}
		out[sym] = price
	}
	return out, nil
}

func (l *Ledger) OpenPosition(ctx context.Context, req OpenRequest) (Position, error) {
	rec, err := l.store.get(req.AccountID)
	if err != nil {
		return Position{}, err
	}

	rec.mu.Lock()
	userID := rec.account.UserID
	rec.mu.Unlock()

	ok, err := l.gate.IsPermitted(ctx, userID)
	if err != nil {
		return Position{}, fmt.Errorf("open position: compliance check for %s: %w", userID, err)
	}
	if !ok {
		return Position{}, fmt.Errorf("open position for %s: %w", userID, ErrComplianceBlocked)
	}

	if !req.Side.Valid() {
		return Position{}, fmt.Errorf("open position: %w: %q", ErrInvalidSide, req.Side)
	}
	if !req.Size.IsPositive() {
		return Position{}, fmt.Errorf("open position: %w: size %s", ErrInvalidAmount, req.Size)
	}
	if req.Symbol == "" {
		return Position{}, fmt.Errorf("open position: %w: symbol required", ErrInvalidAmount)
	}
	if err := calc.ValidateLeverage(req.Leverage, l.store.params.MaxLeverage); err != nil {
		return Position{}, fmt.Errorf("open position: %w", err)
	}
	if req.EntryPrice.IsNegative() {
		return Position{}, fmt.Errorf("open position: %w: entry price %s", ErrInvalidAmount, req.EntryPrice)
	}

	entry := req.EntryPrice
	if entry.IsZero() {
		prices, err := fetchPrices(ctx, l.oracle, l.store.params, []string{req.Symbol})
		if err != nil {
			return Position{}, fmt.Errorf("open position: %w", err)
		}
		entry = prices[req.Symbol]
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	a := rec.account
	switch rec.hold {
	case StatusSuspended:
		return Position{}, fmt.Errorf("open position on %s: %w", a.ID, ErrAccountSuspended)
	case StatusClosed:
		return Position{}, fmt.Errorf("open position on %s: %w", a.ID, ErrAccountClosed)
	}
	if a.Type == Isolated && req.Symbol != a.Symbol {
		return Position{}, fmt.Errorf("open %s on %s: %w (%s)", req.Symbol, a.ID, ErrSymbolMismatch, a.Symbol)
	}

	notional := calc.Notional(req.Size, entry)
	decision := risk.Evaluate(l.store.params.Risk,
		risk.Intent{Symbol: req.Symbol, Notional: notional},
		risk.Exposure{OpenPositions: rec.openCountLocked(), Notional: rec.notionalLocked()},
	)
	if !decision.Allowed {
		return Position{}, fmt.Errorf("open %s on %s: %w: %s", req.Symbol, a.ID, ErrRiskLimit, decision.Reason())
	}

	required, err := calc.RequiredMargin(req.Size, entry, req.Leverage, l.store.params.MaxLeverage)
	if err != nil {
		return Position{}, fmt.Errorf("open position: %w", err)
	}
	if a.AvailableBalance.LessThan(required) {
		return Position{}, fmt.Errorf("open %s on %s: %w (required %s, available %s)",
			req.Symbol, a.ID, ErrInsufficientMargin, required, a.AvailableBalance)
	}

	now := l.store.now().UTC()
	liqPrice := calc.LiquidationPrice(req.Side, entry, req.Leverage, l.store.params.LiquidationThreshold)
	pos := &Position{
		ID:               id.With(id.Position),
		AccountID:        a.ID,
		UserID:           a.UserID,
		TenantID:         a.TenantID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		Size:             req.Size,
		EntryPrice:       entry,
		CurrentPrice:     entry,
		Leverage:         req.Leverage,
		MarginUsed:       required,
		LiquidationPrice: liqPrice,
		UnrealizedPnl:    decimal.Zero,
		RealizedPnl:      decimal.Zero,
		FundingFee:       decimal.Zero,
		InterestFee:      decimal.Zero,
		Status:           PositionOpen,
		OpenedAt:         now,
		UpdatedAt:        now,
	}
	rec.positions = append(rec.positions, pos)
	l.store.indexPosition(pos.ID, a.ID)
	rec.recomputeLocked(l.store.params, now)

	l.log.Info("position opened",
		zap.String("account_id", a.ID),
		zap.String("position_id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Stringer("size", pos.Size),
		zap.Stringer("entry_price", entry),
		zap.Int("leverage", pos.Leverage),
		zap.Stringer("margin_used", required),
	)
	return *pos, nil
}

// ClosePosition closes closeSize of a position at closePrice. A zero size
// closes the whole position; a zero price closes at the oracle mark.
func (l *Ledger) ClosePosition(ctx context.Context, positionID string, closeSize, closePrice decimal.Decimal) (CloseResult, error) {
	rec, err := l.store.recordFor(positionID)
	if err != nil {
		return CloseResult{}, err
	}
	if closeSize.IsNegative() || closePrice.IsNegative() {
		return CloseResult{}, fmt.Errorf("close %s: %w", positionID, ErrInvalidAmount)
	}
	if l.settle.Closed() {
		return CloseResult{}, fmt.Errorf("close %s: %w", positionID, ErrSettlementClosed)
	}

	if closePrice.IsZero() {
		rec.mu.Lock()
		symbol := rec.positionLocked(positionID).Symbol
		rec.mu.Unlock()

		prices, err := fetchPrices(ctx, l.oracle, l.store.params, []string{symbol})
		if err != nil {
			return CloseResult{}, fmt.Errorf("close %s: %w", positionID, err)
		}
		closePrice = prices[symbol]
	}

	rec.mu.Lock()
	p := rec.positionLocked(positionID)
	if p.Status.Terminal() {
		status := p.Status
		rec.mu.Unlock()
		return CloseResult{}, fmt.Errorf("close %s: %w (%s)", positionID, ErrPositionNotOpen, status)
	}
	if closeSize.IsZero() {
		closeSize = p.Size
	}
	if closeSize.GreaterThan(p.Size) {
		open := p.Size
		rec.mu.Unlock()
		return CloseResult{}, fmt.Errorf("close %s: %w: size %s exceeds open %s", positionID, ErrInvalidAmount, closeSize, open)
	}

	now := l.store.now().UTC()
	realized := calc.UnrealizedPnl(p.Side, p.EntryPrice, closePrice, closeSize)
	full := closeSize.Equal(p.Size)

	p.RealizedPnl = p.RealizedPnl.Add(realized)
	p.CurrentPrice = closePrice
	p.UpdatedAt = now
	if full {
		p.MarginUsed = decimal.Zero
		p.UnrealizedPnl = decimal.Zero
		p.Status = PositionClosed
		p.ClosedAt = now
	} else {
		released := p.MarginUsed.Mul(calc.Proportion(closeSize, p.Size))
		p.MarginUsed = p.MarginUsed.Sub(released)
		p.Size = p.Size.Sub(closeSize)
		p.UnrealizedPnl = calc.UnrealizedPnl(p.Side, p.EntryPrice, closePrice, p.Size)
	}

	rec.account.TotalMargin = rec.account.TotalMargin.Add(realized)
	rec.recomputeLocked(l.store.params, now)
	closed := *p
	currency := rec.account.Currency
	rec.mu.Unlock()

	if !realized.IsZero() {
		l.settle.Queue(ctx, journal.Posting{
			Ref:         id.With(id.Posting),
			AccountID:   closed.AccountID,
			Amount:      realized,
			Currency:    currency,
			Description: "realized pnl " + closed.Symbol,
			CreatedAt:   now,
		})
	}

	l.log.Info("position closed",
		zap.String("account_id", closed.AccountID),
		zap.String("position_id", closed.ID),
		zap.Stringer("close_size", closeSize),
		zap.Stringer("close_price", closePrice),
		zap.Stringer("realized_pnl", realized),
		zap.Bool("full", full),
	)
	return CloseResult{Position: closed, RealizedPnl: realized}, nil
}

// RefreshMarks re-prices every account with open positions. A failed
// account keeps its old marks and does not stop the others.
func (l *Ledger) RefreshMarks(ctx context.Context) error {
	var errs []error
	for _, rec := range l.store.records() {
		if _, err := l.markAccount(ctx, rec, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type markResult struct {
	// prevRisk is the status last announced, set only when announcing.
	prevRisk AccountStatus
	risk     AccountStatus
	held     bool
	account  Account
	snapshot journal.EquitySnapshot
	notional decimal.Decimal
	open     []string
}

// markAccount prices the account's open symbols outside the lock, then
// applies them and recomputes under it. With announce set it also moves
// the monitor's announced status to the new risk status.
func (l *Ledger) markAccount(ctx context.Context, rec *record, announce bool) (markResult, error) {
	rec.mu.Lock()
	symbols := rec.openSymbolsLocked()
	if len(symbols) == 0 {
		res := markResult{prevRisk: rec.announced, risk: rec.risk, held: rec.hold != "", account: rec.account}
		if announce {
			rec.announced = rec.risk
		}
		rec.mu.Unlock()
		return res, nil
	}
	accountID := rec.account.ID
	rec.mu.Unlock()

	prices, err := fetchPrices(ctx, l.oracle, l.store.params, symbols)
	if err != nil {
		return markResult{}, fmt.Errorf("mark %s: %w", accountID, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := l.store.now().UTC()
	rec.markLocked(prices, now)
	rec.recomputeLocked(l.store.params, now)

	res := markResult{
		prevRisk: rec.announced,
		risk:     rec.risk,
		held:     rec.hold != "",
		account:  rec.account,
		snapshot: rec.snapshotLocked(now),
		notional: rec.notionalLocked(),
	}
	if announce {
		rec.announced = rec.risk
	}
	for _, p := range rec.openLocked() {
		res.open = append(res.open, p.ID)
	}
	return res, nil
}

// GetPositions returns the account's positions, open ones first, each
// group in opening order.
func (l *Ledger) GetPositions(accountID string) ([]Position, error) {
	rec, err := l.store.get(accountID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	out := make([]Position, 0, len(rec.positions))
	for _, p := range rec.positions {
		out = append(out, *p)
	}
	rec.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := !out[i].Status.Terminal(), !out[j].Status.Terminal()
		if oi != oj {
			return oi
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

func (l *Ledger) Position(positionID string) (Position, error) {
	rec, err := l.store.recordFor(positionID)
	if err != nil {
		return Position{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return *rec.positionLocked(positionID), nil
}
