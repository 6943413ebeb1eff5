package margin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/margin/calc"
	"github.com/rustyeddy/margin/internal/id"
	"github.com/rustyeddy/margin/journal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// record is one account and its positions. Every field is guarded by mu.
type record struct {
	mu        sync.Mutex
	account   Account
	positions []*Position
	refs      map[string]struct{}
	// hold is suspended or closed when an operator has set it.
	hold AccountStatus
	// risk is the status derived from the margin level, kept even while held.
	risk AccountStatus
	// announced is the risk status the monitor last acted on. Only
	// markAccount with announce set writes it.
	announced AccountStatus
}

// Store owns every margin account. Accounts are locked individually; the
// store lock only guards the indexes and is never held while taking an
// account lock.
type Store struct {
	params  Params
	custody Custody
	log     *zap.Logger
	now     func() time.Time

	mu        sync.RWMutex
	accounts  map[string]*record
	byKey     map[string]string
	positions map[string]string
}

func NewStore(p Params, custody Custody, log *zap.Logger) *Store {
	if custody == nil {
		custody = nopCustody{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if p.Currency == "" {
		p.Currency = "USDT"
	}
	return &Store{
		params:    p,
		custody:   custody,
		log:       log.Named("store"),
		now:       time.Now,
		accounts:  make(map[string]*record),
		byKey:     make(map[string]string),
		positions: make(map[string]string),
	}
}

func accountKey(userID, tenantID string, typ AccountType, symbol string) string {
	return userID + "|" + tenantID + "|" + string(typ) + "|" + symbol
}

func (s *Store) CreateAccount(ctx context.Context, userID, tenantID string, typ AccountType, symbol string) (Account, error) {
	_ = ctx

	if userID == "" {
		return Account{}, fmt.Errorf("create account: %w: user id required", ErrInvalidAccount)
	}
	if !typ.Valid() {
		return Account{}, fmt.Errorf("create account: %w: type %q", ErrInvalidAccount, typ)
	}
	if typ == Isolated && symbol == "" {
		return Account{}, fmt.Errorf("create account: %w", ErrSymbolRequired)
	}
	if typ == Cross && symbol != "" {
		return Account{}, fmt.Errorf("create account: %w", ErrSymbolForbidden)
	}

	key := accountKey(userID, tenantID, typ, symbol)
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[key]; ok {
		return Account{}, fmt.Errorf("create account for %s: %w (%s)", userID, ErrAccountExists, existing)
	}

	rec := &record{
		account: Account{
			ID:        id.With(id.Account),
			UserID:    userID,
			TenantID:  tenantID,
			Type:      typ,
			Symbol:    symbol,
			Currency:  s.params.Currency,
			Status:    StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
		refs:      make(map[string]struct{}),
		risk:      StatusActive,
		announced: StatusActive,
	}
	rec.recomputeLocked(s.params, now)

	s.accounts[rec.account.ID] = rec
	s.byKey[key] = rec.account.ID

	s.log.Info("account created",
		zap.String("account_id", rec.account.ID),
		zap.String("user_id", userID),
		zap.String("tenant_id", tenantID),
		zap.String("type", string(typ)),
	)
	return rec.account, nil
}

func (s *Store) get(accountID string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.accounts[accountID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return rec, nil
}

func (s *Store) recordFor(positionID string) (*record, error) {
	s.mu.RLock()
	accountID, ok := s.positions[positionID]
	var rec *record
	if ok {
		rec = s.accounts[accountID]
	}
	s.mu.RUnlock()
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	return rec, nil
}

func (s *Store) indexPosition(positionID, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionID] = accountID
}

// records returns every account in creation order.
func (s *Store) records() []*record {
	s.mu.RLock()
	out := make([]*record, 0, len(s.accounts))
	for _, r := range s.accounts {
		out = append(out, r)
	}
	s.mu.RUnlock()

	// ids are ULIDs, so they sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].account.ID < out[j].account.ID })
	return out
}

func (s *Store) GetAccount(accountID string) (Account, error) {
	rec, err := s.get(accountID)
	if err != nil {
		return Account{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.account, nil
}

func (s *Store) ListAccounts() []Account {
	recs := s.records()
	out := make([]Account, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		out = append(out, r.account)
		r.mu.Unlock()
	}
	return out
}

// Deposit credits collateral. The custody posting is made first and the
// account only changes if it succeeds. A ref seen before is a no-op.
func (s *Store) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, ref string) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, fmt.Errorf("deposit %s: %w: %s", accountID, ErrInvalidAmount, amount)
	}
	rec, err := s.get(accountID)
	if err != nil {
		return Account{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if ref == "" {
		ref = id.With(id.Posting)
	}
	if _, seen := rec.refs[ref]; seen {
		return rec.account, nil
	}
	if rec.hold == StatusClosed {
		return Account{}, fmt.Errorf("deposit %s: %w", accountID, ErrAccountClosed)
	}

	now := s.now().UTC()
	if err := s.custody.PostEntry(ctx, journal.Posting{
		Ref:         ref,
		AccountID:   accountID,
		Amount:      amount,
		Currency:    rec.account.Currency,
		Description: "deposit",
		CreatedAt:   now,
	}); err != nil {
		return Account{}, fmt.Errorf("deposit %s: custody: %w", accountID, err)
	}

	rec.refs[ref] = struct{}{}
	rec.account.TotalMargin = rec.account.TotalMargin.Add(amount)
	rec.recomputeLocked(s.params, now)

	s.log.Info("deposit",
		zap.String("account_id", accountID),
		zap.Stringer("amount", amount),
		zap.String("ref", ref),
	)
	return rec.account, nil
}

// Withdraw debits collateral. It fails if the amount exceeds the available
// balance, or if equity after the withdrawal would fall below the margin in
// use. Equity exactly equal to the margin in use is allowed.
func (s *Store) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, ref string) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, fmt.Errorf("withdraw %s: %w: %s", accountID, ErrInvalidAmount, amount)
	}
	rec, err := s.get(accountID)
	if err != nil {
		return Account{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if ref == "" {
		ref = id.With(id.Posting)
	}
	if _, seen := rec.refs[ref]; seen {
		return rec.account, nil
	}
	switch rec.hold {
	case StatusSuspended:
		return Account{}, fmt.Errorf("withdraw %s: %w", accountID, ErrAccountSuspended)
	case StatusClosed:
		return Account{}, fmt.Errorf("withdraw %s: %w", accountID, ErrAccountClosed)
	}

	a := rec.account
	if a.AvailableBalance.LessThan(amount) {
		return Account{}, fmt.Errorf("withdraw %s from %s: %w (available %s)",
			amount, accountID, ErrInsufficientBalance, a.AvailableBalance)
	}
	if after := a.TotalEquity.Sub(amount); after.LessThan(a.UsedMargin) {
		return Account{}, fmt.Errorf("withdraw %s from %s: %w (equity after %s, used margin %s)",
			amount, accountID, ErrMarginViolation, after, a.UsedMargin)
	}

	now := s.now().UTC()
	if err := s.custody.PostEntry(ctx, journal.Posting{
		Ref:         ref,
		AccountID:   accountID,
		Amount:      amount.Neg(),
		Currency:    a.Currency,
		Description: "withdrawal",
		CreatedAt:   now,
	}); err != nil {
		return Account{}, fmt.Errorf("withdraw %s: custody: %w", accountID, err)
	}

	rec.refs[ref] = struct{}{}
	rec.account.TotalMargin = rec.account.TotalMargin.Sub(amount)
	rec.recomputeLocked(s.params, now)

	s.log.Info("withdrawal",
		zap.String("account_id", accountID),
		zap.Stringer("amount", amount),
		zap.String("ref", ref),
	)
	return rec.account, nil
}

// Suspend blocks withdrawals and new positions. Risk checks and
// liquidation continue for a suspended account.
func (s *Store) Suspend(ctx context.Context, accountID string) (Account, error) {
	return s.setHold(ctx, accountID, StatusSuspended)
}

func (s *Store) Resume(ctx context.Context, accountID string) (Account, error) {
	return s.setHold(ctx, accountID, "")
}

// Close retires an account with no open positions. Closed is final.
func (s *Store) Close(ctx context.Context, accountID string) (Account, error) {
	return s.setHold(ctx, accountID, StatusClosed)
}

func (s *Store) setHold(_ context.Context, accountID string, hold AccountStatus) (Account, error) {
	rec, err := s.get(accountID)
	if err != nil {
		return Account{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.hold == StatusClosed {
		if hold == StatusClosed {
			return rec.account, nil
		}
		return Account{}, fmt.Errorf("account %s: %w", accountID, ErrAccountClosed)
	}
	if hold == StatusClosed {
		if n := rec.openCountLocked(); n > 0 {
			return Account{}, fmt.Errorf("close account %s: %w (%d open)", accountID, ErrOpenPositions, n)
		}
	}

	from := rec.account.Status
	rec.hold = hold
	rec.recomputeLocked(s.params, s.now().UTC())

	s.log.Info("account status set",
		zap.String("account_id", accountID),
		zap.String("from", string(from)),
		zap.String("to", string(rec.account.Status)),
	)
	return rec.account, nil
}

// deriveStatus is the level-triggered rule applied on every recompute.
func deriveStatus(p Params, used, level decimal.Decimal) AccountStatus {
	switch {
	case used.IsZero():
		return StatusActive
	case level.LessThan(p.LiquidationThreshold):
		return StatusLiquidation
	case level.LessThan(p.MaintenanceMarginRatio):
		return StatusMarginCall
	default:
		return StatusActive
	}
}

// recomputeLocked is the only writer of the account's derived fields and
// status.
func (r *record) recomputeLocked(p Params, now time.Time) {
	used := decimal.Zero
	upnl := decimal.Zero
	for _, pos := range r.positions {
		if pos.Status.Terminal() {
			continue
		}
		used = used.Add(pos.MarginUsed)
		upnl = upnl.Add(pos.UnrealizedPnl)
	}

	a := &r.account
	a.UsedMargin = used
	a.UnrealizedPnl = upnl
	a.TotalEquity = a.TotalMargin.Add(upnl)
	a.AvailableBalance = a.TotalMargin.Sub(used)
	a.FreeMargin = a.TotalEquity.Sub(used)
	a.MarginLevel = calc.MarginLevel(a.TotalEquity, used)
	a.MarginRatio = calc.MarginRatio(used, a.TotalEquity)

	r.risk = deriveStatus(p, used, a.MarginLevel)
	if r.hold != "" {
		a.Status = r.hold
	} else {
		a.Status = r.risk
	}
	a.UpdatedAt = now
}

func (r *record) openCountLocked() int {
	n := 0
	for _, p := range r.positions {
		if !p.Status.Terminal() {
			n++
		}
	}
	return n
}

func (r *record) openLocked() []*Position {
	var out []*Position
	for _, p := range r.positions {
		if !p.Status.Terminal() {
			out = append(out, p)
		}
	}
	return out
}

func (r *record) openSymbolsLocked() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range r.openLocked() {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		out = append(out, p.Symbol)
	}
	sort.Strings(out)
	return out
}

func (r *record) positionLocked(positionID string) *Position {
	for _, p := range r.positions {
		if p.ID == positionID {
			return p
		}
	}
	return nil
}

// notionalLocked is the account's open notional at the current marks.
func (r *record) notionalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.openLocked() {
		total = total.Add(p.Notional())
	}
	return total
}

// markLocked applies prices to the open positions. Symbols missing from
// prices keep their previous mark.
func (r *record) markLocked(prices map[string]decimal.Decimal, now time.Time) {
	for _, p := range r.openLocked() {
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		p.CurrentPrice = price
		p.UnrealizedPnl = calc.UnrealizedPnl(p.Side, p.EntryPrice, price, p.Size)
		p.UpdatedAt = now
	}
}

func (r *record) snapshotLocked(now time.Time) journal.EquitySnapshot {
	a := r.account
	return journal.EquitySnapshot{
		Time:        now,
		AccountID:   a.ID,
		TotalMargin: a.TotalMargin,
		Equity:      a.TotalEquity,
		UsedMargin:  a.UsedMargin,
		FreeMargin:  a.FreeMargin,
		MarginLevel: a.MarginLevel,
		Status:      string(a.Status),
	}
}
