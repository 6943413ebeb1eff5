package margin

import (
	"context"
	"errors"

	"github.com/rustyeddy/margin/events"
	"github.com/rustyeddy/margin/internal/metrics"
	"github.com/rustyeddy/margin/journal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Deps are the engine's collaborators. Only Oracle is required.
type Deps struct {
	Oracle     PriceOracle
	Rates      RateSource
	Custody    Custody
	Gate       ComplianceGate
	Journal    journal.Journal
	Bus        events.Bus
	Metrics    *metrics.Margin
	Logger     *zap.Logger
	Settlement SettlementOptions
}

// Service wires the store, ledger, monitor, liquidator and funding accrual
// around one set of accounts.
type Service struct {
	Store      *Store
	Ledger     *Ledger
	Monitor    *Monitor
	Liquidator *Liquidator
	Funding    *Funding
	Settlement *Settlement

	log *zap.Logger
}

func NewService(p Params, d Deps) (*Service, error) {
	if d.Oracle == nil {
		return nil, errors.New("margin service: price oracle required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}

	settle := NewSettlement(d.Custody, d.Settlement, d.Logger, d.Metrics)
	store := NewStore(p, d.Custody, d.Logger)
	ledger := NewLedger(store, d.Oracle, d.Gate, settle, d.Logger)
	liq := NewLiquidator(store, d.Oracle, d.Journal, d.Bus, settle, d.Metrics, d.Logger)

	return &Service{
		Store:      store,
		Ledger:     ledger,
		Liquidator: liq,
		Monitor:    NewMonitor(store, ledger, liq, d.Journal, d.Bus, d.Metrics, d.Logger),
		Funding:    NewFunding(store, d.Oracle, d.Rates, settle, d.Bus, d.Metrics, d.Logger),
		Settlement: settle,
		log:        d.Logger,
	}, nil
}

func (s *Service) CreateAccount(ctx context.Context, userID, tenantID string, typ AccountType, symbol string) (Account, error) {
	return s.Store.CreateAccount(ctx, userID, tenantID, typ, symbol)
}

func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, ref string) (Account, error) {
	return s.Store.Deposit(ctx, accountID, amount, ref)
}

func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, ref string) (Account, error) {
	return s.Store.Withdraw(ctx, accountID, amount, ref)
}

func (s *Service) OpenPosition(ctx context.Context, req OpenRequest) (Position, error) {
	return s.Ledger.OpenPosition(ctx, req)
}

func (s *Service) ClosePosition(ctx context.Context, positionID string, closeSize, closePrice decimal.Decimal) (CloseResult, error) {
	return s.Ledger.ClosePosition(ctx, positionID, closeSize, closePrice)
}

func (s *Service) GetAccount(accountID string) (Account, error) {
	return s.Store.GetAccount(accountID)
}

func (s *Service) ListAccounts() []Account {
	return s.Store.ListAccounts()
}

func (s *Service) GetPositions(accountID string) ([]Position, error) {
	return s.Ledger.GetPositions(accountID)
}

func (s *Service) GetFundingRates() []FundingRate {
	return s.Funding.FundingRates()
}

func (s *Service) Suspend(ctx context.Context, accountID string) (Account, error) {
	return s.Store.Suspend(ctx, accountID)
}

func (s *Service) Resume(ctx context.Context, accountID string) (Account, error) {
	return s.Store.Resume(ctx, accountID)
}

func (s *Service) CloseAccount(ctx context.Context, accountID string) (Account, error) {
	return s.Store.Close(ctx, accountID)
}

// Run drives the sweeps and funding until ctx is cancelled, then drains
// queued settlements.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Monitor.Run(gctx) })
	g.Go(func() error { return s.Funding.Run(gctx) })
	err := g.Wait()

	s.log.Info("draining settlements")
	s.Settlement.Close()
	return err
}
