package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/margin/compliance"
	"github.com/rustyeddy/margin/config"
	"github.com/rustyeddy/margin/events"
	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/margin"
	"github.com/rustyeddy/margin/oracle"
	"github.com/rustyeddy/margin/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// priceSource is what the engine reads marks and funding rates from.
type priceSource interface {
	margin.PriceOracle
	margin.RateSource
}

// wiring holds the collaborators built from a config and what has to be
// closed when the engine stops.
type wiring struct {
	deps    margin.Deps
	sqlite  *journal.SQLite
	closers []func() error
}

func (w *wiring) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}

func buildParams(cfg *config.Config) (margin.Params, error) {
	p := margin.DefaultParams()
	p.MaxLeverage = cfg.Margin.MaxLeverage
	p.MaintenanceMarginRatio = decimal.NewFromFloat(cfg.Margin.MaintenanceMarginRatio)
	p.LiquidationThreshold = decimal.NewFromFloat(cfg.Margin.LiquidationThreshold)
	p.PenaltyFeeRate = decimal.NewFromFloat(cfg.Margin.PenaltyFeeRate)
	p.Currency = cfg.Margin.Currency
	p.InterestRate = decimal.NewFromFloat(cfg.Funding.InterestRate)
	p.Workers = cfg.Scheduler.Workers
	p.Risk = risk.Policy{
		MaxOpenPositions:    cfg.Risk.MaxOpenPositions,
		MaxPositionNotional: decimal.NewFromFloat(cfg.Risk.MaxPositionNotional),
		MaxAccountNotional:  decimal.NewFromFloat(cfg.Risk.MaxAccountNotional),
	}

	durations := []struct {
		name string
		in   config.Duration
		out  *time.Duration
	}{
		{"scheduler.sweep_interval", cfg.Scheduler.SweepInterval, &p.SweepInterval},
		{"scheduler.liquidation_interval", cfg.Scheduler.LiquidationInterval, &p.LiquidationInterval},
		{"scheduler.price_timeout", cfg.Scheduler.PriceTimeout, &p.PriceTimeout},
		{"funding.refresh_interval", cfg.Funding.RefreshInterval, &p.RefreshInterval},
		{"funding.funding_interval", cfg.Funding.FundingInterval, &p.FundingInterval},
	}
	for _, d := range durations {
		v, err := d.in.Parse()
		if err != nil {
			return margin.Params{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.out = v
	}
	return p, nil
}

func buildOracle(cfg config.OracleConfig, funding config.FundingConfig) (priceSource, func() error, error) {
	switch cfg.Type {
	case "static":
		s := oracle.NewStatic()
		for sym, px := range cfg.Prices {
			s.Set(sym, decimal.NewFromFloat(px))
		}
		for sym, rate := range funding.Rates {
			s.SetRate(sym, decimal.NewFromFloat(rate))
		}
		return s, nil, nil
	case "http":
		timeout, err := cfg.Timeout.Parse()
		if err != nil {
			return nil, nil, fmt.Errorf("oracle.timeout: %w", err)
		}
		return oracle.NewClient(cfg.URL, cfg.Token, timeout), nil, nil
	case "redis":
		r := oracle.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown oracle type %q", cfg.Type)
	}
}

func buildJournal(cfg config.JournalConfig) (journal.Journal, *journal.SQLite, error) {
	switch cfg.Type {
	case "none":
		return journal.Nop(), nil, nil
	case "csv":
		j, err := journal.NewCSV(cfg.LiquidationsFile, cfg.EquityFile)
		if err != nil {
			return nil, nil, err
		}
		return j, nil, nil
	case "sqlite":
		j, err := journal.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return j, j, nil
	default:
		return nil, nil, fmt.Errorf("unknown journal type %q", cfg.Type)
	}
}

func buildBus(cfg config.EventsConfig, log *zap.Logger) (events.Bus, func() error) {
	var bus events.Multi
	if cfg.Log {
		bus = append(bus, events.NewLog(log))
	}
	if len(cfg.KafkaBrokers) == 0 {
		return bus, nil
	}
	k := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
	bus = append(bus, k)
	return bus, k.Close
}

// wire builds every collaborator the config names. The SQLite journal, when
// configured, doubles as the custody ledger.
func wire(cfg *config.Config, log *zap.Logger) (*wiring, error) {
	w := &wiring{}

	prices, closeOracle, err := buildOracle(cfg.Oracle, cfg.Funding)
	if err != nil {
		return nil, err
	}
	if closeOracle != nil {
		w.closers = append(w.closers, closeOracle)
	}

	j, sqlite, err := buildJournal(cfg.Journal)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("create journal: %w", err)
	}
	w.closers = append(w.closers, j.Close)
	w.sqlite = sqlite

	bus, closeBus := buildBus(cfg.Events, log)
	if closeBus != nil {
		w.closers = append(w.closers, closeBus)
	}

	backoff, err := cfg.Settlement.Backoff.Parse()
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("settlement.backoff: %w", err)
	}

	w.deps = margin.Deps{
		Oracle:  prices,
		Rates:   prices,
		Gate:    compliance.NewStaticGate(cfg.Compliance.Blocked...),
		Journal: j,
		Bus:     bus,
		Logger:  log,
		Settlement: margin.SettlementOptions{
			Workers:   cfg.Settlement.Workers,
			QueueSize: cfg.Settlement.QueueSize,
			Attempts:  cfg.Settlement.Attempts,
			Backoff:   backoff,
		},
	}
	if sqlite != nil {
		w.deps.Custody = sqlite
	}
	return w, nil
}
