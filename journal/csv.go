// journal/csv.go
package journal

import (
	"encoding/csv"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	liquidationHeader = []string{"id", "account_id", "position_id", "symbol", "price", "amount", "remaining_margin", "penalty_fee", "margin_ratio", "reason", "status", "error", "created_at"}
	equityHeader      = []string{"time", "account_id", "total_margin", "equity", "used_margin", "free_margin", "margin_level", "status"}
)

type CSVJournal struct {
	mu           sync.Mutex
	liquidations *csv.Writer
	equity       *csv.Writer
	lf, ef       *os.File
}

func NewCSV(liquidationsPath, equityPath string) (*CSVJournal, error) {
	lf, err := os.Create(liquidationsPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		_ = lf.Close()
		return nil, err
	}

	lw := csv.NewWriter(lf)
	ew := csv.NewWriter(ef)

	if err := lw.Write(liquidationHeader); err != nil {
		return nil, err
	}
	if err := ew.Write(equityHeader); err != nil {
		return nil, err
	}

	lw.Flush()
	if err := lw.Error(); err != nil {
		return nil, err
	}
	ew.Flush()
	if err := ew.Error(); err != nil {
		return nil, err
	}

	return &CSVJournal{liquidations: lw, equity: ew, lf: lf, ef: ef}, nil
}

func (j *CSVJournal) RecordLiquidation(r LiquidationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.liquidations.Write([]string{
		r.ID,
		r.AccountID,
		r.PositionID,
		r.Symbol,
		f(r.Price),
		f(r.Amount),
		f(r.RemainingMargin),
		f(r.PenaltyFee),
		f(r.MarginRatio),
		r.Reason,
		r.Status,
		r.Error,
		r.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	j.liquidations.Flush()
	return j.liquidations.Error()
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.equity.Write([]string{
		e.Time.UTC().Format(time.RFC3339),
		e.AccountID,
		f(e.TotalMargin),
		f(e.Equity),
		f(e.UsedMargin),
		f(e.FreeMargin),
		f(e.MarginLevel),
		e.Status,
	})
	if err != nil {
		return err
	}

	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.liquidations.Flush()
	if err := j.liquidations.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}

	if err := j.lf.Close(); err != nil {
		return err
	}
	if err := j.ef.Close(); err != nil {
		return err
	}
	return nil
}

func f(x decimal.Decimal) string {
	return x.StringFixed(8)
}
