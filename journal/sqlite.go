package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is both the audit journal and an idempotent posting ledger.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordLiquidation(r LiquidationRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO liquidations
		(id, account_id, position_id, symbol, price, amount, remaining_margin, penalty_fee, margin_ratio, reason, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, r.PositionID, r.Symbol, r.Price, r.Amount,
		r.RemainingMargin, r.PenaltyFee, r.MarginRatio, r.Reason, r.Status, r.Error, r.CreatedAt.UTC(),
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, account_id, total_margin, equity, used_margin, free_margin, margin_level, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.AccountID, e.TotalMargin, e.Equity, e.UsedMargin, e.FreeMargin, e.MarginLevel, e.Status,
	)
	return err
}

// PostEntry records a posting. A posting whose Ref already exists is ignored.
func (j *SQLite) PostEntry(ctx context.Context, p Posting) error {
	if p.Ref == "" {
		return fmt.Errorf("posting for %s: empty ref", p.AccountID)
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO postings
		(ref, account_id, amount, currency, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO NOTHING`,
		p.Ref, p.AccountID, p.Amount, p.Currency, p.Description, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("post %s: %w", p.Ref, err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
