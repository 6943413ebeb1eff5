package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const liquidationColumns = `id, account_id, position_id, symbol, price, amount, remaining_margin, penalty_fee, margin_ratio, reason, status, error, created_at`

func scanLiquidation(s interface{ Scan(...any) error }) (LiquidationRecord, error) {
	var r LiquidationRecord
	err := s.Scan(
		&r.ID,
		&r.AccountID,
		&r.PositionID,
		&r.Symbol,
		&r.Price,
		&r.Amount,
		&r.RemainingMargin,
		&r.PenaltyFee,
		&r.MarginRatio,
		&r.Reason,
		&r.Status,
		&r.Error,
		&r.CreatedAt,
	)
	return r, err
}

// GetLiquidation returns a single liquidation record by ID.
func (j *SQLite) GetLiquidation(id string) (LiquidationRecord, error) {
	row := j.db.QueryRow(`SELECT `+liquidationColumns+` FROM liquidations WHERE id = ?`, id)
	r, err := scanLiquidation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LiquidationRecord{}, fmt.Errorf("liquidation %q not found", id)
		}
		return LiquidationRecord{}, err
	}
	return r, nil
}

// ListLiquidations returns liquidations oldest first. An empty accountID lists all accounts.
func (j *SQLite) ListLiquidations(accountID string) ([]LiquidationRecord, error) {
	q := `SELECT ` + liquidationColumns + ` FROM liquidations`
	var args []any
	if accountID != "" {
		q += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LiquidationRecord
	for rows.Next() {
		r, err := scanLiquidation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPostings returns postings oldest first. An empty accountID lists all accounts.
func (j *SQLite) ListPostings(accountID string) ([]Posting, error) {
	q := `SELECT ref, account_id, amount, currency, description, created_at FROM postings`
	var args []any
	if accountID != "" {
		q += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	q += ` ORDER BY created_at ASC, ref ASC`

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.Ref, &p.AccountID, &p.Amount, &p.Currency, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Balance sums every posting for the account.
func (j *SQLite) Balance(accountID string) (decimal.Decimal, error) {
	postings, err := j.ListPostings(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range postings {
		total = total.Add(p.Amount)
	}
	return total, nil
}

// ListEquityBetween returns snapshots whose time is within [start, end).
func (j *SQLite) ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT time, account_id, total_margin, equity, used_margin, free_margin, margin_level, status
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC;`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(
			&e.Time,
			&e.AccountID,
			&e.TotalMargin,
			&e.Equity,
			&e.UsedMargin,
			&e.FreeMargin,
			&e.MarginLevel,
			&e.Status,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
