package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCSV(t *testing.T) (*CSVJournal, string, string) {
	t.Helper()

	dir := t.TempDir()
	liqPath := filepath.Join(dir, "liquidations.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(liqPath, equityPath)
	require.NoError(t, err)
	return j, liqPath, equityPath
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	j, liqPath, equityPath := newTestCSV(t)
	assert.NoError(t, j.Close())

	liq := readRows(t, liqPath)
	require.Len(t, liq, 1)
	assert.Equal(t, liquidationHeader, liq[0])

	eq := readRows(t, equityPath)
	require.Len(t, eq, 1)
	assert.Equal(t, equityHeader, eq[0])
}

func TestCSVJournalRecordLiquidation(t *testing.T) {
	t.Parallel()

	j, liqPath, _ := newTestCSV(t)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	err := j.RecordLiquidation(LiquidationRecord{
		ID:              "liq_1",
		AccountID:       "acct_1",
		PositionID:      "pos_1",
		Symbol:          "BTCUSDT",
		Price:           decimal.RequireFromString("42100"),
		Amount:          decimal.RequireFromString("1"),
		RemainingMargin: decimal.RequireFromString("-110.5"),
		PenaltyFee:      decimal.RequireFromString("210.5"),
		MarginRatio:     decimal.Zero,
		Reason:          "forced_liquidation",
		Status:          "executed",
		CreatedAt:       at,
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	rows := readRows(t, liqPath)
	require.Len(t, rows, 2)

	want := []string{
		"liq_1",
		"acct_1",
		"pos_1",
		"BTCUSDT",
		"42100.00000000",
		"1.00000000",
		"-110.50000000",
		"210.50000000",
		"0.00000000",
		"forced_liquidation",
		"executed",
		"",
		at.Format(time.RFC3339),
	}
	assert.Equal(t, want, rows[1])
}

func TestCSVJournalRecordEquity(t *testing.T) {
	t.Parallel()

	j, _, equityPath := newTestCSV(t)

	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	err := j.RecordEquity(EquitySnapshot{
		Time:        ts,
		AccountID:   "acct_1",
		TotalMargin: decimal.RequireFromString("3000"),
		Equity:      decimal.RequireFromString("2900"),
		UsedMargin:  decimal.RequireFromString("2250"),
		FreeMargin:  decimal.RequireFromString("650"),
		MarginLevel: decimal.RequireFromString("1.28888889"),
		Status:      "active",
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	rows := readRows(t, equityPath)
	require.Len(t, rows, 2)

	want := []string{
		ts.Format(time.RFC3339),
		"acct_1",
		"3000.00000000",
		"2900.00000000",
		"2250.00000000",
		"650.00000000",
		"1.28888889",
		"active",
	}
	assert.Equal(t, want, rows[1])
}

func TestNopJournal(t *testing.T) {
	t.Parallel()

	j := Nop()
	assert.NoError(t, j.RecordLiquidation(LiquidationRecord{}))
	assert.NoError(t, j.RecordEquity(EquitySnapshot{}))
	assert.NoError(t, j.Close())
}
