package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rustyeddy/margin/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the liquidation journal and custody postings",
	Long: `Query records from the SQLite journal.

Subcommands:
  liquidation   - Show one liquidation by ID
  liquidations  - List liquidations, optionally for one account
  postings      - List custody postings, optionally for one account
  equity        - List equity snapshots taken on a specific day

Examples:
  marginctl journal liquidations --account acct_01HV...
  marginctl journal postings --account acct_01HV...
  marginctl journal equity 2024-01-15`,
}

var journalLiquidationCmd = &cobra.Command{
	Use:   "liquidation <liquidation-id>",
	Short: "Show one liquidation",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalLiquidation,
}

var journalLiquidationsCmd = &cobra.Command{
	Use:   "liquidations",
	Short: "List liquidations",
	Args:  cobra.NoArgs,
	RunE:  runJournalLiquidations,
}

var journalPostingsCmd = &cobra.Command{
	Use:   "postings",
	Short: "List custody postings",
	Args:  cobra.NoArgs,
	RunE:  runJournalPostings,
}

var journalEquityCmd = &cobra.Command{
	Use:   "equity <YYYY-MM-DD>",
	Short: "List equity snapshots taken on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalEquity,
}

var (
	journalDBPath    string
	journalAccountID string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalLiquidationCmd)
	journalCmd.AddCommand(journalLiquidationsCmd)
	journalCmd.AddCommand(journalPostingsCmd)
	journalCmd.AddCommand(journalEquityCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./margin.db", "path to SQLite journal DB")
	journalLiquidationsCmd.Flags().StringVarP(&journalAccountID, "account", "a", "", "only this account")
	journalPostingsCmd.Flags().StringVarP(&journalAccountID, "account", "a", "", "only this account")
}

func runJournalLiquidation(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	r, err := j.GetLiquidation(args[0])
	if err != nil {
		return fmt.Errorf("get liquidation: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Liquidation %s\n", r.ID)
	fmt.Fprintf(out, "  Account:          %s\n", r.AccountID)
	fmt.Fprintf(out, "  Position:         %s (%s)\n", r.PositionID, r.Symbol)
	fmt.Fprintf(out, "  Status:           %s\n", r.Status)
	fmt.Fprintf(out, "  Reason:           %s\n", r.Reason)
	fmt.Fprintf(out, "  Price:            %s\n", r.Price)
	fmt.Fprintf(out, "  Amount:           %s\n", r.Amount)
	fmt.Fprintf(out, "  Penalty fee:      %s\n", r.PenaltyFee)
	fmt.Fprintf(out, "  Remaining margin: %s\n", r.RemainingMargin)
	fmt.Fprintf(out, "  Margin ratio:     %s\n", r.MarginRatio.StringFixed(4))
	if r.Error != "" {
		fmt.Fprintf(out, "  Error:            %s\n", r.Error)
	}
	fmt.Fprintf(out, "  At:               %s\n", r.CreatedAt.Format(time.RFC3339))
	return nil
}

func runJournalLiquidations(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.ListLiquidations(journalAccountID)
	if err != nil {
		return fmt.Errorf("query liquidations: %w", err)
	}
	return writeLiquidations(cmd.OutOrStdout(), recs)
}

func writeLiquidations(out io.Writer, recs []journal.LiquidationRecord) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACCOUNT\tSYMBOL\tSTATUS\tREASON\tPRICE\tPENALTY\tREMAINING\tAT")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.AccountID, r.Symbol, r.Status, r.Reason,
			r.Price, r.PenaltyFee, r.RemainingMargin, r.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runJournalPostings(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	postings, err := j.ListPostings(journalAccountID)
	if err != nil {
		return fmt.Errorf("query postings: %w", err)
	}
	out := cmd.OutOrStdout()
	if err := writePostings(out, postings); err != nil {
		return err
	}
	if journalAccountID != "" {
		bal, err := j.Balance(journalAccountID)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		fmt.Fprintf(out, "\nBalance %s: %s\n", journalAccountID, bal)
	}
	return nil
}

func writePostings(out io.Writer, postings []journal.Posting) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tACCOUNT\tAMOUNT\tCURRENCY\tDESCRIPTION\tAT")
	for _, p := range postings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Ref, p.AccountID, p.Amount, p.Currency, p.Description, p.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runJournalEquity(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, args[0])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	snaps, err := j.ListEquityBetween(start, end)
	if err != nil {
		return fmt.Errorf("query equity: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACCOUNT\tEQUITY\tUSED\tLEVEL\tSTATUS")
	for _, e := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.Format(time.RFC3339), e.AccountID, e.Equity, e.UsedMargin, e.MarginLevel.StringFixed(4), e.Status)
	}
	return tw.Flush()
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.Add(24 * time.Hour)
	return start, end, nil
}
