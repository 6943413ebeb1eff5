package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/rustyeddy/margin/events"
	"github.com/rustyeddy/margin/journal"
	"github.com/rustyeddy/margin/margin"
	"github.com/rustyeddy/margin/oracle"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an in-process liquidation scenario",
	Long: `Walk one cross margin account through a price crash.

Shows the workflow of:
  1. Creating an account and depositing collateral
  2. Opening a leveraged BTCUSDT long
  3. Marking the price down into margin call
  4. Marking it further down so the risk sweep liquidates the position

Example:
  marginctl demo
  marginctl demo --db ./demo.db`,
	RunE: runDemo,
}

var (
	demoDBPath  string
	demoVerbose bool
)

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().StringVar(&demoDBPath, "db", "", "also journal to this SQLite file")
	demoCmd.Flags().BoolVarP(&demoVerbose, "verbose", "v", false, "print engine logs")
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	log := zap.NewNop()
	if demoVerbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		log = l
	}

	prices := oracle.NewStatic()
	prices.Set("BTCUSDT", decimal.NewFromInt(45000))
	bus := events.NewMemory()

	deps := margin.Deps{Oracle: prices, Rates: prices, Bus: bus, Logger: log}
	if demoDBPath != "" {
		j, err := journal.NewSQLite(demoDBPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer j.Close()
		deps.Journal = j
		deps.Custody = j
	}

	params := margin.DefaultParams()
	params.LiquidationThreshold = decimal.RequireFromString("0.05")
	svc, err := margin.NewService(params, deps)
	if err != nil {
		return err
	}
	defer svc.Settlement.Close()

	fmt.Fprintln(out, "=== Margin Liquidation Demo ===")
	fmt.Fprintln(out)

	acct, err := svc.CreateAccount(ctx, "demo-user", "demo", margin.Cross, "")
	if err != nil {
		return err
	}
	if acct, err = svc.Deposit(ctx, acct.ID, decimal.NewFromInt(3000), "demo-deposit"); err != nil {
		return err
	}
	fmt.Fprintf(out, "Account %s funded with %s %s\n\n", acct.ID, acct.TotalMargin, acct.Currency)

	pos, err := svc.OpenPosition(ctx, margin.OpenRequest{
		AccountID: acct.ID,
		Symbol:    "BTCUSDT",
		Side:      margin.Long,
		Size:      decimal.NewFromInt(1),
		Leverage:  20,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Opened %s %s %s @ %s x%d, margin used %s\n",
		pos.Side, pos.Size, pos.Symbol, pos.EntryPrice, pos.Leverage, pos.MarginUsed)
	if err := printAccount(out, svc, acct.ID); err != nil {
		return err
	}

	for _, px := range []int64{43000, 42100} {
		prices.Set("BTCUSDT", decimal.NewFromInt(px))
		fmt.Fprintf(out, "\nBTCUSDT marked at %d, running risk sweep...\n", px)
		if err := svc.Monitor.Tick(ctx); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		if err := printAccount(out, svc, acct.ID); err != nil {
			return err
		}
	}
	svc.Settlement.Wait()

	fmt.Fprintln(out, "\nEvents:")
	for _, ev := range bus.Events() {
		switch e := ev.(type) {
		case events.MarginCall:
			fmt.Fprintf(out, "  %s level=%s threshold=%s\n", e.Type(), e.MarginLevel.StringFixed(4), e.Threshold)
		case events.LiquidationExecuted:
			fmt.Fprintf(out, "  %s reason=%s price=%s penalty=%s remaining=%s\n",
				e.Type(), e.Reason, e.Price, e.PenaltyFee, e.RemainingMargin)
		case events.StatusChanged:
			fmt.Fprintf(out, "  %s %s -> %s\n", e.Type(), e.From, e.To)
		default:
			fmt.Fprintf(out, "  %s\n", ev.Type())
		}
	}
	if demoDBPath != "" {
		fmt.Fprintf(out, "\n✓ Journal written to %s\n", demoDBPath)
	}
	return nil
}

func printAccount(out io.Writer, svc *margin.Service, accountID string) error {
	a, err := svc.GetAccount(accountID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  status=%s equity=%s used=%s level=%s\n",
		a.Status, a.TotalEquity, a.UsedMargin, a.MarginLevel.StringFixed(4))
	return nil
}
