package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "marginctl",
	Short: "Margin risk and liquidation engine for leveraged crypto accounts",
	Long: `marginctl runs and inspects the margin engine.

It provides tools for:
  - Running the risk monitor, liquidation sweep and funding accrual
  - Replaying a deposit, open, crash and liquidation scenario in-process
  - Querying the liquidation journal and custody postings
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
