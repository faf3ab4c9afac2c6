// Package cli implements the credgate command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "credgate",
	Short: "Credit ledger and trial grant service",
	Long: `credgate is an append-only credit ledger with a fraud-gated trial
grant engine. Run "credgate serve" to start the HTTP API, or use the
admin subcommands to inspect wallets and issue recovery credits.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
