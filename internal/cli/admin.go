package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/credgate/credgate/internal/app/grantor"
	"github.com/credgate/credgate/internal/app/trial"
	"github.com/credgate/credgate/internal/daemon"
	"github.com/credgate/credgate/internal/domain"
	"github.com/credgate/credgate/internal/infra/abuse"
	"github.com/credgate/credgate/internal/infra/sqlite"
)

// ─── Admin CLI ───────────────────────────────────────────────────────────────
// Offline admin operations against the store. The daemon must not be
// running on the same database file (SQLite single writer).

func init() {
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(purgeCmd)

	walletCmd.Flags().Bool("entries", false, "Also print the ledger history")
	grantCmd.Flags().Int64("amount", 0, "Credits to grant (required)")
	grantCmd.Flags().String("reason", "", "Why the credits are issued, e.g. a support ticket (required)")
	grantCmd.Flags().String("key", "", "Idempotency key (default: a fresh admin key)")
}

// openGrantor loads the configuration and opens the store.
func openGrantor() (*grantor.Grantor, func(), error) {
	cfg, err := daemon.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlite.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, err
	}

	scorerCfg, err := cfg.ScorerConfig()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	policyCfg, err := cfg.TrialPolicy()
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	scorer := abuse.NewScorer(scorerCfg, db)
	g := grantor.New(db, scorer, trial.NewEngine(policyCfg, db))
	return g, func() { db.Close() }, nil
}

// ─── wallet ─────────────────────────────────────────────────────────────────

var walletCmd = &cobra.Command{
	Use:   "wallet ACCOUNT_ID",
	Short: "Show a wallet's balance and aggregates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, closeFn, err := openGrantor()
		if err != nil {
			return err
		}
		defer closeFn()

		wallet, err := g.GetWallet(args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Account:\t%s\n", wallet.AccountID)
		fmt.Fprintf(w, "Balance:\t%d\n", wallet.Balance)
		fmt.Fprintf(w, "Granted:\t%d\n", wallet.TotalGranted)
		fmt.Fprintf(w, "Spent:\t%d\n", wallet.TotalSpent)
		fmt.Fprintf(w, "Purchased:\t%d\n", wallet.TotalPurchased)
		w.Flush()

		if showEntries, _ := cmd.Flags().GetBool("entries"); showEntries {
			entries, err := g.ListEntries(args[0])
			if err != nil {
				return err
			}
			fmt.Println()
			ew := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(ew, "WHEN\tTYPE\tAMOUNT\tBALANCE\tREFERENCE")
			for _, e := range entries {
				fmt.Fprintf(ew, "%s\t%s\t%+d\t%d\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Type, e.SignedAmount(), e.BalanceAfter, e.ReferenceType)
			}
			ew.Flush()
		}
		return nil
	},
}

// ─── grant ──────────────────────────────────────────────────────────────────

var grantCmd = &cobra.Command{
	Use:   "grant ACCOUNT_ID",
	Short: "Issue recovery credits to an account",
	Long: `Issue credits outside the trial policy, for support recovery and
goodwill. The grant is an ADJUSTMENT ledger entry carrying the reason and
an idempotency key, so re-running the same command with the same key is a
safe no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, _ := cmd.Flags().GetInt64("amount")
		reason, _ := cmd.Flags().GetString("reason")
		key, _ := cmd.Flags().GetString("key")

		if amount <= 0 {
			return fmt.Errorf("--amount must be positive")
		}
		if reason == "" {
			return fmt.Errorf("--reason is required")
		}
		if key == "" {
			key = "admin:" + uuid.NewString()
		}

		g, closeFn, err := openGrantor()
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := g.MutateLedger(context.Background(), domain.MutationRequest{
			AccountID:      args[0],
			Type:           domain.EntryAdjustment,
			Amount:         amount,
			Description:    reason,
			ReferenceType:  domain.RefRefund,
			Metadata:       map[string]string{"issued_by": "admin-cli"},
			IdempotencyKey: key,
		})
		if err != nil {
			return err
		}

		if res.AlreadyProcessed {
			fmt.Printf("Already applied (key %s); balance %d\n", key, res.NewBalance)
			return nil
		}
		fmt.Printf("Granted %d credits to %s (entry %s, balance %d)\n", amount, args[0], res.LedgerEntryID, res.NewBalance)
		return nil
	},
}

// ─── purge ──────────────────────────────────────────────────────────────────

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop expired abuse velocity counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		g, closeFn, err := openGrantor()
		if err != nil {
			return err
		}
		defer closeFn()

		fmt.Printf("Purged %d expired counters\n", g.PurgeCounters())
		return nil
	},
}
