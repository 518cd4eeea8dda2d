package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidbanez/park-angel-settlement/internal/cli"
	"github.com/davidbanez/park-angel-settlement/internal/commission"
	"github.com/davidbanez/park-angel-settlement/internal/metrics"
	"github.com/davidbanez/park-angel-settlement/internal/revshare"
)

func calculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calculate [transaction-id]",
		Short: "Calculate revenue shares for settled transactions",
		Long: `Compute the platform/partner split for settled transactions.

With a transaction id, calculates (or returns) the share for that one
transaction. With --batch, sweeps every settled transaction since
--since that does not have a share yet; individual failures are logged
and counted without aborting the sweep.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCalculate,
	}

	cmd.Flags().Bool("batch", false, "calculate for all settled transactions without a share")
	cmd.Flags().String("since", "", "batch window start (YYYY-MM-DD, default: 30 days ago)")
	cmd.Flags().Bool("recalculate", false, "recompute an existing unpaid share under the current rule")
	cmd.Flags().Bool("fail-on-duplicate", false, "error instead of returning an existing share")

	return cmd
}

func runCalculate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	batch, _ := cmd.Flags().GetBool("batch")
	recalculate, _ := cmd.Flags().GetBool("recalculate")
	failOnDuplicate, _ := cmd.Flags().GetBool("fail-on-duplicate")

	if !batch && len(args) == 0 {
		return fmt.Errorf("provide a transaction id or use --batch")
	}
	if batch && recalculate {
		return fmt.Errorf("--batch and --recalculate are mutually exclusive")
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close storage", "error", closeErr)
		}
	}()

	collector := metrics.NewCollector()
	trail := newAuditTrail(store, collector)
	engine := commission.NewRuleEngine(store, trail)
	calculator := revshare.NewCalculator(store, engine, store, trail, collector)

	if batch {
		since := time.Now().UTC().AddDate(0, 0, -30)
		if sinceStr, _ := cmd.Flags().GetString("since"); sinceStr != "" {
			if since, err = parseDate(sinceStr); err != nil {
				return err
			}
		}

		summary, err := calculator.CalculateBatch(ctx, since, actorID())
		if err != nil {
			return err
		}

		fmt.Println(cli.FormatSuccess(fmt.Sprintf(
			"Batch complete: %d calculated, %d skipped, %d failed",
			summary.Processed, summary.Skipped, summary.Failed)))
		if summary.Failed > 0 {
			fmt.Println(cli.FormatWarning("Some transactions failed; see logs for details"))
		}
		return nil
	}

	transactionID := args[0]

	if recalculate {
		share, err := calculator.Recalculate(ctx, transactionID, actorID())
		if err != nil {
			return err
		}
		fmt.Println(cli.FormatSuccess(fmt.Sprintf(
			"Recalculated share %s: platform %s, partner %s",
			share.ID, share.PlatformShare.StringFixed(2), share.PartnerShare().StringFixed(2))))
		return nil
	}

	share, err := calculator.Calculate(ctx, transactionID, revshare.Options{
		FailOnDuplicate: failOnDuplicate,
		ActorID:         actorID(),
	})
	if err != nil {
		return err
	}

	fmt.Printf("share %s for transaction %s\n", share.ID, share.TransactionID)
	fmt.Printf("  total:    %s\n", share.TotalAmount.StringFixed(2))
	fmt.Printf("  platform: %s\n", share.PlatformShare.StringFixed(2))
	fmt.Printf("  partner:  %s (%s %s)\n",
		share.PartnerShare().StringFixed(2), share.Category.RecipientType(), share.RecipientID())
	return nil
}
