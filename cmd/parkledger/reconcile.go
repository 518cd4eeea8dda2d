package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/davidbanez/park-angel-settlement/internal/cli"
	"github.com/davidbanez/park-angel-settlement/internal/metrics"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/reconcile"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run reconciliation checks and manage discrepancies",
		Long: `Cross-check transactions, revenue shares and payouts for consistency.

Detected inconsistencies become discrepancy records for manual review;
they are never corrected automatically. Resolving a discrepancy is a
separate, audited action.`,
	}

	cmd.AddCommand(reconcileRunCmd())
	cmd.AddCommand(reconcileListCmd())
	cmd.AddCommand(reconcileResolveCmd())

	return cmd
}

func reconcileRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute reconciliation rules over a window",
		RunE:  runReconcileRun,
	}
	cmd.Flags().StringSlice("rule", nil, "rule ids to run (default: all active rules)")
	cmd.Flags().String("from", "", "window start (YYYY-MM-DD, default: 30 days ago)")
	cmd.Flags().String("to", "", "window end (YYYY-MM-DD, default: now)")
	return cmd
}

func runReconcileRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	ruleIDs, _ := cmd.Flags().GetStringSlice("rule")

	from, to, err := parseWindow(fromStr, toStr)
	if err != nil {
		return err
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
	engine := reconcile.NewEngine(store, newAuditTrail(store, collector), collector)
	runs, err := engine.RunReconciliation(ctx, from, to, ruleIDs...)
	if err != nil {
		return err
	}

	totalDiscrepancies := 0
	rows := make([][]string, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		totalDiscrepancies += run.DiscrepancyCount
		outcome := cli.SuccessStyle.Render("ok")
		if !run.Succeeded {
			outcome = cli.ErrorStyle.Render("failed")
		} else if run.DiscrepancyCount > 0 {
			outcome = cli.WarningStyle.Render("found issues")
		}
		rows = append(rows, []string{
			run.RuleID,
			fmt.Sprintf("%d", run.DiscrepancyCount),
			outcome,
		})
	}

	fmt.Print(cli.RenderTable([]string{"Rule", "Discrepancies", "Outcome"}, rows))

	if totalDiscrepancies == 0 {
		fmt.Println(cli.FormatSuccess("Books are consistent for the window"))
	} else {
		fmt.Println(cli.FormatWarning(fmt.Sprintf(
			"%d discrepancies recorded; review with 'parkledger reconcile list'", totalDiscrepancies)))
	}
	return nil
}

func reconcileListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discrepancies",
		RunE:  runReconcileList,
	}
	cmd.Flags().Bool("all", false, "include resolved discrepancies")
	cmd.Flags().String("type", "", "filter by discrepancy type")
	cmd.Flags().Int("limit", 50, "maximum rows to show")
	return cmd
}

func runReconcileList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	all, _ := cmd.Flags().GetBool("all")
	typeStr, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	discrepancies, err := store.ListDiscrepancies(ctx, service.DiscrepancyFilter{
		Type:       model.DiscrepancyType(typeStr),
		Unresolved: !all,
		Limit:      limit,
	})
	if err != nil {
		return fmt.Errorf("failed to list discrepancies: %w", err)
	}

	if len(discrepancies) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No discrepancies found."))
		return nil
	}

	rows := make([][]string, 0, len(discrepancies))
	for i := range discrepancies {
		d := &discrepancies[i]
		status := cli.WarningStyle.Render("open")
		if d.Resolved {
			status = cli.SuccessStyle.Render("resolved")
		}
		rows = append(rows, []string{
			d.ID,
			string(d.Type),
			d.TransactionID,
			d.Description,
			status,
		})
	}

	fmt.Print(cli.RenderTable(
		[]string{"ID", "Type", "Transaction", "Description", "Status"},
		rows,
	))
	return nil
}

func reconcileResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <discrepancy-id>",
		Short: "Mark a discrepancy as resolved",
		Args:  cobra.ExactArgs(1),
		RunE:  runReconcileResolve,
	}
	cmd.Flags().String("resolution", "", "what was done about it")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}

func runReconcileResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	resolution, _ := cmd.Flags().GetString("resolution")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	collector := metrics.NewCollector()
	engine := reconcile.NewEngine(store, newAuditTrail(store, collector), collector)
	if err := engine.ResolveDiscrepancy(ctx, args[0], resolution, actorID()); err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess("Resolved discrepancy " + args[0]))
	return nil
}
