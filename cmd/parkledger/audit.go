package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/davidbanez/park-angel-settlement/internal/cli"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <entity-type> <entity-id>",
		Short: "Show the audit trail for an entity",
		Long: `List every recorded action for one entity, newest first.

Entity types: commission_rule, revenue_share, remittance_schedule,
remittance_run, reconciliation_run, discrepancy, transaction.`,
		Args: cobra.ExactArgs(2),
		RunE: runAudit,
	}

	cmd.Flags().String("from", "", "window start (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "window end (YYYY-MM-DD)")

	return cmd
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	entityType, entityID := args[0], args[1]

	var window *service.DateRange
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	if fromStr != "" || toStr != "" {
		from, to, err := parseWindow(fromStr, toStr)
		if err != nil {
			return err
		}
		window = &service.DateRange{Start: from, End: to}
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

	entries, err := newAuditTrail(store, nil).GetTrail(ctx, entityID, entityType, window)
	if err != nil {
		return fmt.Errorf("failed to load audit trail: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No audit entries found."))
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		rows = append(rows, []string{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Action,
			e.ActorID,
			e.Details,
		})
	}

	fmt.Print(cli.RenderTable([]string{"Timestamp", "Action", "Actor", "Details"}, rows))
	return nil
}
