package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/davidbanez/park-angel-settlement/internal/cli"
	"github.com/davidbanez/park-angel-settlement/internal/ingest"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import settled transactions from a CSV export",
		Long: `Load a marketplace transaction export into the local read model.

Imports are idempotent: re-importing the same file skips transaction
ids that are already known instead of overwriting them.

Expected header:

  transaction_id,amount,category,operator_id,host_id,status,booking_status,settled_at`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close storage", "error", closeErr)
		}
	}()

	importer := ingest.NewImporter(store, newAuditTrail(store, nil))
	result, err := importer.ImportFile(ctx, args[0], actorID())
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Imported %s: %d parsed, %d new, %d already known",
		args[0], result.Parsed, result.Inserted, result.Skipped)))
	return nil
}
