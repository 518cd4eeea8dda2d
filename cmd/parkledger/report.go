package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidbanez/park-angel-settlement/internal/cli"
	"github.com/davidbanez/park-angel-settlement/internal/report"
	"github.com/davidbanez/park-angel-settlement/internal/sheets"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate settlement reports",
		Long: `Summarize shares, remittance runs and open discrepancies for a window.

The same report renders as a terminal table, CSV, JSON, Markdown, or
uploads to Google Sheets with --format sheets.`,
		RunE: runReport,
	}

	cmd.Flags().String("from", "", "window start (YYYY-MM-DD, default: 30 days ago)")
	cmd.Flags().String("to", "", "window end (YYYY-MM-DD, default: now)")
	cmd.Flags().String("recipient", "", "restrict to one operator or host")
	cmd.Flags().String("format", "table", "output format (table, csv, json, markdown, sheets)")
	cmd.Flags().String("output", "", "write to file instead of stdout")

	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	recipient, _ := cmd.Flags().GetString("recipient")
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

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

	currency := viper.GetString("payout.currency")
	if currency == "" {
		currency = "PHP"
	}

	generator := report.NewGenerator(store, currency)
	r, err := generator.Generate(ctx, from, to, recipient)
	if err != nil {
		return err
	}

	var rendered string
	switch format {
	case "table":
		rendered = renderReportTable(r)
	case "csv":
		rendered = report.RenderCSV(r)
	case "json":
		if rendered, err = report.RenderJSON(r); err != nil {
			return err
		}
	case "markdown":
		rendered = report.RenderMarkdown(r)
	case "sheets":
		return exportToSheets(ctx, r)
	default:
		return fmt.Errorf("unknown format %q: use table, csv, json, markdown or sheets", format)
	}

	if output != "" {
		if err := os.WriteFile(output, []byte(rendered), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		fmt.Println(cli.FormatSuccess("Report written to " + output))
		return nil
	}

	fmt.Print(rendered)
	return nil
}

func renderReportTable(r *report.SettlementReport) string {
	out := cli.FormatTitle(fmt.Sprintf("Settlement %s to %s",
		r.WindowStart.Format("2006-01-02"), r.WindowEnd.Format("2006-01-02"))) + "\n"

	out += cli.RenderTable(
		[]string{"Transactions", "Gross", "Platform", "Partner", "Paid", "Outstanding"},
		[][]string{{
			fmt.Sprintf("%d", r.Totals.TransactionCount),
			r.Totals.GrossAmount.StringFixed(2),
			r.Totals.PlatformRevenue.StringFixed(2),
			r.Totals.PartnerRevenue.StringFixed(2),
			r.Totals.PaidOut.StringFixed(2),
			r.Totals.Outstanding.StringFixed(2),
		}},
	)

	if len(r.Recipients) > 0 {
		out += "\n" + cli.FormatTitle("Recipients") + "\n"
		rows := make([][]string, 0, len(r.Recipients))
		for _, row := range r.Recipients {
			rows = append(rows, []string{
				row.RecipientID,
				row.Category,
				fmt.Sprintf("%d", row.TransactionCount),
				row.Earned.StringFixed(2),
				row.Paid.StringFixed(2),
				row.Outstanding.StringFixed(2),
			})
		}
		out += cli.RenderTable(
			[]string{"Recipient", "Category", "Transactions", "Earned", "Paid", "Outstanding"},
			rows,
		)
	}

	if len(r.OpenIssues) > 0 {
		out += "\n" + cli.FormatWarning(fmt.Sprintf("%d open discrepancies in window", len(r.OpenIssues))) + "\n"
	}

	return out
}

func exportToSheets(ctx context.Context, r *report.SettlementReport) error {
	config := sheets.DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		return err
	}

	exporter, err := sheets.NewExporter(ctx, config, slog.Default())
	if err != nil {
		return err
	}

	if err := exporter.Export(ctx, r); err != nil {
		return fmt.Errorf("failed to export report: %w", err)
	}

	fmt.Println(cli.FormatSuccess("Report uploaded to Google Sheets"))
	return nil
}
