package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidbanez/park-angel-settlement/internal/cli"
	"github.com/davidbanez/park-angel-settlement/internal/metrics"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/payout"
	"github.com/davidbanez/park-angel-settlement/internal/remittance"
	"github.com/davidbanez/park-angel-settlement/internal/storage"
)

func remitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remit",
		Short: "Execute remittance payouts",
		Long: `Execute payouts of accumulated revenue shares.

'remit sweep' processes every schedule that is due, in parallel, with
per-schedule failure isolation: one broken payout never blocks the
rest of the batch.`,
	}

	cmd.AddCommand(remitSweepCmd())
	cmd.AddCommand(remitRunCmd())
	cmd.AddCommand(remitRetryCmd())
	cmd.AddCommand(remitRunsCmd())

	return cmd
}

// newRunner wires the payout rail client and runner from config.
func newRunner(store *storage.SQLiteStorage, collector *metrics.Collector) (*remittance.Runner, error) {
	railURL := viper.GetString("payout.base_url")
	railKey := viper.GetString("payout.api_key")
	client, err := payout.NewClient(railURL, railKey)
	if err != nil {
		return nil, fmt.Errorf("payout rail not configured: %w", err)
	}

	config := remittance.DefaultRunnerConfig()
	if currency := viper.GetString("payout.currency"); currency != "" {
		config.Currency = currency
	}
	if workers := viper.GetInt("payout.workers"); workers > 0 {
		config.ParallelWorkers = workers
	}
	if timeout := viper.GetDuration("payout.item_timeout"); timeout > 0 {
		config.PerItemTimeout = timeout
	}

	return remittance.NewRunner(store, client, client, newAuditTrail(store, collector), collector, config), nil
}

func remitSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Process all due remittance schedules",
		RunE:  runRemitSweep,
	}
	cmd.Flags().String("as-of", "", "treat this date as now (YYYY-MM-DD, default: now)")
	cmd.Flags().String("metrics-listen", "", "serve Prometheus metrics on this address during the sweep, e.g. :9090")
	return cmd
}

func runRemitSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	asOf := time.Now().UTC()
	if raw, _ := cmd.Flags().GetString("as-of"); raw != "" {
		var err error
		if asOf, err = parseDate(raw); err != nil {
			return err
		}
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
	if listen, _ := cmd.Flags().GetString("metrics-listen"); listen != "" {
		server := &http.Server{Addr: listen, Handler: collector.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if serveErr := server.ListenAndServe(); serveErr != http.ErrServerClosed {
				slog.Warn("metrics listener stopped", "error", serveErr)
			}
		}()
		defer func() { _ = server.Close() }()
	}

	runner, err := newRunner(store, collector)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("[cyan][bold]Processing schedules...[reset]"),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}
		_ = bar.Set(done)
	}

	summary, err := runner.ProcessDueSchedules(ctx, asOf, progress)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Sweep complete in %s: %d due, %d paid, %d below minimum, %d failed, %d errored",
		summary.Duration.Round(time.Millisecond),
		summary.Due, summary.Completed, summary.Cancelled, summary.Failed, summary.Errored)))
	if summary.Failed > 0 || summary.Errored > 0 {
		fmt.Println(cli.FormatWarning("Some schedules did not complete; use 'parkledger remit runs' to inspect and 'parkledger remit retry' to retry"))
	}
	return nil
}

func remitRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <schedule-id>",
		Short: "Execute one schedule's payout cycle now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			runner, err := newRunner(store, metrics.NewCollector())
			if err != nil {
				return err
			}

			run, err := runner.ProcessSchedule(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("run %s: %s %s (%d shares)\n",
				run.ID, cli.FormatRunStatus(run.Status),
				run.Amount.StringFixed(2), len(run.SourceShareIDs))
			return nil
		},
	}
}

func remitRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Retry a failed remittance run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			runner, err := newRunner(store, metrics.NewCollector())
			if err != nil {
				return err
			}

			run, err := runner.RetryFailedRun(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("run %s: %s %s\n",
				run.ID, cli.FormatRunStatus(run.Status), run.Amount.StringFixed(2))
			return nil
		},
	}
}

func remitRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List remittance runs",
		RunE:  runRemitRuns,
	}
	cmd.Flags().String("schedule", "", "filter by schedule id")
	cmd.Flags().String("from", "", "window start (YYYY-MM-DD, default: 30 days ago)")
	cmd.Flags().String("to", "", "window end (YYYY-MM-DD, default: now)")
	return cmd
}

func runRemitRuns(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	scheduleID, _ := cmd.Flags().GetString("schedule")

	var runs []model.RemittanceRun
	if scheduleID != "" {
		runs, err = store.ListRunsBySchedule(ctx, scheduleID)
	} else {
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		from, to, werr := parseWindow(fromStr, toStr)
		if werr != nil {
			return werr
		}
		runs, err = store.ListRunsByDateRange(ctx, from, to)
	}
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No remittance runs found."))
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		rows = append(rows, []string{
			run.ID,
			run.ScheduleID,
			run.RecipientID,
			cli.FormatRunStatus(run.Status),
			run.Amount.StringFixed(2),
			fmt.Sprintf("%d", len(run.SourceShareIDs)),
			run.RunDate.Format("2006-01-02"),
		})
	}

	fmt.Print(cli.RenderTable(
		[]string{"ID", "Schedule", "Recipient", "Status", "Amount", "Shares", "Date"},
		rows,
	))
	return nil
}
