package main

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/davidbanez/park-angel-settlement/internal/cli"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/remittance"
)

func schedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage remittance schedules",
		Long: `Remittance schedules control when a recipient's accumulated revenue
shares are paid out: how often, to which bank account, and the minimum
amount below which a cycle is skipped.`,
	}

	cmd.AddCommand(schedulesListCmd())
	cmd.AddCommand(schedulesCreateCmd())
	cmd.AddCommand(schedulesUpdateCmd())
	cmd.AddCommand(schedulesDeleteCmd())

	return cmd
}

func schedulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remittance schedules",
		RunE:  runSchedulesList,
	}
	cmd.Flags().String("recipient", "", "filter by recipient id")
	return cmd
}

func runSchedulesList(cmd *cobra.Command, _ []string) error {
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

	recipient, _ := cmd.Flags().GetString("recipient")
	schedules, err := store.ListSchedules(ctx, recipient)
	if err != nil {
		return fmt.Errorf("failed to list schedules: %w", err)
	}

	if len(schedules) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No schedules found. Use 'parkledger schedules create' to add one."))
		return nil
	}

	rows := make([][]string, 0, len(schedules))
	for i := range schedules {
		s := &schedules[i]
		status := cli.SuccessStyle.Render("active")
		if !s.Active {
			status = cli.SubtleStyle.Render("inactive")
		}
		rows = append(rows, []string{
			s.ID,
			s.RecipientID,
			string(s.RecipientType),
			string(s.Frequency),
			s.MinimumAmount.StringFixed(2),
			s.NextRunDate.Format("2006-01-02"),
			status,
		})
	}

	fmt.Print(cli.RenderTable(
		[]string{"ID", "Recipient", "Type", "Frequency", "Minimum", "Next Run", "Status"},
		rows,
	))
	return nil
}

func schedulesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a remittance schedule",
		RunE:  runSchedulesCreate,
	}
	cmd.Flags().String("recipient", "", "recipient id (operator or host)")
	cmd.Flags().String("type", "", "recipient type (operator, host)")
	cmd.Flags().String("frequency", "", "payout frequency (daily, weekly, biweekly, monthly)")
	cmd.Flags().String("account", "", "destination bank account id")
	cmd.Flags().String("minimum", "0", "minimum payout amount; below it the cycle is skipped")
	cmd.Flags().String("first-run", "", "first run date (YYYY-MM-DD, default: next cycle from today)")
	cmd.Flags().Bool("advance-on-skip", false, "advance the next run date when a cycle is below the minimum")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("frequency")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func runSchedulesCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	recipient, _ := cmd.Flags().GetString("recipient")
	recipientType, _ := cmd.Flags().GetString("type")
	frequency, _ := cmd.Flags().GetString("frequency")
	account, _ := cmd.Flags().GetString("account")
	minimumStr, _ := cmd.Flags().GetString("minimum")
	firstRunStr, _ := cmd.Flags().GetString("first-run")
	advanceOnSkip, _ := cmd.Flags().GetBool("advance-on-skip")

	minimum, err := decimal.NewFromString(minimumStr)
	if err != nil {
		return fmt.Errorf("invalid minimum %q: %w", minimumStr, err)
	}

	input := remittance.CreateScheduleInput{
		RecipientID:          recipient,
		RecipientType:        model.RecipientType(recipientType),
		Frequency:            model.Frequency(frequency),
		DestinationAccountID: account,
		MinimumAmount:        minimum,
		AdvanceOnCancel:      advanceOnSkip,
		ActorID:              actorID(),
	}
	if firstRunStr != "" {
		if input.FirstRunDate, err = parseDate(firstRunStr); err != nil {
			return err
		}
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	scheduler := remittance.NewScheduler(store, newAuditTrail(store, nil))
	schedule, err := scheduler.CreateSchedule(ctx, input)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Created schedule %s: %s %s payouts to account %s, next run %s",
		schedule.ID, schedule.RecipientID, schedule.Frequency,
		schedule.DestinationAccountID, schedule.NextRunDate.Format("2006-01-02"))))
	return nil
}

func schedulesUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <schedule-id>",
		Short: "Update a remittance schedule",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchedulesUpdate,
	}
	cmd.Flags().String("frequency", "", "new payout frequency")
	cmd.Flags().String("minimum", "", "new minimum payout amount")
	cmd.Flags().String("account", "", "new destination account id")
	cmd.Flags().String("active", "", "activate or deactivate (true, false)")
	cmd.Flags().String("advance-on-skip", "", "advance next run on skipped cycles (true, false)")
	return cmd
}

func runSchedulesUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	input := remittance.UpdateScheduleInput{ActorID: actorID()}

	if raw, _ := cmd.Flags().GetString("frequency"); raw != "" {
		f := model.Frequency(raw)
		input.Frequency = &f
	}
	if raw, _ := cmd.Flags().GetString("minimum"); raw != "" {
		minimum, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid minimum %q: %w", raw, err)
		}
		input.MinimumAmount = &minimum
	}
	if raw, _ := cmd.Flags().GetString("account"); raw != "" {
		input.DestinationAccountID = &raw
	}
	if raw, _ := cmd.Flags().GetString("active"); raw != "" {
		active, err := parseBool(raw)
		if err != nil {
			return err
		}
		input.Active = &active
	}
	if raw, _ := cmd.Flags().GetString("advance-on-skip"); raw != "" {
		advance, err := parseBool(raw)
		if err != nil {
			return err
		}
		input.AdvanceOnCancel = &advance
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	scheduler := remittance.NewScheduler(store, newAuditTrail(store, nil))
	schedule, err := scheduler.UpdateSchedule(ctx, args[0], input)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Updated schedule %s: %s, minimum %s, next run %s",
		schedule.ID, schedule.Frequency,
		schedule.MinimumAmount.StringFixed(2),
		schedule.NextRunDate.Format("2006-01-02"))))
	return nil
}

func schedulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <schedule-id>",
		Short: "Delete a remittance schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			scheduler := remittance.NewScheduler(store, newAuditTrail(store, nil))
			if err := scheduler.DeleteSchedule(ctx, args[0], actorID()); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess("Deleted schedule " + args[0]))
			return nil
		},
	}
}

func parseBool(raw string) (bool, error) {
	switch raw {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q: use true or false", raw)
}
