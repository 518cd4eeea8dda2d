package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/davidbanez/park-angel-settlement/internal/cli"
	"github.com/davidbanez/park-angel-settlement/internal/commission"
	"github.com/davidbanez/park-angel-settlement/internal/model"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage commission rules",
		Long: `Commission rules define how a settled transaction's amount is split
between the platform and the partner (operator or host) for each
parking category. Percentages must sum to exactly 100.

Rules are versioned by effective window; a transaction always settles
under the rule in force on its settlement date.`,
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesCreateCmd())
	cmd.AddCommand(rulesDeactivateCmd())
	cmd.AddCommand(rulesResolveCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commission rules",
		RunE:  runRulesList,
	}
	cmd.Flags().String("category", "", "filter by category (street, facility, hosted)")
	return cmd
}

func runRulesList(cmd *cobra.Command, _ []string) error {
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

	var category *model.Category
	if raw, _ := cmd.Flags().GetString("category"); raw != "" {
		c := model.Category(raw)
		if !c.Valid() {
			return fmt.Errorf("unknown category %q", raw)
		}
		category = &c
	}

	engine := commission.NewRuleEngine(store, newAuditTrail(store, nil))
	rules, err := engine.ListRules(ctx, category)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	if len(rules) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No commission rules found. Use 'parkledger rules create' to add one."))
		return nil
	}

	rows := make([][]string, 0, len(rules))
	for i := range rules {
		rule := &rules[i]
		until := "open"
		if rule.EffectiveTo != nil {
			until = rule.EffectiveTo.Format("2006-01-02")
		}
		active := cli.SuccessStyle.Render("active")
		if !rule.Active {
			active = cli.SubtleStyle.Render("inactive")
		}
		rows = append(rows, []string{
			rule.ID,
			string(rule.Category),
			rule.PlatformPercent.StringFixed(2) + "%",
			rule.PartnerPercent.StringFixed(2) + "%",
			rule.EffectiveFrom.Format("2006-01-02"),
			until,
			active,
		})
	}

	fmt.Print(cli.RenderTable(
		[]string{"ID", "Category", "Platform", "Partner", "From", "Until", "Status"},
		rows,
	))
	return nil
}

func rulesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a commission rule",
		RunE:  runRulesCreate,
	}
	cmd.Flags().String("category", "", "parking category (street, facility, hosted)")
	cmd.Flags().String("platform", "", "platform percentage, e.g. 30")
	cmd.Flags().String("partner", "", "partner percentage, e.g. 70")
	cmd.Flags().String("from", "", "effective from date (YYYY-MM-DD, default: now)")
	cmd.Flags().String("until", "", "effective to date (YYYY-MM-DD, optional)")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("partner")
	return cmd
}

func runRulesCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	categoryStr, _ := cmd.Flags().GetString("category")
	platformStr, _ := cmd.Flags().GetString("platform")
	partnerStr, _ := cmd.Flags().GetString("partner")
	fromStr, _ := cmd.Flags().GetString("from")
	untilStr, _ := cmd.Flags().GetString("until")

	platform, err := decimal.NewFromString(platformStr)
	if err != nil {
		return fmt.Errorf("invalid platform percentage %q: %w", platformStr, err)
	}
	partner, err := decimal.NewFromString(partnerStr)
	if err != nil {
		return fmt.Errorf("invalid partner percentage %q: %w", partnerStr, err)
	}

	from := time.Now().UTC()
	if fromStr != "" {
		if from, err = parseDate(fromStr); err != nil {
			return err
		}
	}
	var until *time.Time
	if untilStr != "" {
		t, err := parseDate(untilStr)
		if err != nil {
			return err
		}
		until = &t
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	engine := commission.NewRuleEngine(store, newAuditTrail(store, nil))
	rule, err := engine.CreateRule(ctx, commission.CreateRuleInput{
		Category:        model.Category(categoryStr),
		PlatformPercent: platform,
		PartnerPercent:  partner,
		EffectiveFrom:   from,
		EffectiveTo:     until,
		ActorID:         actorID(),
	})
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created rule %s: %s splits %s/%s from %s",
		rule.ID, rule.Category,
		rule.PlatformPercent.StringFixed(2), rule.PartnerPercent.StringFixed(2),
		rule.EffectiveFrom.Format("2006-01-02"))))
	return nil
}

func rulesDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <rule-id>",
		Short: "Deactivate a commission rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			engine := commission.NewRuleEngine(store, newAuditTrail(store, nil))
			if err := engine.DeactivateRule(ctx, args[0], actorID()); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess("Deactivated rule " + args[0]))
			return nil
		},
	}
}

func rulesResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <category>",
		Short: "Show the rule in force for a category at a given instant",
		Args:  cobra.ExactArgs(1),
		RunE:  runRulesResolve,
	}
	cmd.Flags().String("at", "", "resolution instant (YYYY-MM-DD, default: now)")
	return cmd
}

func runRulesResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	asOf := time.Now().UTC()
	if atStr, _ := cmd.Flags().GetString("at"); atStr != "" {
		var err error
		if asOf, err = parseDate(atStr); err != nil {
			return err
		}
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	engine := commission.NewRuleEngine(store, newAuditTrail(store, nil))
	rule, err := engine.ResolveActiveRule(ctx, model.Category(args[0]), asOf)
	if err != nil {
		return err
	}

	fmt.Printf("rule %s: platform %s%% / partner %s%% (effective %s)\n",
		rule.ID,
		rule.PlatformPercent.StringFixed(2),
		rule.PartnerPercent.StringFixed(2),
		rule.EffectiveFrom.Format("2006-01-02"))
	return nil
}
