// Package commission stores time-bounded percentage-split rules per
// parking category and resolves the rule effective for a given date.
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// Platform default partner percentages, applied when no stored rule covers
// a settlement date. Street and facility revenue defaults to a 70% operator
// share; hosted parking defaults to a 60% host share.
var defaultPartnerPercent = map[model.Category]decimal.Decimal{
	model.CategoryStreet:   decimal.NewFromInt(70),
	model.CategoryFacility: decimal.NewFromInt(70),
	model.CategoryHosted:   decimal.NewFromInt(60),
}

// RuleEngine manages commission rules.
type RuleEngine struct {
	storage service.Storage
	auditor service.AuditLogger
}

// NewRuleEngine creates a rule engine with its dependencies injected.
func NewRuleEngine(storage service.Storage, auditor service.AuditLogger) *RuleEngine {
	return &RuleEngine{storage: storage, auditor: auditor}
}

// CreateRuleInput is the caller-supplied part of a new rule.
type CreateRuleInput struct {
	EffectiveFrom   time.Time
	EffectiveTo     *time.Time
	Category        model.Category
	PlatformPercent decimal.Decimal
	PartnerPercent  decimal.Decimal
	ActorID         string
}

// CreateRule validates and persists a new commission rule. The percentage
// split must sum to exactly 100.
func (e *RuleEngine) CreateRule(ctx context.Context, input CreateRuleInput) (*model.CommissionRule, error) {
	if !input.Category.Valid() {
		return nil, common.NewValidationError("category", fmt.Sprintf("unknown category %q", input.Category))
	}
	if input.EffectiveFrom.IsZero() {
		return nil, common.NewValidationError("effectiveFrom", "required")
	}
	if input.EffectiveTo != nil && !input.EffectiveTo.After(input.EffectiveFrom) {
		return nil, common.NewValidationError("effectiveTo", "must be after effectiveFrom")
	}
	if input.PlatformPercent.IsNegative() || input.PartnerPercent.IsNegative() {
		return nil, common.NewValidationError("percent", "percentages cannot be negative")
	}
	if !input.PlatformPercent.Add(input.PartnerPercent).Equal(model.Hundred) {
		return nil, common.NewBusinessRuleViolation("commission_split",
			fmt.Sprintf("platform %s + partner %s must sum to 100",
				input.PlatformPercent, input.PartnerPercent))
	}

	rule := &model.CommissionRule{
		ID:              uuid.NewString(),
		Category:        input.Category,
		PlatformPercent: input.PlatformPercent,
		PartnerPercent:  input.PartnerPercent,
		EffectiveFrom:   input.EffectiveFrom.UTC(),
		EffectiveTo:     input.EffectiveTo,
		Active:          true,
	}

	if err := e.storage.CreateCommissionRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create commission rule: %w", err)
	}

	e.auditor.Log(ctx, rule.ID, model.EntityCommissionRule, "create", input.ActorID, map[string]any{
		"category":         string(rule.Category),
		"platform_percent": rule.PlatformPercent.String(),
		"partner_percent":  rule.PartnerPercent.String(),
		"effective_from":   rule.EffectiveFrom,
	})

	return rule, nil
}

// DeactivateRule stops a rule from matching future resolutions without
// deleting it.
func (e *RuleEngine) DeactivateRule(ctx context.Context, id, actorID string) error {
	if err := e.storage.DeactivateCommissionRule(ctx, id); err != nil {
		return err
	}
	e.auditor.Log(ctx, id, model.EntityCommissionRule, "deactivate", actorID, nil)
	return nil
}

// ListRules returns rules, optionally filtered by category.
func (e *RuleEngine) ListRules(ctx context.Context, category *model.Category) ([]model.CommissionRule, error) {
	return e.storage.ListCommissionRules(ctx, category)
}

// ResolveActiveRule returns the rule effective for the category at asOf:
// the most recently effective active rule whose window covers the instant.
// When no stored rule matches, the hardcoded platform default for the
// category is returned so transaction processing never stalls on missing
// configuration.
func (e *RuleEngine) ResolveActiveRule(ctx context.Context, category model.Category, asOf time.Time) (*model.CommissionRule, error) {
	if !category.Valid() {
		return nil, common.NewValidationError("category", fmt.Sprintf("unknown category %q", category))
	}

	rule, err := e.storage.ResolveCommissionRule(ctx, category, asOf)
	if err == nil {
		return rule, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to resolve commission rule: %w", err)
	}

	return DefaultRule(category), nil
}

// DefaultRule returns the synthetic platform-default rule for a category.
func DefaultRule(category model.Category) *model.CommissionRule {
	partner := defaultPartnerPercent[category]
	return &model.CommissionRule{
		ID:              "platform-default-" + string(category),
		Category:        category,
		PlatformPercent: model.Hundred.Sub(partner),
		PartnerPercent:  partner,
		Active:          true,
	}
}
