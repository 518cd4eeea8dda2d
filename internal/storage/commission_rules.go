package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
)

// CreateCommissionRule inserts a new commission rule.
func (s *SQLiteStorage) CreateCommissionRule(ctx context.Context, rule *model.CommissionRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCommissionRule(rule); err != nil {
		return err
	}

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	var effectiveTo any
	if rule.EffectiveTo != nil {
		effectiveTo = rule.EffectiveTo.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_rules (
			id, category, platform_percent, partner_percent,
			effective_from, effective_to, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.ID,
		string(rule.Category),
		rule.PlatformPercent.String(),
		rule.PartnerPercent.String(),
		rule.EffectiveFrom.UTC(),
		effectiveTo,
		rule.Active,
		rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert commission rule: %w", err)
	}

	return nil
}

// GetCommissionRule fetches a commission rule by id.
func (s *SQLiteStorage) GetCommissionRule(ctx context.Context, id string) (*model.CommissionRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, category, platform_percent, partner_percent,
		       effective_from, effective_to, is_active, created_at
		FROM commission_rules WHERE id = ?
	`, id)

	return scanCommissionRule(row)
}

// ListCommissionRules returns rules, optionally filtered by category,
// newest effective date first.
func (s *SQLiteStorage) ListCommissionRules(ctx context.Context, category *model.Category) ([]model.CommissionRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, category, platform_percent, partner_percent,
		       effective_from, effective_to, is_active, created_at
		FROM commission_rules`
	args := []any{}
	if category != nil {
		query += ` WHERE category = ?`
		args = append(args, string(*category))
	}
	query += ` ORDER BY effective_from DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commission rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.CommissionRule
	for rows.Next() {
		rule, scanErr := scanCommissionRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// DeactivateCommissionRule marks a rule inactive without deleting it.
func (s *SQLiteStorage) DeactivateCommissionRule(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE commission_rules SET is_active = 0 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate commission rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("commission rule %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// ResolveCommissionRule returns the active rule for the category whose
// effective window covers asOf, choosing the most recently effective one
// when multiple qualify.
func (s *SQLiteStorage) ResolveCommissionRule(ctx context.Context, category model.Category, asOf time.Time) (*model.CommissionRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, category, platform_percent, partner_percent,
		       effective_from, effective_to, is_active, created_at
		FROM commission_rules
		WHERE category = ?
		  AND is_active = 1
		  AND effective_from <= ?
		  AND (effective_to IS NULL OR effective_to > ?)
		ORDER BY effective_from DESC
		LIMIT 1
	`, string(category), asOf.UTC(), asOf.UTC())

	return scanCommissionRule(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommissionRule(row rowScanner) (*model.CommissionRule, error) {
	var (
		rule            model.CommissionRule
		category        string
		platformPercent string
		partnerPercent  string
		effectiveTo     sql.NullTime
	)

	err := row.Scan(&rule.ID, &category, &platformPercent, &partnerPercent,
		&rule.EffectiveFrom, &effectiveTo, &rule.Active, &rule.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan commission rule: %w", err)
	}

	rule.Category = model.Category(category)
	if rule.PlatformPercent, err = parseAmount(platformPercent, "platform_percent"); err != nil {
		return nil, err
	}
	if rule.PartnerPercent, err = parseAmount(partnerPercent, "partner_percent"); err != nil {
		return nil, err
	}
	if effectiveTo.Valid {
		t := effectiveTo.Time
		rule.EffectiveTo = &t
	}
	return &rule, nil
}
