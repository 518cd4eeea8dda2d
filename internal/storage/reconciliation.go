package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// CreateReconciliationRule inserts a new reconciliation rule.
func (s *SQLiteStorage) CreateReconciliationRule(ctx context.Context, rule *model.ReconciliationRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if err := validateString(rule.ID, "rule.ID"); err != nil {
		return err
	}
	if !rule.Type.Valid() {
		return fmt.Errorf("unknown reconciliation rule type %q", rule.Type)
	}

	params, err := json.Marshal(rule.Params)
	if err != nil {
		return fmt.Errorf("failed to encode rule params: %w", err)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_rules (id, name, type, params, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.Name, string(rule.Type), string(params), rule.Active, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation rule: %w", err)
	}
	return nil
}

// GetReconciliationRule fetches a rule by id.
func (s *SQLiteStorage) GetReconciliationRule(ctx context.Context, id string) (*model.ReconciliationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, params, is_active, created_at
		FROM reconciliation_rules WHERE id = ?
	`, id)
	return scanReconciliationRule(row)
}

// ListReconciliationRules returns configured rules.
func (s *SQLiteStorage) ListReconciliationRules(ctx context.Context, activeOnly bool) ([]model.ReconciliationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, name, type, params, is_active, created_at FROM reconciliation_rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.ReconciliationRule
	for rows.Next() {
		rule, scanErr := scanReconciliationRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// SaveReconciliationRun persists one rule execution record.
func (s *SQLiteStorage) SaveReconciliationRun(ctx context.Context, run *model.ReconciliationRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if err := validateString(run.ID, "run.ID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (
			id, rule_id, window_start, window_end,
			discrepancy_count, succeeded, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.RuleID,
		run.WindowStart.UTC(),
		run.WindowEnd.UTC(),
		run.DiscrepancyCount,
		run.Succeeded,
		run.Error,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation run: %w", err)
	}
	return nil
}

// SaveDiscrepancies persists a batch of discrepancies atomically.
func (s *SQLiteStorage) SaveDiscrepancies(ctx context.Context, discrepancies []model.Discrepancy) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(discrepancies) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range discrepancies {
		d := &discrepancies[i]
		if d.DetectedAt.IsZero() {
			d.DetectedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO discrepancies (
				id, run_id, type, transaction_id, description,
				expected_amount, actual_amount, difference, detected_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			d.ID,
			d.RunID,
			string(d.Type),
			d.TransactionID,
			d.Description,
			nullAmountString(d.ExpectedAmount),
			nullAmountString(d.ActualAmount),
			nullAmountString(d.Difference),
			d.DetectedAt,
		); err != nil {
			return fmt.Errorf("failed to insert discrepancy: %w", err)
		}
	}

	return tx.Commit()
}

// GetDiscrepancy fetches a discrepancy by id.
func (s *SQLiteStorage) GetDiscrepancy(ctx context.Context, id string) (*model.Discrepancy, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, discrepancySelect+` WHERE id = ?`, id)
	return scanDiscrepancy(row)
}

// ListDiscrepancies returns discrepancies matching the filter, newest first.
func (s *SQLiteStorage) ListDiscrepancies(ctx context.Context, filter service.DiscrepancyFilter) ([]model.Discrepancy, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := discrepancySelect + ` WHERE 1=1`
	args := []any{}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Unresolved {
		query += ` AND resolved = 0`
	}
	if filter.Range != nil {
		query += ` AND detected_at >= ? AND detected_at < ?`
		args = append(args, filter.Range.Start.UTC(), filter.Range.End.UTC())
	}
	query += ` ORDER BY detected_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query discrepancies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var discrepancies []model.Discrepancy
	for rows.Next() {
		d, scanErr := scanDiscrepancy(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		discrepancies = append(discrepancies, *d)
	}
	return discrepancies, rows.Err()
}

// MarkDiscrepancyResolved records an explicit resolution. The discrepancy
// record itself is otherwise immutable.
func (s *SQLiteStorage) MarkDiscrepancyResolved(ctx context.Context, id, resolution, resolvedBy string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if err := validateString(resolution, "resolution"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE discrepancies SET resolved = 1, resolution = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0
	`, resolution, resolvedBy, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve discrepancy: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("unresolved discrepancy %s: %w", id, common.ErrNotFound)
	}
	return nil
}

const discrepancySelect = `
	SELECT id, run_id, type, transaction_id, description,
	       expected_amount, actual_amount, difference,
	       resolved, resolution, resolved_by, resolved_at, detected_at
	FROM discrepancies`

func scanReconciliationRule(row rowScanner) (*model.ReconciliationRule, error) {
	var (
		rule     model.ReconciliationRule
		ruleType string
		params   sql.NullString
	)

	err := row.Scan(&rule.ID, &rule.Name, &ruleType, &params, &rule.Active, &rule.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reconciliation rule: %w", err)
	}

	rule.Type = model.ReconciliationRuleType(ruleType)
	rule.Params = map[string]string{}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &rule.Params); err != nil {
			return nil, fmt.Errorf("failed to decode rule params: %w", err)
		}
	}
	return &rule, nil
}

func scanDiscrepancy(row rowScanner) (*model.Discrepancy, error) {
	var (
		d          model.Discrepancy
		runID      sql.NullString
		dType      string
		txnID      sql.NullString
		expected   sql.NullString
		actual     sql.NullString
		difference sql.NullString
		resolution sql.NullString
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)

	err := row.Scan(&d.ID, &runID, &dType, &txnID, &d.Description,
		&expected, &actual, &difference,
		&d.Resolved, &resolution, &resolvedBy, &resolvedAt, &d.DetectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan discrepancy: %w", err)
	}

	d.RunID = runID.String
	d.Type = model.DiscrepancyType(dType)
	d.TransactionID = txnID.String
	if d.ExpectedAmount, err = parseNullAmount(expected, "expected_amount"); err != nil {
		return nil, err
	}
	if d.ActualAmount, err = parseNullAmount(actual, "actual_amount"); err != nil {
		return nil, err
	}
	if d.Difference, err = parseNullAmount(difference, "difference"); err != nil {
		return nil, err
	}
	d.Resolution = resolution.String
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
}
