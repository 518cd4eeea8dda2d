package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
)

// SaveRevenueShare inserts a new revenue share. The UNIQUE constraint on
// transaction_id gives share calculation at-most-one-writer semantics:
// concurrent attempts for the same transaction converge to one record and
// the losers receive ErrDuplicateEntry.
func (s *SQLiteStorage) SaveRevenueShare(ctx context.Context, share *model.RevenueShare) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRevenueShare(share); err != nil {
		return err
	}

	if share.CalculatedAt.IsZero() {
		share.CalculatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revenue_shares (
			id, transaction_id, category, operator_id, host_id,
			total_amount, platform_share, operator_share, host_share,
			applied_rule_percent, rule_id, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		share.ID,
		share.TransactionID,
		string(share.Category),
		share.OperatorID,
		share.HostID,
		share.TotalAmount.String(),
		share.PlatformShare.String(),
		share.OperatorShare.String(),
		share.HostShare.String(),
		share.AppliedRulePercent.String(),
		share.RuleID,
		share.CalculatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("revenue share for transaction %s: %w", share.TransactionID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert revenue share: %w", err)
	}
	return nil
}

// UpdateRevenueShare rewrites an existing share in place. Used only by the
// explicit corrective recalculation path, which audit-logs the change.
func (s *SQLiteStorage) UpdateRevenueShare(ctx context.Context, share *model.RevenueShare) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRevenueShare(share); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE revenue_shares SET
			category = ?, operator_id = ?, host_id = ?,
			total_amount = ?, platform_share = ?, operator_share = ?, host_share = ?,
			applied_rule_percent = ?, rule_id = ?, calculated_at = ?
		WHERE transaction_id = ?
	`,
		string(share.Category),
		share.OperatorID,
		share.HostID,
		share.TotalAmount.String(),
		share.PlatformShare.String(),
		share.OperatorShare.String(),
		share.HostShare.String(),
		share.AppliedRulePercent.String(),
		share.RuleID,
		share.CalculatedAt,
		share.TransactionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update revenue share: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("revenue share for transaction %s: %w", share.TransactionID, common.ErrNotFound)
	}
	return nil
}

// GetRevenueShareByTransaction fetches the share for a transaction id.
func (s *SQLiteStorage) GetRevenueShareByTransaction(ctx context.Context, transactionID string) (*model.RevenueShare, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, shareSelect+` WHERE transaction_id = ?`, transactionID)
	return scanRevenueShare(row)
}

// ListUnpaidShares returns uncollected shares owed to a recipient with
// calculation times inside [since, until).
func (s *SQLiteStorage) ListUnpaidShares(ctx context.Context, recipientID string, since, until time.Time) ([]model.RevenueShare, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(recipientID, "recipientID"); err != nil {
		return nil, err
	}
	if until.Before(since) {
		return nil, fmt.Errorf("%w: %v before %v", ErrInvalidDateRange, until, since)
	}

	rows, err := s.db.QueryContext(ctx, shareSelect+`
		WHERE paid_at IS NULL
		  AND (operator_id = ? OR host_id = ?)
		  AND calculated_at >= ? AND calculated_at < ?
		ORDER BY calculated_at
	`, recipientID, recipientID, since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query unpaid shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectShares(rows)
}

// ListSharesByDateRange returns all shares calculated inside [start, end).
func (s *SQLiteStorage) ListSharesByDateRange(ctx context.Context, start, end time.Time) ([]model.RevenueShare, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %v before %v", ErrInvalidDateRange, end, start)
	}

	rows, err := s.db.QueryContext(ctx, shareSelect+`
		WHERE calculated_at >= ? AND calculated_at < ?
		ORDER BY calculated_at
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectShares(rows)
}

// ListSharesByIDs returns the shares with the given ids. Unknown ids are
// skipped, not reported.
func (s *SQLiteStorage) ListSharesByIDs(ctx context.Context, ids []string) ([]model.RevenueShare, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, shareSelect+fmt.Sprintf(` WHERE id IN (%s) ORDER BY id`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares by id: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectShares(rows)
}

// markSharesPaidTx stamps shares as collected by a run and records the
// run/share join rows.
func markSharesPaidTx(ctx context.Context, tx *sql.Tx, shareIDs []string, runID string, paidAt time.Time) error {
	if len(shareIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(shareIDs)), ",")
	args := make([]any, 0, len(shareIDs)+2)
	args = append(args, runID, paidAt.UTC())
	for _, id := range shareIDs {
		args = append(args, id)
	}

	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE revenue_shares SET remittance_run_id = ?, paid_at = ?
		WHERE id IN (%s) AND paid_at IS NULL
	`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to mark shares paid: %w", err)
	}

	for _, id := range shareIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO remittance_run_shares (run_id, share_id) VALUES (?, ?)
		`, runID, id); err != nil {
			return fmt.Errorf("failed to record run share: %w", err)
		}
	}
	return nil
}

const shareSelect = `
	SELECT id, transaction_id, category, operator_id, host_id,
	       total_amount, platform_share, operator_share, host_share,
	       applied_rule_percent, rule_id, remittance_run_id, paid_at, calculated_at
	FROM revenue_shares`

func scanRevenueShare(row rowScanner) (*model.RevenueShare, error) {
	var (
		share         model.RevenueShare
		category      string
		total         string
		platform      string
		operatorShare sql.NullString
		hostShare     sql.NullString
		percent       string
		ruleID        sql.NullString
		runID         sql.NullString
		paidAt        sql.NullTime
	)

	err := row.Scan(&share.ID, &share.TransactionID, &category, &share.OperatorID, &share.HostID,
		&total, &platform, &operatorShare, &hostShare,
		&percent, &ruleID, &runID, &paidAt, &share.CalculatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan revenue share: %w", err)
	}

	share.Category = model.Category(category)
	if share.TotalAmount, err = parseAmount(total, "total_amount"); err != nil {
		return nil, err
	}
	if share.PlatformShare, err = parseAmount(platform, "platform_share"); err != nil {
		return nil, err
	}
	if operatorShare.Valid && operatorShare.String != "" {
		if share.OperatorShare, err = parseAmount(operatorShare.String, "operator_share"); err != nil {
			return nil, err
		}
	}
	if hostShare.Valid && hostShare.String != "" {
		if share.HostShare, err = parseAmount(hostShare.String, "host_share"); err != nil {
			return nil, err
		}
	}
	if share.AppliedRulePercent, err = parseAmount(percent, "applied_rule_percent"); err != nil {
		return nil, err
	}
	share.RuleID = ruleID.String
	share.RemittanceRunID = runID.String
	if paidAt.Valid {
		t := paidAt.Time
		share.PaidAt = &t
	}
	return &share, nil
}

func collectShares(rows *sql.Rows) ([]model.RevenueShare, error) {
	var shares []model.RevenueShare
	for rows.Next() {
		share, err := scanRevenueShare(rows)
		if err != nil {
			return nil, err
		}
		shares = append(shares, *share)
	}
	return shares, rows.Err()
}
