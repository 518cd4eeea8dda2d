package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
)

// CreateSchedule inserts a new remittance schedule.
func (s *SQLiteStorage) CreateSchedule(ctx context.Context, schedule *model.RemittanceSchedule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSchedule(schedule); err != nil {
		return err
	}

	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remittance_schedules (
			id, recipient_id, recipient_type, frequency, minimum_amount,
			destination_account_id, is_active, advance_on_cancel,
			next_run_date, last_run_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		schedule.ID,
		schedule.RecipientID,
		string(schedule.RecipientType),
		string(schedule.Frequency),
		schedule.MinimumAmount.String(),
		schedule.DestinationAccountID,
		schedule.Active,
		schedule.AdvanceOnCancel,
		schedule.NextRunDate.UTC(),
		nullScheduleTime(schedule.LastRunDate),
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

// GetSchedule fetches a schedule by id.
func (s *SQLiteStorage) GetSchedule(ctx context.Context, id string) (*model.RemittanceSchedule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, scheduleSelect+` WHERE id = ?`, id)
	return scanSchedule(row)
}

// UpdateSchedule rewrites a schedule.
func (s *SQLiteStorage) UpdateSchedule(ctx context.Context, schedule *model.RemittanceSchedule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSchedule(schedule); err != nil {
		return err
	}

	return s.withResult(func() (sql.Result, error) {
		return s.db.ExecContext(ctx, updateScheduleQuery, updateScheduleArgs(schedule)...)
	}, fmt.Sprintf("schedule %s", schedule.ID))
}

func updateScheduleTx(ctx context.Context, tx *sql.Tx, schedule *model.RemittanceSchedule) error {
	result, err := tx.ExecContext(ctx, updateScheduleQuery, updateScheduleArgs(schedule)...)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("schedule %s: %w", schedule.ID, common.ErrNotFound)
	}
	return nil
}

const updateScheduleQuery = `
	UPDATE remittance_schedules SET
		recipient_id = ?, recipient_type = ?, frequency = ?, minimum_amount = ?,
		destination_account_id = ?, is_active = ?, advance_on_cancel = ?,
		next_run_date = ?, last_run_date = ?, updated_at = ?
	WHERE id = ?`

func updateScheduleArgs(schedule *model.RemittanceSchedule) []any {
	schedule.UpdatedAt = time.Now().UTC()
	return []any{
		schedule.RecipientID,
		string(schedule.RecipientType),
		string(schedule.Frequency),
		schedule.MinimumAmount.String(),
		schedule.DestinationAccountID,
		schedule.Active,
		schedule.AdvanceOnCancel,
		schedule.NextRunDate.UTC(),
		nullScheduleTime(schedule.LastRunDate),
		schedule.UpdatedAt,
		schedule.ID,
	}
}

// DeleteSchedule removes a schedule. Historical runs are kept.
func (s *SQLiteStorage) DeleteSchedule(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.withResult(func() (sql.Result, error) {
		return s.db.ExecContext(ctx, `DELETE FROM remittance_schedules WHERE id = ?`, id)
	}, fmt.Sprintf("schedule %s", id))
}

// ListSchedules returns schedules, optionally for one recipient.
func (s *SQLiteStorage) ListSchedules(ctx context.Context, recipientID string) ([]model.RemittanceSchedule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := scheduleSelect
	args := []any{}
	if recipientID != "" {
		query += ` WHERE recipient_id = ?`
		args = append(args, recipientID)
	}
	query += ` ORDER BY next_run_date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSchedules(rows)
}

// ListDueSchedules returns all active schedules whose next run date has
// arrived.
func (s *SQLiteStorage) ListDueSchedules(ctx context.Context, asOf time.Time) ([]model.RemittanceSchedule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, scheduleSelect+`
		WHERE is_active = 1 AND next_run_date <= ?
		ORDER BY next_run_date
	`, asOf.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSchedules(rows)
}

// CreateRemittanceRun inserts a new run record.
func (s *SQLiteStorage) CreateRemittanceRun(ctx context.Context, run *model.RemittanceRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRemittanceRun(run); err != nil {
		return err
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO remittance_runs (
			id, schedule_id, recipient_id, amount, payout_id, status,
			run_date, completed_at, failed_at, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ScheduleID,
		run.RecipientID,
		run.Amount.String(),
		run.PayoutID,
		string(run.Status),
		run.RunDate.UTC(),
		nullScheduleTime(run.CompletedAt),
		nullScheduleTime(run.FailedAt),
		run.ErrorMessage,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert remittance run: %w", err)
	}

	for _, shareID := range run.SourceShareIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO remittance_run_shares (run_id, share_id) VALUES (?, ?)
		`, run.ID, shareID); err != nil {
			return fmt.Errorf("failed to record run share: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateRemittanceRun rewrites a run's mutable fields.
func (s *SQLiteStorage) UpdateRemittanceRun(ctx context.Context, run *model.RemittanceRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRemittanceRun(run); err != nil {
		return err
	}

	return s.withResult(func() (sql.Result, error) {
		return s.db.ExecContext(ctx, updateRunQuery, updateRunArgs(run)...)
	}, fmt.Sprintf("remittance run %s", run.ID))
}

func updateRemittanceRunTx(ctx context.Context, tx *sql.Tx, run *model.RemittanceRun) error {
	result, err := tx.ExecContext(ctx, updateRunQuery, updateRunArgs(run)...)
	if err != nil {
		return fmt.Errorf("failed to update remittance run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("remittance run %s: %w", run.ID, common.ErrNotFound)
	}
	return nil
}

const updateRunQuery = `
	UPDATE remittance_runs SET
		amount = ?, payout_id = ?, status = ?,
		completed_at = ?, failed_at = ?, error_message = ?
	WHERE id = ?`

func updateRunArgs(run *model.RemittanceRun) []any {
	return []any{
		run.Amount.String(),
		run.PayoutID,
		string(run.Status),
		nullScheduleTime(run.CompletedAt),
		nullScheduleTime(run.FailedAt),
		run.ErrorMessage,
		run.ID,
	}
}

// GetRemittanceRun fetches a run with its source share ids.
func (s *SQLiteStorage) GetRemittanceRun(ctx context.Context, id string) (*model.RemittanceRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, id)
	run, err := scanRemittanceRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT share_id FROM remittance_run_shares WHERE run_id = ? ORDER BY share_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var shareID string
		if err := rows.Scan(&shareID); err != nil {
			return nil, fmt.Errorf("failed to scan run share: %w", err)
		}
		run.SourceShareIDs = append(run.SourceShareIDs, shareID)
	}
	return run, rows.Err()
}

// ListRunsBySchedule returns a schedule's runs, newest first.
func (s *SQLiteStorage) ListRunsBySchedule(ctx context.Context, scheduleID string) ([]model.RemittanceRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(scheduleID, "scheduleID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, runSelect+`
		WHERE schedule_id = ? ORDER BY run_date DESC
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachRunShares(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// ListRunsByDateRange returns runs with run dates inside [start, end).
func (s *SQLiteStorage) ListRunsByDateRange(ctx context.Context, start, end time.Time) ([]model.RemittanceRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %v before %v", ErrInvalidDateRange, end, start)
	}

	rows, err := s.db.QueryContext(ctx, runSelect+`
		WHERE run_date >= ? AND run_date < ? ORDER BY run_date
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachRunShares(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// attachRunShares loads the source share ids for a batch of runs in one
// query.
func (s *SQLiteStorage) attachRunShares(ctx context.Context, runs []model.RemittanceRun) error {
	if len(runs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(runs)), ",")
	args := make([]any, 0, len(runs))
	for i := range runs {
		args = append(args, runs[i].ID)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT run_id, share_id FROM remittance_run_shares
		WHERE run_id IN (%s) ORDER BY share_id
	`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to query run shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byRun := make(map[string][]string, len(runs))
	for rows.Next() {
		var runID, shareID string
		if err := rows.Scan(&runID, &shareID); err != nil {
			return fmt.Errorf("failed to scan run share: %w", err)
		}
		byRun[runID] = append(byRun[runID], shareID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range runs {
		runs[i].SourceShareIDs = byRun[runs[i].ID]
	}
	return nil
}

func (s *SQLiteStorage) withResult(exec func() (sql.Result, error), entity string) error {
	result, err := exec()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", entity, common.ErrNotFound)
	}
	return nil
}

const scheduleSelect = `
	SELECT id, recipient_id, recipient_type, frequency, minimum_amount,
	       destination_account_id, is_active, advance_on_cancel,
	       next_run_date, last_run_date, created_at, updated_at
	FROM remittance_schedules`

const runSelect = `
	SELECT id, schedule_id, recipient_id, amount, payout_id, status,
	       run_date, completed_at, failed_at, error_message, created_at
	FROM remittance_runs`

func nullScheduleTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func scanSchedule(row rowScanner) (*model.RemittanceSchedule, error) {
	var (
		schedule      model.RemittanceSchedule
		recipientType string
		frequency     string
		minimum       string
		lastRun       sql.NullTime
	)

	err := row.Scan(&schedule.ID, &schedule.RecipientID, &recipientType, &frequency, &minimum,
		&schedule.DestinationAccountID, &schedule.Active, &schedule.AdvanceOnCancel,
		&schedule.NextRunDate, &lastRun, &schedule.CreatedAt, &schedule.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	schedule.RecipientType = model.RecipientType(recipientType)
	schedule.Frequency = model.Frequency(frequency)
	if schedule.MinimumAmount, err = parseAmount(minimum, "minimum_amount"); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		schedule.LastRunDate = &t
	}
	return &schedule, nil
}

func collectSchedules(rows *sql.Rows) ([]model.RemittanceSchedule, error) {
	var schedules []model.RemittanceSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

func scanRemittanceRun(row rowScanner) (*model.RemittanceRun, error) {
	var (
		run          model.RemittanceRun
		amount       string
		payoutID     sql.NullString
		status       string
		completedAt  sql.NullTime
		failedAt     sql.NullTime
		errorMessage sql.NullString
	)

	err := row.Scan(&run.ID, &run.ScheduleID, &run.RecipientID, &amount, &payoutID, &status,
		&run.RunDate, &completedAt, &failedAt, &errorMessage, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan remittance run: %w", err)
	}

	if run.Amount, err = parseAmount(amount, "amount"); err != nil {
		return nil, err
	}
	run.PayoutID = payoutID.String
	run.Status = model.RunStatus(status)
	run.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		run.FailedAt = &t
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]model.RemittanceRun, error) {
	var runs []model.RemittanceRun
	for rows.Next() {
		run, err := scanRemittanceRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
