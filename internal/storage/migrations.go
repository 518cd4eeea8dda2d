package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a
// fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Transactions read model, commission rules, revenue shares, audit",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					amount TEXT NOT NULL,
					category TEXT NOT NULL,
					operator_id TEXT,
					host_id TEXT,
					status TEXT NOT NULL,
					booking_status TEXT,
					settled_at DATETIME NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_settled ON transactions(settled_at)`,
				`CREATE INDEX idx_transactions_status ON transactions(status)`,

				`CREATE TABLE IF NOT EXISTS commission_rules (
					id TEXT PRIMARY KEY,
					category TEXT NOT NULL,
					platform_percent TEXT NOT NULL,
					partner_percent TEXT NOT NULL,
					effective_from DATETIME NOT NULL,
					effective_to DATETIME,
					is_active BOOLEAN DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_commission_rules_category ON commission_rules(category, effective_from)`,

				`CREATE TABLE IF NOT EXISTS revenue_shares (
					id TEXT PRIMARY KEY,
					transaction_id TEXT UNIQUE NOT NULL,
					category TEXT NOT NULL,
					operator_id TEXT,
					host_id TEXT,
					total_amount TEXT NOT NULL,
					platform_share TEXT NOT NULL,
					operator_share TEXT,
					host_share TEXT,
					applied_rule_percent TEXT NOT NULL,
					rule_id TEXT,
					remittance_run_id TEXT,
					paid_at DATETIME,
					calculated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_revenue_shares_operator ON revenue_shares(operator_id, paid_at)`,
				`CREATE INDEX idx_revenue_shares_host ON revenue_shares(host_id, paid_at)`,

				`CREATE TABLE IF NOT EXISTS audit_entries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					entity_id TEXT NOT NULL,
					entity_type TEXT NOT NULL,
					action TEXT NOT NULL,
					actor_id TEXT NOT NULL,
					details TEXT,
					timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_audit_entries_entity ON audit_entries(entity_id, entity_type)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Remittance schedules and runs",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS remittance_schedules (
					id TEXT PRIMARY KEY,
					recipient_id TEXT NOT NULL,
					recipient_type TEXT NOT NULL,
					frequency TEXT NOT NULL,
					minimum_amount TEXT NOT NULL,
					destination_account_id TEXT NOT NULL,
					is_active BOOLEAN DEFAULT 1,
					advance_on_cancel BOOLEAN DEFAULT 0,
					next_run_date DATETIME NOT NULL,
					last_run_date DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_schedules_due ON remittance_schedules(is_active, next_run_date)`,
				`CREATE INDEX idx_schedules_recipient ON remittance_schedules(recipient_id)`,

				`CREATE TABLE IF NOT EXISTS remittance_runs (
					id TEXT PRIMARY KEY,
					schedule_id TEXT NOT NULL,
					recipient_id TEXT NOT NULL,
					amount TEXT NOT NULL,
					payout_id TEXT,
					status TEXT NOT NULL,
					run_date DATETIME NOT NULL,
					completed_at DATETIME,
					failed_at DATETIME,
					error_message TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (schedule_id) REFERENCES remittance_schedules(id)
				)`,
				`CREATE INDEX idx_runs_schedule ON remittance_runs(schedule_id)`,
				`CREATE INDEX idx_runs_date ON remittance_runs(run_date)`,

				`CREATE TABLE IF NOT EXISTS remittance_run_shares (
					run_id TEXT NOT NULL,
					share_id TEXT NOT NULL,
					PRIMARY KEY (run_id, share_id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Reconciliation rules, runs and discrepancies",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS reconciliation_rules (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					type TEXT NOT NULL,
					params TEXT,
					is_active BOOLEAN DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS reconciliation_runs (
					id TEXT PRIMARY KEY,
					rule_id TEXT NOT NULL,
					window_start DATETIME NOT NULL,
					window_end DATETIME NOT NULL,
					discrepancy_count INTEGER DEFAULT 0,
					succeeded BOOLEAN NOT NULL,
					error TEXT,
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_recon_runs_rule ON reconciliation_runs(rule_id)`,

				`CREATE TABLE IF NOT EXISTS discrepancies (
					id TEXT PRIMARY KEY,
					run_id TEXT,
					type TEXT NOT NULL,
					transaction_id TEXT,
					description TEXT NOT NULL,
					expected_amount TEXT,
					actual_amount TEXT,
					difference TEXT,
					resolved BOOLEAN DEFAULT 0,
					resolution TEXT,
					resolved_by TEXT,
					resolved_at DATETIME,
					detected_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_discrepancies_type ON discrepancies(type, resolved)`,
				`CREATE INDEX idx_discrepancies_txn ON discrepancies(transaction_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// SeedStandardRules inserts the four standard reconciliation rules. Opt-in
// via `migrate --seed`: it writes operational data, not schema, so a plain
// migration never plants rules the operator did not ask for. Idempotent.
func (s *SQLiteStorage) SeedStandardRules(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	queries := []string{
		`INSERT OR IGNORE INTO reconciliation_rules (id, name, type, params, is_active)
			VALUES ('std-amount', 'Amount validation', 'amount_validation', '{"tolerance":"0.01"}', 1)`,
		`INSERT OR IGNORE INTO reconciliation_rules (id, name, type, params, is_active)
			VALUES ('std-status', 'Status consistency', 'status_check', '{}', 1)`,
		`INSERT OR IGNORE INTO reconciliation_rules (id, name, type, params, is_active)
			VALUES ('std-duplicate', 'Duplicate detection', 'duplicate_detection', '{"window_minutes":"5"}', 1)`,
		`INSERT OR IGNORE INTO reconciliation_rules (id, name, type, params, is_active)
			VALUES ('std-complete', 'Completeness check', 'completeness_check', '{}', 1)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to seed reconciliation rule: %w", err)
		}
	}
	return nil
}

// SchemaVersion returns the database's current migration version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
