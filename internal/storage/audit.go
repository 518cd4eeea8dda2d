package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// AppendAuditEntry inserts one audit record. The audit log is append-only;
// there is no update or delete path.
func (s *SQLiteStorage) AppendAuditEntry(ctx context.Context, entry *model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if err := validateString(entry.EntityID, "entry.EntityID"); err != nil {
		return err
	}
	if err := validateString(entry.Action, "entry.Action"); err != nil {
		return err
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (entity_id, entity_type, action, actor_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.EntityID,
		entry.EntityType,
		entry.Action,
		entry.ActorID,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// GetAuditTrail returns an entity's audit entries, newest first.
func (s *SQLiteStorage) GetAuditTrail(ctx context.Context, entityID, entityType string, r *service.DateRange) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(entityID, "entityID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, entity_id, entity_type, action, actor_id, details, timestamp
		FROM audit_entries
		WHERE entity_id = ?`
	args := []any{entityID}
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	if r != nil {
		if r.End.Before(r.Start) {
			return nil, fmt.Errorf("%w: %v before %v", ErrInvalidDateRange, r.End, r.Start)
		}
		query += ` AND timestamp >= ? AND timestamp < ?`
		args = append(args, r.Start.UTC(), r.End.UTC())
	}
	query += ` ORDER BY timestamp DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		if err := rows.Scan(&entry.ID, &entry.EntityID, &entry.EntityType,
			&entry.Action, &entry.ActorID, &entry.Details, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
