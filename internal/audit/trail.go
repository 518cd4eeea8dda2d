// Package audit provides the append-only trail of mutating actions taken
// by the settlement engine.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/davidbanez/park-angel-settlement/internal/metrics"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// Trail records mutating actions. Logging is fire-and-forget relative to
// the caller: write failures are reported to the operational log and
// counted, never propagated to fail the triggering business action.
type Trail struct {
	storage   service.Storage
	collector *metrics.Collector
	dropped   atomic.Int64
}

// NewTrail creates an audit trail backed by the given storage. A nil
// collector is fine; drops are then only counted locally.
func NewTrail(storage service.Storage, collector *metrics.Collector) *Trail {
	return &Trail{storage: storage, collector: collector}
}

// Log appends one entry. Details are JSON-encoded; encoding failures fall
// back to an empty object so the action itself is still recorded.
func (t *Trail) Log(ctx context.Context, entityID, entityType, action, actorID string, details map[string]any) {
	encoded := "{}"
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			encoded = string(data)
		} else {
			slog.Warn("Failed to encode audit details", "entity_id", entityID, "action", action, "error", err)
		}
	}

	entry := &model.AuditEntry{
		EntityID:   entityID,
		EntityType: entityType,
		Action:     action,
		ActorID:    actorID,
		Details:    encoded,
		Timestamp:  time.Now().UTC(),
	}

	if err := t.storage.AppendAuditEntry(ctx, entry); err != nil {
		t.dropped.Add(1)
		t.collector.AuditEntryDropped()
		slog.Error("Failed to write audit entry",
			"entity_id", entityID,
			"entity_type", entityType,
			"action", action,
			"error", err)
	}
}

// GetTrail returns an entity's audit entries ordered newest-first.
func (t *Trail) GetTrail(ctx context.Context, entityID, entityType string, r *service.DateRange) ([]model.AuditEntry, error) {
	return t.storage.GetAuditTrail(ctx, entityID, entityType, r)
}

// Dropped returns the count of audit writes lost since startup. Exposed so
// operations can alert on a non-zero value.
func (t *Trail) Dropped() int64 {
	return t.dropped.Load()
}
