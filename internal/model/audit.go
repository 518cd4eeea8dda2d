package model

import "time"

// AuditEntry is one append-only record of a mutating action. Writes are
// best-effort relative to the triggering operation: a failed audit write is
// reported but never fails the business action.
type AuditEntry struct {
	Timestamp  time.Time
	EntityID   string
	EntityType string
	Action     string
	ActorID    string
	Details    string // JSON-encoded context for the action
	ID         int64
}

// Well-known audit entity types.
const (
	EntityCommissionRule     = "commission_rule"
	EntityRevenueShare       = "revenue_share"
	EntityRemittanceSchedule = "remittance_schedule"
	EntityRemittanceRun      = "remittance_run"
	EntityReconciliationRun  = "reconciliation_run"
	EntityDiscrepancy        = "discrepancy"
	EntityTransaction        = "transaction"
)
