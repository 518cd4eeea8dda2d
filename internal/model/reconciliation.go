package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationRuleType selects the check a reconciliation rule performs.
type ReconciliationRuleType string

// Reconciliation rule types.
const (
	RuleAmountValidation   ReconciliationRuleType = "amount_validation"
	RuleStatusCheck        ReconciliationRuleType = "status_check"
	RuleDuplicateDetection ReconciliationRuleType = "duplicate_detection"
	RuleCompletenessCheck  ReconciliationRuleType = "completeness_check"
)

// Valid reports whether t is a known rule type.
func (t ReconciliationRuleType) Valid() bool {
	switch t {
	case RuleAmountValidation, RuleStatusCheck, RuleDuplicateDetection, RuleCompletenessCheck:
		return true
	}
	return false
}

// ReconciliationRule configures one automated cross-check. Params holds
// type-specific settings such as "tolerance" for amount validation or
// "window_minutes" for duplicate detection.
type ReconciliationRule struct {
	CreatedAt time.Time
	Params    map[string]string
	ID        string
	Name      string
	Type      ReconciliationRuleType
	Active    bool
}

// DiscrepancyType classifies a detected inconsistency.
type DiscrepancyType string

// Discrepancy types. RuleFailure is synthetic: it records a rule whose
// execution itself failed, so the failure is visible without aborting the
// remaining rules in the batch.
const (
	DiscrepancyAmountMismatch      DiscrepancyType = "amount_mismatch"
	DiscrepancyMissingRevenueShare DiscrepancyType = "missing_revenue_share"
	DiscrepancyMissingTransaction  DiscrepancyType = "missing_transaction"
	DiscrepancyStatusMismatch      DiscrepancyType = "status_mismatch"
	DiscrepancyDuplicateEntry      DiscrepancyType = "duplicate_entry"
	DiscrepancyRuleFailure         DiscrepancyType = "rule_failure"
)

// Discrepancy is one detected inconsistency. Discrepancies are never
// mutated or silently corrected; resolution is a separate, audited action
// that fills the Resolved* fields.
type Discrepancy struct {
	DetectedAt     time.Time
	ResolvedAt     *time.Time
	ID             string
	RunID          string
	Type           DiscrepancyType
	TransactionID  string
	Description    string
	Resolution     string
	ResolvedBy     string
	ExpectedAmount decimal.NullDecimal
	ActualAmount   decimal.NullDecimal
	Difference     decimal.NullDecimal
	Resolved       bool
}

// ReconciliationRun records one execution of one rule over a window,
// pass or fail.
type ReconciliationRun struct {
	WindowStart      time.Time
	WindowEnd        time.Time
	StartedAt        time.Time
	FinishedAt       time.Time
	ID               string
	RuleID           string
	Error            string
	DiscrepancyCount int
	Succeeded        bool
}
