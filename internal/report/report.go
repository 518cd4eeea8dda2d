// Package report builds settlement summaries from stored shares, remittance
// runs and discrepancies, and renders them in several formats.
package report

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementReport is the format-independent summary for one window. All
// renderers consume this same structure.
type SettlementReport struct {
	GeneratedAt time.Time `json:"generatedAt"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	RecipientID string    `json:"recipientId,omitempty"`
	Currency    string    `json:"currency"`

	Totals     Totals         `json:"totals"`
	Categories []CategoryRow  `json:"categories"`
	Recipients []RecipientRow `json:"recipients"`
	Runs       []RunRow       `json:"remittanceRuns"`
	OpenIssues []OpenIssueRow `json:"openDiscrepancies"`
}

// Totals aggregates the whole window.
type Totals struct {
	TransactionCount int             `json:"transactionCount"`
	GrossAmount      decimal.Decimal `json:"grossAmount"`
	PlatformRevenue  decimal.Decimal `json:"platformRevenue"`
	PartnerRevenue   decimal.Decimal `json:"partnerRevenue"`
	PaidOut          decimal.Decimal `json:"paidOut"`
	Outstanding      decimal.Decimal `json:"outstanding"`
}

// CategoryRow aggregates one parking category.
type CategoryRow struct {
	Category         string          `json:"category"`
	TransactionCount int             `json:"transactionCount"`
	GrossAmount      decimal.Decimal `json:"grossAmount"`
	PlatformShare    decimal.Decimal `json:"platformShare"`
	PartnerShare     decimal.Decimal `json:"partnerShare"`
}

// RecipientRow aggregates one operator or host.
type RecipientRow struct {
	RecipientID      string          `json:"recipientId"`
	Category         string          `json:"category"`
	TransactionCount int             `json:"transactionCount"`
	Earned           decimal.Decimal `json:"earned"`
	Paid             decimal.Decimal `json:"paid"`
	Outstanding      decimal.Decimal `json:"outstanding"`
}

// RunRow summarizes one remittance run in the window.
type RunRow struct {
	RunID       string          `json:"runId"`
	ScheduleID  string          `json:"scheduleId"`
	RecipientID string          `json:"recipientId"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	ShareCount  int             `json:"shareCount"`
	ExecutedAt  time.Time       `json:"executedAt"`
}

// OpenIssueRow summarizes one unresolved discrepancy.
type OpenIssueRow struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	TransactionID string    `json:"transactionId,omitempty"`
	Description   string    `json:"description"`
	DetectedAt    time.Time `json:"detectedAt"`
}
