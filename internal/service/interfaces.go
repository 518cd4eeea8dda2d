// Package service defines the interfaces for the settlement engine's
// persistence layer and external collaborators.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidbanez/park-angel-settlement/internal/model"
)

// DateRange represents a time period with start and end dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// DiscrepancyFilter defines filtering options for discrepancy queries.
type DiscrepancyFilter struct {
	Range      *DateRange
	Type       model.DiscrepancyType
	Unresolved bool
	Limit      int
}

// Storage defines the contract for the persistence layer. All records
// owned by the engine (rules, shares, schedules, runs, discrepancies,
// audit entries) live behind this interface.
type Storage interface {
	// Commission rule operations
	CreateCommissionRule(ctx context.Context, rule *model.CommissionRule) error
	GetCommissionRule(ctx context.Context, id string) (*model.CommissionRule, error)
	ListCommissionRules(ctx context.Context, category *model.Category) ([]model.CommissionRule, error)
	DeactivateCommissionRule(ctx context.Context, id string) error
	// ResolveCommissionRule returns the most recently effective active rule
	// covering asOf, or ErrNotFound.
	ResolveCommissionRule(ctx context.Context, category model.Category, asOf time.Time) (*model.CommissionRule, error)

	// Revenue share operations
	SaveRevenueShare(ctx context.Context, share *model.RevenueShare) error
	UpdateRevenueShare(ctx context.Context, share *model.RevenueShare) error
	GetRevenueShareByTransaction(ctx context.Context, transactionID string) (*model.RevenueShare, error)
	ListUnpaidShares(ctx context.Context, recipientID string, since, until time.Time) ([]model.RevenueShare, error)
	ListSharesByDateRange(ctx context.Context, start, end time.Time) ([]model.RevenueShare, error)
	ListSharesByIDs(ctx context.Context, ids []string) ([]model.RevenueShare, error)

	// Remittance schedule operations
	CreateSchedule(ctx context.Context, schedule *model.RemittanceSchedule) error
	GetSchedule(ctx context.Context, id string) (*model.RemittanceSchedule, error)
	UpdateSchedule(ctx context.Context, schedule *model.RemittanceSchedule) error
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context, recipientID string) ([]model.RemittanceSchedule, error)
	ListDueSchedules(ctx context.Context, asOf time.Time) ([]model.RemittanceSchedule, error)

	// Remittance run operations
	CreateRemittanceRun(ctx context.Context, run *model.RemittanceRun) error
	UpdateRemittanceRun(ctx context.Context, run *model.RemittanceRun) error
	GetRemittanceRun(ctx context.Context, id string) (*model.RemittanceRun, error)
	ListRunsBySchedule(ctx context.Context, scheduleID string) ([]model.RemittanceRun, error)
	ListRunsByDateRange(ctx context.Context, start, end time.Time) ([]model.RemittanceRun, error)

	// Reconciliation operations
	CreateReconciliationRule(ctx context.Context, rule *model.ReconciliationRule) error
	GetReconciliationRule(ctx context.Context, id string) (*model.ReconciliationRule, error)
	ListReconciliationRules(ctx context.Context, activeOnly bool) ([]model.ReconciliationRule, error)
	SaveReconciliationRun(ctx context.Context, run *model.ReconciliationRun) error
	SaveDiscrepancies(ctx context.Context, discrepancies []model.Discrepancy) error
	GetDiscrepancy(ctx context.Context, id string) (*model.Discrepancy, error)
	ListDiscrepancies(ctx context.Context, filter DiscrepancyFilter) ([]model.Discrepancy, error)
	MarkDiscrepancyResolved(ctx context.Context, id, resolution, resolvedBy string, at time.Time) error

	// Audit operations
	AppendAuditEntry(ctx context.Context, entry *model.AuditEntry) error
	GetAuditTrail(ctx context.Context, entityID, entityType string, r *DateRange) ([]model.AuditEntry, error)

	// Transaction read model (ingested from the external store)
	SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListSettledTransactions(ctx context.Context, start, end time.Time) ([]model.Transaction, error)
	ListTransactionsWithoutShares(ctx context.Context, since time.Time) ([]model.Transaction, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is the transactional subset of Storage used to finalize a remittance
// run atomically: marking source shares paid, recording the run outcome and
// advancing the schedule must land together.
type Tx interface {
	Commit() error
	Rollback() error

	MarkSharesPaid(ctx context.Context, shareIDs []string, runID string, paidAt time.Time) error
	UpdateRemittanceRun(ctx context.Context, run *model.RemittanceRun) error
	UpdateSchedule(ctx context.Context, schedule *model.RemittanceSchedule) error
}

// TransactionStore is the engine's boundary to the external marketplace
// payment records. It owns category and operator/host attribution; the
// engine never traverses booking or location schema itself.
type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ResolveSettlementContext(ctx context.Context, transactionID string) (*model.SettlementContext, error)
	ListSettled(ctx context.Context, start, end time.Time) ([]model.Transaction, error)
}

// PayoutRequest is the input to the external payout rail.
type PayoutRequest struct {
	RecipientID          string
	Currency             string
	DestinationAccountID string
	SourceIDs            []string
	Amount               decimal.Decimal
}

// PayoutExecutor is the external payout rail boundary.
type PayoutExecutor interface {
	CreatePayout(ctx context.Context, req PayoutRequest) (*model.Payout, error)
	GetPayoutStatus(ctx context.Context, payoutID string) (model.PayoutStatus, error)
}

// AccountRegistry is the bank/account registry boundary.
type AccountRegistry interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
}

// AuditLogger records mutating actions, best-effort.
type AuditLogger interface {
	Log(ctx context.Context, entityID, entityType, action, actorID string, details map[string]any)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
