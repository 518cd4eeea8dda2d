package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency controls how often a remittance schedule runs.
type Frequency string

// Payout frequencies.
const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// Valid reports whether f is a supported frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// RemittanceSchedule describes when and how a recipient's accumulated
// shares are paid out. AdvanceOnCancel decides whether a below-threshold
// cycle moves NextRunDate forward (true) or leaves the schedule due so the
// amount keeps accumulating (false, the default).
type RemittanceSchedule struct {
	NextRunDate          time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	LastRunDate          *time.Time
	ID                   string
	RecipientID          string
	RecipientType        RecipientType
	Frequency            Frequency
	DestinationAccountID string
	MinimumAmount        decimal.Decimal
	Active               bool
	AdvanceOnCancel      bool
}

// RunStatus is the state of a remittance run.
type RunStatus string

// Remittance run states.
const (
	RunPending    RunStatus = "PENDING"
	RunProcessing RunStatus = "PROCESSING"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
	RunCancelled  RunStatus = "CANCELLED"
)

// Terminal reports whether the run can never change state again.
// FAILED is not terminal: a retry moves it back to PROCESSING.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunCancelled
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next. A FAILED run moves back to PROCESSING on retry, or to CANCELLED
// when a newer run collected its shares in the meantime.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunProcessing || next == RunCancelled
	case RunProcessing:
		return next == RunCompleted || next == RunFailed
	case RunFailed:
		return next == RunProcessing || next == RunCancelled
	default:
		return false
	}
}

// RemittanceRun records one scheduled payout execution. Runs are created
// once per cycle and never deleted; a failed run is retried in place,
// producing a new payout attempt under the same run id.
type RemittanceRun struct {
	RunDate        time.Time
	CreatedAt      time.Time
	CompletedAt    *time.Time
	FailedAt       *time.Time
	ID             string
	ScheduleID     string
	RecipientID    string
	PayoutID       string
	ErrorMessage   string
	SourceShareIDs []string
	Amount         decimal.Decimal
	Status         RunStatus
}
