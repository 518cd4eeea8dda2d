// Package remittance schedules and executes payouts of accumulated
// revenue shares to operators and hosts.
package remittance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// Scheduler manages per-recipient payout schedules.
type Scheduler struct {
	storage service.Storage
	auditor service.AuditLogger
}

// NewScheduler creates a scheduler with its dependencies injected.
func NewScheduler(storage service.Storage, auditor service.AuditLogger) *Scheduler {
	return &Scheduler{storage: storage, auditor: auditor}
}

// CreateScheduleInput is the caller-supplied part of a new schedule.
type CreateScheduleInput struct {
	FirstRunDate         time.Time
	RecipientID          string
	RecipientType        model.RecipientType
	Frequency            model.Frequency
	DestinationAccountID string
	ActorID              string
	MinimumAmount        decimal.Decimal
	AdvanceOnCancel      bool
}

// CreateSchedule validates and persists a new remittance schedule.
func (s *Scheduler) CreateSchedule(ctx context.Context, input CreateScheduleInput) (*model.RemittanceSchedule, error) {
	if input.RecipientID == "" {
		return nil, common.NewValidationError("recipientId", "required")
	}
	if !input.RecipientType.Valid() {
		return nil, common.NewValidationError("recipientType", fmt.Sprintf("unknown type %q", input.RecipientType))
	}
	if !input.Frequency.Valid() {
		return nil, common.NewValidationError("frequency", fmt.Sprintf("unsupported frequency %q", input.Frequency))
	}
	if input.MinimumAmount.IsNegative() {
		return nil, common.NewValidationError("minimumAmount", "cannot be negative")
	}
	if input.DestinationAccountID == "" {
		return nil, common.NewValidationError("destinationAccountId", "required")
	}

	firstRun := input.FirstRunDate
	if firstRun.IsZero() {
		var err error
		if firstRun, err = NextRunDate(input.Frequency, time.Now().UTC()); err != nil {
			return nil, err
		}
	}

	schedule := &model.RemittanceSchedule{
		ID:                   uuid.NewString(),
		RecipientID:          input.RecipientID,
		RecipientType:        input.RecipientType,
		Frequency:            input.Frequency,
		MinimumAmount:        input.MinimumAmount,
		DestinationAccountID: input.DestinationAccountID,
		Active:               true,
		AdvanceOnCancel:      input.AdvanceOnCancel,
		NextRunDate:          firstRun.UTC(),
	}

	if err := s.storage.CreateSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	s.auditor.Log(ctx, schedule.ID, model.EntityRemittanceSchedule, "create", input.ActorID, map[string]any{
		"recipient_id":   schedule.RecipientID,
		"frequency":      string(schedule.Frequency),
		"minimum_amount": schedule.MinimumAmount.String(),
		"next_run_date":  schedule.NextRunDate,
	})

	return schedule, nil
}

// UpdateScheduleInput holds the mutable schedule fields. Nil pointers
// leave the current value unchanged.
type UpdateScheduleInput struct {
	Frequency            *model.Frequency
	MinimumAmount        *decimal.Decimal
	DestinationAccountID *string
	Active               *bool
	AdvanceOnCancel      *bool
	ActorID              string
}

// UpdateSchedule applies partial updates to a schedule.
func (s *Scheduler) UpdateSchedule(ctx context.Context, id string, input UpdateScheduleInput) (*model.RemittanceSchedule, error) {
	schedule, err := s.storage.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Frequency != nil {
		if !input.Frequency.Valid() {
			return nil, common.NewValidationError("frequency", fmt.Sprintf("unsupported frequency %q", *input.Frequency))
		}
		schedule.Frequency = *input.Frequency
	}
	if input.MinimumAmount != nil {
		if input.MinimumAmount.IsNegative() {
			return nil, common.NewValidationError("minimumAmount", "cannot be negative")
		}
		schedule.MinimumAmount = *input.MinimumAmount
	}
	if input.DestinationAccountID != nil {
		if *input.DestinationAccountID == "" {
			return nil, common.NewValidationError("destinationAccountId", "required")
		}
		schedule.DestinationAccountID = *input.DestinationAccountID
	}
	if input.Active != nil {
		schedule.Active = *input.Active
	}
	if input.AdvanceOnCancel != nil {
		schedule.AdvanceOnCancel = *input.AdvanceOnCancel
	}

	if err := s.storage.UpdateSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, schedule.ID, model.EntityRemittanceSchedule, "update", input.ActorID, map[string]any{
		"active":         schedule.Active,
		"frequency":      string(schedule.Frequency),
		"minimum_amount": schedule.MinimumAmount.String(),
	})

	return schedule, nil
}

// DeleteSchedule removes a schedule. Run history is retained.
func (s *Scheduler) DeleteSchedule(ctx context.Context, id, actorID string) error {
	if err := s.storage.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.auditor.Log(ctx, id, model.EntityRemittanceSchedule, "delete", actorID, nil)
	return nil
}

// ListDueSchedules returns active schedules whose next run date is at or
// before asOf.
func (s *Scheduler) ListDueSchedules(ctx context.Context, asOf time.Time) ([]model.RemittanceSchedule, error) {
	return s.storage.ListDueSchedules(ctx, asOf)
}

// NextRunDate advances a run date by one cycle. Monthly schedules keep the
// day of month, clamped to the target month's length (Jan 31 -> Feb 28/29).
// An unsupported frequency is a configuration error, never a silent
// fallback.
func NextRunDate(frequency model.Frequency, from time.Time) (time.Time, error) {
	switch frequency {
	case model.FrequencyDaily:
		return from.AddDate(0, 0, 1), nil
	case model.FrequencyWeekly:
		return from.AddDate(0, 0, 7), nil
	case model.FrequencyBiweekly:
		return from.AddDate(0, 0, 14), nil
	case model.FrequencyMonthly:
		return addMonthClamped(from), nil
	default:
		return time.Time{}, common.NewValidationError("frequency", fmt.Sprintf("unsupported frequency %q", frequency))
	}
}

func addMonthClamped(from time.Time) time.Time {
	year, month, day := from.Date()
	firstOfNext := time.Date(year, month+1, 1, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}
