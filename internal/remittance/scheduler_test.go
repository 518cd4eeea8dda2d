package remittance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbanez/park-angel-settlement/internal/audit"
	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/storage"
)

func createTestScheduler(t *testing.T) (*Scheduler, *storage.SQLiteStorage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(t.TempDir() + "/test.db")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	return NewScheduler(store, audit.NewTrail(store, nil)), store
}

func TestNextRunDate(t *testing.T) {
	tests := []struct {
		name      string
		frequency model.Frequency
		from      time.Time
		want      time.Time
	}{
		{
			name:      "daily",
			frequency: model.FrequencyDaily,
			from:      time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
			want:      time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly",
			frequency: model.FrequencyWeekly,
			from:      time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
			want:      time.Date(2025, 3, 17, 8, 0, 0, 0, time.UTC),
		},
		{
			name:      "biweekly",
			frequency: model.FrequencyBiweekly,
			from:      time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
			want:      time.Date(2025, 3, 24, 8, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly keeps day of month",
			frequency: model.FrequencyMonthly,
			from:      time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC),
			want:      time.Date(2025, 4, 15, 8, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly clamps jan 31 to feb 28",
			frequency: model.FrequencyMonthly,
			from:      time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC),
			want:      time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly clamps to feb 29 in leap year",
			frequency: model.FrequencyMonthly,
			from:      time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC),
			want:      time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly clamps oct 31 to nov 30",
			frequency: model.FrequencyMonthly,
			from:      time.Date(2025, 10, 31, 8, 0, 0, 0, time.UTC),
			want:      time.Date(2025, 11, 30, 8, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRunDate(tt.frequency, tt.from)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestNextRunDateUnsupportedFrequency(t *testing.T) {
	_, err := NextRunDate(model.Frequency("hourly"), time.Now())
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))
}

func TestCreateSchedule(t *testing.T) {
	scheduler, store := createTestScheduler(t)
	ctx := context.Background()

	firstRun := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	schedule, err := scheduler.CreateSchedule(ctx, CreateScheduleInput{
		RecipientID:          "op-1",
		RecipientType:        model.RecipientOperator,
		Frequency:            model.FrequencyWeekly,
		DestinationAccountID: "acct-1",
		MinimumAmount:        decimal.RequireFromString("500"),
		FirstRunDate:         firstRun,
		ActorID:              "admin",
	})
	require.NoError(t, err)
	assert.True(t, schedule.Active)
	assert.False(t, schedule.AdvanceOnCancel, "accumulate below-minimum cycles by default")
	assert.True(t, schedule.NextRunDate.Equal(firstRun))

	got, err := store.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, "op-1", got.RecipientID)

	trail, err := store.GetAuditTrail(ctx, schedule.ID, model.EntityRemittanceSchedule, nil)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "create", trail[0].Action)
}

func TestCreateScheduleDefaultsFirstRun(t *testing.T) {
	scheduler, _ := createTestScheduler(t)

	before := time.Now().UTC()
	schedule, err := scheduler.CreateSchedule(context.Background(), CreateScheduleInput{
		RecipientID:          "host-1",
		RecipientType:        model.RecipientHost,
		Frequency:            model.FrequencyMonthly,
		DestinationAccountID: "acct-1",
	})
	require.NoError(t, err)

	// One monthly cycle out from creation time.
	assert.True(t, schedule.NextRunDate.After(before.AddDate(0, 0, 27)))
	assert.True(t, schedule.NextRunDate.Before(before.AddDate(0, 1, 1)))
}

func TestCreateScheduleValidation(t *testing.T) {
	scheduler, _ := createTestScheduler(t)
	ctx := context.Background()

	valid := CreateScheduleInput{
		RecipientID:          "op-1",
		RecipientType:        model.RecipientOperator,
		Frequency:            model.FrequencyWeekly,
		DestinationAccountID: "acct-1",
	}

	tests := []struct {
		name   string
		mutate func(*CreateScheduleInput)
	}{
		{"missing recipient", func(in *CreateScheduleInput) { in.RecipientID = "" }},
		{"unknown recipient type", func(in *CreateScheduleInput) { in.RecipientType = "tenant" }},
		{"unsupported frequency", func(in *CreateScheduleInput) { in.Frequency = "hourly" }},
		{"missing destination account", func(in *CreateScheduleInput) { in.DestinationAccountID = "" }},
		{"negative minimum", func(in *CreateScheduleInput) { in.MinimumAmount = decimal.RequireFromString("-1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := valid
			tt.mutate(&input)
			_, err := scheduler.CreateSchedule(ctx, input)
			require.Error(t, err)
			assert.True(t, common.IsValidation(err), "got %v", err)
		})
	}
}

func TestUpdateSchedule(t *testing.T) {
	scheduler, _ := createTestScheduler(t)
	ctx := context.Background()

	schedule, err := scheduler.CreateSchedule(ctx, CreateScheduleInput{
		RecipientID:          "op-1",
		RecipientType:        model.RecipientOperator,
		Frequency:            model.FrequencyWeekly,
		DestinationAccountID: "acct-1",
		MinimumAmount:        decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	monthly := model.FrequencyMonthly
	minimum := decimal.RequireFromString("1000")
	inactive := false
	updated, err := scheduler.UpdateSchedule(ctx, schedule.ID, UpdateScheduleInput{
		Frequency:     &monthly,
		MinimumAmount: &minimum,
		Active:        &inactive,
		ActorID:       "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, model.FrequencyMonthly, updated.Frequency)
	assert.True(t, updated.MinimumAmount.Equal(minimum))
	assert.False(t, updated.Active)
	// Untouched fields survive a partial update.
	assert.Equal(t, "acct-1", updated.DestinationAccountID)

	bad := model.Frequency("hourly")
	_, err = scheduler.UpdateSchedule(ctx, schedule.ID, UpdateScheduleInput{Frequency: &bad})
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))

	_, err = scheduler.UpdateSchedule(ctx, "missing", UpdateScheduleInput{Active: &inactive})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteSchedule(t *testing.T) {
	scheduler, store := createTestScheduler(t)
	ctx := context.Background()

	schedule, err := scheduler.CreateSchedule(ctx, CreateScheduleInput{
		RecipientID:          "op-1",
		RecipientType:        model.RecipientOperator,
		Frequency:            model.FrequencyDaily,
		DestinationAccountID: "acct-1",
	})
	require.NoError(t, err)

	require.NoError(t, scheduler.DeleteSchedule(ctx, schedule.ID, "admin"))

	_, err = store.GetSchedule(ctx, schedule.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
