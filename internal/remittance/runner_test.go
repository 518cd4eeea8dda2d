package remittance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbanez/park-angel-settlement/internal/audit"
	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/metrics"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
	"github.com/davidbanez/park-angel-settlement/internal/storage"
)

// mockPayoutRail fakes the payout rail and account registry boundaries.
type mockPayoutRail struct {
	mu          sync.Mutex
	payoutErr   error
	accountErr  error
	unverified  map[string]bool
	createCalls int
	requests    []service.PayoutRequest
}

func newMockPayoutRail() *mockPayoutRail {
	return &mockPayoutRail{unverified: make(map[string]bool)}
}

func (m *mockPayoutRail) CreatePayout(_ context.Context, req service.PayoutRequest) (*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.requests = append(m.requests, req)
	if m.payoutErr != nil {
		return nil, m.payoutErr
	}
	return &model.Payout{
		ID:          "payout-" + req.RecipientID,
		RecipientID: req.RecipientID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      model.PayoutPending,
		SourceIDs:   req.SourceIDs,
	}, nil
}

func (m *mockPayoutRail) GetPayoutStatus(context.Context, string) (model.PayoutStatus, error) {
	return model.PayoutPaid, nil
}

func (m *mockPayoutRail) GetAccount(_ context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return &model.Account{ID: id, Verified: !m.unverified[id]}, nil
}

func (m *mockPayoutRail) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

type runnerFixture struct {
	runner *Runner
	store  *storage.SQLiteStorage
	rail   *mockPayoutRail
}

func createTestRunner(t *testing.T) *runnerFixture {
	t.Helper()

	store, err := storage.NewSQLiteStorage(t.TempDir() + "/test.db")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	rail := newMockPayoutRail()
	config := DefaultRunnerConfig()
	config.PayoutRetry = service.RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond}
	runner := NewRunner(store, rail, rail, audit.NewTrail(store, nil), metrics.NewCollector(), config)

	return &runnerFixture{runner: runner, store: store, rail: rail}
}

func (f *runnerFixture) seedSchedule(t *testing.T, schedule model.RemittanceSchedule) *model.RemittanceSchedule {
	t.Helper()
	if schedule.ID == "" {
		schedule.ID = "sched-" + schedule.RecipientID
	}
	if schedule.RecipientType == "" {
		schedule.RecipientType = model.RecipientOperator
	}
	if schedule.Frequency == "" {
		schedule.Frequency = model.FrequencyWeekly
	}
	if schedule.DestinationAccountID == "" {
		schedule.DestinationAccountID = "acct-" + schedule.RecipientID
	}
	if schedule.NextRunDate.IsZero() {
		schedule.NextRunDate = time.Now().UTC().Add(-time.Hour)
	}
	schedule.Active = true
	require.NoError(t, f.store.CreateSchedule(context.Background(), &schedule))
	return &schedule
}

func (f *runnerFixture) seedUnpaidShare(t *testing.T, id, recipientID, amount string) {
	t.Helper()
	require.NoError(t, f.store.SaveRevenueShare(context.Background(), &model.RevenueShare{
		ID:                 id,
		TransactionID:      "txn-" + id,
		Category:           model.CategoryStreet,
		OperatorID:         recipientID,
		TotalAmount:        decimal.RequireFromString(amount).Mul(decimal.NewFromInt(2)),
		PlatformShare:      decimal.RequireFromString(amount),
		OperatorShare:      decimal.RequireFromString(amount),
		AppliedRulePercent: decimal.NewFromInt(50),
		CalculatedAt:       time.Now().UTC().Add(-time.Hour),
	}))
}

func TestProcessScheduleCompletes(t *testing.T) {
	f := createTestRunner(t)
	ctx := context.Background()

	schedule := f.seedSchedule(t, model.RemittanceSchedule{
		RecipientID:   "op-1",
		MinimumAmount: decimal.RequireFromString("100"),
	})
	f.seedUnpaidShare(t, "s-1", "op-1", "80.00")
	f.seedUnpaidShare(t, "s-2", "op-1", "45.50")

	run, err := f.runner.ProcessSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.True(t, run.Amount.Equal(decimal.RequireFromString("125.50")))
	assert.NotEmpty(t, run.PayoutID)
	require.NotNil(t, run.CompletedAt)

	// Shares are stamped with the run.
	unpaid, err := f.store.ListUnpaidShares(ctx, "op-1",
		time.Now().UTC().Add(-24*time.Hour), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, unpaid)

	// Schedule advanced one cycle.
	got, err := f.store.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunDate)
	assert.True(t, got.NextRunDate.After(schedule.NextRunDate))

	// Payout request carried the default currency and source share ids.
	require.Len(t, f.rail.requests, 1)
	assert.Equal(t, "PHP", f.rail.requests[0].Currency)
	assert.Len(t, f.rail.requests[0].SourceIDs, 2)
}

func TestProcessScheduleBelowMinimum(t *testing.T) {
	tests := []struct {
		name            string
		advanceOnCancel bool
	}{
		{"accumulates by default", false},
		{"advances when opted in", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := createTestRunner(t)
			ctx := context.Background()

			schedule := f.seedSchedule(t, model.RemittanceSchedule{
				RecipientID:     "op-1",
				MinimumAmount:   decimal.RequireFromString("500"),
				AdvanceOnCancel: tt.advanceOnCancel,
			})
			f.seedUnpaidShare(t, "s-1", "op-1", "100.00")

			run, err := f.runner.ProcessSchedule(ctx, schedule.ID)
			require.NoError(t, err)
			assert.Equal(t, model.RunCancelled, run.Status)
			assert.Contains(t, run.ErrorMessage, "below minimum")
			assert.Zero(t, f.rail.calls(), "no payout is attempted for a cancelled cycle")

			// Shares stay unpaid either way.
			unpaid, err := f.store.ListUnpaidShares(ctx, "op-1",
				time.Now().UTC().Add(-24*time.Hour), time.Now().UTC())
			require.NoError(t, err)
			assert.Len(t, unpaid, 1)

			got, err := f.store.GetSchedule(ctx, schedule.ID)
			require.NoError(t, err)
			if tt.advanceOnCancel {
				assert.True(t, got.NextRunDate.After(schedule.NextRunDate))
			} else {
				assert.True(t, got.NextRunDate.Equal(schedule.NextRunDate),
					"schedule stays due so the amount keeps accumulating")
			}
		})
	}
}

func TestProcessSchedulePayoutFailure(t *testing.T) {
	f := createTestRunner(t)
	ctx := context.Background()

	schedule := f.seedSchedule(t, model.RemittanceSchedule{RecipientID: "op-1"})
	f.seedUnpaidShare(t, "s-1", "op-1", "200.00")
	f.rail.payoutErr = common.NewExternalServiceError("payout-rail", errors.New("rail down"))

	run, err := f.runner.ProcessSchedule(ctx, schedule.ID)
	require.NoError(t, err, "a failed payout is an outcome, not a processing error")
	assert.Equal(t, model.RunFailed, run.Status)
	require.NotNil(t, run.FailedAt)
	assert.Contains(t, run.ErrorMessage, "rail down")

	// Transient failures are retried before giving up.
	assert.Equal(t, 2, f.rail.calls())

	// Schedule untouched: the next sweep retries the same shares.
	got, err := f.store.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastRunDate)
	assert.True(t, got.NextRunDate.Equal(schedule.NextRunDate))

	unpaid, err := f.store.ListUnpaidShares(ctx, "op-1",
		time.Now().UTC().Add(-24*time.Hour), time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, unpaid, 1)
}

func TestProcessScheduleUnverifiedAccount(t *testing.T) {
	f := createTestRunner(t)
	ctx := context.Background()

	schedule := f.seedSchedule(t, model.RemittanceSchedule{
		RecipientID:          "op-1",
		DestinationAccountID: "acct-unverified",
	})
	f.seedUnpaidShare(t, "s-1", "op-1", "200.00")
	f.rail.unverified["acct-unverified"] = true

	run, err := f.runner.ProcessSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "not verified")
	assert.Zero(t, f.rail.calls(), "no transfer is attempted against an unverified account")
}

func TestProcessScheduleInactive(t *testing.T) {
	f := createTestRunner(t)
	ctx := context.Background()

	schedule := f.seedSchedule(t, model.RemittanceSchedule{RecipientID: "op-1"})
	schedule.Active = false
	require.NoError(t, f.store.UpdateSchedule(ctx, schedule))

	_, err := f.runner.ProcessSchedule(ctx, schedule.ID)
	require.Error(t, err)
	assert.True(t, common.IsBusinessRuleViolation(err))
}

func TestRetryFailedRun(t *testing.T) {
	f := createTestRunner(t)
	ctx := context.Background()

	schedule := f.seedSchedule(t, model.RemittanceSchedule{RecipientID: "op-1"})
	f.seedUnpaidShare(t, "s-1", "op-1", "200.00")

	f.rail.payoutErr = common.NewExternalServiceError("payout-rail", errors.New("rail down"))
	failed, err := f.runner.ProcessSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, failed.Status)

	// Rail recovers; retry reuses the run record.
	f.rail.payoutErr = nil
	retried, err := f.runner.RetryFailedRun(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, retried.ID)
	assert.Equal(t, model.RunCompleted, retried.Status)
	assert.NotEmpty(t, retried.PayoutID)

	// Only one run exists for the schedule.
	runs, err := f.store.ListRunsBySchedule(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRetryFailedRunSuperseded(t *testing.T) {
	f := createTestRunner(t)
	ctx := context.Background()

	schedule := f.seedSchedule(t, model.RemittanceSchedule{RecipientID: "op-1"})
	f.seedUnpaidShare(t, "s-1", "op-1", "200.00")

	f.rail.payoutErr = common.NewExternalServiceError("payout-rail", errors.New("rail down"))
	failed, err := f.runner.ProcessSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, failed.Status)

	// The failed run left its share unpaid and the schedule due, so the
	// next sweep collects the same share into a fresh run and pays it.
	f.rail.payoutErr = nil
	newer, err := f.runner.ProcessSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, newer.Status)
	callsAfterPayout := f.rail.calls()

	// Retrying the old run now must not move the same money again.
	_, err = f.runner.RetryFailedRun(ctx, failed.ID)
	require.Error(t, err)
	assert.True(t, common.IsBusinessRuleViolation(err))
	assert.Equal(t, callsAfterPayout, f.rail.calls(), "a superseded retry never reaches the rail")

	// The stale run is closed out as cancelled.
	got, err := f.store.GetRemittanceRun(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCancelled, got.Status)
	assert.Contains(t, got.ErrorMessage, newer.ID)

	// A cancelled run is no longer retryable.
	_, err = f.runner.RetryFailedRun(ctx, failed.ID)
	require.Error(t, err)
	assert.True(t, common.IsBusinessRuleViolation(err))
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	f := createTestRunner(t)
	ctx := context.Background()

	schedule := f.seedSchedule(t, model.RemittanceSchedule{RecipientID: "op-1"})
	f.seedUnpaidShare(t, "s-1", "op-1", "200.00")

	run, err := f.runner.ProcessSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, run.Status)

	_, err = f.runner.RetryFailedRun(ctx, run.ID)
	require.Error(t, err)
	assert.True(t, common.IsBusinessRuleViolation(err))

	_, err = f.runner.RetryFailedRun(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestProcessDueSchedulesIsolation(t *testing.T) {
	f := createTestRunner(t)
	ctx := context.Background()

	// Three due schedules: one pays out, one cancels below minimum, one
	// fails on an unverified account. Each outcome is counted separately.
	f.seedSchedule(t, model.RemittanceSchedule{ID: "sched-ok", RecipientID: "op-ok"})
	f.seedUnpaidShare(t, "s-ok", "op-ok", "300.00")

	f.seedSchedule(t, model.RemittanceSchedule{
		ID: "sched-low", RecipientID: "op-low",
		MinimumAmount: decimal.RequireFromString("1000"),
	})
	f.seedUnpaidShare(t, "s-low", "op-low", "10.00")

	f.seedSchedule(t, model.RemittanceSchedule{
		ID: "sched-bad", RecipientID: "op-bad",
		DestinationAccountID: "acct-bad",
	})
	f.seedUnpaidShare(t, "s-bad", "op-bad", "50.00")
	f.rail.unverified["acct-bad"] = true

	var progressCalls int
	summary, err := f.runner.ProcessDueSchedules(ctx, time.Now().UTC(), func(done, total int) {
		progressCalls++
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Due)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Errored)
	assert.Equal(t, 3, progressCalls)
}

func TestProcessDueSchedulesEmpty(t *testing.T) {
	f := createTestRunner(t)

	summary, err := f.runner.ProcessDueSchedules(context.Background(), time.Now().UTC(), nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Due)
}
