package revshare

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbanez/park-angel-settlement/internal/audit"
	"github.com/davidbanez/park-angel-settlement/internal/commission"
	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/metrics"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/storage"
)

func createTestCalculator(t *testing.T) (*Calculator, *storage.SQLiteStorage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(t.TempDir() + "/test.db")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	trail := audit.NewTrail(store, nil)
	rules := commission.NewRuleEngine(store, trail)
	return NewCalculator(store, rules, store, trail, metrics.NewCollector()), store
}

func seedTransaction(t *testing.T, store *storage.SQLiteStorage, txn model.Transaction) {
	t.Helper()
	if txn.Status == "" {
		txn.Status = model.TxnSucceeded
	}
	if txn.BookingStatus == "" {
		txn.BookingStatus = model.BookingConfirmed
	}
	if txn.SettledAt.IsZero() {
		txn.SettledAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := store.SaveTransactions(context.Background(), []model.Transaction{txn})
	require.NoError(t, err)
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateSplitsByCategory(t *testing.T) {
	tests := []struct {
		name         string
		txn          model.Transaction
		wantPlatform string
		wantPartner  string
	}{
		{
			name:         "street default 70% operator",
			txn:          model.Transaction{ID: "t-street", Amount: amt("100.00"), Category: model.CategoryStreet, OperatorID: "op-1"},
			wantPlatform: "30.00",
			wantPartner:  "70.00",
		},
		{
			name:         "facility default 70% operator",
			txn:          model.Transaction{ID: "t-fac", Amount: amt("250.50"), Category: model.CategoryFacility, OperatorID: "op-2"},
			wantPlatform: "75.15",
			wantPartner:  "175.35",
		},
		{
			name:         "hosted default 60% host",
			txn:          model.Transaction{ID: "t-host", Amount: amt("99.99"), Category: model.CategoryHosted, HostID: "host-1"},
			wantPlatform: "40.00",
			wantPartner:  "59.99",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, store := createTestCalculator(t)
			seedTransaction(t, store, tt.txn)

			share, err := calc.Calculate(context.Background(), tt.txn.ID, Options{ActorID: "test"})
			require.NoError(t, err)

			assert.True(t, share.PlatformShare.Equal(amt(tt.wantPlatform)),
				"platform share %s, want %s", share.PlatformShare, tt.wantPlatform)
			assert.True(t, share.PartnerShare().Equal(amt(tt.wantPartner)),
				"partner share %s, want %s", share.PartnerShare(), tt.wantPartner)
			assert.True(t, share.PlatformShare.Add(share.PartnerShare()).Equal(tt.txn.Amount),
				"shares must sum exactly to the transaction amount")
			assert.Equal(t, tt.txn.Category, share.Category)
		})
	}
}

func TestCalculateUsesRuleEffectiveAtSettlement(t *testing.T) {
	calc, store := createTestCalculator(t)
	ctx := context.Background()

	trail := audit.NewTrail(store, nil)
	rules := commission.NewRuleEngine(store, trail)
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := rules.CreateRule(ctx, commission.CreateRuleInput{
		Category:        model.CategoryStreet,
		PlatformPercent: amt("40"),
		PartnerPercent:  amt("60"),
		EffectiveFrom:   jan,
	})
	require.NoError(t, err)

	seedTransaction(t, store, model.Transaction{
		ID:         "t-1",
		Amount:     amt("100.00"),
		Category:   model.CategoryStreet,
		OperatorID: "op-1",
		SettledAt:  jan.AddDate(0, 3, 0),
	})

	share, err := calc.Calculate(ctx, "t-1", Options{})
	require.NoError(t, err)
	assert.True(t, share.OperatorShare.Equal(amt("60.00")))
	assert.True(t, share.AppliedRulePercent.Equal(amt("60")))
	assert.NotEqual(t, "platform-default-street", share.RuleID)
}

func TestCalculateIdempotent(t *testing.T) {
	calc, store := createTestCalculator(t)
	ctx := context.Background()

	seedTransaction(t, store, model.Transaction{
		ID: "t-1", Amount: amt("100.00"), Category: model.CategoryStreet, OperatorID: "op-1",
	})

	first, err := calc.Calculate(ctx, "t-1", Options{})
	require.NoError(t, err)

	// Second call returns the existing record unchanged.
	second, err := calc.Calculate(ctx, "t-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// FailOnDuplicate surfaces the conflict instead.
	_, err = calc.Calculate(ctx, "t-1", Options{FailOnDuplicate: true})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestCalculateRejectsUnsettledTransaction(t *testing.T) {
	calc, store := createTestCalculator(t)
	ctx := context.Background()

	tests := []struct {
		id     string
		status model.TransactionStatus
	}{
		{"t-pending", model.TxnPending},
		{"t-failed", model.TxnFailed},
		{"t-refunded", model.TxnRefunded},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			seedTransaction(t, store, model.Transaction{
				ID: tt.id, Amount: amt("50.00"), Category: model.CategoryStreet,
				OperatorID: "op-1", Status: tt.status,
			})

			_, err := calc.Calculate(ctx, tt.id, Options{})
			require.Error(t, err)
			assert.True(t, common.IsBusinessRuleViolation(err), "got %v", err)
		})
	}
}

func TestCalculateRejectsMissingAttribution(t *testing.T) {
	calc, store := createTestCalculator(t)
	ctx := context.Background()

	// Street revenue with no operator: refusing beats misrouting money.
	seedTransaction(t, store, model.Transaction{
		ID: "t-no-op", Amount: amt("50.00"), Category: model.CategoryStreet,
	})
	_, err := calc.Calculate(ctx, "t-no-op", Options{})
	require.Error(t, err)
	assert.True(t, common.IsValidation(err), "got %v", err)

	// Hosted revenue with no host.
	seedTransaction(t, store, model.Transaction{
		ID: "t-no-host", Amount: amt("50.00"), Category: model.CategoryHosted,
	})
	_, err = calc.Calculate(ctx, "t-no-host", Options{})
	require.Error(t, err)
	assert.True(t, common.IsValidation(err), "got %v", err)
}

func TestCalculateUnknownTransaction(t *testing.T) {
	calc, _ := createTestCalculator(t)

	_, err := calc.Calculate(context.Background(), "nope", Options{})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRecalculate(t *testing.T) {
	calc, store := createTestCalculator(t)
	ctx := context.Background()

	settled := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTransaction(t, store, model.Transaction{
		ID: "t-1", Amount: amt("100.00"), Category: model.CategoryStreet,
		OperatorID: "op-1", SettledAt: settled,
	})

	original, err := calc.Calculate(ctx, "t-1", Options{})
	require.NoError(t, err)
	assert.True(t, original.OperatorShare.Equal(amt("70.00")))

	// A backdated rule changes what the settlement date resolves to.
	trail := audit.NewTrail(store, nil)
	rules := commission.NewRuleEngine(store, trail)
	_, err = rules.CreateRule(ctx, commission.CreateRuleInput{
		Category:        model.CategoryStreet,
		PlatformPercent: amt("50"),
		PartnerPercent:  amt("50"),
		EffectiveFrom:   settled.AddDate(0, -1, 0),
	})
	require.NoError(t, err)

	corrected, err := calc.Recalculate(ctx, "t-1", "ops")
	require.NoError(t, err)
	assert.Equal(t, original.ID, corrected.ID, "correction rewrites in place")
	assert.True(t, corrected.OperatorShare.Equal(amt("50.00")))

	got, err := store.GetRevenueShareByTransaction(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, got.OperatorShare.Equal(amt("50.00")))
}

func TestRecalculatePaidShareImmutable(t *testing.T) {
	calc, store := createTestCalculator(t)
	ctx := context.Background()

	seedTransaction(t, store, model.Transaction{
		ID: "t-1", Amount: amt("100.00"), Category: model.CategoryStreet, OperatorID: "op-1",
	})
	share, err := calc.Calculate(ctx, "t-1", Options{})
	require.NoError(t, err)

	require.NoError(t, store.CreateSchedule(ctx, &model.RemittanceSchedule{
		ID: "sched-1", RecipientID: "op-1", RecipientType: model.RecipientOperator,
		Frequency: model.FrequencyWeekly, DestinationAccountID: "acct-1",
		NextRunDate: time.Now().UTC(), Active: true,
	}))
	require.NoError(t, store.CreateRemittanceRun(ctx, &model.RemittanceRun{
		ID: "run-1", ScheduleID: "sched-1", RecipientID: "op-1",
		Amount: amt("70.00"), Status: model.RunCompleted, RunDate: time.Now().UTC(),
	}))
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkSharesPaid(ctx, []string{share.ID}, "run-1", time.Now().UTC()))
	require.NoError(t, tx.Commit())

	_, err = calc.Recalculate(ctx, "t-1", "ops")
	require.Error(t, err)
	assert.True(t, common.IsBusinessRuleViolation(err), "got %v", err)
}

func TestCalculateBatch(t *testing.T) {
	calc, store := createTestCalculator(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	seedTransaction(t, store, model.Transaction{
		ID: "t-ok-1", Amount: amt("10.00"), Category: model.CategoryStreet, OperatorID: "op-1", SettledAt: now,
	})
	seedTransaction(t, store, model.Transaction{
		ID: "t-ok-2", Amount: amt("20.00"), Category: model.CategoryHosted, HostID: "host-1", SettledAt: now,
	})
	// Missing attribution: counted as failed, sweep continues.
	seedTransaction(t, store, model.Transaction{
		ID: "t-bad", Amount: amt("30.00"), Category: model.CategoryStreet, SettledAt: now,
	})

	summary, err := calc.CalculateBatch(ctx, now.Add(-time.Hour), "batch")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	// A second sweep finds nothing new except the still-broken transaction.
	summary, err = calc.CalculateBatch(ctx, now.Add(-time.Hour), "batch")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
}
