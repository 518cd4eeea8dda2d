package report

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/storage"
)

var (
	windowStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	fixedNow    = time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC)
)

func createTestGenerator(t *testing.T) (*Generator, *storage.SQLiteStorage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(t.TempDir() + "/test.db")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	gen := NewGenerator(store, "PHP").WithClock(func() time.Time { return fixedNow })
	return gen, store
}

func seedShare(t *testing.T, store *storage.SQLiteStorage, share model.RevenueShare) {
	t.Helper()
	if share.CalculatedAt.IsZero() {
		share.CalculatedAt = windowStart.AddDate(0, 0, 5)
	}
	require.NoError(t, store.SaveRevenueShare(context.Background(), &share))
}

func seedReportData(t *testing.T, store *storage.SQLiteStorage) {
	t.Helper()
	ctx := context.Background()

	seedShare(t, store, model.RevenueShare{
		ID: "s-1", TransactionID: "t-1", Category: model.CategoryStreet, OperatorID: "op-1",
		TotalAmount:   decimal.RequireFromString("100.00"),
		PlatformShare: decimal.RequireFromString("30.00"),
		OperatorShare: decimal.RequireFromString("70.00"),
	})
	seedShare(t, store, model.RevenueShare{
		ID: "s-2", TransactionID: "t-2", Category: model.CategoryStreet, OperatorID: "op-1",
		TotalAmount:   decimal.RequireFromString("50.00"),
		PlatformShare: decimal.RequireFromString("15.00"),
		OperatorShare: decimal.RequireFromString("35.00"),
	})
	seedShare(t, store, model.RevenueShare{
		ID: "s-3", TransactionID: "t-3", Category: model.CategoryHosted, HostID: "host-1",
		TotalAmount:   decimal.RequireFromString("200.00"),
		PlatformShare: decimal.RequireFromString("80.00"),
		HostShare:     decimal.RequireFromString("120.00"),
	})

	// op-1's first share was collected by a completed run.
	require.NoError(t, store.CreateSchedule(ctx, &model.RemittanceSchedule{
		ID: "sched-1", RecipientID: "op-1", RecipientType: model.RecipientOperator,
		Frequency: model.FrequencyWeekly, DestinationAccountID: "acct-1",
		NextRunDate: windowStart, Active: true,
	}))
	run := &model.RemittanceRun{
		ID: "run-1", ScheduleID: "sched-1", RecipientID: "op-1",
		Amount:  decimal.RequireFromString("70.00"),
		Status:  model.RunCompleted,
		RunDate: windowStart.AddDate(0, 0, 7),
	}
	require.NoError(t, store.CreateRemittanceRun(ctx, run))
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkSharesPaid(ctx, []string{"s-1"}, "run-1", windowStart.AddDate(0, 0, 7)))
	require.NoError(t, tx.Commit())

	// One open discrepancy inside the window.
	require.NoError(t, store.SaveDiscrepancies(ctx, []model.Discrepancy{{
		ID: "d-1", RunID: "recon-1", Type: model.DiscrepancyStatusMismatch,
		TransactionID: "t-2", Description: "booking cancelled after capture",
		DetectedAt: windowStart.AddDate(0, 0, 8),
	}}))
}

func TestGenerate(t *testing.T) {
	gen, store := createTestGenerator(t)
	seedReportData(t, store)

	r, err := gen.Generate(context.Background(), windowStart, windowEnd, "")
	require.NoError(t, err)

	assert.True(t, r.GeneratedAt.Equal(fixedNow))
	assert.Equal(t, "PHP", r.Currency)

	assert.Equal(t, 3, r.Totals.TransactionCount)
	assert.True(t, r.Totals.GrossAmount.Equal(decimal.RequireFromString("350.00")))
	assert.True(t, r.Totals.PlatformRevenue.Equal(decimal.RequireFromString("125.00")))
	assert.True(t, r.Totals.PartnerRevenue.Equal(decimal.RequireFromString("225.00")))
	assert.True(t, r.Totals.PaidOut.Equal(decimal.RequireFromString("70.00")))
	assert.True(t, r.Totals.Outstanding.Equal(decimal.RequireFromString("155.00")))

	// Category rows sorted by name: hosted before street.
	require.Len(t, r.Categories, 2)
	assert.Equal(t, "hosted", r.Categories[0].Category)
	assert.Equal(t, "street", r.Categories[1].Category)
	assert.Equal(t, 2, r.Categories[1].TransactionCount)
	assert.True(t, r.Categories[1].GrossAmount.Equal(decimal.RequireFromString("150.00")))

	// Recipient rows sorted by id.
	require.Len(t, r.Recipients, 2)
	assert.Equal(t, "host-1", r.Recipients[0].RecipientID)
	assert.Equal(t, "op-1", r.Recipients[1].RecipientID)
	assert.True(t, r.Recipients[1].Earned.Equal(decimal.RequireFromString("105.00")))
	assert.True(t, r.Recipients[1].Paid.Equal(decimal.RequireFromString("70.00")))
	assert.True(t, r.Recipients[1].Outstanding.Equal(decimal.RequireFromString("35.00")))

	require.Len(t, r.Runs, 1)
	assert.Equal(t, "run-1", r.Runs[0].RunID)
	assert.Equal(t, 1, r.Runs[0].ShareCount)

	require.Len(t, r.OpenIssues, 1)
	assert.Equal(t, "d-1", r.OpenIssues[0].ID)
}

func TestGenerateRecipientFilter(t *testing.T) {
	gen, store := createTestGenerator(t)
	seedReportData(t, store)

	r, err := gen.Generate(context.Background(), windowStart, windowEnd, "host-1")
	require.NoError(t, err)

	assert.Equal(t, 1, r.Totals.TransactionCount)
	assert.True(t, r.Totals.PartnerRevenue.Equal(decimal.RequireFromString("120.00")))
	require.Len(t, r.Recipients, 1)
	assert.Equal(t, "host-1", r.Recipients[0].RecipientID)
	assert.Empty(t, r.Runs, "other recipients' runs are excluded")
}

func TestGenerateEmptyWindow(t *testing.T) {
	gen, _ := createTestGenerator(t)

	r, err := gen.Generate(context.Background(), windowStart, windowEnd, "")
	require.NoError(t, err)
	assert.Zero(t, r.Totals.TransactionCount)
	assert.True(t, r.Totals.GrossAmount.IsZero())
	assert.Empty(t, r.Categories)
	assert.Empty(t, r.Runs)
}

func TestRenderCSV(t *testing.T) {
	gen, store := createTestGenerator(t)
	seedReportData(t, store)

	r, err := gen.Generate(context.Background(), windowStart, windowEnd, "")
	require.NoError(t, err)

	out := RenderCSV(r)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, "header plus one row per recipient")
	assert.Equal(t, "recipient_id,category,transaction_count,earned,paid,outstanding", lines[0])
	assert.Contains(t, lines[1], "host-1")
	assert.Contains(t, lines[2], "op-1")
}

func TestRenderJSON(t *testing.T) {
	gen, store := createTestGenerator(t)
	seedReportData(t, store)

	r, err := gen.Generate(context.Background(), windowStart, windowEnd, "")
	require.NoError(t, err)

	out, err := RenderJSON(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Contains(t, decoded, "totals")
	assert.Contains(t, decoded, "categories")
}

func TestRenderMarkdown(t *testing.T) {
	gen, store := createTestGenerator(t)
	seedReportData(t, store)

	r, err := gen.Generate(context.Background(), windowStart, windowEnd, "")
	require.NoError(t, err)

	out := RenderMarkdown(r)
	assert.Contains(t, out, "## Totals")
	assert.Contains(t, out, "## By Category")
	assert.Contains(t, out, "## By Recipient")
	assert.Contains(t, out, "op-1")
	assert.Contains(t, out, "70.00")
}
