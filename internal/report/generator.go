package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// Generator produces settlement reports from stored data.
type Generator struct {
	storage  service.Storage
	currency string
	now      func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a report generator.
func NewGenerator(storage service.Storage, currency string) *Generator {
	return &Generator{
		storage:  storage,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the settlement summary for [start, end). When recipientID
// is non-empty the report is restricted to that operator or host.
func (g *Generator) Generate(ctx context.Context, start, end time.Time, recipientID string) (*SettlementReport, error) {
	shares, err := g.storage.ListSharesByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load revenue shares: %w", err)
	}
	runs, err := g.storage.ListRunsByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load remittance runs: %w", err)
	}
	openIssues, err := g.storage.ListDiscrepancies(ctx, service.DiscrepancyFilter{
		Range:      &service.DateRange{Start: start, End: end},
		Unresolved: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load discrepancies: %w", err)
	}

	if recipientID != "" {
		shares = filterShares(shares, recipientID)
		runs = filterRuns(runs, recipientID)
	}

	r := &SettlementReport{
		GeneratedAt: g.now(),
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
		RecipientID: recipientID,
		Currency:    g.currency,
		Totals:      buildTotals(shares),
		Categories:  buildCategoryRows(shares),
		Recipients:  buildRecipientRows(shares),
		Runs:        buildRunRows(runs),
	}

	for i := range openIssues {
		d := &openIssues[i]
		r.OpenIssues = append(r.OpenIssues, OpenIssueRow{
			ID:            d.ID,
			Type:          string(d.Type),
			TransactionID: d.TransactionID,
			Description:   d.Description,
			DetectedAt:    d.DetectedAt,
		})
	}

	return r, nil
}

func buildTotals(shares []model.RevenueShare) Totals {
	t := Totals{
		GrossAmount:     decimal.Zero,
		PlatformRevenue: decimal.Zero,
		PartnerRevenue:  decimal.Zero,
		PaidOut:         decimal.Zero,
		Outstanding:     decimal.Zero,
	}
	for i := range shares {
		s := &shares[i]
		t.TransactionCount++
		t.GrossAmount = t.GrossAmount.Add(s.TotalAmount)
		t.PlatformRevenue = t.PlatformRevenue.Add(s.PlatformShare)
		t.PartnerRevenue = t.PartnerRevenue.Add(s.PartnerShare())
		if s.Paid() {
			t.PaidOut = t.PaidOut.Add(s.PartnerShare())
		} else {
			t.Outstanding = t.Outstanding.Add(s.PartnerShare())
		}
	}
	return t
}

func buildCategoryRows(shares []model.RevenueShare) []CategoryRow {
	byCategory := make(map[string]*CategoryRow)
	for i := range shares {
		s := &shares[i]
		row, ok := byCategory[string(s.Category)]
		if !ok {
			row = &CategoryRow{
				Category:      string(s.Category),
				GrossAmount:   decimal.Zero,
				PlatformShare: decimal.Zero,
				PartnerShare:  decimal.Zero,
			}
			byCategory[string(s.Category)] = row
		}
		row.TransactionCount++
		row.GrossAmount = row.GrossAmount.Add(s.TotalAmount)
		row.PlatformShare = row.PlatformShare.Add(s.PlatformShare)
		row.PartnerShare = row.PartnerShare.Add(s.PartnerShare())
	}

	rows := make([]CategoryRow, 0, len(byCategory))
	for _, row := range byCategory {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Category < rows[j].Category })
	return rows
}

func buildRecipientRows(shares []model.RevenueShare) []RecipientRow {
	byRecipient := make(map[string]*RecipientRow)
	for i := range shares {
		s := &shares[i]
		id := s.RecipientID()
		row, ok := byRecipient[id]
		if !ok {
			row = &RecipientRow{
				RecipientID: id,
				Category:    string(s.Category),
				Earned:      decimal.Zero,
				Paid:        decimal.Zero,
				Outstanding: decimal.Zero,
			}
			byRecipient[id] = row
		}
		row.TransactionCount++
		row.Earned = row.Earned.Add(s.PartnerShare())
		if s.Paid() {
			row.Paid = row.Paid.Add(s.PartnerShare())
		} else {
			row.Outstanding = row.Outstanding.Add(s.PartnerShare())
		}
	}

	rows := make([]RecipientRow, 0, len(byRecipient))
	for _, row := range byRecipient {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RecipientID < rows[j].RecipientID })
	return rows
}

func buildRunRows(runs []model.RemittanceRun) []RunRow {
	rows := make([]RunRow, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		rows = append(rows, RunRow{
			RunID:       run.ID,
			ScheduleID:  run.ScheduleID,
			RecipientID: run.RecipientID,
			Status:      string(run.Status),
			Amount:      run.Amount,
			ShareCount:  len(run.SourceShareIDs),
			ExecutedAt:  run.RunDate,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ExecutedAt.Before(rows[j].ExecutedAt) })
	return rows
}

func filterShares(shares []model.RevenueShare, recipientID string) []model.RevenueShare {
	out := shares[:0]
	for i := range shares {
		if shares[i].RecipientID() == recipientID {
			out = append(out, shares[i])
		}
	}
	return out
}

func filterRuns(runs []model.RemittanceRun, recipientID string) []model.RemittanceRun {
	out := runs[:0]
	for i := range runs {
		if runs[i].RecipientID == recipientID {
			out = append(out, runs[i])
		}
	}
	return out
}
