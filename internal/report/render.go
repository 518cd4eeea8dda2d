package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RenderCSV renders the per-recipient rows as CSV. The recipient table is
// the one accountants load into spreadsheets, so it gets the flat export.
func RenderCSV(r *SettlementReport) string {
	var sb strings.Builder

	sb.WriteString("recipient_id,category,transaction_count,earned,paid,outstanding\n")
	for _, row := range r.Recipients {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%s,%s,%s\n",
			row.RecipientID,
			row.Category,
			row.TransactionCount,
			row.Earned.StringFixed(2),
			row.Paid.StringFixed(2),
			row.Outstanding.StringFixed(2),
		))
	}

	return sb.String()
}

// RenderJSON renders the full report as indented JSON.
func RenderJSON(r *SettlementReport) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	return string(data) + "\n", nil
}

// RenderMarkdown renders the full report as Markdown.
func RenderMarkdown(r *SettlementReport) string {
	var sb strings.Builder

	sb.WriteString("# Settlement Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Window: %s to %s\n\n",
		r.WindowStart.Format("2006-01-02"), r.WindowEnd.Format("2006-01-02")))
	if r.RecipientID != "" {
		sb.WriteString(fmt.Sprintf("Recipient: %s\n\n", r.RecipientID))
	}

	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Transactions | %d |\n", r.Totals.TransactionCount))
	sb.WriteString(fmt.Sprintf("| Gross (%s) | %s |\n", r.Currency, r.Totals.GrossAmount.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| Platform revenue | %s |\n", r.Totals.PlatformRevenue.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| Partner revenue | %s |\n", r.Totals.PartnerRevenue.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| Paid out | %s |\n", r.Totals.PaidOut.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| Outstanding | %s |\n", r.Totals.Outstanding.StringFixed(2)))
	sb.WriteString("\n")

	if len(r.Categories) > 0 {
		sb.WriteString("## By Category\n\n")
		sb.WriteString("| Category | Transactions | Gross | Platform | Partner |\n")
		sb.WriteString("|----------|--------------|-------|----------|--------|\n")
		for _, row := range r.Categories {
			sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s | %s |\n",
				row.Category, row.TransactionCount,
				row.GrossAmount.StringFixed(2),
				row.PlatformShare.StringFixed(2),
				row.PartnerShare.StringFixed(2)))
		}
		sb.WriteString("\n")
	}

	if len(r.Recipients) > 0 {
		sb.WriteString("## By Recipient\n\n")
		sb.WriteString("| Recipient | Category | Transactions | Earned | Paid | Outstanding |\n")
		sb.WriteString("|-----------|----------|--------------|--------|------|-------------|\n")
		for _, row := range r.Recipients {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s | %s |\n",
				row.RecipientID, row.Category, row.TransactionCount,
				row.Earned.StringFixed(2),
				row.Paid.StringFixed(2),
				row.Outstanding.StringFixed(2)))
		}
		sb.WriteString("\n")
	}

	if len(r.Runs) > 0 {
		sb.WriteString("## Remittance Runs\n\n")
		sb.WriteString("| Run | Recipient | Status | Amount | Shares | Date |\n")
		sb.WriteString("|-----|-----------|--------|--------|--------|------|\n")
		for _, row := range r.Runs {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %s |\n",
				row.RunID, row.RecipientID, row.Status,
				row.Amount.StringFixed(2), row.ShareCount,
				row.ExecutedAt.Format("2006-01-02")))
		}
		sb.WriteString("\n")
	}

	if len(r.OpenIssues) > 0 {
		sb.WriteString("## Open Discrepancies\n\n")
		for _, issue := range r.OpenIssues {
			sb.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", issue.Type, issue.ID, issue.Description))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
