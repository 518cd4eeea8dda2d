package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/report"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// ReportExporter publishes a settlement report to an external destination.
type ReportExporter interface {
	Export(ctx context.Context, r *report.SettlementReport) error
}

// Exporter writes settlement reports to a Google Sheets spreadsheet.
type Exporter struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

// NewExporter creates a Google Sheets report exporter.
func NewExporter(ctx context.Context, config Config, logger *slog.Logger) (*Exporter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	svc, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Exporter{
		config:  config,
		service: svc,
		logger:  logger,
	}, nil
}

// Export implements the ReportExporter interface.
func (e *Exporter) Export(ctx context.Context, r *report.SettlementReport) error {
	e.logger.Info("starting spreadsheet export",
		"recipients", len(r.Recipients),
		"window", fmt.Sprintf("%s to %s", r.WindowStart.Format("2006-01-02"), r.WindowEnd.Format("2006-01-02")))

	spreadsheetID, err := e.getOrCreateSpreadsheet(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	if clearErr := e.clearSheet(ctx, spreadsheetID); clearErr != nil {
		return fmt.Errorf("failed to clear sheet: %w", clearErr)
	}

	values := prepareReportRows(r)

	retryOpts := service.RetryOptions{
		MaxAttempts:  e.config.RetryAttempts,
		InitialDelay: e.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	err = common.WithRetry(ctx, func() error {
		return e.writeRows(ctx, spreadsheetID, values)
	}, retryOpts)
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	if e.config.EnableFormatting {
		err = common.WithRetry(ctx, func() error {
			return e.applyFormatting(ctx, spreadsheetID, len(values))
		}, retryOpts)
		if err != nil {
			// Formatting is cosmetic; the data made it to the sheet.
			e.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	e.logger.Info("spreadsheet export completed",
		"spreadsheet_id", spreadsheetID,
		"rows_written", len(values))

	return nil
}

// createSheetsService creates a Google Sheets API service from either a
// service account key or an OAuth2 refresh token.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}

		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		oauthConfig := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}

		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}

		tokenSource = oauthConfig.TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return srv, nil
}

// getOrCreateSpreadsheet gets an existing spreadsheet or creates a new one.
func (e *Exporter) getOrCreateSpreadsheet(ctx context.Context) (string, error) {
	if e.config.SpreadsheetID != "" {
		_, err := e.service.Spreadsheets.Get(e.config.SpreadsheetID).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("unable to access spreadsheet %s: %w", e.config.SpreadsheetID, err)
		}
		return e.config.SpreadsheetID, nil
	}

	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    e.config.SpreadsheetName,
			TimeZone: e.config.TimeZone,
		},
		Sheets: []*sheets.Sheet{
			{
				Properties: &sheets.SheetProperties{
					Title: "Settlement",
				},
			},
		},
	}

	created, err := e.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	e.logger.Info("created new spreadsheet",
		"id", created.SpreadsheetId,
		"url", created.SpreadsheetUrl)

	return created.SpreadsheetId, nil
}

// clearSheet clears all data from the sheet.
func (e *Exporter) clearSheet(ctx context.Context, spreadsheetID string) error {
	_, err := e.service.Spreadsheets.Values.Clear(spreadsheetID, "A:Z", &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

// prepareReportRows flattens the report into spreadsheet rows: totals,
// category breakdown, per-recipient balances, then the run log.
func prepareReportRows(r *report.SettlementReport) [][]any {
	estimatedRows := 20 + len(r.Categories) + len(r.Recipients) + len(r.Runs) + len(r.OpenIssues)
	values := make([][]any, 0, estimatedRows)

	values = append(values,
		[]any{
			"Settlement Report",
			fmt.Sprintf("%s - %s", r.WindowStart.Format("Jan 2, 2006"), r.WindowEnd.Format("Jan 2, 2006")),
		},
		[]any{},
		[]any{"Summary"},
		[]any{"Transactions", r.Totals.TransactionCount},
		[]any{"Gross " + r.Currency, r.Totals.GrossAmount.StringFixed(2)},
		[]any{"Platform Revenue", r.Totals.PlatformRevenue.StringFixed(2)},
		[]any{"Partner Revenue", r.Totals.PartnerRevenue.StringFixed(2)},
		[]any{"Paid Out", r.Totals.PaidOut.StringFixed(2)},
		[]any{"Outstanding", r.Totals.Outstanding.StringFixed(2)},
		[]any{},
		[]any{"Category Breakdown"},
		[]any{"Category", "Transactions", "Gross", "Platform", "Partner"},
	)

	for _, row := range r.Categories {
		values = append(values, []any{
			row.Category,
			row.TransactionCount,
			row.GrossAmount.StringFixed(2),
			row.PlatformShare.StringFixed(2),
			row.PartnerShare.StringFixed(2),
		})
	}

	values = append(values,
		[]any{},
		[]any{"Recipient Balances"},
		[]any{"Recipient", "Category", "Transactions", "Earned", "Paid", "Outstanding"},
	)
	for _, row := range r.Recipients {
		values = append(values, []any{
			row.RecipientID,
			row.Category,
			row.TransactionCount,
			row.Earned.StringFixed(2),
			row.Paid.StringFixed(2),
			row.Outstanding.StringFixed(2),
		})
	}

	values = append(values,
		[]any{},
		[]any{"Remittance Runs"},
		[]any{"Run", "Recipient", "Status", "Amount", "Shares", "Date"},
	)
	for _, row := range r.Runs {
		values = append(values, []any{
			row.RunID,
			row.RecipientID,
			row.Status,
			row.Amount.StringFixed(2),
			row.ShareCount,
			row.ExecutedAt.Format("2006-01-02"),
		})
	}

	if len(r.OpenIssues) > 0 {
		values = append(values,
			[]any{},
			[]any{"Open Discrepancies"},
			[]any{"ID", "Type", "Transaction", "Description", "Detected"},
		)
		for _, issue := range r.OpenIssues {
			values = append(values, []any{
				issue.ID,
				issue.Type,
				issue.TransactionID,
				issue.Description,
				issue.DetectedAt.Format("2006-01-02 15:04"),
			})
		}
	}

	return values
}

// writeRows writes the rows to the spreadsheet in batches.
func (e *Exporter) writeRows(ctx context.Context, spreadsheetID string, values [][]any) error {
	for i := 0; i < len(values); i += e.config.BatchSize {
		end := i + e.config.BatchSize
		if end > len(values) {
			end = len(values)
		}

		valueRange := &sheets.ValueRange{
			Values: values[i:end],
		}

		rangeStr := fmt.Sprintf("A%d", i+1)
		_, err := e.service.Spreadsheets.Values.Update(spreadsheetID, rangeStr, valueRange).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}

		e.logger.Debug("wrote batch", "start_row", i+1, "rows", end-i)
	}

	return nil
}

// applyFormatting bolds the title and section headers and freezes the top
// rows.
func (e *Exporter) applyFormatting(ctx context.Context, spreadsheetID string, totalRows int) error {
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   2,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold:     true,
							FontSize: 16,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    2,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 0,
					EndColumnIndex:   1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold: true,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    0,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   6,
				},
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: 0,
					GridProperties: &sheets.GridProperties{
						FrozenRowCount: 1,
					},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	batchUpdate := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}

	_, err := e.service.Spreadsheets.BatchUpdate(spreadsheetID, batchUpdate).Context(ctx).Do()
	return err
}
