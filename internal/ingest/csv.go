// Package ingest loads settled marketplace transactions into the local read
// model from exported CSV files.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidbanez/park-angel-settlement/internal/model"
)

// transactionColumns is the expected CSV header, in order.
var transactionColumns = []string{
	"transaction_id",
	"amount",
	"category",
	"operator_id",
	"host_id",
	"status",
	"booking_status",
	"settled_at",
}

// ParseTransactionsCSV parses the marketplace transaction export format.
//
// Expected header:
//
//	transaction_id,amount,category,operator_id,host_id,status,booking_status,settled_at
func ParseTransactionsCSV(r io.Reader) ([]model.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var transactions []model.Transaction
	lineNum := 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(row) < len(transactionColumns) {
			continue
		}

		txn, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		transactions = append(transactions, *txn)
	}

	return transactions, nil
}

func checkHeader(header []string) error {
	if len(header) < len(transactionColumns) {
		return fmt.Errorf("expected %d columns, got %d", len(transactionColumns), len(header))
	}
	for i, want := range transactionColumns {
		if strings.TrimSpace(strings.ToLower(header[i])) != want {
			return fmt.Errorf("column %d: expected %q, got %q", i+1, want, header[i])
		}
	}
	return nil
}

func parseRow(row []string) (*model.Transaction, error) {
	id := strings.TrimSpace(row[0])
	if id == "" {
		return nil, fmt.Errorf("empty transaction_id")
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(row[1]))
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount: negative value %s", amount)
	}

	category := model.Category(strings.TrimSpace(strings.ToLower(row[2])))
	if !category.Valid() {
		return nil, fmt.Errorf("category: unknown value %q", row[2])
	}

	status := model.TransactionStatus(strings.TrimSpace(strings.ToLower(row[5])))
	switch status {
	case model.TxnPending, model.TxnSucceeded, model.TxnFailed, model.TxnRefunded:
	default:
		return nil, fmt.Errorf("status: unknown value %q", row[5])
	}

	bookingStatus := model.BookingStatus(strings.TrimSpace(strings.ToLower(row[6])))

	settledAt, err := parseTimestamp(strings.TrimSpace(row[7]))
	if err != nil {
		return nil, fmt.Errorf("settled_at: %w", err)
	}

	return &model.Transaction{
		ID:            id,
		Amount:        amount,
		Category:      category,
		OperatorID:    strings.TrimSpace(row[3]),
		HostID:        strings.TrimSpace(row[4]),
		Status:        status,
		BookingStatus: bookingStatus,
		SettledAt:     settledAt,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
