package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
)

// The transactions table is a denormalized read model of the external
// marketplace payment store, loaded by the importer. The engine reads it
// but never mutates a row after ingestion.

// SaveTransactions inserts transactions, skipping ids already present.
// Returns the number of newly inserted rows.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if len(transactions) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for i := range transactions {
		txn := &transactions[i]
		if txn.ID == "" {
			return 0, fmt.Errorf("transaction at index %d: %w: missing ID", i, ErrNilParameter)
		}

		result, execErr := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO transactions (
				id, amount, category, operator_id, host_id,
				status, booking_status, settled_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			txn.ID,
			txn.Amount.String(),
			string(txn.Category),
			txn.OperatorID,
			txn.HostID,
			string(txn.Status),
			string(txn.BookingStatus),
			txn.SettledAt.UTC(),
		)
		if execErr != nil {
			return 0, fmt.Errorf("failed to insert transaction %s: %w", txn.ID, execErr)
		}
		if n, raErr := result.RowsAffected(); raErr == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transactions: %w", err)
	}
	return inserted, nil
}

// GetTransaction fetches a transaction by id.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, txnSelect+` WHERE id = ?`, id)
	return scanTransaction(row)
}

// ListSettledTransactions returns successful transactions settled inside
// [start, end).
func (s *SQLiteStorage) ListSettledTransactions(ctx context.Context, start, end time.Time) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %v before %v", ErrInvalidDateRange, end, start)
	}

	rows, err := s.db.QueryContext(ctx, txnSelect+`
		WHERE status = ? AND settled_at >= ? AND settled_at < ?
		ORDER BY settled_at
	`, string(model.TxnSucceeded), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query settled transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

// ListTransactionsWithoutShares returns successful transactions settled
// since the given time that have no revenue share yet.
func (s *SQLiteStorage) ListTransactionsWithoutShares(ctx context.Context, since time.Time) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, txnSelect+`
		WHERE status = ?
		  AND settled_at >= ?
		  AND id NOT IN (SELECT transaction_id FROM revenue_shares)
		ORDER BY settled_at
	`, string(model.TxnSucceeded), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query unshared transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTransactions(rows)
}

// ResolveSettlementContext implements the transaction-store boundary's
// denormalized attribution lookup.
func (s *SQLiteStorage) ResolveSettlementContext(ctx context.Context, transactionID string) (*model.SettlementContext, error) {
	txn, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return &model.SettlementContext{
		Category:   txn.Category,
		OperatorID: txn.OperatorID,
		HostID:     txn.HostID,
	}, nil
}

// ListSettled implements service.TransactionStore.
func (s *SQLiteStorage) ListSettled(ctx context.Context, start, end time.Time) ([]model.Transaction, error) {
	return s.ListSettledTransactions(ctx, start, end)
}

const txnSelect = `
	SELECT id, amount, category, operator_id, host_id,
	       status, booking_status, settled_at
	FROM transactions`

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		txn           model.Transaction
		amount        string
		category      string
		operatorID    sql.NullString
		hostID        sql.NullString
		status        string
		bookingStatus sql.NullString
	)

	err := row.Scan(&txn.ID, &amount, &category, &operatorID, &hostID,
		&status, &bookingStatus, &txn.SettledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if txn.Amount, err = parseAmount(amount, "amount"); err != nil {
		return nil, err
	}
	txn.Category = model.Category(category)
	txn.OperatorID = operatorID.String
	txn.HostID = hostID.String
	txn.Status = model.TransactionStatus(status)
	txn.BookingStatus = model.BookingStatus(bookingStatus.String)
	return &txn, nil
}

func collectTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}
