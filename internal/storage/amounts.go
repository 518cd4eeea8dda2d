package storage

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// Monetary amounts are stored as exact decimal strings, never as floats.

func parseAmount(s string, column string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt amount in column %s: %w", column, err)
	}
	return d, nil
}

func parseNullAmount(ns sql.NullString, column string) (decimal.NullDecimal, error) {
	if !ns.Valid || ns.String == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseAmount(ns.String, column)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func nullAmountString(nd decimal.NullDecimal) any {
	if !nd.Valid {
		return nil
	}
	return nd.Decimal.String()
}
