package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus mirrors the payment status reported by the external
// transaction store.
type TransactionStatus string

// Transaction statuses.
const (
	TxnPending   TransactionStatus = "pending"
	TxnSucceeded TransactionStatus = "succeeded"
	TxnFailed    TransactionStatus = "failed"
	TxnRefunded  TransactionStatus = "refunded"
)

// BookingStatus mirrors the state of the booking a payment belongs to.
type BookingStatus string

// Booking statuses relevant to reconciliation status checks.
const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingPending   BookingStatus = "pending"
	BookingCancelled BookingStatus = "cancelled"
)

// Transaction is the engine's denormalized read model of an external
// marketplace payment. Category, operator and host attribution are
// resolved by the transaction-store collaborator; the engine never
// traverses booking/spot/zone schema itself.
type Transaction struct {
	SettledAt     time.Time
	ID            string
	Category      Category
	OperatorID    string
	HostID        string
	Status        TransactionStatus
	BookingStatus BookingStatus
	Amount        decimal.Decimal
}

// RecipientKey returns the party a payment's revenue accrues to, used for
// duplicate detection grouping.
func (t *Transaction) RecipientKey() string {
	if t.Category == CategoryHosted {
		return t.HostID
	}
	return t.OperatorID
}

// SettlementContext is the resolved attribution for one transaction.
type SettlementContext struct {
	Category   Category
	OperatorID string
	HostID     string
}

// PayoutStatus mirrors the payout rail's view of a transfer.
type PayoutStatus string

// Payout statuses.
const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCancelled  PayoutStatus = "cancelled"
)

// Payout is the rail-owned transfer record referenced by remittance runs.
type Payout struct {
	CreatedAt     time.Time
	ID            string
	RecipientID   string
	Currency      string
	BankAccountID string
	Status        PayoutStatus
	SourceIDs     []string
	Amount        decimal.Decimal
}

// Account is the bank registry's view of a destination account. Payouts
// against unverified accounts are rejected before any transfer attempt.
type Account struct {
	ID       string
	OwnerID  string
	Verified bool
}
