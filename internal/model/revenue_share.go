package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RevenueShare is the immutable record of how one settled transaction's
// amount was split. Exactly one exists per transaction ID; corrective
// recalculations update the record in place and are audit-logged.
type RevenueShare struct {
	CalculatedAt       time.Time
	PaidAt             *time.Time
	ID                 string
	TransactionID      string
	Category           Category
	OperatorID         string
	HostID             string
	RemittanceRunID    string
	RuleID             string
	TotalAmount        decimal.Decimal
	PlatformShare      decimal.Decimal
	OperatorShare      decimal.Decimal
	HostShare          decimal.Decimal
	AppliedRulePercent decimal.Decimal
}

// PartnerShare returns the non-platform side of the split.
func (s *RevenueShare) PartnerShare() decimal.Decimal {
	if s.Category == CategoryHosted {
		return s.HostShare
	}
	return s.OperatorShare
}

// RecipientID returns the id of the party owed the partner share.
func (s *RevenueShare) RecipientID() string {
	if s.Category == CategoryHosted {
		return s.HostID
	}
	return s.OperatorID
}

// Paid reports whether the share has been collected into a completed
// remittance run.
func (s *RevenueShare) Paid() bool {
	return s.PaidAt != nil
}
