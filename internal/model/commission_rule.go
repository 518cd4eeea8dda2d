// Package model defines the core domain records used throughout the
// settlement engine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category identifies the parking type a transaction belongs to. It
// determines which commission rule applies and who the partner recipient is.
type Category string

// Parking categories.
const (
	CategoryStreet   Category = "street"
	CategoryFacility Category = "facility"
	CategoryHosted   Category = "hosted"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryStreet, CategoryFacility, CategoryHosted:
		return true
	}
	return false
}

// RecipientType identifies who receives the partner side of a split.
type RecipientType string

// Recipient types.
const (
	RecipientOperator RecipientType = "operator"
	RecipientHost     RecipientType = "host"
)

// Valid reports whether r is a known recipient type.
func (r RecipientType) Valid() bool {
	return r == RecipientOperator || r == RecipientHost
}

// RecipientType returns the partner recipient type for the category:
// street and facility revenue is shared with an operator, hosted revenue
// with the individual hosting the space.
func (c Category) RecipientType() RecipientType {
	if c == CategoryHosted {
		return RecipientHost
	}
	return RecipientOperator
}

// CommissionRule is a time-bounded percentage split between the platform
// and the partner (operator or host) for one parking category.
type CommissionRule struct {
	EffectiveFrom   time.Time
	EffectiveTo     *time.Time
	CreatedAt       time.Time
	ID              string
	Category        Category
	PlatformPercent decimal.Decimal
	PartnerPercent  decimal.Decimal
	Active          bool
}

// PercentSum returns PlatformPercent + PartnerPercent. Accepted rules
// always sum to exactly 100.
func (r *CommissionRule) PercentSum() decimal.Decimal {
	return r.PlatformPercent.Add(r.PartnerPercent)
}

// EffectiveAt reports whether the rule covers the given instant.
func (r *CommissionRule) EffectiveAt(at time.Time) bool {
	if !r.Active {
		return false
	}
	if r.EffectiveFrom.After(at) {
		return false
	}
	if r.EffectiveTo != nil && !r.EffectiveTo.After(at) {
		return false
	}
	return true
}
