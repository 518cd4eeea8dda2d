// Package revshare computes and persists the immutable split record for
// each settled transaction.
package revshare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/davidbanez/park-angel-settlement/internal/commission"
	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/metrics"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// Calculator produces revenue share records from settled transactions.
type Calculator struct {
	transactions service.TransactionStore
	rules        *commission.RuleEngine
	storage      service.Storage
	auditor      service.AuditLogger
	collector    *metrics.Collector
}

// NewCalculator creates a calculator with its collaborators injected.
func NewCalculator(
	transactions service.TransactionStore,
	rules *commission.RuleEngine,
	storage service.Storage,
	auditor service.AuditLogger,
	collector *metrics.Collector,
) *Calculator {
	return &Calculator{
		transactions: transactions,
		rules:        rules,
		storage:      storage,
		auditor:      auditor,
		collector:    collector,
	}
}

// Options controls duplicate handling for Calculate.
type Options struct {
	// FailOnDuplicate surfaces ErrDuplicateEntry instead of returning the
	// existing record. Used when the caller expects to be the first writer,
	// so an accidental retry is distinguishable from a fresh calculation.
	FailOnDuplicate bool
	ActorID         string
}

// Calculate resolves the commission rule for a transaction's settlement
// date and persists the resulting split. Calling it twice for the same
// transaction never creates a second record: the existing one is returned,
// or ErrDuplicateEntry surfaced when opts.FailOnDuplicate is set.
func (c *Calculator) Calculate(ctx context.Context, transactionID string, opts Options) (*model.RevenueShare, error) {
	existing, err := c.storage.GetRevenueShareByTransaction(ctx, transactionID)
	if err == nil {
		if opts.FailOnDuplicate {
			return nil, fmt.Errorf("revenue share for transaction %s: %w", transactionID, common.ErrDuplicateEntry)
		}
		return existing, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up existing share: %w", err)
	}

	share, err := c.compute(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if err := c.storage.SaveRevenueShare(ctx, share); err != nil {
		// A concurrent writer won the uniqueness race; converge on its record.
		if errors.Is(err, common.ErrDuplicateEntry) && !opts.FailOnDuplicate {
			return c.storage.GetRevenueShareByTransaction(ctx, transactionID)
		}
		return nil, err
	}

	c.collector.ShareCalculated()
	c.auditor.Log(ctx, share.ID, model.EntityRevenueShare, "calculate", opts.ActorID, map[string]any{
		"transaction_id": share.TransactionID,
		"total_amount":   share.TotalAmount.String(),
		"platform_share": share.PlatformShare.String(),
		"partner_share":  share.PartnerShare().String(),
		"rule_id":        share.RuleID,
	})

	return share, nil
}

// Recalculate is the explicit corrective path: it recomputes an existing
// share in place against the currently effective rule and audit-logs the
// correction. A share already collected into a payout cannot be rewritten.
func (c *Calculator) Recalculate(ctx context.Context, transactionID, actorID string) (*model.RevenueShare, error) {
	existing, err := c.storage.GetRevenueShareByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if existing.Paid() {
		return nil, common.NewBusinessRuleViolation("share_immutable",
			fmt.Sprintf("share %s was already collected by run %s", existing.ID, existing.RemittanceRunID))
	}

	share, err := c.compute(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	share.ID = existing.ID

	if err := c.storage.UpdateRevenueShare(ctx, share); err != nil {
		return nil, err
	}

	c.auditor.Log(ctx, share.ID, model.EntityRevenueShare, "recalculate", actorID, map[string]any{
		"transaction_id":     share.TransactionID,
		"old_platform_share": existing.PlatformShare.String(),
		"new_platform_share": share.PlatformShare.String(),
		"rule_id":            share.RuleID,
	})

	return share, nil
}

// BatchSummary reports the outcome of a calculation sweep.
type BatchSummary struct {
	Processed int
	Skipped   int
	Failed    int
}

// CalculateBatch computes shares for every settled transaction since the
// given time that lacks one. Individual failures are logged and counted
// without aborting the sweep.
func (c *Calculator) CalculateBatch(ctx context.Context, since time.Time, actorID string) (*BatchSummary, error) {
	pending, err := c.storage.ListTransactionsWithoutShares(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	summary := &BatchSummary{}
	for _, txn := range pending {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		if _, calcErr := c.Calculate(ctx, txn.ID, Options{ActorID: actorID}); calcErr != nil {
			summary.Failed++
			slog.Warn("Failed to calculate revenue share",
				"transaction_id", txn.ID,
				"error", calcErr)
			continue
		}
		summary.Processed++
	}

	slog.Info("Revenue share sweep finished",
		"processed", summary.Processed,
		"failed", summary.Failed)
	return summary, nil
}

// compute builds the split record without persisting it.
func (c *Calculator) compute(ctx context.Context, transactionID string) (*model.RevenueShare, error) {
	txn, err := c.transactions.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", transactionID, err)
	}
	if txn.Status != model.TxnSucceeded {
		return nil, common.NewBusinessRuleViolation("transaction_status",
			fmt.Sprintf("transaction %s is %s, only succeeded transactions are settled", transactionID, txn.Status))
	}

	sctx, err := c.transactions.ResolveSettlementContext(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settlement context: %w", err)
	}
	// Attribution must be explicit. An unknown category here means the
	// marketplace failed to resolve the booking hierarchy; defaulting it
	// would misroute money.
	if !sctx.Category.Valid() {
		return nil, common.NewValidationError("category",
			fmt.Sprintf("transaction %s has no resolved parking category", transactionID))
	}
	if sctx.Category.RecipientType() == model.RecipientOperator && sctx.OperatorID == "" {
		return nil, common.NewValidationError("operatorId",
			fmt.Sprintf("transaction %s has no operator attribution", transactionID))
	}
	if sctx.Category.RecipientType() == model.RecipientHost && sctx.HostID == "" {
		return nil, common.NewValidationError("hostId",
			fmt.Sprintf("transaction %s has no host attribution", transactionID))
	}

	rule, err := c.rules.ResolveActiveRule(ctx, sctx.Category, txn.SettledAt)
	if err != nil {
		return nil, err
	}

	platform, partner := model.SplitAmount(txn.Amount, rule.PartnerPercent)

	share := &model.RevenueShare{
		ID:                 uuid.NewString(),
		TransactionID:      transactionID,
		Category:           sctx.Category,
		OperatorID:         sctx.OperatorID,
		HostID:             sctx.HostID,
		TotalAmount:        txn.Amount,
		PlatformShare:      platform,
		AppliedRulePercent: rule.PartnerPercent,
		RuleID:             rule.ID,
		CalculatedAt:       time.Now().UTC(),
	}
	if sctx.Category == model.CategoryHosted {
		share.HostShare = partner
	} else {
		share.OperatorShare = partner
	}

	return share, nil
}
