package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
)

// Defaults for rule params when the stored rule carries none.
const (
	defaultTolerance       = "0.01"
	defaultDuplicateWindow = 5 * time.Minute
)

// checkAmounts verifies that each settled transaction's recorded split adds
// up and matches the captured amount within tolerance. A succeeded
// transaction with no recorded split at all is flagged too: the rule stands
// alone and cannot assume a completeness rule also ran.
func (e *Engine) checkAmounts(ctx context.Context, rule *model.ReconciliationRule, start, end time.Time) ([]model.Discrepancy, error) {
	tolerance, err := toleranceParam(rule)
	if err != nil {
		return nil, err
	}

	transactions, err := e.storage.ListSettledTransactions(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled transactions: %w", err)
	}

	var found []model.Discrepancy
	for i := range transactions {
		txn := &transactions[i]
		if txn.Status != model.TxnSucceeded {
			continue
		}

		share, err := e.storage.GetRevenueShareByTransaction(ctx, txn.ID)
		if errors.Is(err, common.ErrNotFound) {
			found = append(found, model.Discrepancy{
				Type:           model.DiscrepancyMissingRevenueShare,
				TransactionID:  txn.ID,
				DetectedAt:     time.Now().UTC(),
				ExpectedAmount: decimal.NewNullDecimal(txn.Amount),
				Description:    "settled transaction has no revenue share record",
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load share for transaction %s: %w", txn.ID, err)
		}

		diff := txn.Amount.Sub(share.TotalAmount)
		if diff.Abs().GreaterThan(tolerance) {
			found = append(found, amountMismatch(txn.ID, txn.Amount, share.TotalAmount,
				fmt.Sprintf("captured amount %s differs from recorded split total %s",
					txn.Amount.StringFixed(2), share.TotalAmount.StringFixed(2))))
			continue
		}

		partsSum := share.PlatformShare.Add(share.OperatorShare).Add(share.HostShare)
		if !partsSum.Equal(share.TotalAmount) {
			found = append(found, amountMismatch(txn.ID, share.TotalAmount, partsSum,
				fmt.Sprintf("split components sum to %s, expected %s",
					partsSum.StringFixed(2), share.TotalAmount.StringFixed(2))))
		}
	}

	return found, nil
}

// checkStatuses flags succeeded payments whose booking never reached the
// confirmed state. Those need manual review before the share is remitted.
func (e *Engine) checkStatuses(ctx context.Context, start, end time.Time) ([]model.Discrepancy, error) {
	transactions, err := e.storage.ListSettledTransactions(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled transactions: %w", err)
	}

	var found []model.Discrepancy
	for i := range transactions {
		txn := &transactions[i]
		if txn.Status != model.TxnSucceeded || txn.BookingStatus == model.BookingConfirmed {
			continue
		}
		found = append(found, model.Discrepancy{
			Type:          model.DiscrepancyStatusMismatch,
			TransactionID: txn.ID,
			DetectedAt:    time.Now().UTC(),
			Description: fmt.Sprintf("payment succeeded but booking is %q, expected %q",
				txn.BookingStatus, model.BookingConfirmed),
		})
	}

	return found, nil
}

// checkDuplicates groups settled transactions by recipient and amount and
// flags any pair captured within the configured window of each other. The
// earliest capture in each group is treated as the original.
func (e *Engine) checkDuplicates(ctx context.Context, rule *model.ReconciliationRule, start, end time.Time) ([]model.Discrepancy, error) {
	window, err := duplicateWindowParam(rule)
	if err != nil {
		return nil, err
	}

	transactions, err := e.storage.ListSettledTransactions(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled transactions: %w", err)
	}

	type groupKey struct {
		recipient string
		amount    string
	}
	groups := make(map[groupKey][]*model.Transaction)
	for i := range transactions {
		txn := &transactions[i]
		if txn.Status != model.TxnSucceeded {
			continue
		}
		key := groupKey{recipient: txn.RecipientKey(), amount: txn.Amount.StringFixed(2)}
		groups[key] = append(groups[key], txn)
	}

	var found []model.Discrepancy
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].SettledAt.Before(group[j].SettledAt)
		})
		for i := 1; i < len(group); i++ {
			prev, cur := group[i-1], group[i]
			if cur.SettledAt.Sub(prev.SettledAt) > window {
				continue
			}
			found = append(found, model.Discrepancy{
				Type:          model.DiscrepancyDuplicateEntry,
				TransactionID: cur.ID,
				DetectedAt:    time.Now().UTC(),
				ActualAmount:  decimal.NewNullDecimal(cur.Amount),
				Description: fmt.Sprintf("same recipient and amount as %s captured %s earlier",
					prev.ID, cur.SettledAt.Sub(prev.SettledAt)),
			})
		}
	}

	return found, nil
}

// checkCompleteness cross-checks both directions: every settled succeeded
// transaction has a share, and every share in the window has a transaction.
func (e *Engine) checkCompleteness(ctx context.Context, start, end time.Time) ([]model.Discrepancy, error) {
	transactions, err := e.storage.ListSettledTransactions(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled transactions: %w", err)
	}
	shares, err := e.storage.ListSharesByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}

	sharesByTxn := make(map[string]bool, len(shares))
	for i := range shares {
		sharesByTxn[shares[i].TransactionID] = true
	}
	txnByID := make(map[string]bool, len(transactions))

	var found []model.Discrepancy
	for i := range transactions {
		txn := &transactions[i]
		txnByID[txn.ID] = true
		if txn.Status != model.TxnSucceeded || sharesByTxn[txn.ID] {
			continue
		}
		found = append(found, model.Discrepancy{
			Type:           model.DiscrepancyMissingRevenueShare,
			TransactionID:  txn.ID,
			DetectedAt:     time.Now().UTC(),
			ExpectedAmount: decimal.NewNullDecimal(txn.Amount),
			Description:    "settled transaction has no revenue share record",
		})
	}

	for i := range shares {
		share := &shares[i]
		if txnByID[share.TransactionID] {
			continue
		}
		if _, err := e.storage.GetTransaction(ctx, share.TransactionID); err == nil {
			// Settled outside the window; the share itself is fine.
			continue
		} else if !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("failed to load transaction %s: %w", share.TransactionID, err)
		}
		found = append(found, model.Discrepancy{
			Type:          model.DiscrepancyMissingTransaction,
			TransactionID: share.TransactionID,
			DetectedAt:    time.Now().UTC(),
			ActualAmount:  decimal.NewNullDecimal(share.TotalAmount),
			Description:   "revenue share references a transaction that does not exist",
		})
	}

	return found, nil
}

func amountMismatch(transactionID string, expected, actual decimal.Decimal, description string) model.Discrepancy {
	return model.Discrepancy{
		Type:           model.DiscrepancyAmountMismatch,
		TransactionID:  transactionID,
		DetectedAt:     time.Now().UTC(),
		ExpectedAmount: decimal.NewNullDecimal(expected),
		ActualAmount:   decimal.NewNullDecimal(actual),
		Difference:     decimal.NewNullDecimal(expected.Sub(actual)),
		Description:    description,
	}
}

func toleranceParam(rule *model.ReconciliationRule) (decimal.Decimal, error) {
	raw := rule.Params["tolerance"]
	if raw == "" {
		raw = defaultTolerance
	}
	tolerance, err := decimal.NewFromString(raw)
	if err != nil || tolerance.IsNegative() {
		return decimal.Zero, common.NewValidationError("tolerance", fmt.Sprintf("invalid value %q", raw))
	}
	return tolerance, nil
}

func duplicateWindowParam(rule *model.ReconciliationRule) (time.Duration, error) {
	raw := rule.Params["window_minutes"]
	if raw == "" {
		return defaultDuplicateWindow, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return 0, common.NewValidationError("window_minutes", fmt.Sprintf("invalid value %q", raw))
	}
	return time.Duration(minutes) * time.Minute, nil
}
