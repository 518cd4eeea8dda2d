// Package reconcile cross-checks transactions, revenue shares and payouts
// for consistency, emitting structured discrepancies.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/metrics"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// Engine executes reconciliation rules. Discrepancies are never silently
// corrected: detection and resolution are separate, both audited.
type Engine struct {
	storage   service.Storage
	auditor   service.AuditLogger
	collector *metrics.Collector
}

// NewEngine creates a reconciliation engine with its dependencies injected.
func NewEngine(storage service.Storage, auditor service.AuditLogger, collector *metrics.Collector) *Engine {
	return &Engine{storage: storage, auditor: auditor, collector: collector}
}

// RunRule executes exactly one rule against the [start, end) window. The
// run record is persisted and audit-logged whether the rule passes, finds
// discrepancies or fails internally.
func (e *Engine) RunRule(ctx context.Context, ruleID string, start, end time.Time) (*model.ReconciliationRun, error) {
	rule, err := e.storage.GetReconciliationRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, common.NewValidationError("window", "end date before start date")
	}

	return e.executeRule(ctx, rule, start, end), nil
}

// RunReconciliation executes the selected rules (or all active rules when
// ruleIDs is empty) independently over the window. One rule's internal
// failure becomes a synthetic rule_failure discrepancy and does not abort
// the remaining rules.
func (e *Engine) RunReconciliation(ctx context.Context, start, end time.Time, ruleIDs ...string) ([]model.ReconciliationRun, error) {
	if end.Before(start) {
		return nil, common.NewValidationError("window", "end date before start date")
	}

	var rules []model.ReconciliationRule
	if len(ruleIDs) == 0 {
		var err error
		rules, err = e.storage.ListReconciliationRules(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("failed to list reconciliation rules: %w", err)
		}
	} else {
		for _, id := range ruleIDs {
			rule, err := e.storage.GetReconciliationRule(ctx, id)
			if err != nil {
				return nil, err
			}
			rules = append(rules, *rule)
		}
	}

	slog.Info("Starting reconciliation",
		"rules", len(rules),
		"window_start", start,
		"window_end", end)

	runs := make([]model.ReconciliationRun, 0, len(rules))
	for i := range rules {
		select {
		case <-ctx.Done():
			return runs, ctx.Err()
		default:
		}
		run := e.executeRule(ctx, &rules[i], start, end)
		runs = append(runs, *run)
	}

	return runs, nil
}

func (e *Engine) executeRule(ctx context.Context, rule *model.ReconciliationRule, start, end time.Time) *model.ReconciliationRun {
	run := &model.ReconciliationRun{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
		StartedAt:   time.Now().UTC(),
	}

	discrepancies, err := e.check(ctx, rule, start, end)
	run.FinishedAt = time.Now().UTC()

	if err != nil {
		// The rule itself broke; record that as a discrepancy so the
		// failure is visible in the same review queue, and keep going.
		run.Succeeded = false
		run.Error = err.Error()
		discrepancies = []model.Discrepancy{{
			ID:          uuid.NewString(),
			RunID:       run.ID,
			Type:        model.DiscrepancyRuleFailure,
			Description: fmt.Sprintf("rule %q (%s) failed: %v", rule.Name, rule.Type, err),
		}}
	} else {
		run.Succeeded = true
	}

	for i := range discrepancies {
		discrepancies[i].RunID = run.ID
		if discrepancies[i].ID == "" {
			discrepancies[i].ID = uuid.NewString()
		}
		e.collector.DiscrepancyFound(string(discrepancies[i].Type))
	}
	run.DiscrepancyCount = len(discrepancies)

	if saveErr := e.storage.SaveDiscrepancies(ctx, discrepancies); saveErr != nil {
		run.Succeeded = false
		run.Error = fmt.Sprintf("failed to persist discrepancies: %v", saveErr)
	}
	if saveErr := e.storage.SaveReconciliationRun(ctx, run); saveErr != nil {
		common.LogError(saveErr, "Failed to persist reconciliation run", common.Fields{
			"rule_id": rule.ID,
		})
	}

	e.auditor.Log(ctx, run.ID, model.EntityReconciliationRun, "execute", "system", map[string]any{
		"rule_id":           rule.ID,
		"rule_type":         string(rule.Type),
		"discrepancy_count": run.DiscrepancyCount,
		"window_start":      run.WindowStart,
		"window_end":        run.WindowEnd,
		"succeeded":         run.Succeeded,
	})

	slog.Info("Reconciliation rule executed",
		"rule_id", rule.ID,
		"type", string(rule.Type),
		"discrepancies", run.DiscrepancyCount,
		"succeeded", run.Succeeded)

	return run
}

func (e *Engine) check(ctx context.Context, rule *model.ReconciliationRule, start, end time.Time) ([]model.Discrepancy, error) {
	switch rule.Type {
	case model.RuleAmountValidation:
		return e.checkAmounts(ctx, rule, start, end)
	case model.RuleStatusCheck:
		return e.checkStatuses(ctx, start, end)
	case model.RuleDuplicateDetection:
		return e.checkDuplicates(ctx, rule, start, end)
	case model.RuleCompletenessCheck:
		return e.checkCompleteness(ctx, start, end)
	default:
		return nil, fmt.Errorf("unknown reconciliation rule type %q", rule.Type)
	}
}

// ResolveDiscrepancy records an explicit, audited resolution of one
// discrepancy. The discrepancy record is otherwise immutable.
func (e *Engine) ResolveDiscrepancy(ctx context.Context, id, resolution, resolvedBy string) error {
	if resolution == "" {
		return common.NewValidationError("resolution", "required")
	}
	if resolvedBy == "" {
		return common.NewValidationError("resolvedBy", "required")
	}

	if err := e.storage.MarkDiscrepancyResolved(ctx, id, resolution, resolvedBy, time.Now().UTC()); err != nil {
		return err
	}

	e.auditor.Log(ctx, id, model.EntityDiscrepancy, "resolve", resolvedBy, map[string]any{
		"resolution": resolution,
	})
	return nil
}

// ListDiscrepancies exposes discrepancy queries for reporting and admin
// tooling.
func (e *Engine) ListDiscrepancies(ctx context.Context, filter service.DiscrepancyFilter) ([]model.Discrepancy, error) {
	return e.storage.ListDiscrepancies(ctx, filter)
}
