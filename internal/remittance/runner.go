package remittance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/metrics"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

// DefaultLookback bounds the unpaid-share window for a schedule that has
// never run.
const DefaultLookback = 90 * 24 * time.Hour

// RunnerConfig holds configuration options for the remittance runner.
type RunnerConfig struct {
	Lookback        time.Duration
	PerItemTimeout  time.Duration
	ParallelWorkers int
	Currency        string
	PayoutRetry     service.RetryOptions
}

// DefaultRunnerConfig returns the default configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Lookback:        DefaultLookback,
		PerItemTimeout:  2 * time.Minute,
		ParallelWorkers: 4,
		Currency:        "PHP",
		PayoutRetry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
		},
	}
}

// Runner executes due remittance schedules against the payout rail.
type Runner struct {
	storage   service.Storage
	executor  service.PayoutExecutor
	accounts  service.AccountRegistry
	auditor   service.AuditLogger
	collector *metrics.Collector
	config    RunnerConfig

	// Per-schedule locks: processing the same schedule concurrently would
	// double-count its unpaid shares into two runs.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner creates a runner with explicit collaborators; no global
// executor registry exists.
func NewRunner(
	storage service.Storage,
	executor service.PayoutExecutor,
	accounts service.AccountRegistry,
	auditor service.AuditLogger,
	collector *metrics.Collector,
	config RunnerConfig,
) *Runner {
	if config.Lookback <= 0 {
		config.Lookback = DefaultLookback
	}
	if config.PerItemTimeout <= 0 {
		config.PerItemTimeout = 2 * time.Minute
	}
	if config.ParallelWorkers <= 0 {
		config.ParallelWorkers = 1
	}
	return &Runner{
		storage:   storage,
		executor:  executor,
		accounts:  accounts,
		auditor:   auditor,
		collector: collector,
		config:    config,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (r *Runner) scheduleLock(scheduleID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[scheduleID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[scheduleID] = lock
	}
	return lock
}

// ProcessSchedule executes one schedule's payout cycle: aggregate unpaid
// shares, compare against the minimum, and either cancel the cycle or pay
// out. Processing of the same schedule is serialized.
func (r *Runner) ProcessSchedule(ctx context.Context, scheduleID string) (*model.RemittanceRun, error) {
	lock := r.scheduleLock(scheduleID)
	lock.Lock()
	defer lock.Unlock()

	schedule, err := r.storage.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !schedule.Active {
		return nil, common.NewBusinessRuleViolation("schedule_inactive",
			fmt.Sprintf("schedule %s is deactivated", scheduleID))
	}

	now := time.Now().UTC()
	since := now.Add(-r.config.Lookback)
	if schedule.LastRunDate != nil {
		since = *schedule.LastRunDate
	}

	shares, err := r.storage.ListUnpaidShares(ctx, schedule.RecipientID, since, now)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate unpaid shares: %w", err)
	}

	total := decimal.Zero
	shareIDs := make([]string, 0, len(shares))
	for i := range shares {
		total = total.Add(shares[i].PartnerShare())
		shareIDs = append(shareIDs, shares[i].ID)
	}

	run := &model.RemittanceRun{
		ID:             uuid.NewString(),
		ScheduleID:     schedule.ID,
		RecipientID:    schedule.RecipientID,
		Amount:         total,
		SourceShareIDs: shareIDs,
		Status:         model.RunPending,
		RunDate:        now,
	}

	if total.LessThan(schedule.MinimumAmount) {
		return r.cancelBelowMinimum(ctx, schedule, run)
	}

	if err := r.storage.CreateRemittanceRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create remittance run: %w", err)
	}

	return r.executePayout(ctx, schedule, run)
}

// cancelBelowMinimum records the cycle as CANCELLED, distinct from failure,
// so schedule owners see why no money moved. NextRunDate advances only when
// the schedule opts in; otherwise the amount keeps accumulating and the
// next sweep picks the schedule up again.
func (r *Runner) cancelBelowMinimum(ctx context.Context, schedule *model.RemittanceSchedule, run *model.RemittanceRun) (*model.RemittanceRun, error) {
	run.Status = model.RunCancelled
	run.ErrorMessage = fmt.Sprintf("accumulated amount %s below minimum payout %s",
		run.Amount.StringFixed(2), schedule.MinimumAmount.StringFixed(2))

	if err := r.storage.CreateRemittanceRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record cancelled run: %w", err)
	}

	if schedule.AdvanceOnCancel {
		next, err := NextRunDate(schedule.Frequency, schedule.NextRunDate)
		if err != nil {
			return nil, err
		}
		schedule.NextRunDate = next
		if err := r.storage.UpdateSchedule(ctx, schedule); err != nil {
			return nil, err
		}
	}

	r.collector.RunCancelled()
	r.auditor.Log(ctx, run.ID, model.EntityRemittanceRun, "cancel_below_minimum", "system", map[string]any{
		"schedule_id": schedule.ID,
		"amount":      run.Amount.String(),
		"minimum":     schedule.MinimumAmount.String(),
		"advanced":    schedule.AdvanceOnCancel,
	})

	slog.Info("Remittance cycle below minimum",
		"schedule_id", schedule.ID,
		"recipient_id", schedule.RecipientID,
		"amount", run.Amount.StringFixed(2),
		"minimum", schedule.MinimumAmount.StringFixed(2))

	return run, nil
}

// executePayout moves a run through PROCESSING and calls the payout rail.
// The destination account must be verified before any transfer attempt.
// On success the run, its source shares and the schedule are finalized in
// one database transaction; on failure the run is marked FAILED and the
// schedule is left due so the next sweep retries the same shares.
func (r *Runner) executePayout(ctx context.Context, schedule *model.RemittanceSchedule, run *model.RemittanceRun) (*model.RemittanceRun, error) {
	run.Status = model.RunProcessing
	if err := r.storage.UpdateRemittanceRun(ctx, run); err != nil {
		return nil, err
	}

	account, err := r.accounts.GetAccount(ctx, schedule.DestinationAccountID)
	if err != nil {
		return r.failRun(ctx, run, common.NewExternalServiceError("account registry", err))
	}
	if !account.Verified {
		return r.failRun(ctx, run, common.NewBusinessRuleViolation("unverified_account",
			fmt.Sprintf("destination account %s is not verified", schedule.DestinationAccountID)))
	}

	var payout *model.Payout
	start := time.Now()
	err = common.WithRetry(ctx, func() error {
		var payoutErr error
		payout, payoutErr = r.executor.CreatePayout(ctx, service.PayoutRequest{
			RecipientID:          schedule.RecipientID,
			Amount:               run.Amount,
			Currency:             r.config.Currency,
			DestinationAccountID: schedule.DestinationAccountID,
			SourceIDs:            run.SourceShareIDs,
		})
		return payoutErr
	}, r.config.PayoutRetry)
	r.collector.ObservePayout(time.Since(start))

	if err != nil {
		return r.failRun(ctx, run, err)
	}

	return r.completeRun(ctx, schedule, run, payout.ID)
}

func (r *Runner) completeRun(ctx context.Context, schedule *model.RemittanceSchedule, run *model.RemittanceRun, payoutID string) (*model.RemittanceRun, error) {
	now := time.Now().UTC()
	run.Status = model.RunCompleted
	run.PayoutID = payoutID
	run.CompletedAt = &now
	run.ErrorMessage = ""

	next, err := NextRunDate(schedule.Frequency, schedule.NextRunDate)
	if err != nil {
		return nil, err
	}
	schedule.NextRunDate = next
	schedule.LastRunDate = &run.RunDate

	tx, err := r.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.UpdateRemittanceRun(ctx, run); err != nil {
		return nil, err
	}
	if err := tx.MarkSharesPaid(ctx, run.SourceShareIDs, run.ID, now); err != nil {
		return nil, err
	}
	if err := tx.UpdateSchedule(ctx, schedule); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to finalize run: %w", err)
	}

	r.collector.RunCompleted()
	r.auditor.Log(ctx, run.ID, model.EntityRemittanceRun, "complete", "system", map[string]any{
		"schedule_id": schedule.ID,
		"payout_id":   payoutID,
		"amount":      run.Amount.String(),
		"shares":      len(run.SourceShareIDs),
	})

	slog.Info("Remittance run completed",
		"run_id", run.ID,
		"recipient_id", run.RecipientID,
		"amount", run.Amount.StringFixed(2),
		"payout_id", payoutID)

	return run, nil
}

// failRun records the failure on the run without touching the schedule,
// so the next sweep retries the same uncollected shares.
func (r *Runner) failRun(ctx context.Context, run *model.RemittanceRun, cause error) (*model.RemittanceRun, error) {
	now := time.Now().UTC()
	run.Status = model.RunFailed
	run.FailedAt = &now
	run.ErrorMessage = cause.Error()

	// The failure may be the per-item timeout itself; the FAILED state
	// still has to be recorded after the deadline passed.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	if err := r.storage.UpdateRemittanceRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run failure: %w (payout error: %v)", err, cause)
	}

	r.collector.RunFailed()
	r.auditor.Log(ctx, run.ID, model.EntityRemittanceRun, "fail", "system", map[string]any{
		"schedule_id": run.ScheduleID,
		"error":       run.ErrorMessage,
	})

	slog.Warn("Remittance run failed",
		"run_id", run.ID,
		"schedule_id", run.ScheduleID,
		"error", run.ErrorMessage)

	return run, nil
}

// RetryFailedRun re-attempts payout creation for a FAILED run. The run
// record is reused: a retry produces a new payout id, never a second run.
// A FAILED run leaves its shares unpaid, so a later sweep may have collected
// them into a newer run already; such a superseded run is cancelled instead
// of paying the same shares twice.
func (r *Runner) RetryFailedRun(ctx context.Context, runID string) (*model.RemittanceRun, error) {
	run, err := r.storage.GetRemittanceRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunFailed {
		return nil, common.NewBusinessRuleViolation("retry_not_failed",
			fmt.Sprintf("run %s is %s, only FAILED runs can be retried", runID, run.Status))
	}

	lock := r.scheduleLock(run.ScheduleID)
	lock.Lock()
	defer lock.Unlock()

	shares, err := r.storage.ListSharesByIDs(ctx, run.SourceShareIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load run shares: %w", err)
	}
	for i := range shares {
		if shares[i].PaidAt == nil {
			continue
		}
		return r.cancelSuperseded(ctx, run, &shares[i])
	}

	schedule, err := r.storage.GetSchedule(ctx, run.ScheduleID)
	if err != nil {
		return nil, err
	}

	r.auditor.Log(ctx, run.ID, model.EntityRemittanceRun, "retry", "system", map[string]any{
		"previous_error": run.ErrorMessage,
	})

	return r.executePayout(ctx, schedule, run)
}

// cancelSuperseded closes out a FAILED run whose source shares were already
// collected by a newer run.
func (r *Runner) cancelSuperseded(ctx context.Context, run *model.RemittanceRun, paid *model.RevenueShare) (*model.RemittanceRun, error) {
	run.Status = model.RunCancelled
	run.ErrorMessage = fmt.Sprintf("superseded: share %s was paid by run %s", paid.ID, paid.RemittanceRunID)

	if err := r.storage.UpdateRemittanceRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to cancel superseded run: %w", err)
	}

	r.collector.RunCancelled()
	r.auditor.Log(ctx, run.ID, model.EntityRemittanceRun, "cancel_superseded", "system", map[string]any{
		"schedule_id": run.ScheduleID,
		"share_id":    paid.ID,
		"paid_by_run": paid.RemittanceRunID,
	})

	slog.Warn("Remittance run superseded, retry refused",
		"run_id", run.ID,
		"share_id", paid.ID,
		"paid_by_run", paid.RemittanceRunID)

	return nil, common.NewBusinessRuleViolation("retry_superseded",
		fmt.Sprintf("run %s was superseded by run %s, its shares are already paid", run.ID, paid.RemittanceRunID))
}

// SweepSummary reports the outcome of processing all due schedules.
type SweepSummary struct {
	Due       int
	Completed int
	Cancelled int
	Failed    int
	Errored   int
	Duration  time.Duration
}

// sweepResult carries one schedule's outcome out of the worker pool.
type sweepResult struct {
	run        *model.RemittanceRun
	err        error
	scheduleID string
}

// ProcessDueSchedules runs every due schedule through a worker pool.
// Failures are contained per schedule: one recipient's broken payout, hung
// rail call or panic never prevents the others from being processed. Each
// schedule gets its own timeout so a hung call is cut off and recorded as
// a failure.
func (r *Runner) ProcessDueSchedules(ctx context.Context, asOf time.Time, progress func(done, total int)) (*SweepSummary, error) {
	start := time.Now()

	due, err := r.storage.ListDueSchedules(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}

	summary := &SweepSummary{Due: len(due)}
	if len(due) == 0 {
		slog.Info("No remittance schedules due")
		summary.Duration = time.Since(start)
		return summary, nil
	}

	slog.Info("Starting remittance sweep",
		"due", len(due),
		"workers", r.config.ParallelWorkers)

	workChan := make(chan model.RemittanceSchedule, len(due))
	for _, schedule := range due {
		workChan <- schedule
	}
	close(workChan)

	resultsChan := make(chan sweepResult, len(due))

	var wg sync.WaitGroup
	wg.Add(r.config.ParallelWorkers)
	for i := 0; i < r.config.ParallelWorkers; i++ {
		go func() {
			defer wg.Done()
			for schedule := range workChan {
				resultsChan <- r.processWithIsolation(ctx, schedule.ID)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	done := 0
	for result := range resultsChan {
		done++
		if progress != nil {
			progress(done, len(due))
		}

		if result.err != nil {
			summary.Errored++
			common.LogError(result.err, "Schedule processing errored", common.Fields{
				"schedule_id": result.scheduleID,
			})
			continue
		}

		switch result.run.Status {
		case model.RunCompleted:
			summary.Completed++
		case model.RunCancelled:
			summary.Cancelled++
		case model.RunFailed:
			summary.Failed++
		}
	}

	summary.Duration = time.Since(start)
	slog.Info("Remittance sweep finished",
		"due", summary.Due,
		"completed", summary.Completed,
		"cancelled", summary.Cancelled,
		"failed", summary.Failed,
		"errored", summary.Errored,
		"duration", summary.Duration)

	return summary, nil
}

// processWithIsolation wraps one schedule's processing with a timeout and
// panic containment.
func (r *Runner) processWithIsolation(ctx context.Context, scheduleID string) (result sweepResult) {
	result.scheduleID = scheduleID

	defer func() {
		if rec := recover(); rec != nil {
			result.err = fmt.Errorf("schedule %s panicked: %v", scheduleID, rec)
		}
	}()

	itemCtx, cancel := context.WithTimeout(ctx, r.config.PerItemTimeout)
	defer cancel()

	result.run, result.err = r.ProcessSchedule(itemCtx, scheduleID)
	return result
}
