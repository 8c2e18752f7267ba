package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/bazaar/internal/eventlog"
	"github.com/dyluth/bazaar/internal/platform"
	"github.com/dyluth/bazaar/internal/tracing"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/registry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Executor launches plans onto the platform scheduler.
type Executor struct {
	platform     Platform
	scheduler    Scheduler
	store        Store
	self         account.ID
	instanceName string
	tracer       trace.Tracer
	logger       *eventlog.Logger
	now          func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithTracer sets the tracer for pipeline and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock overrides the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor acting as the account self. self is the
// predecessor every continuation sees.
func NewExecutor(p Platform, s Scheduler, store Store, self account.ID, instanceName string, opts ...Option) *Executor {
	e := &Executor{
		platform:     p,
		scheduler:    s,
		store:        store,
		self:         self,
		instanceName: instanceName,
		tracer:       noop.NewTracerProvider().Tracer("noop"),
		logger:       eventlog.New("pipeline", instanceName),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LaunchRequest is one pipeline to run.
type LaunchRequest struct {
	Owner    account.ID
	Plan     *Plan
	Resolver Resolver
}

// Launch persists a pending record and schedules the first step. It returns
// as soon as the pipeline is issued. The pipeline then runs to completion
// independently of ctx.
func (e *Executor) Launch(ctx context.Context, req LaunchRequest) (*Handle, error) {
	if req.Plan == nil {
		return nil, fmt.Errorf("%w: nil plan", ErrInvalidPlan)
	}
	if err := req.Plan.Validate(); err != nil {
		return nil, err
	}
	if req.Resolver == nil {
		return nil, errors.New("pipeline requires a resolver")
	}

	nowMs := e.now().UnixMilli()
	record := &registry.PipelineRecord{
		ID:          uuid.New().String(),
		Owner:       req.Owner,
		MarketID:    req.Plan.Target,
		Stage:       registry.StagePending,
		Steps:       make([]registry.StepRecord, len(req.Plan.Steps)),
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
	for i, step := range req.Plan.Steps {
		record.Steps[i] = registry.StepRecord{Name: step.Name(), Status: registry.StepStatusPending}
	}

	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline record: %w", err)
	}
	if err := e.store.SavePipeline(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist pipeline: %w", err)
	}

	runCtx, span := e.tracer.Start(context.WithoutCancel(ctx), "pipeline.provision",
		trace.WithAttributes(
			attribute.String(tracing.AttrPipelineID, record.ID),
			attribute.String(tracing.AttrOwnerID, record.Owner.String()),
			attribute.String(tracing.AttrMarketID, record.MarketID.String()),
		))

	h := &Handle{
		id:       record.ID,
		marketID: record.MarketID,
		record:   record,
		done:     make(chan struct{}),
	}
	r := &run{
		exec:     e,
		ctx:      runCtx,
		span:     span,
		plan:     req.Plan,
		owner:    req.Owner,
		resolver: req.Resolver,
		handle:   h,
	}

	if err := e.scheduler.Submit(r.step(0)); err != nil {
		r.finish(fmt.Errorf("failed to schedule pipeline: %w", err))
		return nil, fmt.Errorf("failed to schedule pipeline: %w", err)
	}

	e.logger.Info("pipeline_issued", map[string]interface{}{
		"pipeline_id": record.ID,
		"owner_id":    record.Owner,
		"market_id":   record.MarketID,
		"steps":       len(req.Plan.Steps),
	})

	return h, nil
}

func (e *Executor) perform(ctx context.Context, target account.ID, step Step) error {
	switch step.Action {
	case platform.ActionCreateAccount:
		return e.platform.CreateAccount(ctx, target)
	case platform.ActionTransfer:
		return e.platform.Transfer(ctx, target, step.Amount)
	case platform.ActionDeployContract:
		return e.platform.DeployContract(ctx, target, step.Code)
	case platform.ActionFunctionCall:
		return e.platform.FunctionCall(ctx, target, step.Method, step.Args, step.Amount, step.Gas)
	default:
		return fmt.Errorf("unsupported action %q", step.Action)
	}
}

// run is the in-flight state of one pipeline. Its tasks execute one at a
// time, each scheduling the next.
type run struct {
	exec     *Executor
	ctx      context.Context
	span     trace.Span
	plan     *Plan
	owner    account.ID
	resolver Resolver
	handle   *Handle

	resolveOnce sync.Once
	finishOnce  sync.Once
	continued   atomic.Bool
}

func (r *run) step(i int) platform.Task {
	return func() {
		step := r.plan.Steps[i]
		defer func() {
			if p := recover(); p != nil {
				err := fmt.Errorf("panic: %v", p)
				r.exec.logger.Error("task_panicked", map[string]interface{}{
					"pipeline_id": r.handle.id,
					"step":        step.Name(),
					"error":       err.Error(),
				})
				if r.continued.Load() {
					r.finish(err)
					return
				}
				r.fail(i, err)
			}
		}()

		ctx, span := r.exec.tracer.Start(r.ctx, "pipeline.step."+step.Name(),
			trace.WithAttributes(
				attribute.String(tracing.AttrStep, step.Name()),
				attribute.String(tracing.AttrStage, string(step.Reaches)),
				attribute.Int64(tracing.AttrGas, int64(step.Gas)),
			))

		r.update(func(rec *registry.PipelineRecord, nowMs int64) {
			rec.Steps[i].Status = registry.StepStatusInProgress
			rec.Steps[i].StartedAtMs = nowMs
		})

		err := r.exec.perform(ctx, r.plan.Target, step)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			r.fail(i, err)
			return
		}
		span.End()

		r.update(func(rec *registry.PipelineRecord, nowMs int64) {
			rec.Steps[i].Status = registry.StepStatusSucceeded
			rec.Steps[i].FinishedAtMs = nowMs
			rec.Stage = step.Reaches
		})
		r.exec.logger.Info("stage_reached", map[string]interface{}{
			"pipeline_id": r.handle.id,
			"market_id":   r.plan.Target,
			"stage":       step.Reaches,
		})

		if i+1 < len(r.plan.Steps) {
			if err := r.exec.scheduler.Submit(r.step(i + 1)); err != nil {
				r.finish(fmt.Errorf("failed to schedule %s: %w", r.plan.Steps[i+1].Name(), err))
			}
			return
		}
		r.continueWith(Outcome{Status: OutcomeSucceeded})
	}
}

// fail marks step i failed, skips the rest and hands the failure to the
// continuation.
func (r *run) fail(i int, err error) {
	step := r.plan.Steps[i]
	r.update(func(rec *registry.PipelineRecord, nowMs int64) {
		rec.Steps[i].Status = registry.StepStatusFailed
		rec.Steps[i].Error = err.Error()
		rec.Steps[i].FinishedAtMs = nowMs
		for j := i + 1; j < len(rec.Steps); j++ {
			rec.Steps[j].Status = registry.StepStatusSkipped
		}
		rec.FailedStep = step.Name()
	})
	r.exec.logger.Warn("step_failed", map[string]interface{}{
		"pipeline_id": r.handle.id,
		"market_id":   r.plan.Target,
		"step":        step.Name(),
		"error":       err.Error(),
	})

	r.continueWith(Outcome{Status: OutcomeFailed, Step: step.Name(), Err: err})
}

// continueWith schedules the continuation. Only the first call has effect.
func (r *run) continueWith(outcome Outcome) {
	scheduled := false
	r.resolveOnce.Do(func() {
		scheduled = true
		r.continued.Store(true)
		if err := r.exec.scheduler.Submit(r.resolve(outcome)); err != nil {
			r.finish(fmt.Errorf("failed to schedule confirmation: %w", err))
		}
	})
	if !scheduled {
		r.exec.logger.Error("duplicate_outcome", map[string]interface{}{
			"pipeline_id": r.handle.id,
			"status":      outcome.Status,
		})
	}
}

func (r *run) resolve(outcome Outcome) platform.Task {
	return func() {
		defer func() {
			if p := recover(); p != nil {
				err := fmt.Errorf("panic: %v", p)
				r.exec.logger.Error("task_panicked", map[string]interface{}{
					"pipeline_id": r.handle.id,
					"step":        StepResolve,
					"error":       err.Error(),
				})
				r.finish(err)
			}
		}()

		ctx, span := r.exec.tracer.Start(r.ctx, "pipeline.resolve",
			trace.WithAttributes(
				attribute.String(tracing.AttrStep, StepResolve),
				attribute.Int64(tracing.AttrGas, int64(r.plan.CallbackGas)),
			))

		var err error
		if gasErr := r.exec.platform.CheckCallbackGas(r.plan.CallbackGas); gasErr != nil {
			// The continuation never runs, so nothing else will log the account.
			err = fmt.Errorf("confirmation callback: %w", gasErr)
			if orphanErr := r.recordOrphan(ctx, outcome, err); orphanErr != nil {
				err = fmt.Errorf("%w; %w", err, orphanErr)
			}
		} else {
			err = r.resolver.Resolve(ctx, Callback{
				Predecessor: r.exec.self,
				Owner:       r.owner,
				MarketID:    r.plan.Target,
				PipelineID:  r.handle.id,
				Results:     []Outcome{outcome},
			})
		}
		if err == nil && outcome.Status != OutcomeSucceeded {
			err = fmt.Errorf("pipeline ended with status %s", outcome.Status)
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if outcome.Status == OutcomeSucceeded {
				r.update(func(rec *registry.PipelineRecord, _ int64) {
					rec.FailedStep = StepResolve
				})
			}
		}
		span.End()

		r.finish(err)
	}
}

// recordOrphan logs the marketplace account left behind when the
// continuation cannot run. A failed create_account left nothing behind.
func (r *run) recordOrphan(ctx context.Context, outcome Outcome, cause error) error {
	failedStep := StepResolve
	reason := cause.Error()
	if outcome.Status == OutcomeFailed {
		if outcome.Step == string(platform.ActionCreateAccount) {
			return nil
		}
		failedStep = outcome.Step
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
	}

	orphan := &registry.Orphan{
		MarketID:     r.plan.Target,
		Owner:        r.owner,
		PipelineID:   r.handle.id,
		FailedStep:   failedStep,
		Reason:       reason,
		RecordedAtMs: r.exec.now().UnixMilli(),
	}
	if err := r.exec.store.RecordOrphan(ctx, orphan); err != nil {
		r.exec.logger.Error("orphan_record_failed", map[string]interface{}{
			"pipeline_id": r.handle.id,
			"market_id":   r.plan.Target,
			"error":       err.Error(),
		})
		return fmt.Errorf("failed to record orphan: %w", err)
	}

	r.exec.logger.Warn("orphan_recorded", map[string]interface{}{
		"pipeline_id": r.handle.id,
		"market_id":   r.plan.Target,
		"failed_step": failedStep,
	})
	return nil
}

// finish moves the pipeline to its terminal stage and releases waiters.
// Only the first call has effect.
func (r *run) finish(err error) {
	r.finishOnce.Do(func() {
		r.complete(err)
	})
}

func (r *run) complete(err error) {
	terminal := registry.StageConfirmed
	if err != nil {
		terminal = registry.StageFailed
	}

	r.update(func(rec *registry.PipelineRecord, _ int64) {
		if !CanTransition(rec.Stage, terminal) {
			r.exec.logger.Error("invalid_transition", map[string]interface{}{
				"pipeline_id": rec.ID,
				"from":        rec.Stage,
				"to":          terminal,
			})
			terminal = registry.StageFailed
		}
		rec.Stage = terminal
		if err != nil {
			rec.Error = err.Error()
		}
	})

	r.span.SetAttributes(attribute.String(tracing.AttrStage, string(terminal)))
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	r.span.End()

	r.exec.logger.Info("pipeline_finished", map[string]interface{}{
		"pipeline_id": r.handle.id,
		"market_id":   r.plan.Target,
		"stage":       terminal,
	})

	r.handle.complete(err)
}

// update mutates the record under the handle's lock and persists the result.
// A persistence failure is logged; the in-memory record stays authoritative
// for waiters.
func (r *run) update(mutate func(rec *registry.PipelineRecord, nowMs int64)) {
	nowMs := r.exec.now().UnixMilli()

	r.handle.mu.Lock()
	mutate(r.handle.record, nowMs)
	r.handle.record.UpdatedAtMs = nowMs
	snapshot := r.handle.record.Clone()
	r.handle.mu.Unlock()

	if err := r.exec.store.SavePipeline(r.ctx, snapshot); err != nil {
		r.exec.logger.Error("pipeline_persist_failed", map[string]interface{}{
			"pipeline_id": snapshot.ID,
			"stage":       snapshot.Stage,
			"error":       err.Error(),
		})
	}
}

// Handle is the pending handle of an issued pipeline.
type Handle struct {
	id       string
	marketID account.ID

	mu     sync.Mutex
	record *registry.PipelineRecord
	err    error
	done   chan struct{}
}

// ID returns the pipeline id.
func (h *Handle) ID() string {
	return h.id
}

// MarketID returns the marketplace account the pipeline provisions.
func (h *Handle) MarketID() account.ID {
	return h.marketID
}

// Done is closed once the pipeline reaches a terminal stage.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Snapshot returns a copy of the current record.
func (h *Handle) Snapshot() *registry.PipelineRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record.Clone()
}

// Wait blocks until the pipeline is terminal or ctx is done. It returns the
// final record and the error that failed the pipeline, if any. Giving up on
// ctx does not cancel the pipeline.
func (h *Handle) Wait(ctx context.Context) (*registry.PipelineRecord, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record.Clone(), h.err
}

func (h *Handle) complete(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
