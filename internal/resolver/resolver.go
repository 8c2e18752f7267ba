// Package resolver implements the confirmation continuation of a provisioning
// pipeline. It is the only code path that writes marketplace ownership to the
// registry.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/bazaar/internal/eventlog"
	"github.com/dyluth/bazaar/internal/pipeline"
	"github.com/dyluth/bazaar/internal/platform"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/registry"
)

var (
	// ErrPrivateCallback is returned when anyone other than the factory
	// itself invokes the continuation.
	ErrPrivateCallback = errors.New("method is private")

	// ErrCreationFailed is returned when the pipeline reported failure.
	ErrCreationFailed = errors.New("creation of marketplace has failed")

	// ErrDuplicate is returned (wrapped with registry.ErrInvariantViolation)
	// when the marketplace is already in the owner's set at confirmation time.
	ErrDuplicate = errors.New("marketplace already exists")
)

// Registry is the registry surface the resolver mutates.
type Registry interface {
	Contains(ctx context.Context, owner, market account.ID) (bool, error)
	Commit(ctx context.Context, owner, market account.ID) error
	RecordOrphan(ctx context.Context, o *registry.Orphan) error
}

// Resolver commits confirmed marketplaces or aborts failed ones.
type Resolver struct {
	self     account.ID
	registry Registry
	logger   *eventlog.Logger
	now      func() time.Time
}

// New creates a resolver that accepts callbacks only from self.
func New(self account.ID, reg Registry, instanceName string) *Resolver {
	return &Resolver{
		self:     self,
		registry: reg,
		logger:   eventlog.New("resolver", instanceName),
		now:      time.Now,
	}
}

// Resolve handles the single terminal outcome of a pipeline.
func (r *Resolver) Resolve(ctx context.Context, cb pipeline.Callback) error {
	if cb.Predecessor != r.self {
		r.logger.Warn("private_callback_rejected", map[string]interface{}{
			"predecessor": cb.Predecessor,
			"market_id":   cb.MarketID,
		})
		return fmt.Errorf("%w: called by %s", ErrPrivateCallback, cb.Predecessor)
	}

	if len(cb.Results) != 1 {
		r.logger.Error("invariant_violation", map[string]interface{}{
			"pipeline_id": cb.PipelineID,
			"reason":      "result count",
			"results":     len(cb.Results),
		})
		return fmt.Errorf("%w: expected exactly one pipeline result, got %d", registry.ErrInvariantViolation, len(cb.Results))
	}

	result := cb.Results[0]
	switch result.Status {
	case pipeline.OutcomeSucceeded:
		return r.confirm(ctx, cb)
	case pipeline.OutcomeFailed:
		return r.abort(ctx, cb, result)
	default:
		r.logger.Error("invariant_violation", map[string]interface{}{
			"pipeline_id": cb.PipelineID,
			"reason":      "non-terminal result",
			"status":      result.Status,
		})
		return fmt.Errorf("%w: pipeline result is %s", registry.ErrInvariantViolation, result.Status)
	}
}

func (r *Resolver) confirm(ctx context.Context, cb pipeline.Callback) error {
	present, err := r.registry.Contains(ctx, cb.Owner, cb.MarketID)
	if err != nil {
		return r.commitFailed(ctx, cb, fmt.Errorf("failed to re-check registry: %w", err))
	}
	if present {
		r.logger.Error("duplicate_at_confirmation", map[string]interface{}{
			"pipeline_id": cb.PipelineID,
			"owner_id":    cb.Owner,
			"market_id":   cb.MarketID,
		})
		return fmt.Errorf("%w: %w: %s", registry.ErrInvariantViolation, ErrDuplicate, cb.MarketID)
	}

	if err := r.registry.Commit(ctx, cb.Owner, cb.MarketID); err != nil {
		err = fmt.Errorf("failed to commit marketplace: %w", err)
		// The account already backs a committed marketplace; it is not an orphan.
		if errors.Is(err, registry.ErrInvariantViolation) {
			r.logger.Error("invariant_violation", map[string]interface{}{
				"pipeline_id": cb.PipelineID,
				"market_id":   cb.MarketID,
				"error":       err.Error(),
			})
			return err
		}
		return r.commitFailed(ctx, cb, err)
	}

	r.logger.Info("marketplace_committed", map[string]interface{}{
		"pipeline_id": cb.PipelineID,
		"owner_id":    cb.Owner,
		"market_id":   cb.MarketID,
	})
	return nil
}

// commitFailed handles a fully provisioned account the registry could not
// take. The account is logged as an orphan.
func (r *Resolver) commitFailed(ctx context.Context, cb pipeline.Callback, cause error) error {
	r.logger.Error("marketplace_commit_failed", map[string]interface{}{
		"pipeline_id": cb.PipelineID,
		"owner_id":    cb.Owner,
		"market_id":   cb.MarketID,
		"error":       cause.Error(),
	})
	if err := r.recordOrphan(ctx, cb, pipeline.StepCommit, cause.Error()); err != nil {
		return fmt.Errorf("%w; %w", cause, err)
	}
	return cause
}

func (r *Resolver) abort(ctx context.Context, cb pipeline.Callback, result pipeline.Outcome) error {
	reason := "unknown"
	if result.Err != nil {
		reason = result.Err.Error()
	}

	r.logger.Warn("marketplace_creation_failed", map[string]interface{}{
		"pipeline_id": cb.PipelineID,
		"owner_id":    cb.Owner,
		"market_id":   cb.MarketID,
		"failed_step": result.Step,
		"reason":      reason,
	})

	// A failed create_account left nothing behind.
	if result.Step == string(platform.ActionCreateAccount) {
		return creationFailed(result)
	}

	if err := r.recordOrphan(ctx, cb, result.Step, reason); err != nil {
		return fmt.Errorf("%w; %w", creationFailed(result), err)
	}
	return creationFailed(result)
}

func (r *Resolver) recordOrphan(ctx context.Context, cb pipeline.Callback, step, reason string) error {
	orphan := &registry.Orphan{
		MarketID:     cb.MarketID,
		Owner:        cb.Owner,
		PipelineID:   cb.PipelineID,
		FailedStep:   step,
		Reason:       reason,
		RecordedAtMs: r.now().UnixMilli(),
	}
	if err := r.registry.RecordOrphan(ctx, orphan); err != nil {
		r.logger.Error("orphan_record_failed", map[string]interface{}{
			"pipeline_id": cb.PipelineID,
			"market_id":   cb.MarketID,
			"error":       err.Error(),
		})
		return fmt.Errorf("failed to record orphan: %w", err)
	}
	return nil
}

func creationFailed(result pipeline.Outcome) error {
	if result.Err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCreationFailed, result.Step, result.Err)
	}
	return ErrCreationFailed
}
