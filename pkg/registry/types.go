package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dyluth/bazaar/pkg/account"
	"github.com/google/uuid"
)

var (
	// ErrInvariantViolation marks a registry invariant breach. It signals a
	// logic bug elsewhere and must never be retried.
	ErrInvariantViolation = errors.New("registry invariant violation")

	// ErrAlreadyOwned is returned (wrapped with ErrInvariantViolation) when a
	// commit targets a marketplace already present in a registry set.
	ErrAlreadyOwned = errors.New("marketplace already registered")
)

// MarketSet is a read-only snapshot of the marketplaces an owner holds.
// Mutation goes through Client.Commit only.
type MarketSet struct {
	owner   account.ID
	members map[account.ID]struct{}
}

func newMarketSet(owner account.ID, members []string) *MarketSet {
	set := &MarketSet{
		owner:   owner,
		members: make(map[account.ID]struct{}, len(members)),
	}
	for _, m := range members {
		set.members[account.ID(m)] = struct{}{}
	}
	return set
}

// Owner returns the account the set belongs to.
func (s *MarketSet) Owner() account.ID {
	return s.owner
}

// Contains reports whether id is in the snapshot.
func (s *MarketSet) Contains(id account.ID) bool {
	_, ok := s.members[id]
	return ok
}

// Len returns the number of marketplaces in the snapshot.
func (s *MarketSet) Len() int {
	return len(s.members)
}

// Members returns the marketplaces sorted lexically.
func (s *MarketSet) Members() []account.ID {
	out := make([]account.ID, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Orphan records a marketplace account that was created (and possibly funded
// and installed) but never confirmed because a later pipeline stage failed.
// Nothing reclaims orphans; the log only makes them visible.
type Orphan struct {
	MarketID     account.ID `json:"market_id"`
	Owner        account.ID `json:"owner_id"`
	PipelineID   string     `json:"pipeline_id"`
	FailedStep   string     `json:"failed_step"`
	Reason       string     `json:"reason"`
	RecordedAtMs int64      `json:"recorded_at_ms"`
}

// Stage is the lifecycle position of a provisioning pipeline.
type Stage string

const (
	// StagePending indicates the pipeline is issued but no step has completed
	StagePending Stage = "pending"

	// StageNamespaceCreated indicates the marketplace account exists
	StageNamespaceCreated Stage = "namespace_created"

	// StageFunded indicates the initial balance was transferred
	StageFunded Stage = "funded"

	// StageArtifactInstalled indicates the marketplace artifact is deployed
	StageArtifactInstalled Stage = "artifact_installed"

	// StageInitialized indicates the remote initializer succeeded
	StageInitialized Stage = "initialized"

	// StageConfirmed indicates the resolver committed the marketplace to the registry
	StageConfirmed Stage = "confirmed"

	// StageFailed indicates a step or the resolver aborted the pipeline
	StageFailed Stage = "failed"
)

// Validate checks if the Stage is a valid enum value.
func (s Stage) Validate() error {
	switch s {
	case StagePending, StageNamespaceCreated, StageFunded, StageArtifactInstalled,
		StageInitialized, StageConfirmed, StageFailed:
		return nil
	default:
		return fmt.Errorf("unknown pipeline stage: %q", s)
	}
}

// IsTerminal reports whether no further transition can follow s.
func (s Stage) IsTerminal() bool {
	return s == StageConfirmed || s == StageFailed
}

// StepStatus is the outcome of a single pipeline step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusSucceeded  StepStatus = "succeeded"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// StepRecord is the persisted history entry of one pipeline step.
type StepRecord struct {
	Name         string     `json:"name"`
	Status       StepStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	StartedAtMs  int64      `json:"started_at_ms,omitempty"`
	FinishedAtMs int64      `json:"finished_at_ms,omitempty"`
}

// PipelineRecord is the persisted state of one provisioning pipeline.
type PipelineRecord struct {
	ID          string       `json:"id"`        // UUID
	Owner       account.ID   `json:"owner_id"`  // Requesting principal
	MarketID    account.ID   `json:"market_id"` // Derived marketplace account
	Stage       Stage        `json:"stage"`     // Current lifecycle position
	FailedStep  string       `json:"failed_step,omitempty"`
	Error       string       `json:"error,omitempty"`
	Steps       []StepRecord `json:"steps"`
	CreatedAtMs int64        `json:"created_at_ms"`
	UpdatedAtMs int64        `json:"updated_at_ms"`
}

// Validate checks if the PipelineRecord has valid field values.
func (p *PipelineRecord) Validate() error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("invalid pipeline ID: not a valid UUID")
	}
	if err := p.Owner.Validate(); err != nil {
		return fmt.Errorf("invalid owner: %w", err)
	}
	if err := p.MarketID.Validate(); err != nil {
		return fmt.Errorf("invalid market ID: %w", err)
	}
	if err := p.Stage.Validate(); err != nil {
		return fmt.Errorf("invalid stage: %w", err)
	}
	return nil
}

// Clone returns a deep copy, safe to hand to other goroutines.
func (p *PipelineRecord) Clone() *PipelineRecord {
	c := *p
	c.Steps = append([]StepRecord(nil), p.Steps...)
	return &c
}
