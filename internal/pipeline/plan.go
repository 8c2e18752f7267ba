// Package pipeline runs provisioning pipelines as an explicit state machine.
//
// A Plan is the ordered, inspectable list of platform steps for one
// marketplace. The Executor schedules each step as a discrete task, persists
// the stage reached after every step, and hands the single terminal Outcome to
// the confirmation continuation. Nothing in this package touches the ownership
// registry; only the continuation does.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/dyluth/bazaar/internal/platform"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/registry"
)

// ErrInvalidPlan is returned when a plan's steps do not form a valid stage
// sequence.
var ErrInvalidPlan = errors.New("invalid pipeline plan")

// Step is one platform action against the plan's target account.
type Step struct {
	Action  platform.Action
	Reaches registry.Stage // stage recorded once the step succeeds

	// Amount is the transfer value, or the attached deposit for a function call.
	Amount *big.Int

	Code   []byte // deploy_contract
	Method string // function_call
	Args   []byte // function_call
	Gas    platform.Gas
}

// Name identifies the step in records, spans and logs.
func (s Step) Name() string {
	return string(s.Action)
}

// Plan is the full provisioning sequence for one marketplace account.
type Plan struct {
	Target      account.ID
	Steps       []Step
	CallbackGas platform.Gas // budget for the confirmation continuation
}

// Provisioning describes the inputs of a standard provisioning plan.
type Provisioning struct {
	Target         account.ID
	InitialBalance *big.Int
	Code           []byte
	InitMethod     string
	InitArgs       []byte
	InitGas        platform.Gas
	CallbackGas    platform.Gas
}

// NewProvisioningPlan builds create → fund → install → initialize for p.
// The initializer is called with no attached deposit.
func NewProvisioningPlan(p Provisioning) *Plan {
	return &Plan{
		Target: p.Target,
		Steps: []Step{
			{Action: platform.ActionCreateAccount, Reaches: registry.StageNamespaceCreated},
			{Action: platform.ActionTransfer, Reaches: registry.StageFunded, Amount: new(big.Int).Set(p.InitialBalance)},
			{Action: platform.ActionDeployContract, Reaches: registry.StageArtifactInstalled, Code: p.Code},
			{
				Action:  platform.ActionFunctionCall,
				Reaches: registry.StageInitialized,
				Amount:  new(big.Int),
				Method:  p.InitMethod,
				Args:    p.InitArgs,
				Gas:     p.InitGas,
			},
		},
		CallbackGas: p.CallbackGas,
	}
}

// Validate checks the target and that the steps advance one stage at a time
// from pending to initialized.
func (p *Plan) Validate() error {
	if err := p.Target.Validate(); err != nil {
		return fmt.Errorf("%w: target: %v", ErrInvalidPlan, err)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidPlan)
	}

	stage := registry.StagePending
	for i, step := range p.Steps {
		if _, err := platform.ParseAction(string(step.Action)); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidPlan, i, err)
		}
		if !CanTransition(stage, step.Reaches) || step.Reaches.IsTerminal() {
			return fmt.Errorf("%w: step %d (%s) cannot move %s to %s", ErrInvalidPlan, i, step.Name(), stage, step.Reaches)
		}
		stage = step.Reaches
	}
	if !CanTransition(stage, registry.StageConfirmed) {
		return fmt.Errorf("%w: final stage %s cannot be confirmed", ErrInvalidPlan, stage)
	}
	return nil
}

// Stages returns the stages the plan passes through on success, ending in
// confirmed.
func (p *Plan) Stages() []registry.Stage {
	stages := make([]registry.Stage, 0, len(p.Steps)+1)
	for _, step := range p.Steps {
		stages = append(stages, step.Reaches)
	}
	return append(stages, registry.StageConfirmed)
}

// OutcomeStatus is the result of the pipeline as seen by the continuation.
type OutcomeStatus string

const (
	OutcomeInProgress OutcomeStatus = "in_progress"
	OutcomeSucceeded  OutcomeStatus = "succeeded"
	OutcomeFailed     OutcomeStatus = "failed"
)

// Outcome is one upstream result slot.
type Outcome struct {
	Status OutcomeStatus
	Step   string // failing step, empty on success
	Err    error
}

// Callback is what the platform hands the confirmation continuation.
type Callback struct {
	Predecessor account.ID // account that scheduled the continuation
	Owner       account.ID
	MarketID    account.ID
	PipelineID  string
	Results     []Outcome
}

// Resolver is the confirmation continuation of a pipeline.
type Resolver interface {
	Resolve(ctx context.Context, cb Callback) error
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, cb Callback) error

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, cb Callback) error {
	return f(ctx, cb)
}

// Platform is the subset of the execution platform the executor drives.
type Platform interface {
	CreateAccount(ctx context.Context, id account.ID) error
	Transfer(ctx context.Context, to account.ID, amount *big.Int) error
	DeployContract(ctx context.Context, id account.ID, code []byte) error
	FunctionCall(ctx context.Context, id account.ID, method string, args []byte, deposit *big.Int, gas platform.Gas) error
	CheckCallbackGas(gas platform.Gas) error
}

// Scheduler runs tasks asynchronously, each exactly once.
type Scheduler interface {
	Submit(task platform.Task) error
}

// Store persists pipeline records and the orphans a continuation that never
// ran leaves behind.
type Store interface {
	SavePipeline(ctx context.Context, p *registry.PipelineRecord) error
	RecordOrphan(ctx context.Context, o *registry.Orphan) error
}

// Failed-step names for the continuation, alongside the platform actions.
const (
	StepResolve = "resolve"
	StepCommit  = "commit"
)
