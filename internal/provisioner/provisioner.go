// Package provisioner accepts marketplace creation requests. It checks every
// precondition synchronously, then issues the provisioning pipeline and
// returns without waiting for it.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/dyluth/bazaar/internal/eventlog"
	"github.com/dyluth/bazaar/internal/pipeline"
	"github.com/dyluth/bazaar/internal/platform"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/market"
	"github.com/dyluth/bazaar/pkg/registry"
)

var (
	// ErrWrongDeposit is returned when the attached deposit is not exactly
	// the initial balance.
	ErrWrongDeposit = errors.New("attached deposit must equal the initial balance")

	// ErrInvalidPrefix is returned when the prefix cannot form a sub-account.
	ErrInvalidPrefix = errors.New("invalid marketplace prefix")

	// ErrDuplicate is returned when the caller already owns the derived
	// marketplace.
	ErrDuplicate = errors.New("marketplace already exists for this owner")

	// ErrInvalidCaller is returned when the caller is not a valid account.
	ErrInvalidCaller = errors.New("invalid caller account")
)

// DefaultInitialBalance is 5 whole units.
func DefaultInitialBalance() *big.Int {
	return new(big.Int).Mul(big.NewInt(5), platform.YoctoPerUnit)
}

const (
	// DefaultNewMarketGas bounds the remote initializer.
	DefaultNewMarketGas = 100 * platform.TGas

	// DefaultAddNewMarketGas bounds the confirmation continuation.
	DefaultAddNewMarketGas = 100 * platform.TGas
)

// Config holds the fixed parameters of the factory.
type Config struct {
	Factory         account.ID
	InitialBalance  *big.Int
	NewMarketGas    platform.Gas
	AddNewMarketGas platform.Gas
	InitMethod      string
	Code            []byte
}

// Validate checks that the factory can provision with cfg.
func (c *Config) Validate() error {
	if err := c.Factory.Validate(); err != nil {
		return fmt.Errorf("factory account: %w", err)
	}
	if c.InitialBalance == nil || c.InitialBalance.Sign() <= 0 {
		return fmt.Errorf("initial balance must be positive")
	}
	if c.NewMarketGas == 0 || c.AddNewMarketGas == 0 {
		return fmt.Errorf("gas budgets must be non-zero")
	}
	if c.InitMethod == "" {
		return fmt.Errorf("init method cannot be empty")
	}
	if len(c.Code) == 0 {
		return fmt.Errorf("marketplace artifact is empty")
	}
	return nil
}

// Launcher issues pipelines.
type Launcher interface {
	Launch(ctx context.Context, req pipeline.LaunchRequest) (*pipeline.Handle, error)
}

// Request is one marketplace creation call. Caller is the authenticated
// principal and becomes the owner.
type Request struct {
	Caller   account.ID
	Prefix   string
	Metadata market.Metadata
	Deposit  *big.Int
}

// Provisioner validates requests and issues provisioning pipelines.
type Provisioner struct {
	cfg       Config
	ownership registry.MembershipChecker
	launcher  Launcher
	resolver  pipeline.Resolver
	logger    *eventlog.Logger
}

// New creates a Provisioner. ownership answers the advisory duplicate check
// and may be cached; resolver is scheduled as every pipeline's continuation.
func New(cfg Config, ownership registry.MembershipChecker, launcher Launcher, resolver pipeline.Resolver, instanceName string) (*Provisioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provisioner config: %w", err)
	}
	cfg.InitialBalance = new(big.Int).Set(cfg.InitialBalance)

	return &Provisioner{
		cfg:       cfg,
		ownership: ownership,
		launcher:  launcher,
		resolver:  resolver,
		logger:    eventlog.New("provisioner", instanceName),
	}, nil
}

// Derive returns the marketplace account for prefix under this factory.
func (p *Provisioner) Derive(prefix string) (account.ID, error) {
	id, err := account.Sub(prefix, p.cfg.Factory)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
	}
	return id, nil
}

// Plan builds the provisioning plan for req without issuing it.
func (p *Provisioner) Plan(req Request) (*pipeline.Plan, error) {
	target, err := p.Derive(req.Prefix)
	if err != nil {
		return nil, err
	}

	args, err := market.EncodeInitArgs(market.InitArgs{
		OwnerID:             req.Caller.String(),
		MarketplaceMetadata: req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	return pipeline.NewProvisioningPlan(pipeline.Provisioning{
		Target:         target,
		InitialBalance: p.cfg.InitialBalance,
		Code:           p.cfg.Code,
		InitMethod:     p.cfg.InitMethod,
		InitArgs:       args,
		InitGas:        p.cfg.NewMarketGas,
		CallbackGas:    p.cfg.AddNewMarketGas,
	}), nil
}

// Provision checks preconditions and issues the pipeline. No external effect
// happens unless every check passes. The returned handle is pending; the
// registry changes only when the resolver confirms.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*pipeline.Handle, error) {
	if err := req.Caller.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCaller, err)
	}
	if err := req.Metadata.Validate(); err != nil {
		return nil, err
	}

	p.logger.Info("provision_requested", map[string]interface{}{
		"owner_id": req.Caller,
		"prefix":   req.Prefix,
		"spec":     req.Metadata.Spec,
	})

	if req.Deposit == nil || req.Deposit.Cmp(p.cfg.InitialBalance) != 0 {
		got := "none"
		if req.Deposit != nil {
			got = req.Deposit.String()
		}
		p.logger.Warn("deposit_rejected", map[string]interface{}{
			"owner_id": req.Caller,
			"deposit":  got,
			"required": p.cfg.InitialBalance.String(),
		})
		return nil, fmt.Errorf("%w: attached %s, required %s", ErrWrongDeposit, got, p.cfg.InitialBalance)
	}

	plan, err := p.Plan(req)
	if err != nil {
		return nil, err
	}

	// Advisory only; the resolver re-checks before committing.
	owned, err := p.ownership.Contains(ctx, req.Caller, plan.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing marketplaces: %w", err)
	}
	if owned {
		p.logger.Warn("duplicate_rejected", map[string]interface{}{
			"owner_id":  req.Caller,
			"market_id": plan.Target,
		})
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, plan.Target)
	}

	handle, err := p.launcher.Launch(ctx, pipeline.LaunchRequest{
		Owner:    req.Caller,
		Plan:     plan,
		Resolver: p.resolver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue pipeline: %w", err)
	}

	p.logger.Info("provision_issued", map[string]interface{}{
		"owner_id":    req.Caller,
		"market_id":   plan.Target,
		"pipeline_id": handle.ID(),
	})
	return handle, nil
}
