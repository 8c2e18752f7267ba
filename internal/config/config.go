package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/dyluth/bazaar/internal/platform"
	"github.com/dyluth/bazaar/internal/tracing"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/market"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration when none is given.
const DefaultPath = "bazaar.yml"

// Defaults applied by Validate.
const (
	DefaultFactoryAccount   = "factory.near"
	DefaultInitialBalance   = "5N"
	DefaultNewMarketGasTgas = 100
	DefaultAddMarketGasTgas = 100
	DefaultWorkers          = 4
	DefaultCallGasTgas      = 5
	DefaultCallbackGasTgas  = 5
	DefaultRegistryCacheTTL = "30s"
)

// BazaarConfig represents the top-level bazaar.yml configuration
type BazaarConfig struct {
	Version  string          `yaml:"version"`
	Factory  *FactoryConfig  `yaml:"factory,omitempty"`
	Platform *PlatformConfig `yaml:"platform,omitempty"`
	Registry *RegistryConfig `yaml:"registry,omitempty"`
	Tracing  *tracing.Config `yaml:"tracing,omitempty"`
}

// FactoryConfig holds the fixed parameters of the marketplace factory
type FactoryConfig struct {
	AccountID           string  `yaml:"account_id"`                        // Factory account; marketplaces are its sub-accounts
	InitialBalance      string  `yaml:"initial_balance,omitempty"`         // Exact deposit required per marketplace, e.g. "5N"
	NewMarketGasTgas    *uint64 `yaml:"new_market_gas_tgas,omitempty"`     // Initializer budget
	AddNewMarketGasTgas *uint64 `yaml:"add_new_market_gas_tgas,omitempty"` // Confirmation budget
	Artifact            string  `yaml:"artifact,omitempty"`                // Path to a .wasm; empty uses the built-in artifact
	InitMethod          string  `yaml:"init_method,omitempty"`

	initialBalance *big.Int
}

// PlatformConfig tunes the in-process platform simulator
type PlatformConfig struct {
	Workers         int     `yaml:"workers,omitempty"`
	CallGasTgas     *uint64 `yaml:"call_gas_tgas,omitempty"`     // Minimum budget a function call needs
	CallbackGasTgas *uint64 `yaml:"callback_gas_tgas,omitempty"` // Minimum budget a continuation needs
}

// RegistryConfig tunes registry reads
type RegistryConfig struct {
	CacheTTL string `yaml:"cache_ttl,omitempty"` // Go duration; "0s" disables the ownership cache

	cacheTTL time.Duration
}

// Default returns a validated configuration with every default applied.
func Default() *BazaarConfig {
	cfg := &BazaarConfig{Version: "1.0"}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Validate performs strict validation and applies defaults for missing sections
func (c *BazaarConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Factory == nil {
		c.Factory = &FactoryConfig{}
	}
	if err := c.Factory.validate(); err != nil {
		return err
	}

	if c.Platform == nil {
		c.Platform = &PlatformConfig{}
	}
	if err := c.Platform.validate(); err != nil {
		return err
	}

	if c.Registry == nil {
		c.Registry = &RegistryConfig{}
	}
	if err := c.Registry.validate(); err != nil {
		return err
	}

	if c.Tracing == nil {
		def := tracing.DefaultConfig()
		c.Tracing = &def
	}
	if c.Tracing.Exporter != "" && c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "none" {
		return fmt.Errorf("tracing.exporter: invalid value %q (must be 'stdout' or 'none')", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate)
	}

	return nil
}

func (f *FactoryConfig) validate() error {
	if f.AccountID == "" {
		f.AccountID = DefaultFactoryAccount
	}
	if err := account.ID(f.AccountID).Validate(); err != nil {
		return fmt.Errorf("factory.account_id: %w", err)
	}

	if f.InitialBalance == "" {
		f.InitialBalance = DefaultInitialBalance
	}
	amount, err := platform.ParseAmount(f.InitialBalance)
	if err != nil {
		return fmt.Errorf("factory.initial_balance: %w", err)
	}
	if amount.Sign() == 0 {
		return fmt.Errorf("factory.initial_balance must be positive")
	}
	f.initialBalance = amount

	f.NewMarketGasTgas = defaultUint(f.NewMarketGasTgas, DefaultNewMarketGasTgas)
	f.AddNewMarketGasTgas = defaultUint(f.AddNewMarketGasTgas, DefaultAddMarketGasTgas)
	if *f.NewMarketGasTgas == 0 {
		return fmt.Errorf("factory.new_market_gas_tgas must be > 0")
	}
	if *f.AddNewMarketGasTgas == 0 {
		return fmt.Errorf("factory.add_new_market_gas_tgas must be > 0")
	}

	if f.Artifact != "" {
		if _, err := os.Stat(f.Artifact); os.IsNotExist(err) {
			return fmt.Errorf("factory.artifact does not exist: %s", f.Artifact)
		}
	}

	if f.InitMethod == "" {
		f.InitMethod = market.InitMethod
	}
	return nil
}

func (p *PlatformConfig) validate() error {
	if p.Workers == 0 {
		p.Workers = DefaultWorkers
	}
	if p.Workers < 1 {
		return fmt.Errorf("platform.workers must be >= 1, got %d", p.Workers)
	}
	p.CallGasTgas = defaultUint(p.CallGasTgas, DefaultCallGasTgas)
	p.CallbackGasTgas = defaultUint(p.CallbackGasTgas, DefaultCallbackGasTgas)
	return nil
}

func (r *RegistryConfig) validate() error {
	if r.CacheTTL == "" {
		r.CacheTTL = DefaultRegistryCacheTTL
	}
	ttl, err := time.ParseDuration(r.CacheTTL)
	if err != nil {
		return fmt.Errorf("registry.cache_ttl: %w", err)
	}
	if ttl < 0 {
		return fmt.Errorf("registry.cache_ttl must not be negative")
	}
	r.cacheTTL = ttl
	return nil
}

// InitialBalanceAmount returns the parsed initial balance. Valid only after
// Validate.
func (f *FactoryConfig) InitialBalanceAmount() *big.Int {
	return new(big.Int).Set(f.initialBalance)
}

// NewMarketGas returns the initializer budget.
func (f *FactoryConfig) NewMarketGas() platform.Gas {
	return platform.Gas(*f.NewMarketGasTgas) * platform.TGas
}

// AddNewMarketGas returns the confirmation budget.
func (f *FactoryConfig) AddNewMarketGas() platform.Gas {
	return platform.Gas(*f.AddNewMarketGasTgas) * platform.TGas
}

// SimulatorConfig converts the platform section for the simulator.
func (p *PlatformConfig) SimulatorConfig() platform.Config {
	return platform.Config{
		CallGasCost:     platform.Gas(*p.CallGasTgas) * platform.TGas,
		CallbackGasCost: platform.Gas(*p.CallbackGasTgas) * platform.TGas,
	}
}

// CacheTTLDuration returns the parsed cache TTL. Zero disables caching.
func (r *RegistryConfig) CacheTTLDuration() time.Duration {
	return r.cacheTTL
}

func defaultUint(v *uint64, def uint64) *uint64 {
	if v != nil {
		return v
	}
	return &def
}

// Load reads and validates bazaar.yml from the specified path
func Load(path string) (*BazaarConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config BazaarConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path when it exists. A missing file at the default
// path yields Default(); a missing explicit path is an error.
func LoadOrDefault(path string) (*BazaarConfig, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && path == DefaultPath {
		return Default(), nil
	}
	return Load(path)
}
