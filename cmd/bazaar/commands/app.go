package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dyluth/bazaar/internal/artifact"
	"github.com/dyluth/bazaar/internal/config"
	"github.com/dyluth/bazaar/internal/eventlog"
	"github.com/dyluth/bazaar/internal/instance"
	"github.com/dyluth/bazaar/internal/pipeline"
	"github.com/dyluth/bazaar/internal/platform"
	"github.com/dyluth/bazaar/internal/printer"
	"github.com/dyluth/bazaar/internal/provisioner"
	"github.com/dyluth/bazaar/internal/report"
	"github.com/dyluth/bazaar/internal/resolver"
	"github.com/dyluth/bazaar/internal/tracing"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/registry"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// outputFormat returns the validated --output value.
func outputFormat() (string, error) {
	format := viper.GetString(keyOutput)
	if err := report.ValidateOutput(format); err != nil {
		return "", printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", format),
			[]string{"Valid formats: default, jsonl"},
		)
	}
	return format, nil
}

// connectRegistry opens and pings the registry for the configured instance.
func connectRegistry(ctx context.Context) (*registry.Client, error) {
	redisURL := viper.GetString(keyRedisURL)
	instanceName := viper.GetString(keyInstance)

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			fmt.Sprintf("Could not parse '%s': %v", redisURL, err),
			[]string{"Use the form redis://host:port/db, e.g.:\n  bazaar --redis-url redis://localhost:6379 ..."},
		)
	}

	if err := instance.ValidateName(instanceName); err != nil {
		return nil, printer.Error(
			"invalid instance name",
			err.Error(),
			[]string{"Use lowercase letters, digits and inner hyphens:\n  bazaar --instance my-bazaar ..."},
		)
	}

	client, err := registry.NewClient(redisOpts, instanceName)
	if err != nil {
		return nil, printer.Error(
			"invalid instance name",
			err.Error(),
			nil,
		)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			map[string]string{"Instance": instanceName, "Error": err.Error()},
			[]string{
				"Start Redis locally:\n  docker run -d -p 6379:6379 redis:7",
				"Point at another server:\n  export REDIS_URL=redis://host:6379",
			},
		)
	}

	return client, nil
}

// app wires the factory for one CLI invocation.
type app struct {
	cfg         *config.BazaarConfig
	registry    *registry.Client
	simulator   *platform.Simulator
	scheduler   *platform.Scheduler
	tracing     *tracing.Provider
	provisioner *provisioner.Provisioner
}

func newApp(ctx context.Context) (*app, error) {
	configPath := viper.GetString(keyConfig)
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.Error(
			"failed to load configuration",
			err.Error(),
			[]string{"Check the file passed with --config (or BAZAAR_CONFIG)"},
		)
	}

	code, err := artifact.Load(cfg.Factory.Artifact)
	if err != nil {
		return nil, printer.Error(
			"invalid marketplace artifact",
			err.Error(),
			[]string{"Point factory.artifact at a compiled WebAssembly module, or remove it to use the built-in artifact"},
		)
	}

	client, err := connectRegistry(ctx)
	if err != nil {
		return nil, err
	}

	tp, err := tracing.NewProvider(*cfg.Tracing, os.Stderr)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	instanceName := client.InstanceName()
	factory := account.ID(cfg.Factory.AccountID)

	sim := platform.NewSimulator(client.RedisClient(), instanceName, cfg.Platform.SimulatorConfig())
	scheduler := platform.NewScheduler(cfg.Platform.Workers, instanceName)
	exec := pipeline.NewExecutor(sim, scheduler, client, factory, instanceName, pipeline.WithTracer(tp.Tracer()))
	res := resolver.New(factory, client, instanceName)

	var ownership registry.MembershipChecker = client
	if ttl := cfg.Registry.CacheTTLDuration(); ttl > 0 {
		ownership = registry.NewCachedReader(client, ttl, 2*ttl)
	}

	prov, err := provisioner.New(provisioner.Config{
		Factory:         factory,
		InitialBalance:  cfg.Factory.InitialBalanceAmount(),
		NewMarketGas:    cfg.Factory.NewMarketGas(),
		AddNewMarketGas: cfg.Factory.AddNewMarketGas(),
		InitMethod:      cfg.Factory.InitMethod,
		Code:            code,
	}, ownership, exec, res, instanceName)
	if err != nil {
		scheduler.Close()
		client.Close()
		return nil, err
	}

	return &app{
		cfg:         cfg,
		registry:    client,
		simulator:   sim,
		scheduler:   scheduler,
		tracing:     tp,
		provisioner: prov,
	}, nil
}

// Close drains in-flight pipelines, then releases resources. Pipelines are
// never abandoned: an issued pipeline finishes before the process exits.
// The returned error is a trace flush failure, already reported.
func (a *app) Close() error {
	a.scheduler.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := shutdownTracing(ctx, a.tracing)

	a.registry.Close()
	return err
}

// flusher is the part of the tracing provider Close needs.
type flusher interface {
	Shutdown(ctx context.Context) error
}

// shutdownTracing flushes buffered spans. A failure is reported but never
// fails the command: the pipeline outcome is already decided.
func shutdownTracing(ctx context.Context, tp flusher) error {
	if err := tp.Shutdown(ctx); err != nil {
		eventlog.New("cli", viper.GetString(keyInstance)).Error("trace_flush_failed", map[string]interface{}{
			"error": err.Error(),
		})
		if viper.GetString(keyOutput) != report.OutputJSONL {
			printer.Warning("Failed to flush traces: %v\n", err)
		}
		return fmt.Errorf("failed to flush traces: %w", err)
	}
	return nil
}
