package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dyluth/bazaar/internal/platform"
	"github.com/dyluth/bazaar/internal/printer"
	"github.com/dyluth/bazaar/internal/provisioner"
	"github.com/dyluth/bazaar/internal/report"
	"github.com/dyluth/bazaar/internal/resolver"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/market"
	"github.com/dyluth/bazaar/pkg/registry"
	"github.com/spf13/cobra"
)

var (
	provisionOwner         string
	provisionPrefix        string
	provisionName          string
	provisionSymbol        string
	provisionSpec          string
	provisionIcon          string
	provisionBaseURI       string
	provisionReference     string
	provisionReferenceHash string
	provisionDeposit       string
	provisionFailStage     string
	provisionNoWait        bool
	provisionTimeout       time.Duration
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a new marketplace",
	Long: `Provision a marketplace at <prefix>.<factory account> owned by --owner.

The deposit must equal the factory's initial balance exactly. The pipeline
creates the account, funds it, installs the marketplace artifact and calls its
initializer. The marketplace is registered only once every step succeeds;
a failure after the account exists leaves an orphan (see 'bazaar orphans').

Examples:
  # Provision with the default deposit
  bazaar provision --owner alice.near --prefix shop --name "Alice's Shop" --symbol SHOP

  # Simulate an initializer failure
  bazaar provision --owner alice.near --prefix kiosk --name Kiosk --symbol KSK --fail-stage function_call

  # Machine-readable result
  bazaar provision --owner alice.near --prefix stall --name Stall --symbol STL -o jsonl`,
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().StringVar(&provisionOwner, "owner", "", "Requesting account; becomes the owner (required)")
	provisionCmd.Flags().StringVar(&provisionPrefix, "prefix", "", "Marketplace account prefix (required)")
	provisionCmd.Flags().StringVar(&provisionName, "name", "", "Marketplace display name (required)")
	provisionCmd.Flags().StringVar(&provisionSymbol, "symbol", "", "Marketplace symbol (required)")
	provisionCmd.Flags().StringVar(&provisionSpec, "spec", "nft-1.0.0", "Metadata spec version")
	provisionCmd.Flags().StringVar(&provisionIcon, "icon", "", "Icon data URL")
	provisionCmd.Flags().StringVar(&provisionBaseURI, "base-uri", "", "Base URI for off-chain content")
	provisionCmd.Flags().StringVar(&provisionReference, "reference", "", "URL of a JSON file with more info")
	provisionCmd.Flags().StringVar(&provisionReferenceHash, "reference-hash", "", "Hex SHA-256 of the reference JSON")
	provisionCmd.Flags().StringVar(&provisionDeposit, "deposit", "", "Attached deposit in yocto, or whole units with an N suffix (default: the initial balance)")
	provisionCmd.Flags().StringVar(&provisionFailStage, "fail-stage", "", "Inject a platform failure: create_account, transfer, deploy_contract or function_call")
	provisionCmd.Flags().BoolVar(&provisionNoWait, "no-wait", false, "Print the pipeline ID and return without reporting the outcome")
	provisionCmd.Flags().DurationVar(&provisionTimeout, "timeout", 30*time.Second, "How long to wait for the pipeline outcome")

	_ = provisionCmd.MarkFlagRequired("owner")
	_ = provisionCmd.MarkFlagRequired("prefix")
	_ = provisionCmd.MarkFlagRequired("name")
	_ = provisionCmd.MarkFlagRequired("symbol")

	rootCmd.AddCommand(provisionCmd)
}

func buildMetadata() (market.Metadata, error) {
	meta := market.Metadata{
		Spec:   provisionSpec,
		Name:   provisionName,
		Symbol: provisionSymbol,
	}
	if provisionIcon != "" {
		meta.Icon = &provisionIcon
	}
	if provisionBaseURI != "" {
		meta.BaseURI = &provisionBaseURI
	}
	if provisionReference != "" {
		meta.Reference = &provisionReference
	}
	if provisionReferenceHash != "" {
		hash, err := hex.DecodeString(provisionReferenceHash)
		if err != nil {
			return meta, fmt.Errorf("%w: reference_hash must be hex: %v", market.ErrInvalidMetadata, err)
		}
		meta.ReferenceHash = &hash
	}
	return meta, nil
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := outputFormat()
	if err != nil {
		return err
	}

	meta, err := buildMetadata()
	if err != nil {
		return printer.Error("invalid metadata", err.Error(), nil)
	}

	var faultAction platform.Action
	if provisionFailStage != "" {
		faultAction, err = platform.ParseAction(provisionFailStage)
		if err != nil {
			return printer.Error("invalid --fail-stage", err.Error(), nil)
		}
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	deposit := a.cfg.Factory.InitialBalanceAmount()
	if provisionDeposit != "" {
		deposit, err = platform.ParseAmount(provisionDeposit)
		if err != nil {
			return printer.Error("invalid deposit", err.Error(), []string{"Use yocto (e.g. 5000000000000000000000000) or whole units (e.g. 5N)"})
		}
	}

	if faultAction != "" {
		a.simulator.InjectFault(faultAction, nil)
	}

	handle, err := a.provisioner.Provision(ctx, provisioner.Request{
		Caller:   account.ID(provisionOwner),
		Prefix:   provisionPrefix,
		Metadata: meta,
		Deposit:  deposit,
	})
	if err != nil {
		return provisionError(err, deposit, a.cfg.Factory.InitialBalanceAmount())
	}

	if provisionNoWait {
		if format == report.OutputJSONL {
			return report.WriteJSONLine(cmd.OutOrStdout(), handle.Snapshot())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", handle.ID())
		return nil
	}

	if format == report.OutputDefault {
		printer.Step("Pipeline %s issued for %s\n", handle.ID(), handle.MarketID())
	}

	waitCtx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()
	record, waitErr := handle.Wait(waitCtx)

	if format == report.OutputJSONL {
		if err := report.WriteJSONLine(cmd.OutOrStdout(), record); err != nil {
			return err
		}
	} else {
		report.FormatPipelineDetail(cmd.OutOrStdout(), record)
		fmt.Fprintln(cmd.OutOrStdout())
	}

	if waitErr != nil {
		return pipelineError(waitErr, record)
	}

	if format == report.OutputDefault {
		printer.Success("Marketplace %s confirmed for %s\n", record.MarketID, record.Owner)
	}
	return nil
}

func provisionError(err error, deposit, required *big.Int) error {
	switch {
	case errors.Is(err, provisioner.ErrWrongDeposit):
		return printer.ErrorWithContext(
			"wrong deposit",
			"The attached deposit must equal the initial balance exactly. Nothing was created.",
			map[string]string{"Attached": deposit.String(), "Required": required.String()},
			[]string{"Omit --deposit to attach the required amount"},
		)
	case errors.Is(err, provisioner.ErrDuplicate):
		return printer.Error(
			"marketplace already exists",
			err.Error(),
			[]string{
				"Choose another prefix:\n  bazaar provision --prefix <other> ...",
				fmt.Sprintf("List your marketplaces:\n  bazaar markets --owner %s", provisionOwner),
			},
		)
	case errors.Is(err, provisioner.ErrInvalidPrefix):
		return printer.Error(
			"invalid prefix",
			err.Error(),
			[]string{"Use lowercase letters and digits, with '-' or '_' inside, e.g. --prefix my-shop"},
		)
	case errors.Is(err, provisioner.ErrInvalidCaller):
		return printer.Error("invalid owner", err.Error(), []string{"Use a valid account ID, e.g. --owner alice.near"})
	case errors.Is(err, market.ErrInvalidMetadata):
		return printer.Error("invalid metadata", err.Error(), nil)
	default:
		return fmt.Errorf("provisioning failed: %w", err)
	}
}

func pipelineError(err error, record *registry.PipelineRecord) error {
	details := map[string]string{
		"Pipeline": record.ID,
		"Market":   record.MarketID.String(),
		"Stage":    string(record.Stage),
	}
	if record.FailedStep != "" {
		details["Failed step"] = record.FailedStep
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return printer.ErrorWithContext(
			"timed out waiting for pipeline",
			"The pipeline is still running and will finish before this command exits.",
			details,
			[]string{fmt.Sprintf("Inspect it later:\n  bazaar pipeline %s", record.ID)},
		)
	case errors.Is(err, resolver.ErrCreationFailed):
		return printer.ErrorWithContext(
			"marketplace creation failed",
			err.Error(),
			details,
			[]string{
				"Retry with a different prefix:\n  bazaar provision --prefix <other> ...",
				"Inspect orphaned accounts:\n  bazaar orphans",
			},
		)
	default:
		return printer.ErrorWithContext("marketplace not confirmed", err.Error(), details, nil)
	}
}
