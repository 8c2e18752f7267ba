package commands

import (
	"context"

	"github.com/dyluth/bazaar/internal/printer"
	"github.com/dyluth/bazaar/internal/report"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/spf13/cobra"
)

var marketsOwner string

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List the confirmed marketplaces of an owner",
	Long: `List the marketplaces an owner holds. Only confirmed marketplaces are
listed; pipelines still in flight or failed never appear here.

Examples:
  bazaar markets --owner alice.near
  bazaar markets --owner alice.near -o jsonl`,
	RunE: runMarkets,
}

var ownersCmd = &cobra.Command{
	Use:   "owners",
	Short: "List every owner with at least one marketplace",
	RunE:  runOwners,
}

func init() {
	marketsCmd.Flags().StringVar(&marketsOwner, "owner", "", "Owner account (required)")
	_ = marketsCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(marketsCmd)
	rootCmd.AddCommand(ownersCmd)
}

func runMarkets(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := outputFormat()
	if err != nil {
		return err
	}

	owner, err := account.Parse(marketsOwner)
	if err != nil {
		return printer.Error("invalid owner", err.Error(), []string{"Use a valid account ID, e.g. --owner alice.near"})
	}

	client, err := connectRegistry(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	set, err := client.GetOrCreate(ctx, owner)
	if err != nil {
		return err
	}

	if format == report.OutputJSONL {
		return report.FormatJSONL(cmd.OutOrStdout(), set.Members())
	}
	report.FormatMarkets(cmd.OutOrStdout(), set)
	return nil
}

func runOwners(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := outputFormat()
	if err != nil {
		return err
	}

	client, err := connectRegistry(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	owners, err := client.Owners(ctx)
	if err != nil {
		return err
	}

	if format == report.OutputJSONL {
		return report.FormatJSONL(cmd.OutOrStdout(), owners)
	}
	report.FormatOwners(cmd.OutOrStdout(), owners)
	return nil
}
