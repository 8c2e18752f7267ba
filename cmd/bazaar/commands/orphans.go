package commands

import (
	"context"

	"github.com/dyluth/bazaar/internal/report"
	"github.com/spf13/cobra"
)

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List marketplace accounts left behind by failed pipelines",
	Long: `List accounts that were created (and possibly funded and installed)
but never confirmed because a later pipeline step failed. Nothing reclaims
them; their prefixes cannot be reused.`,
	RunE: runOrphans,
}

func init() {
	rootCmd.AddCommand(orphansCmd)
}

func runOrphans(cmd *cobra.Command, args []string) error {
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

	orphans, err := client.ListOrphans(ctx)
	if err != nil {
		return err
	}

	if format == report.OutputJSONL {
		return report.FormatJSONL(cmd.OutOrStdout(), orphans)
	}
	report.FormatOrphans(cmd.OutOrStdout(), orphans)
	return nil
}
