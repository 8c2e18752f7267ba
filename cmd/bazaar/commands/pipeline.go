package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/bazaar/internal/filter"
	"github.com/dyluth/bazaar/internal/lookup"
	"github.com/dyluth/bazaar/internal/printer"
	"github.com/dyluth/bazaar/internal/report"
	"github.com/dyluth/bazaar/internal/timespec"
	"github.com/dyluth/bazaar/internal/watch"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/registry"
	"github.com/spf13/cobra"
)

var (
	pipelineWait    bool
	pipelineTimeout time.Duration
	pipelineSince   string
	pipelineUntil   string
	pipelineStage   string
	pipelineOwner   string
	pipelineMarket  string
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline [PIPELINE_ID]",
	Short: "Inspect provisioning pipelines",
	Long: `Inspect provisioning pipelines in list or get mode.

List Mode (no PIPELINE_ID):
  One row per pipeline, oldest first. Filters:
  --since, --until  - Created within the window (duration or RFC3339)
  --stage           - Exact stage, e.g. failed
  --owner           - Requesting account
  --market          - Glob over the marketplace account, e.g. 'shop*'

Get Mode (with PIPELINE_ID):
  Stage and step history of one pipeline. Accepts short IDs of at least
  6 characters.

Examples:
  bazaar pipeline
  bazaar pipeline --stage failed --since 1h
  bazaar pipeline 5f0c2a
  bazaar pipeline 5f0c2a --wait`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPipeline,
}

func init() {
	pipelineCmd.Flags().BoolVar(&pipelineWait, "wait", false, "In get mode, wait until the pipeline is confirmed or failed")
	pipelineCmd.Flags().DurationVar(&pipelineTimeout, "timeout", 30*time.Second, "Maximum time to wait with --wait")
	pipelineCmd.Flags().StringVar(&pipelineSince, "since", "", "List pipelines created after time (duration or RFC3339)")
	pipelineCmd.Flags().StringVar(&pipelineUntil, "until", "", "List pipelines created before time (duration or RFC3339)")
	pipelineCmd.Flags().StringVar(&pipelineStage, "stage", "", "List pipelines at this stage")
	pipelineCmd.Flags().StringVar(&pipelineOwner, "owner", "", "List pipelines requested by this account")
	pipelineCmd.Flags().StringVar(&pipelineMarket, "market", "", "List pipelines whose marketplace matches this glob")
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
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

	if len(args) == 0 {
		criteria, err := pipelineCriteria()
		if err != nil {
			return err
		}
		return listPipelines(ctx, cmd, client, format, criteria)
	}

	shortID := args[0]
	fullID, err := lookup.ResolvePipelineID(ctx, client, shortID)
	if err != nil {
		var notFound *lookup.NotFoundError
		var ambiguous *lookup.AmbiguousError
		switch {
		case errors.As(err, &notFound):
			return printer.Error(
				fmt.Sprintf("pipeline with ID '%s' not found", shortID),
				"No pipeline with that ID exists for this instance.",
				[]string{"List all pipelines:\n  bazaar pipeline"},
			)
		case errors.As(err, &ambiguous):
			return printer.Error(
				fmt.Sprintf("ambiguous short ID '%s'", shortID),
				fmt.Sprintf("Matches %d pipelines:\n  %s", len(ambiguous.Matches), strings.Join(ambiguous.Candidates(), "\n  ")),
				[]string{"Use a longer prefix to uniquely identify the pipeline."},
			)
		default:
			return printer.Error("invalid pipeline ID", err.Error(), nil)
		}
	}

	var record *registry.PipelineRecord
	if pipelineWait {
		record, err = watch.PollForTerminal(ctx, client, fullID, pipelineTimeout)
	} else {
		record, err = client.GetPipeline(ctx, fullID)
	}
	if err != nil {
		return fmt.Errorf("failed to read pipeline: %w", err)
	}

	if format == report.OutputJSONL {
		return report.WriteJSONLine(cmd.OutOrStdout(), record)
	}
	report.FormatPipelineDetail(cmd.OutOrStdout(), record)
	return nil
}

// pipelineCriteria builds the list-mode filter from the flags.
func pipelineCriteria() (*filter.Criteria, error) {
	window, err := timespec.ParseRange(pipelineSince, pipelineUntil, time.Now())
	if err != nil {
		return nil, printer.Error("invalid time range", err.Error(), []string{"Use a duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z'"})
	}

	criteria := &filter.Criteria{
		Window:     window,
		Stage:      registry.Stage(pipelineStage),
		Owner:      account.ID(pipelineOwner),
		MarketGlob: pipelineMarket,
	}
	if err := criteria.Validate(); err != nil {
		return nil, printer.Error("invalid filter", err.Error(), nil)
	}
	return criteria, nil
}

func listPipelines(ctx context.Context, cmd *cobra.Command, client *registry.Client, format string, criteria *filter.Criteria) error {
	ids, err := client.ListPipelineIDs(ctx)
	if err != nil {
		return err
	}

	records := make([]*registry.PipelineRecord, 0, len(ids))
	for _, id := range ids {
		record, err := client.GetPipeline(ctx, id)
		if err != nil {
			if registry.IsNotFound(err) {
				continue
			}
			return err
		}
		records = append(records, record)
	}
	records = criteria.Apply(records)

	if format == report.OutputJSONL {
		return report.FormatJSONL(cmd.OutOrStdout(), records)
	}
	report.FormatPipelineTable(cmd.OutOrStdout(), records, client.InstanceName())
	return nil
}
