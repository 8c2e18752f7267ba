package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/bazaar/internal/report"
	"github.com/dyluth/bazaar/internal/watch"
	"github.com/spf13/cobra"
)

var watchMarket string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream pipeline stage changes",
	Long: `Stream pipeline stage changes as they are persisted, from any process
provisioning against the same instance. Stops on Ctrl-C.

Examples:
  bazaar watch
  bazaar watch --market shop.factory.near
  bazaar watch -o jsonl > pipelines.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchMarket, "market", "", "Only show events for this marketplace account")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, err := outputFormat()
	if err != nil {
		return err
	}

	client, err := connectRegistry(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	streamFormat := watch.OutputFormatDefault
	if format == report.OutputJSONL {
		streamFormat = watch.OutputFormatJSON
	}
	return watch.StreamPipelines(ctx, client, watchMarket, streamFormat, cmd.OutOrStdout())
}
