// Package watch follows pipelines from outside the process that runs them,
// by polling records or streaming the registry's pipeline event channel.
package watch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/bazaar/internal/report"
	"github.com/dyluth/bazaar/pkg/registry"
)

// OutputFormat selects how streamed events are rendered.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// pollInterval is how often PollForTerminal re-reads the record.
const pollInterval = 200 * time.Millisecond

// PipelineGetter reads one pipeline record.
type PipelineGetter interface {
	GetPipeline(ctx context.Context, pipelineID string) (*registry.PipelineRecord, error)
}

// PollForTerminal polls until the pipeline reaches confirmed or failed.
// Returns an error if timeout occurs first.
func PollForTerminal(ctx context.Context, src PipelineGetter, pipelineID string, timeout time.Duration) (*registry.PipelineRecord, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		record, err := src.GetPipeline(ctx, pipelineID)
		if err != nil && !registry.IsNotFound(err) {
			return nil, fmt.Errorf("failed to query pipeline: %w", err)
		}
		if err == nil && record.Stage.IsTerminal() {
			return record, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for pipeline %s after %v", pipelineID, timeout)
		case <-ticker.C:
		}
	}
}

// Subscriber opens a pipeline event subscription.
type Subscriber interface {
	SubscribePipelineEvents(ctx context.Context) (*registry.PipelineSubscription, error)
}

// StreamPipelines writes every pipeline event to w until ctx is done.
// Events for other markets are skipped when market is non-empty.
func StreamPipelines(ctx context.Context, sub Subscriber, market string, format OutputFormat, w io.Writer) error {
	subscription, err := sub.SubscribePipelineEvents(ctx)
	if err != nil {
		return err
	}
	defer subscription.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case record, ok := <-subscription.Events():
			if !ok {
				return nil
			}
			if market != "" && record.MarketID.String() != market {
				continue
			}
			if err := writeEvent(w, record, format); err != nil {
				return err
			}

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "⚠️  %v\n", err)
		}
	}
}

func writeEvent(w io.Writer, record *registry.PipelineRecord, format OutputFormat) error {
	if format == OutputFormatJSON {
		return report.WriteJSONLine(w, record)
	}
	_, err := fmt.Fprintln(w, FormatEvent(record))
	return err
}

// FormatEvent renders one record as a single human-readable line.
func FormatEvent(record *registry.PipelineRecord) string {
	ts := time.UnixMilli(record.UpdatedAtMs).Format("15:04:05")
	id := record.ID
	if len(id) > 8 {
		id = id[:8]
	}

	icon := "⏳"
	switch record.Stage {
	case registry.StageConfirmed:
		icon = "✅"
	case registry.StageFailed:
		icon = "❌"
	}

	line := fmt.Sprintf("[%s] %s %s %s → %s", ts, icon, id, record.MarketID, record.Stage)
	if record.Stage == registry.StageFailed && record.Error != "" {
		line += fmt.Sprintf(" (%s)", record.Error)
	}
	return line
}
