// Package report renders registry contents for the CLI, either as aligned
// tables for humans or as JSONL for scripts.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/registry"
)

// Output formats accepted by --output.
const (
	OutputDefault = "default"
	OutputJSONL   = "jsonl"
)

// ValidateOutput rejects unknown --output values.
func ValidateOutput(format string) error {
	if format != OutputDefault && format != OutputJSONL {
		return fmt.Errorf("invalid output format '%s': must be 'default' or 'jsonl'", format)
	}
	return nil
}

// FormatPipelineTable writes one row per pipeline and returns the count.
func FormatPipelineTable(w io.Writer, pipelines []*registry.PipelineRecord, instanceName string) int {
	if len(pipelines) == 0 {
		fmt.Fprintf(w, "No pipelines found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Pipelines for instance '%s':\n\n", instanceName)
	fmt.Fprintf(w, "%-10s %-20s %-28s %-18s %-8s %s\n",
		"ID", "OWNER", "MARKET", "STAGE", "AGE", "FAILED STEP")
	fmt.Fprintf(w, "%-10s %-20s %-28s %-18s %-8s %s\n",
		"----------", "--------------------", "----------------------------", "------------------", "--------", "---------------")

	for _, p := range pipelines {
		fmt.Fprintf(w, "%-10s %-20s %-28s %-18s %-8s %s\n",
			formatID(p.ID),
			truncate(p.Owner.String(), 20),
			truncate(p.MarketID.String(), 28),
			p.Stage,
			formatAge(p.CreatedAtMs),
			dash(p.FailedStep),
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(pipelines), plural(len(pipelines), "pipeline"))
	return len(pipelines)
}

// FormatPipelineDetail writes a single pipeline with its step history.
func FormatPipelineDetail(w io.Writer, p *registry.PipelineRecord) {
	fmt.Fprintf(w, "Pipeline:  %s\n", p.ID)
	fmt.Fprintf(w, "Owner:     %s\n", p.Owner)
	fmt.Fprintf(w, "Market:    %s\n", p.MarketID)
	fmt.Fprintf(w, "Stage:     %s\n", p.Stage)
	if p.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", p.Error)
	}
	fmt.Fprintf(w, "Created:   %s\n", formatAge(p.CreatedAtMs))

	fmt.Fprintf(w, "\n%-3s %-16s %-12s %-9s %s\n", "#", "STEP", "STATUS", "DURATION", "ERROR")
	for i, s := range p.Steps {
		fmt.Fprintf(w, "%-3d %-16s %-12s %-9s %s\n",
			i+1, s.Name, s.Status, formatDuration(s.StartedAtMs, s.FinishedAtMs), dash(s.Error))
	}
}

// FormatMarkets writes the confirmed marketplaces of one owner.
func FormatMarkets(w io.Writer, set *registry.MarketSet) int {
	members := set.Members()
	if len(members) == 0 {
		fmt.Fprintf(w, "No marketplaces owned by '%s'\n", set.Owner())
		return 0
	}

	fmt.Fprintf(w, "Marketplaces owned by '%s':\n\n", set.Owner())
	for _, m := range members {
		fmt.Fprintf(w, "  %s\n", m)
	}
	fmt.Fprintf(w, "\n%d %s\n", len(members), plural(len(members), "marketplace"))
	return len(members)
}

// FormatOwners writes every owner with at least one confirmed marketplace.
func FormatOwners(w io.Writer, owners []account.ID) int {
	if len(owners) == 0 {
		fmt.Fprintln(w, "No owners registered")
		return 0
	}
	for _, o := range owners {
		fmt.Fprintln(w, o)
	}
	return len(owners)
}

// FormatOrphans writes the orphan log as a table.
func FormatOrphans(w io.Writer, orphans []*registry.Orphan) int {
	if len(orphans) == 0 {
		fmt.Fprintln(w, "No orphaned marketplaces")
		return 0
	}

	fmt.Fprintf(w, "%-28s %-20s %-10s %-16s %-8s %s\n", "MARKET", "OWNER", "PIPELINE", "FAILED STEP", "AGE", "REASON")
	for _, o := range orphans {
		fmt.Fprintf(w, "%-28s %-20s %-10s %-16s %-8s %s\n",
			truncate(o.MarketID.String(), 28),
			truncate(o.Owner.String(), 20),
			formatID(o.PipelineID),
			dash(o.FailedStep),
			formatAge(o.RecordedAtMs),
			truncate(o.Reason, 60),
		)
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(orphans), plural(len(orphans), "orphan"))
	return len(orphans)
}

// FormatJSONL writes each item as one compact JSON line.
func FormatJSONL[T any](w io.Writer, items []T) error {
	for _, item := range items {
		if err := WriteJSONLine(w, item); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSONLine writes v as a single JSON line.
func WriteJSONLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSONL output: %w", err)
	}
	return nil
}

// formatID truncates a UUID to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return dash(id)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return dash(s)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, noun string) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}

func formatDuration(startMs, endMs int64) string {
	if startMs == 0 || endMs == 0 || endMs < startMs {
		return "-"
	}
	return (time.Duration(endMs-startMs) * time.Millisecond).String()
}

// formatAge renders a millisecond timestamp relative to now.
func formatAge(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
