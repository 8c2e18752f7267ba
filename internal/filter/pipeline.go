// Package filter selects pipeline records for the CLI list views.
package filter

import (
	"fmt"
	"path/filepath"

	"github.com/dyluth/bazaar/internal/timespec"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/registry"
)

// Criteria are ANDed together; a zero field matches everything.
type Criteria struct {
	Window     timespec.Range // Bounds on CreatedAtMs
	Stage      registry.Stage // Exact stage
	Owner      account.ID     // Exact requesting principal
	MarketGlob string         // Glob over the marketplace account, e.g. "shop*"
}

// Validate rejects unknown stages and malformed globs.
func (c *Criteria) Validate() error {
	if c.Stage != "" {
		if err := c.Stage.Validate(); err != nil {
			return err
		}
	}
	if c.Owner != "" {
		if err := c.Owner.Validate(); err != nil {
			return fmt.Errorf("invalid owner: %w", err)
		}
	}
	if c.MarketGlob != "" {
		if _, err := filepath.Match(c.MarketGlob, ""); err != nil {
			return fmt.Errorf("invalid market pattern %q: %w", c.MarketGlob, err)
		}
	}
	return nil
}

// Matches reports whether rec passes every criterion.
func (c *Criteria) Matches(rec *registry.PipelineRecord) bool {
	if !c.Window.Contains(rec.CreatedAtMs) {
		return false
	}
	if c.Stage != "" && rec.Stage != c.Stage {
		return false
	}
	if c.Owner != "" && rec.Owner != c.Owner {
		return false
	}
	if c.MarketGlob != "" {
		matched, err := filepath.Match(c.MarketGlob, rec.MarketID.String())
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// HasFilters reports whether any criterion is set.
func (c *Criteria) HasFilters() bool {
	return !c.Window.IsZero() || c.Stage != "" || c.Owner != "" || c.MarketGlob != ""
}

// Apply returns the matching records in their original order.
func (c *Criteria) Apply(records []*registry.PipelineRecord) []*registry.PipelineRecord {
	if !c.HasFilters() {
		return records
	}
	out := make([]*registry.PipelineRecord, 0, len(records))
	for _, rec := range records {
		if c.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}
