// Package lookup resolves abbreviated pipeline IDs typed on the command line.
package lookup

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/bazaar/pkg/registry"
	"github.com/google/uuid"
)

// MinShortIDLength is the shortest prefix accepted for a pipeline ID.
const MinShortIDLength = 6

// maxListed caps how many candidates an ambiguity message prints.
const maxListed = 10

// PipelineSource is the part of the registry client the resolver needs.
type PipelineSource interface {
	GetPipeline(ctx context.Context, pipelineID string) (*registry.PipelineRecord, error)
	ScanPipelines(ctx context.Context, prefix string) ([]string, error)
}

// ResolvePipelineID expands a pipeline ID prefix to the full UUID.
// A full UUID is checked for existence and returned unchanged.
func ResolvePipelineID(ctx context.Context, src PipelineSource, shortID string) (string, error) {
	shortID = strings.ToLower(strings.TrimSpace(shortID))

	if _, err := uuid.Parse(shortID); err == nil && len(shortID) == 36 {
		if _, err := src.GetPipeline(ctx, shortID); err != nil {
			if registry.IsNotFound(err) {
				return "", &NotFoundError{ShortID: shortID}
			}
			return "", fmt.Errorf("failed to verify pipeline existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := src.ScanPipelines(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to search for pipeline: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError means no pipeline matched.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no pipelines found matching '%s'", e.ShortID)
}

// AmbiguousError means more than one pipeline matched.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d pipelines", e.ShortID, len(e.Matches))
}

// Candidates lists the matches for display, truncated with a trailing
// "...and N more" line.
func (e *AmbiguousError) Candidates() []string {
	if len(e.Matches) <= maxListed {
		return append([]string(nil), e.Matches...)
	}
	out := append([]string(nil), e.Matches[:maxListed]...)
	return append(out, fmt.Sprintf("...and %d more", len(e.Matches)-maxListed))
}
