package registry

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dyluth/bazaar/pkg/account"
)

// Serialization helpers for converting between Go structs and Redis hashes.
// Scalar fields map to individual hash fields; the step history is
// JSON-encoded into a single field.

// PipelineToHash converts a PipelineRecord to a Redis hash format.
func PipelineToHash(p *PipelineRecord) (map[string]interface{}, error) {
	steps := p.Steps
	if steps == nil {
		steps = []StepRecord{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal steps: %w", err)
	}

	return map[string]interface{}{
		"id":            p.ID,
		"owner_id":      string(p.Owner),
		"market_id":     string(p.MarketID),
		"stage":         string(p.Stage),
		"failed_step":   p.FailedStep,
		"error":         p.Error,
		"steps":         string(stepsJSON),
		"created_at_ms": p.CreatedAtMs,
		"updated_at_ms": p.UpdatedAtMs,
	}, nil
}

// HashToPipeline converts a Redis hash to a PipelineRecord.
func HashToPipeline(hash map[string]string) (*PipelineRecord, error) {
	var steps []StepRecord
	if stepsJSON := hash["steps"]; stepsJSON != "" {
		if err := json.Unmarshal([]byte(stepsJSON), &steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}
	if steps == nil {
		steps = []StepRecord{}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &PipelineRecord{
		ID:          hash["id"],
		Owner:       account.ID(hash["owner_id"]),
		MarketID:    account.ID(hash["market_id"]),
		Stage:       Stage(hash["stage"]),
		FailedStep:  hash["failed_step"],
		Error:       hash["error"],
		Steps:       steps,
		CreatedAtMs: createdAtMs,
		UpdatedAtMs: updatedAtMs,
	}, nil
}
