package registry

import (
	"fmt"

	"github.com/dyluth/bazaar/pkg/account"
)

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several Bazaar instances can share one Redis server.
//
// Key pattern: bazaar:{instance_name}:{entity}[:{id}]

// OwnersKey returns the Redis key for the set of owners with at least one market.
// Pattern: bazaar:{instance_name}:owners
func OwnersKey(instanceName string) string {
	return fmt.Sprintf("bazaar:%s:owners", instanceName)
}

// OwnerMarketsKey returns the Redis key for an owner's market set.
// The owner is hashed so that arbitrary account IDs map to bounded keys.
// Pattern: bazaar:{instance_name}:owner:{sha256(owner)}:markets
func OwnerMarketsKey(instanceName string, owner account.ID) string {
	return fmt.Sprintf("bazaar:%s:owner:%s:markets", instanceName, owner.Hash())
}

// MarketOwnerKey returns the Redis key for the market → owner index.
// Pattern: bazaar:{instance_name}:market_owner
func MarketOwnerKey(instanceName string) string {
	return fmt.Sprintf("bazaar:%s:market_owner", instanceName)
}

// OrphansKey returns the Redis key for the orphan log.
// Pattern: bazaar:{instance_name}:orphans
func OrphansKey(instanceName string) string {
	return fmt.Sprintf("bazaar:%s:orphans", instanceName)
}

// PipelineKey returns the Redis key for a pipeline record.
// Pattern: bazaar:{instance_name}:pipeline:{pipeline_id}
func PipelineKey(instanceName, pipelineID string) string {
	return fmt.Sprintf("bazaar:%s:pipeline:%s", instanceName, pipelineID)
}

// PipelinesIndexKey returns the Redis key for the pipeline index ZSET.
// Pattern: bazaar:{instance_name}:pipelines
func PipelinesIndexKey(instanceName string) string {
	return fmt.Sprintf("bazaar:%s:pipelines", instanceName)
}

// PipelineEventsChannel returns the Pub/Sub channel name for pipeline events.
// Pattern: bazaar:{instance_name}:pipeline_events
func PipelineEventsChannel(instanceName string) string {
	return fmt.Sprintf("bazaar:%s:pipeline_events", instanceName)
}
