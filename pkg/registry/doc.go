// Package registry provides the durable ownership registry for Bazaar and the
// Redis schema shared by every Bazaar component.
//
// # Overview
//
// The registry maps an owner account to the set of marketplace accounts it
// owns. It is the single source of truth for "what is provisioned and
// confirmed": a marketplace appears in its owner's set only after the full
// provisioning pipeline has succeeded and the confirmation resolver has
// committed it. Membership is binary; there is no pending state.
//
// The registry is append-only. Sets are created lazily on first commit and
// are never removed or rewritten. A marketplace ID is committed to at most
// one owner, ever.
//
// Alongside ownership the package stores the bookkeeping that makes
// provisioning observable: pipeline records (published on a Pub/Sub channel
// on every save) and the orphan log of marketplaces whose pipelines failed
// after creating their account.
//
// # Usage Example
//
//	client, err := registry.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	set, err := client.GetOrCreate(ctx, "alice.near")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(set.Members())
//
// # Redis Schema
//
// All keys follow the pattern: bazaar:{instance_name}:{entity}[:{id}]
//
// Owners: bazaar:{instance_name}:owners (SET of owner IDs)
// Owner markets: bazaar:{instance_name}:owner:{sha256(owner)}:markets (SET)
// Market index: bazaar:{instance_name}:market_owner (HASH market → owner)
// Orphans: bazaar:{instance_name}:orphans (HASH market → JSON)
// Pipelines: bazaar:{instance_name}:pipeline:{uuid} (HASH)
// Pipeline index: bazaar:{instance_name}:pipelines (ZSET scored by creation ms)
//
// Pub/Sub channel: bazaar:{instance_name}:pipeline_events
package registry
