package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dyluth/bazaar/pkg/account"
	"github.com/redis/go-redis/v9"
)

// commitScript atomically inserts a market into its owner's set.
// KEYS[1] owner markets set, KEYS[2] market → owner index, KEYS[3] owners set.
// ARGV[1] owner, ARGV[2] market.
// Returns 0 on insert, 1 if the owner already holds the market, 2 if another
// owner does. Nothing is written unless it returns 0.
var commitScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[2], ARGV[2])
if current then
  if current == ARGV[1] then
    return 1
  end
  return 2
end
if redis.call('SISMEMBER', KEYS[1], ARGV[2]) == 1 then
  return 1
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[1])
redis.call('SADD', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[1])
return 0
`)

const (
	commitInserted       = 0
	commitOwnedByOwner   = 1
	commitOwnedByAnother = 2
)

// Client provides instance-scoped Redis operations for the registry.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new registry client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// InstanceName returns the instance the client is scoped to.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// RedisClient exposes the underlying connection for components that share it
// (the platform simulator) and for tests.
func (c *Client) RedisClient() *redis.Client {
	return c.rdb
}

// GetOrCreate returns a snapshot of the owner's market set, or an empty set
// if the owner has none yet. It never writes: sets materialize on first commit.
func (c *Client) GetOrCreate(ctx context.Context, owner account.ID) (*MarketSet, error) {
	members, err := c.rdb.SMembers(ctx, OwnerMarketsKey(c.instanceName, owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read market set for %s: %w", owner, err)
	}
	return newMarketSet(owner, members), nil
}

// Contains reports whether market is committed to owner's set.
func (c *Client) Contains(ctx context.Context, owner, market account.ID) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, OwnerMarketsKey(c.instanceName, owner), string(market)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check market membership: %w", err)
	}
	return ok, nil
}

// Commit durably adds market to owner's set.
//
// The market must not already be registered, to this owner or any other.
// A violation returns an error wrapping both ErrInvariantViolation and
// ErrAlreadyOwned and leaves the registry untouched.
func (c *Client) Commit(ctx context.Context, owner, market account.ID) error {
	if err := owner.Validate(); err != nil {
		return fmt.Errorf("invalid owner: %w", err)
	}
	if err := market.Validate(); err != nil {
		return fmt.Errorf("invalid market ID: %w", err)
	}

	keys := []string{
		OwnerMarketsKey(c.instanceName, owner),
		MarketOwnerKey(c.instanceName),
		OwnersKey(c.instanceName),
	}
	code, err := commitScript.Run(ctx, c.rdb, keys, string(owner), string(market)).Int()
	if err != nil {
		return fmt.Errorf("failed to commit market to registry: %w", err)
	}

	switch code {
	case commitInserted:
		return nil
	case commitOwnedByOwner:
		return fmt.Errorf("%w: %w: %s already in %s's set", ErrInvariantViolation, ErrAlreadyOwned, market, owner)
	case commitOwnedByAnother:
		return fmt.Errorf("%w: %w: %s is owned by another account", ErrInvariantViolation, ErrAlreadyOwned, market)
	default:
		return fmt.Errorf("unexpected commit result %d", code)
	}
}

// OwnerOf returns the owner a market is committed to.
// Returns ("", redis.Nil) if the market is not registered.
func (c *Client) OwnerOf(ctx context.Context, market account.ID) (account.ID, error) {
	owner, err := c.rdb.HGet(ctx, MarketOwnerKey(c.instanceName), string(market)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("failed to look up market owner: %w", err)
	}
	return account.ID(owner), nil
}

// Owners lists every owner with at least one committed market, sorted.
func (c *Client) Owners(ctx context.Context) ([]account.ID, error) {
	members, err := c.rdb.SMembers(ctx, OwnersKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	sort.Strings(members)
	owners := make([]account.ID, len(members))
	for i, m := range members {
		owners[i] = account.ID(m)
	}
	return owners, nil
}

// RecordOrphan appends an orphan to the orphan log. Recording the same
// market twice keeps the first entry.
func (c *Client) RecordOrphan(ctx context.Context, o *Orphan) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal orphan: %w", err)
	}
	if err := c.rdb.HSetNX(ctx, OrphansKey(c.instanceName), string(o.MarketID), data).Err(); err != nil {
		return fmt.Errorf("failed to record orphan: %w", err)
	}
	return nil
}

// ListOrphans returns the orphan log ordered by recording time.
func (c *Client) ListOrphans(ctx context.Context) ([]*Orphan, error) {
	raw, err := c.rdb.HGetAll(ctx, OrphansKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read orphans: %w", err)
	}

	orphans := make([]*Orphan, 0, len(raw))
	for market, data := range raw {
		var o Orphan
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal orphan %s: %w", market, err)
		}
		orphans = append(orphans, &o)
	}

	sort.Slice(orphans, func(i, j int) bool {
		if orphans[i].RecordedAtMs == orphans[j].RecordedAtMs {
			return orphans[i].MarketID < orphans[j].MarketID
		}
		return orphans[i].RecordedAtMs < orphans[j].RecordedAtMs
	})
	return orphans, nil
}

// SavePipeline writes a pipeline record and publishes it on the pipeline
// events channel. The record is indexed by creation time on first save.
func (c *Client) SavePipeline(ctx context.Context, p *PipelineRecord) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline record: %w", err)
	}

	hash, err := PipelineToHash(p)
	if err != nil {
		return fmt.Errorf("failed to serialize pipeline: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, PipelineKey(c.instanceName, p.ID), hash)
		pipe.ZAddNX(ctx, PipelinesIndexKey(c.instanceName), redis.Z{
			Score:  float64(p.CreatedAtMs),
			Member: p.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write pipeline to Redis: %w", err)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline for event: %w", err)
	}
	if err := c.rdb.Publish(ctx, PipelineEventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish pipeline event: %w", err)
	}

	return nil
}

// GetPipeline retrieves a pipeline record by ID.
// Returns (nil, redis.Nil) if it doesn't exist.
func (c *Client) GetPipeline(ctx context.Context, pipelineID string) (*PipelineRecord, error) {
	hashData, err := c.rdb.HGetAll(ctx, PipelineKey(c.instanceName, pipelineID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	p, err := HashToPipeline(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize pipeline: %w", err)
	}
	return p, nil
}

// ListPipelineIDs returns pipeline IDs ordered oldest first.
func (c *Client) ListPipelineIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.ZRange(ctx, PipelinesIndexKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	return ids, nil
}

// ScanPipelines returns the IDs of all pipelines whose ID starts with prefix.
func (c *Client) ScanPipelines(ctx context.Context, prefix string) ([]string, error) {
	ids, err := c.ListPipelineIDs(ctx)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

// PipelineSubscription represents an active Pub/Sub subscription to pipeline events.
// Caller must call Close() when done to clean up resources.
type PipelineSubscription struct {
	events <-chan *PipelineRecord
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of pipeline events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *PipelineSubscription) Events() <-chan *PipelineRecord {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
func (s *PipelineSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer; safe to call twice.
func (s *PipelineSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribePipelineEvents subscribes to pipeline record saves for this instance.
// Delivery is at-most-once: a slow subscriber may miss events.
func (c *Client) SubscribePipelineEvents(ctx context.Context) (*PipelineSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, PipelineEventsChannel(c.instanceName))

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is lost
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to pipeline events: %w", err)
	}

	eventsChan := make(chan *PipelineRecord, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var record PipelineRecord
				if err := json.Unmarshal([]byte(msg.Payload), &record); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal pipeline event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &record:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &PipelineSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
