package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Equal(t, "test-instance", client.InstanceName())
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestGetOrCreate(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("returns empty set without writing", func(t *testing.T) {
		set, err := client.GetOrCreate(ctx, "alice.near")
		require.NoError(t, err)
		assert.Equal(t, account.ID("alice.near"), set.Owner())
		assert.Equal(t, 0, set.Len())
		assert.False(t, mr.Exists(OwnerMarketsKey("test-instance", "alice.near")))
	})

	t.Run("returns committed markets", func(t *testing.T) {
		require.NoError(t, client.Commit(ctx, "alice.near", "shop.factory.near"))
		require.NoError(t, client.Commit(ctx, "alice.near", "arts.factory.near"))

		set, err := client.GetOrCreate(ctx, "alice.near")
		require.NoError(t, err)
		assert.Equal(t, []account.ID{"arts.factory.near", "shop.factory.near"}, set.Members())
		assert.True(t, set.Contains("shop.factory.near"))
	})
}

func TestCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("commits and indexes", func(t *testing.T) {
		client, _ := setupTestClient(t)

		require.NoError(t, client.Commit(ctx, "alice.near", "shop.factory.near"))

		ok, err := client.Contains(ctx, "alice.near", "shop.factory.near")
		require.NoError(t, err)
		assert.True(t, ok)

		owner, err := client.OwnerOf(ctx, "shop.factory.near")
		require.NoError(t, err)
		assert.Equal(t, account.ID("alice.near"), owner)

		owners, err := client.Owners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []account.ID{"alice.near"}, owners)
	})

	t.Run("duplicate for same owner is an invariant violation", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.Commit(ctx, "alice.near", "shop.factory.near"))

		err := client.Commit(ctx, "alice.near", "shop.factory.near")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvariantViolation)
		assert.ErrorIs(t, err, ErrAlreadyOwned)

		set, err := client.GetOrCreate(ctx, "alice.near")
		require.NoError(t, err)
		assert.Equal(t, 1, set.Len())
	})

	t.Run("market owned by another owner is rejected without writes", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.Commit(ctx, "alice.near", "shop.factory.near"))

		err := client.Commit(ctx, "bob.near", "shop.factory.near")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvariantViolation)
		assert.Contains(t, err.Error(), "owned by another account")

		ok, err := client.Contains(ctx, "bob.near", "shop.factory.near")
		require.NoError(t, err)
		assert.False(t, ok)

		owners, err := client.Owners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []account.ID{"alice.near"}, owners)
	})

	t.Run("rejects invalid IDs", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Error(t, client.Commit(ctx, "Alice", "shop.factory.near"))
		assert.Error(t, client.Commit(ctx, "alice.near", "shop..near"))
	})

	t.Run("concurrent commits land exactly once", func(t *testing.T) {
		client, _ := setupTestClient(t)

		var wg sync.WaitGroup
		results := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- client.Commit(ctx, "alice.near", "shop.factory.near")
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrInvariantViolation)
			}
		}
		assert.Equal(t, 1, succeeded)
	})
}

func TestOwnerOf_NotFound(t *testing.T) {
	client, _ := setupTestClient(t)
	_, err := client.OwnerOf(context.Background(), "ghost.factory.near")
	assert.True(t, IsNotFound(err))
}

func TestOrphans(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	orphans, err := client.ListOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	require.NoError(t, client.RecordOrphan(ctx, &Orphan{
		MarketID: "b.factory.near", Owner: "alice.near", FailedStep: "function_call", Reason: "boom", RecordedAtMs: 200,
	}))
	require.NoError(t, client.RecordOrphan(ctx, &Orphan{
		MarketID: "a.factory.near", Owner: "alice.near", FailedStep: "transfer", Reason: "no funds", RecordedAtMs: 100,
	}))
	// Second record for the same market keeps the first
	require.NoError(t, client.RecordOrphan(ctx, &Orphan{
		MarketID: "a.factory.near", Owner: "alice.near", FailedStep: "other", RecordedAtMs: 300,
	}))

	orphans, err = client.ListOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	assert.Equal(t, account.ID("a.factory.near"), orphans[0].MarketID)
	assert.Equal(t, "transfer", orphans[0].FailedStep)
	assert.Equal(t, account.ID("b.factory.near"), orphans[1].MarketID)
}

func newRecord(createdAtMs int64) *PipelineRecord {
	return &PipelineRecord{
		ID:          uuid.New().String(),
		Owner:       "alice.near",
		MarketID:    "shop.factory.near",
		Stage:       StagePending,
		CreatedAtMs: createdAtMs,
		UpdatedAtMs: createdAtMs,
	}
}

func TestPipelines(t *testing.T) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		client, _ := setupTestClient(t)
		record := newRecord(1000)
		record.Steps = []StepRecord{{Name: "create_account", Status: StepStatusSucceeded}}

		require.NoError(t, client.SavePipeline(ctx, record))

		got, err := client.GetPipeline(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, record.MarketID, got.MarketID)
		assert.Equal(t, StagePending, got.Stage)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, StepStatusSucceeded, got.Steps[0].Status)
	})

	t.Run("missing pipeline", func(t *testing.T) {
		client, _ := setupTestClient(t)
		_, err := client.GetPipeline(ctx, uuid.New().String())
		assert.True(t, IsNotFound(err))
	})

	t.Run("rejects invalid record", func(t *testing.T) {
		client, _ := setupTestClient(t)
		record := newRecord(1)
		record.Stage = "bogus"
		err := client.SavePipeline(ctx, record)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid pipeline record")
	})

	t.Run("index keeps creation order across updates", func(t *testing.T) {
		client, _ := setupTestClient(t)
		first := newRecord(100)
		second := newRecord(200)
		require.NoError(t, client.SavePipeline(ctx, second))
		require.NoError(t, client.SavePipeline(ctx, first))

		first.Stage = StageFunded
		first.UpdatedAtMs = 300
		require.NoError(t, client.SavePipeline(ctx, first))

		ids, err := client.ListPipelineIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{first.ID, second.ID}, ids)

		matches, err := client.ScanPipelines(ctx, first.ID[:8])
		require.NoError(t, err)
		assert.Contains(t, matches, first.ID)
	})
}

func TestSubscribePipelineEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.SubscribePipelineEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	record := newRecord(1)
	require.NoError(t, client.SavePipeline(ctx, record))

	select {
	case got := <-sub.Events():
		require.NotNil(t, got)
		assert.Equal(t, record.ID, got.ID)
		assert.Equal(t, StagePending, got.Stage)
	case <-ctx.Done():
		t.Fatal("timed out waiting for pipeline event")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}
