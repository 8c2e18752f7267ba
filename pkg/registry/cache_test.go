package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dyluth/bazaar/pkg/account"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingChecker struct {
	members map[string]bool
	calls   int
	err     error
}

func (c *countingChecker) Contains(ctx context.Context, owner, market account.ID) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.members[string(owner)+"/"+string(market)], nil
}

func TestCachedReader(t *testing.T) {
	ctx := context.Background()

	t.Run("caches positive answers", func(t *testing.T) {
		backing := &countingChecker{members: map[string]bool{"alice.near/shop.factory.near": true}}
		reader := NewCachedReader(backing, time.Minute, time.Minute)

		for i := 0; i < 3; i++ {
			ok, err := reader.Contains(ctx, "alice.near", "shop.factory.near")
			require.NoError(t, err)
			assert.True(t, ok)
		}
		assert.Equal(t, 1, backing.calls)
		assert.Equal(t, 1, reader.Len())
	})

	t.Run("never caches negative answers", func(t *testing.T) {
		backing := &countingChecker{members: map[string]bool{}}
		reader := NewCachedReader(backing, time.Minute, time.Minute)

		ok, err := reader.Contains(ctx, "alice.near", "shop.factory.near")
		require.NoError(t, err)
		assert.False(t, ok)

		backing.members["alice.near/shop.factory.near"] = true
		ok, err = reader.Contains(ctx, "alice.near", "shop.factory.near")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, backing.calls)
	})

	t.Run("propagates backing errors", func(t *testing.T) {
		backing := &countingChecker{err: errors.New("redis down")}
		reader := NewCachedReader(backing, time.Minute, time.Minute)

		_, err := reader.Contains(ctx, "alice.near", "shop.factory.near")
		assert.EqualError(t, err, "redis down")
		assert.Equal(t, 0, reader.Len())
	})

	t.Run("works over the redis client", func(t *testing.T) {
		client, _ := setupTestClient(t)
		reader := NewCachedReader(client, time.Minute, time.Minute)

		ok, err := reader.Contains(ctx, "alice.near", "shop.factory.near")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, client.Commit(ctx, "alice.near", "shop.factory.near"))
		ok, err = reader.Contains(ctx, "alice.near", "shop.factory.near")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
