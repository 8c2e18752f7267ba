package lookup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/bazaar/pkg/registry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) *registry.Client {
	mr := miniredis.RunT(t)
	client, err := registry.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func savePipeline(t *testing.T, client *registry.Client, id string) {
	require.NoError(t, client.SavePipeline(context.Background(), &registry.PipelineRecord{
		ID:       id,
		Owner:    "alice.near",
		MarketID: "shop.factory.near",
		Stage:    registry.StagePending,
	}))
}

func TestResolvePipelineID(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	first := "abcdef12-0000-4000-8000-000000000001"
	second := "abcdef12-0000-4000-8000-000000000002"
	other := "99999999-0000-4000-8000-000000000003"
	savePipeline(t, client, first)
	savePipeline(t, client, second)
	savePipeline(t, client, other)

	t.Run("full UUID", func(t *testing.T) {
		id, err := ResolvePipelineID(ctx, client, first)
		require.NoError(t, err)
		assert.Equal(t, first, id)
	})

	t.Run("full UUID is case-insensitive", func(t *testing.T) {
		id, err := ResolvePipelineID(ctx, client, strings.ToUpper(other))
		require.NoError(t, err)
		assert.Equal(t, other, id)
	})

	t.Run("missing full UUID", func(t *testing.T) {
		_, err := ResolvePipelineID(ctx, client, "11111111-0000-4000-8000-000000000000")
		var nf *NotFoundError
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("unique prefix", func(t *testing.T) {
		id, err := ResolvePipelineID(ctx, client, "999999")
		require.NoError(t, err)
		assert.Equal(t, other, id)
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		_, err := ResolvePipelineID(ctx, client, "abcdef")
		var amb *AmbiguousError
		require.True(t, errors.As(err, &amb))
		assert.ElementsMatch(t, []string{first, second}, amb.Matches)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolvePipelineID(ctx, client, "abc")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 6 characters")
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolvePipelineID(ctx, client, "fedcba")
		var nf *NotFoundError
		assert.True(t, errors.As(err, &nf))
	})
}

func TestAmbiguousError_Candidates(t *testing.T) {
	matches := make([]string, 12)
	for i := range matches {
		matches[i] = strings.Repeat("a", i+1)
	}
	err := &AmbiguousError{ShortID: "aaaaaa", Matches: matches}

	got := err.Candidates()
	require.Len(t, got, 11)
	assert.Equal(t, "...and 2 more", got[10])
	assert.Contains(t, err.Error(), "matches 12 pipelines")
}
