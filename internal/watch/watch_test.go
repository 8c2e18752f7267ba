package watch

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/bazaar/pkg/registry"
	"github.com/google/uuid"
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

func record(id string, stage registry.Stage) *registry.PipelineRecord {
	return &registry.PipelineRecord{
		ID:          id,
		Owner:       "alice.near",
		MarketID:    "shop.factory.near",
		Stage:       stage,
		UpdatedAtMs: time.Now().UnixMilli(),
	}
}

func TestPollForTerminal(t *testing.T) {
	ctx := context.Background()

	t.Run("returns once terminal", func(t *testing.T) {
		client := setupClient(t)
		id := uuid.New().String()
		require.NoError(t, client.SavePipeline(ctx, record(id, registry.StageFunded)))

		go func() {
			time.Sleep(300 * time.Millisecond)
			_ = client.SavePipeline(ctx, record(id, registry.StageConfirmed))
		}()

		rec, err := PollForTerminal(ctx, client, id, 3*time.Second)
		require.NoError(t, err)
		assert.Equal(t, registry.StageConfirmed, rec.Stage)
	})

	t.Run("waits for a record that does not exist yet", func(t *testing.T) {
		client := setupClient(t)
		id := uuid.New().String()

		go func() {
			time.Sleep(300 * time.Millisecond)
			_ = client.SavePipeline(ctx, record(id, registry.StageFailed))
		}()

		rec, err := PollForTerminal(ctx, client, id, 3*time.Second)
		require.NoError(t, err)
		assert.Equal(t, registry.StageFailed, rec.Stage)
	})

	t.Run("times out", func(t *testing.T) {
		client := setupClient(t)
		id := uuid.New().String()
		require.NoError(t, client.SavePipeline(ctx, record(id, registry.StagePending)))

		_, err := PollForTerminal(ctx, client, id, 300*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout waiting for pipeline")
	})
}

// syncBuffer guards a buffer shared with the streaming goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStreamPipelines(t *testing.T) {
	client := setupClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- StreamPipelines(ctx, client, "", OutputFormatDefault, out)
	}()

	// Publish until the subscriber has attached and printed
	id := uuid.New().String()
	require.Eventually(t, func() bool {
		_ = client.SavePipeline(context.Background(), record(id, registry.StageConfirmed))
		return strings.Contains(out.String(), "confirmed")
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}

	assert.Contains(t, out.String(), id[:8])
	assert.Contains(t, out.String(), "shop.factory.near")
}

func TestFormatEvent(t *testing.T) {
	rec := record("5f0c2a34-8d1e-4c6b-9a7f-0e1d2c3b4a59", registry.StageFailed)
	rec.Error = "creation of marketplace has failed"

	line := FormatEvent(rec)
	assert.Contains(t, line, "❌ 5f0c2a34 shop.factory.near → failed")
	assert.Contains(t, line, "(creation of marketplace has failed)")

	rec.Stage = registry.StageArtifactInstalled
	assert.Contains(t, FormatEvent(rec), "⏳")
}
