package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/bazaar/internal/pipeline"
	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/registry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	factory = account.ID("factory.near")
	alice   = account.ID("alice.near")
	shop    = account.ID("shop.factory.near")
)

func setupResolver(t *testing.T) (*Resolver, *registry.Client) {
	mr := miniredis.RunT(t)
	client, err := registry.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return New(factory, client, "test-instance"), client
}

func callback(results ...pipeline.Outcome) pipeline.Callback {
	return pipeline.Callback{
		Predecessor: factory,
		Owner:       alice,
		MarketID:    shop,
		PipelineID:  "5f0c2a34-8d1e-4c6b-9a7f-0e1d2c3b4a59",
		Results:     results,
	}
}

func TestResolve_Success(t *testing.T) {
	r, client := setupResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Resolve(ctx, callback(pipeline.Outcome{Status: pipeline.OutcomeSucceeded})))

	set, err := client.GetOrCreate(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []account.ID{shop}, set.Members())

	owner, err := client.OwnerOf(ctx, shop)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)
}

func TestResolve_FailedResultLeavesRegistryUntouched(t *testing.T) {
	r, client := setupResolver(t)
	ctx := context.Background()
	cause := errors.New("initializer panicked")

	err := r.Resolve(ctx, callback(pipeline.Outcome{Status: pipeline.OutcomeFailed, Step: "function_call", Err: cause}))
	require.ErrorIs(t, err, ErrCreationFailed)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "creation of marketplace has failed")

	present, err := client.Contains(ctx, alice, shop)
	require.NoError(t, err)
	assert.False(t, present)

	orphans, err := client.ListOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, shop, orphans[0].MarketID)
	assert.Equal(t, "function_call", orphans[0].FailedStep)
	assert.Equal(t, "initializer panicked", orphans[0].Reason)
}

func TestResolve_DuplicateAtConfirmation(t *testing.T) {
	r, client := setupResolver(t)
	ctx := context.Background()
	require.NoError(t, client.Commit(ctx, alice, shop))

	err := r.Resolve(ctx, callback(pipeline.Outcome{Status: pipeline.OutcomeSucceeded}))
	require.ErrorIs(t, err, registry.ErrInvariantViolation)
	require.ErrorIs(t, err, ErrDuplicate)

	set, err := client.GetOrCreate(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}

func TestResolve_MarketHeldByAnotherOwner(t *testing.T) {
	r, client := setupResolver(t)
	ctx := context.Background()
	require.NoError(t, client.Commit(ctx, "bob.near", shop))

	err := r.Resolve(ctx, callback(pipeline.Outcome{Status: pipeline.OutcomeSucceeded}))
	require.ErrorIs(t, err, registry.ErrInvariantViolation)

	present, err := client.Contains(ctx, alice, shop)
	require.NoError(t, err)
	assert.False(t, present)

	orphans, err := client.ListOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans, "the account backs bob's marketplace")
}

func TestResolve_InvariantViolations(t *testing.T) {
	r, client := setupResolver(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		results []pipeline.Outcome
	}{
		{name: "no results"},
		{
			name: "two results",
			results: []pipeline.Outcome{
				{Status: pipeline.OutcomeSucceeded},
				{Status: pipeline.OutcomeSucceeded},
			},
		},
		{name: "in progress", results: []pipeline.Outcome{{Status: pipeline.OutcomeInProgress}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Resolve(ctx, callback(tt.results...))
			require.ErrorIs(t, err, registry.ErrInvariantViolation)
		})
	}

	owners, err := client.Owners(ctx)
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestResolve_PrivateCallback(t *testing.T) {
	r, client := setupResolver(t)
	ctx := context.Background()

	cb := callback(pipeline.Outcome{Status: pipeline.OutcomeSucceeded})
	cb.Predecessor = alice

	err := r.Resolve(ctx, cb)
	require.ErrorIs(t, err, ErrPrivateCallback)

	present, err := client.Contains(ctx, alice, shop)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestResolve_FailedNamespaceCreationIsNotAnOrphan(t *testing.T) {
	r, client := setupResolver(t)
	ctx := context.Background()

	err := r.Resolve(ctx, callback(pipeline.Outcome{
		Status: pipeline.OutcomeFailed,
		Step:   "create_account",
		Err:    errors.New("account already exists"),
	}))
	require.ErrorIs(t, err, ErrCreationFailed)

	orphans, err := client.ListOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

// flakyRegistry fails selected operations and keeps recorded orphans in memory.
type flakyRegistry struct {
	mu          sync.Mutex
	containsErr error
	commitErr   error
	orphanErr   error
	orphans     []*registry.Orphan
	commits     int
}

func (f *flakyRegistry) Contains(context.Context, account.ID, account.ID) (bool, error) {
	return false, f.containsErr
}

func (f *flakyRegistry) Commit(context.Context, account.ID, account.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits++
	return nil
}

func (f *flakyRegistry) RecordOrphan(_ context.Context, o *registry.Orphan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orphanErr != nil {
		return f.orphanErr
	}
	f.orphans = append(f.orphans, o)
	return nil
}

func TestResolve_RegistryFailureRecordsOrphan(t *testing.T) {
	connErr := errors.New("connection reset by peer")

	tests := []struct {
		name string
		reg  *flakyRegistry
	}{
		{name: "commit fails", reg: &flakyRegistry{commitErr: connErr}},
		{name: "re-check fails", reg: &flakyRegistry{containsErr: connErr}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(factory, tt.reg, "test-instance")

			err := r.Resolve(context.Background(), callback(pipeline.Outcome{Status: pipeline.OutcomeSucceeded}))
			require.ErrorIs(t, err, connErr)
			assert.Zero(t, tt.reg.commits)

			require.Len(t, tt.reg.orphans, 1)
			assert.Equal(t, shop, tt.reg.orphans[0].MarketID)
			assert.Equal(t, alice, tt.reg.orphans[0].Owner)
			assert.Equal(t, pipeline.StepCommit, tt.reg.orphans[0].FailedStep)
			assert.Contains(t, tt.reg.orphans[0].Reason, "connection reset by peer")
		})
	}
}

func TestResolve_OrphanRecordFailureIsReturned(t *testing.T) {
	recordErr := errors.New("READONLY replica")
	cause := errors.New("initializer panicked")

	t.Run("after a failed step", func(t *testing.T) {
		r := New(factory, &flakyRegistry{orphanErr: recordErr}, "test-instance")

		err := r.Resolve(context.Background(), callback(pipeline.Outcome{Status: pipeline.OutcomeFailed, Step: "function_call", Err: cause}))
		require.ErrorIs(t, err, ErrCreationFailed)
		require.ErrorIs(t, err, cause)
		require.ErrorIs(t, err, recordErr)
	})

	t.Run("after a failed commit", func(t *testing.T) {
		commitErr := errors.New("connection reset by peer")
		r := New(factory, &flakyRegistry{commitErr: commitErr, orphanErr: recordErr}, "test-instance")

		err := r.Resolve(context.Background(), callback(pipeline.Outcome{Status: pipeline.OutcomeSucceeded}))
		require.ErrorIs(t, err, commitErr)
		require.ErrorIs(t, err, recordErr)
	})
}
