package registry

import (
	"context"
	"time"

	"github.com/dyluth/bazaar/pkg/account"
	gocache "github.com/patrickmn/go-cache"
)

// MembershipChecker answers registry membership questions.
type MembershipChecker interface {
	Contains(ctx context.Context, owner, market account.ID) (bool, error)
}

// CachedReader serves membership checks through an in-memory cache.
//
// Only positive answers are cached. The registry is append-only, so a
// committed membership can never become false and a cached hit is never
// stale; misses always go to the backing checker. The TTL only bounds memory.
type CachedReader struct {
	backing MembershipChecker
	cache   *gocache.Cache
}

// NewCachedReader wraps backing with a positive-membership cache.
func NewCachedReader(backing MembershipChecker, ttl, cleanupInterval time.Duration) *CachedReader {
	return &CachedReader{
		backing: backing,
		cache:   gocache.New(ttl, cleanupInterval),
	}
}

// Contains implements MembershipChecker.
func (r *CachedReader) Contains(ctx context.Context, owner, market account.ID) (bool, error) {
	key := membershipCacheKey(owner, market)
	if _, found := r.cache.Get(key); found {
		return true, nil
	}

	ok, err := r.backing.Contains(ctx, owner, market)
	if err != nil {
		return false, err
	}
	if ok {
		r.cache.SetDefault(key, struct{}{})
	}
	return ok, nil
}

// Len returns the number of cached memberships.
func (r *CachedReader) Len() int {
	return r.cache.ItemCount()
}

func membershipCacheKey(owner, market account.ID) string {
	return owner.Hash() + ":" + string(market)
}
