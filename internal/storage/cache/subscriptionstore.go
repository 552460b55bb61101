package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-subscriber/pkg/registry"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get fills dest or returns ErrMiss.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedSubscriptionStore is a decorator that adds read-aside caching to any
// registry.SubscriptionStore.
type CachedSubscriptionStore struct {
	realStore registry.SubscriptionStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedSubscriptionStore(realStore registry.SubscriptionStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedSubscriptionStore {
	return &CachedSubscriptionStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "cached_subscription_store"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedSubscriptionStore) ListWeb(ctx context.Context, user urn.URN) ([]notification.WebPushSubscription, error) {
	key := s.cacheKey(user)

	var cached []notification.WebPushSubscription
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrMiss) {
		s.logger.Warn("Cache read failed, falling back to store", "key", key, "err", err)
	}

	fresh, err := s.realStore.ListWeb(ctx, user)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization: if Redis is down we still serve from the store.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Warn("Cache populate failed", "key", key, "err", err)
	}
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedSubscriptionStore) RegisterWeb(ctx context.Context, user urn.URN, sub notification.WebPushSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, user, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// UnregisterWeb clears the cache even though the DB write already succeeded,
// so a disabled device stops appearing immediately.
func (s *CachedSubscriptionStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, user, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedSubscriptionStore) invalidate(ctx context.Context, user urn.URN) error {
	if err := s.cache.Del(ctx, s.cacheKey(user)); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return nil
}

func (s *CachedSubscriptionStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("push:subscriptions:%s", user.String())
}
