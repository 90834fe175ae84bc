package cachemanager

import (
	"context"
	"time"

	"encore.dev/pubsub"

	"github.com/getsentry/symbolicator-go/cachefs"
	"github.com/getsentry/symbolicator-go/invalidation"
	topicnames "github.com/getsentry/symbolicator-go/pkg/pubsub"
)

// RefreshEvent represents a speculative-refresh result broadcast by the
// lazy-refresh scheduler, to populate peer instances' L1 memo without each
// of them independently re-reading the disk tier.
type RefreshEvent struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	TTL       int       `json:"ttl"` // seconds
	Timestamp time.Time `json:"timestamp"`
	Priority  string    `json:"priority"` // "critical", "high", "normal"
}

// CacheRefreshTopic carries RefreshEvents from the lazy-refresh scheduler to
// every cache-manager instance.
var CacheRefreshTopic = pubsub.NewTopic[*RefreshEvent](
	topicnames.TopicCacheRefresh,
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// Subscribe to cache invalidation events from other instances, so L1 stays
// consistent even though the disk tier is shared.
var _ = pubsub.NewSubscription(
	invalidation.CacheInvalidateTopic,
	"cache-manager-invalidate",
	pubsub.SubscriptionConfig[*invalidation.InvalidationEvent]{
		Handler: HandleInvalidateEvent,
	},
)

// HandleInvalidateEvent evicts locally any key (or pattern) invalidated
// elsewhere.
func HandleInvalidateEvent(ctx context.Context, event *invalidation.InvalidationEvent) error {
	if svc == nil {
		return nil
	}

	for _, key := range event.MatchedKeys {
		svc.l1Cache.Delete(key)
		svc.metrics.Deletes.Add(1)
	}

	if event.Pattern != "" {
		deleted := svc.l1Cache.DeletePattern(event.Pattern)
		svc.metrics.Deletes.Add(int64(deleted))
	}

	return nil
}

// Subscribe to refresh events published by the lazy-refresh scheduler.
var _ = pubsub.NewSubscription(
	CacheRefreshTopic,
	"cache-manager-refresh",
	pubsub.SubscriptionConfig[*RefreshEvent]{
		Handler: HandleRefreshEvent,
	},
)

// HandleRefreshEvent proactively populates L1 (and write-through the disk
// tier) with a value a background refresh already fetched, so the next
// poller on any instance doesn't pay the refresh cost itself.
func HandleRefreshEvent(ctx context.Context, event *RefreshEvent) error {
	if svc == nil {
		return nil
	}

	ttl := time.Duration(event.TTL) * time.Second
	if ttl <= 0 {
		ttl = svc.config.DefaultTTL
	}

	svc.l1Cache.Set(event.Key, event.Value, ttl)

	if svc.diskCache != nil {
		if _, err := svc.diskCache.Store(event.Key, cachefs.Entry{Data: event.Value}); err != nil {
			svc.metrics.DiskErrors.Add(1)
		}
	}

	return nil
}

// PublishInvalidation broadcasts an invalidation event after a local
// Invalidate call, so peer instances evict their own L1 copies.
func (s *Service) PublishInvalidation(ctx context.Context, keys []string, pattern string) error {
	event := &invalidation.InvalidationEvent{
		Pattern:     pattern,
		MatchedKeys: keys,
		TriggeredBy: "cache_manager",
		Timestamp:   time.Now(),
	}
	_, err := invalidation.CacheInvalidateTopic.Publish(ctx, event)
	return err
}

// PublishRefresh broadcasts a value the lazy-refresh scheduler just
// recomputed, so every instance's L1 gets it without re-fetching.
func (s *Service) PublishRefresh(ctx context.Context, key string, value []byte, ttl int) error {
	event := &RefreshEvent{
		Key:       key,
		Value:     value,
		TTL:       ttl,
		Timestamp: time.Now(),
		Priority:  "normal",
	}
	_, err := CacheRefreshTopic.Publish(ctx, event)
	return err
}
