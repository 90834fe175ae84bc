// Package pubsub provides the topic-name registry for the symbolication
// cache's event-driven plumbing (cache-manager, invalidation, monitoring).
// Each service still defines its own pubsub.Topic[T] and event struct next
// to the code that publishes/consumes it; this package exists so the topic
// name string itself is declared once and can't drift between publisher and
// subscriber when they live in different packages.
//
// Design Notes:
//   - Topics are defined as constants to avoid typos and enable compile-time checks
//   - No direct Encore dependencies to keep pkg/ reusable across services
package pubsub

// Topic name constants for Encore Pub/Sub integration.
// These should be used as the name argument to pubsub.NewTopic[T] in
// service code, not redeclared as string literals.
const (
	// TopicCacheInvalidate is published when cache entries need invalidation.
	// Event type: invalidation.InvalidationEvent
	// Publishers: invalidation service
	// Subscribers: cache-manager instances
	TopicCacheInvalidate = "cache-invalidate"

	// TopicCacheRefresh is published when cache entries should be refreshed.
	// Event type: cachemanager.RefreshEvent
	// Publishers: warming service (lazy-refresh scheduler)
	// Subscribers: cache-manager instances
	TopicCacheRefresh = "cache-refresh"

	// TopicCacheWarmCompleted is published when a speculative refresh completes.
	// Event type: monitoring.WarmCompletedEvent
	// Publishers: warming service
	// Subscribers: monitoring service
	TopicCacheWarmCompleted = "cache-warm-completed"

	// TopicCacheMetrics carries per-operation cache-manager metrics.
	// Event type: monitoring.CacheMetricEvent
	// Publishers: cache-manager
	// Subscribers: monitoring service
	TopicCacheMetrics = "cache-metrics"

	// TopicInvalidationMetrics carries invalidation-service metrics.
	// Event type: monitoring.InvalidationMetricEvent
	// Publishers: invalidation service
	// Subscribers: monitoring service
	TopicInvalidationMetrics = "invalidation-metrics"

	// TopicSymbolicationJobs carries per-job completion metrics from the
	// request service's admission-controlled executor.
	// Event type: monitoring.SymbolicationJobEvent
	// Publishers: requestsvc
	// Subscribers: monitoring service
	TopicSymbolicationJobs = "symbolication-jobs"
)

// AllTopics returns all defined topic names.
// Useful for validation, testing, and administrative tools.
func AllTopics() []string {
	return []string{
		TopicCacheInvalidate,
		TopicCacheRefresh,
		TopicCacheWarmCompleted,
		TopicCacheMetrics,
		TopicInvalidationMetrics,
		TopicSymbolicationJobs,
	}
}

// IsValidTopic checks if the given topic name is recognized.
func IsValidTopic(topic string) bool {
	for _, t := range AllTopics() {
		if t == topic {
			return true
		}
	}
	return false
}

// TopicMetadata provides descriptive information about topics.
type TopicMetadata struct {
	Name        string
	Description string
	EventType   string
}

// GetTopicMetadata returns metadata for all topics.
// Useful for documentation generation and admin UIs.
func GetTopicMetadata() []TopicMetadata {
	return []TopicMetadata{
		{
			Name:        TopicCacheInvalidate,
			Description: "Cache invalidation events for key or pattern-based clearing",
			EventType:   "InvalidationEvent",
		},
		{
			Name:        TopicCacheRefresh,
			Description: "Cache refresh events to reload specific entries",
			EventType:   "RefreshEvent",
		},
		{
			Name:        TopicCacheWarmCompleted,
			Description: "Cache warming completion notifications with status",
			EventType:   "WarmCompletedEvent",
		},
		{
			Name:        TopicCacheMetrics,
			Description: "Per-operation cache-manager metrics",
			EventType:   "CacheMetricEvent",
		},
		{
			Name:        TopicInvalidationMetrics,
			Description: "Invalidation-service metrics",
			EventType:   "InvalidationMetricEvent",
		},
		{
			Name:        TopicSymbolicationJobs,
			Description: "Per-job completion metrics from the request service",
			EventType:   "SymbolicationJobEvent",
		},
	}
}