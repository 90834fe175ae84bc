// Package cachemanager layers a small in-memory memo (L1) in front of the
// on-disk cachefs tier (L2) and an origin fetcher (download/compute), so
// that repeatedly-polled hot DIF cache keys don't pay a stat+mmap round
// trip on every lookup within their freshness window.
//
// Design Choices:
//   - L1 uses sync.RWMutex-protected map for predictable performance and
//     memory efficiency. sync.Map was considered but RWMutex gives better
//     control over eviction and TTL cleanup.
//   - On a disk hit, L1's TTL for the entry is the disk tier's own
//     ExpirationTime.Duration(), falling back to Config.DefaultTTL when that
//     is zero. Values fetched from the origin use Config.DefaultTTL, and
//     values written through Set use the request's TTL or DefaultTTL.
//   - Request coalescing via the local RequestCoalescer prevents duplicate
//     disk reads or origin fetches when many pollers race on the same
//     cold key.
//   - Cross-instance consistency is handled by invalidation/'s broadcast:
//     this service only ever needs to evict its own L1, since the disk
//     tier is the real source of truth and is shared by every instance
//     mounting the same cache_dir.
//
// Performance Characteristics:
//   - L1 Get: O(1) average, sub-microsecond for hot keys
//   - L1 Set: O(1) with LRU update, ~1-2μs overhead
//   - Eviction: O(1) via doubly-linked list
//   - Bottlenecks: disk tier mmap/stat (~1-50μs), origin fetch (network)
package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/getsentry/symbolicator-go/cachefs"
	"github.com/getsentry/symbolicator-go/internal/config"
	"github.com/getsentry/symbolicator-go/invalidation"
	"github.com/getsentry/symbolicator-go/monitoring"
	"github.com/getsentry/symbolicator-go/pkg/middleware"
)

// Service layers an L1 memo cache in front of a DiskCache (cachefs) and an
// OriginFetcher (download/compute on a miss).
//encore:service
type Service struct {
	l1Cache     *L1Cache
	diskCache   DiskCache
	originFetch OriginFetcher
	coalescer   *RequestCoalescer
	policy      *PolicyEngine
	metrics     *Metrics
	config      Config
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// Config holds runtime configuration for the cache manager.
type Config struct {
	L1MaxEntries    int           // Maximum L1 entries before eviction
	DefaultTTL      time.Duration // TTL used when the disk tier has no opinion
	CleanupInterval time.Duration // How often to run TTL cleanup
}

// DiskCache abstracts the on-disk cachefs tier. *cachefs.Cache satisfies
// this directly; tests substitute a fake.
type DiskCache interface {
	Open(key string) (cachefs.Entry, cachefs.ExpirationTime, bool, error)
	Store(key string, entry cachefs.Entry) (cachefs.ExpirationTime, error)
	Remove(key string) error
}

// OriginFetcher is called when both L1 and the disk tier miss, to fetch
// from the true source (a download or a derived computation).
type OriginFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Metrics tracks cache performance counters.
type Metrics struct {
	Hits       atomic.Int64
	Misses     atomic.Int64
	Sets       atomic.Int64
	Deletes    atomic.Int64
	Evictions  atomic.Int64
	DiskHits   atomic.Int64
	DiskMisses atomic.Int64
	DiskErrors atomic.Int64
}

// Request and response types for API endpoints.

type GetRequest struct {
	Key string `json:"key"`
}

type GetResponse struct {
	Value     []byte     `json:"value"`
	Hit       bool       `json:"hit"`
	Source    string     `json:"source"` // "l1", "disk", "origin"
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type SetRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	TTL   int    `json:"ttl"` // seconds, 0 means default
}

type SetResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at"`
}

type InvalidateRequest struct {
	Keys    []string `json:"keys,omitempty"`
	Pattern string   `json:"pattern,omitempty"` // e.g., "objects:*"
}

type InvalidateResponse struct {
	Invalidated int  `json:"invalidated"`
	Success     bool `json:"success"`
}

type MetricsResponse struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	Sets       int64   `json:"sets"`
	Deletes    int64   `json:"deletes"`
	Evictions  int64   `json:"evictions"`
	L1Size     int     `json:"l1_size"`
	DiskHits   int64   `json:"disk_hits"`
	DiskMisses int64   `json:"disk_misses"`
	DiskErrors int64   `json:"disk_errors"`
}

var (
	// Global service instance (initialized by initService)
	svc  *Service
	once sync.Once
)

// initService initializes the cache manager service with default configuration.
// Called automatically by Encore at startup.
func initService() (*Service, error) {
	var err error
	once.Do(func() {
		l1Config := Config{
			L1MaxEntries:    10000,
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: 1 * time.Minute,
		}

		svc = &Service{
			l1Cache:     NewL1Cache(l1Config.L1MaxEntries),
			diskCache:   nil, // wired below when cache_dir is configured
			originFetch: nil, // must be set via SetOriginFetcher
			coalescer:   NewRequestCoalescer(),
			policy:      DefaultPolicyEngine(),
			metrics:     &Metrics{},
			config:      l1Config,
			stopChan:    make(chan struct{}),
		}

		if disk, diskErr := newConfiguredDiskCache(); diskErr != nil {
			err = diskErr
		} else if disk != nil {
			svc.diskCache = disk
		}

		svc.wg.Add(1)
		go svc.runTTLCleanup()
	})

	return svc, err
}

// newConfiguredDiskCache loads the shared top-level Config (§6) and, when it
// names a cache_dir, constructs the real on-disk cachefs tier this service
// layers L1 in front of. A missing SYMBOLICATOR_CONFIG_PATH, or a Config
// with no cache_dir, leaves the disk tier disabled (nil) rather than erroring
// - per §4.C, an absent cache_dir means the cache is disabled, not broken.
func newConfiguredDiskCache() (DiskCache, error) {
	path := os.Getenv("SYMBOLICATOR_CONFIG_PATH")
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("cache-manager: load config: %w", err)
		}
		cfg = *loaded
	}

	if cfg.CacheDir == "" {
		return nil, nil
	}

	cacheCfg := cfg.Caches.Objects.ToCachefsConfig(cachefs.KindDownloaded)
	disk, err := cachefs.NewCache(cachefs.CacheObjects, cfg.CacheDir, cfg.TmpDir, cacheCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("cache-manager: construct disk cache: %w", err)
	}
	return disk, nil
}

// SetDiskCache injects the on-disk cachefs tier this instance reads through.
func (s *Service) SetDiskCache(disk DiskCache) {
	s.diskCache = disk
}

// SetOriginFetcher injects the origin data source (download/compute) used
// on a full cache miss.
func (s *Service) SetOriginFetcher(fetcher OriginFetcher) {
	s.originFetch = fetcher
}

// Get retrieves a value, reading through L1 -> disk -> origin in order.
//encore:api public method=GET path=/api/cache/:key
func Get(ctx context.Context, key string) (*GetResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.Get(ctx, key)
}

func (s *Service) Get(ctx context.Context, key string) (*GetResponse, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}

	start := time.Now()

	if entry, ok := s.l1Cache.Get(key); ok {
		s.metrics.Hits.Add(1)
		s.policy.RecordAccess(key)
		s.publishMetric(ctx, "get", key, true, time.Since(start))
		return &GetResponse{
			Value:     entry.Value,
			Hit:       true,
			Source:    "l1",
			ExpiresAt: &entry.ExpiresAt,
		}, nil
	}

	result, err := s.coalescer.Do(key, func() (interface{}, error) {
		return s.fetchWithFallback(ctx, key)
	})

	if err != nil {
		s.metrics.Misses.Add(1)
		s.publishMetric(ctx, "get", key, false, time.Since(start))
		return &GetResponse{Hit: false}, err
	}

	// An L1 miss served by the disk tier or the origin still counts as a miss.
	s.metrics.Misses.Add(1)
	entry := result.(*CacheEntry)
	s.publishMetric(ctx, "get", key, true, time.Since(start))
	return &GetResponse{
		Value:     entry.Value,
		Hit:       true,
		Source:    entry.Source,
		ExpiresAt: &entry.ExpiresAt,
	}, nil
}

// publishMetric broadcasts a best-effort metric event to monitoring/; a
// publish failure never fails the caller's cache operation.
func (s *Service) publishMetric(ctx context.Context, op, key string, hit bool, latency time.Duration) {
	_, _ = monitoring.CacheMetricsTopic.Publish(ctx, &monitoring.CacheMetricEvent{
		Operation: op,
		Key:       key,
		Hit:       hit,
		Latency:   float64(latency.Microseconds()) / 1000.0,
		Timestamp: time.Now(),
		Instance:  "cache-manager",
	})
}

// fetchWithFallback attempts the disk tier, then origin, populating L1 (and
// the disk tier, on an origin hit) as it goes.
func (s *Service) fetchWithFallback(ctx context.Context, key string) (*CacheEntry, error) {
	if s.diskCache != nil {
		entry, expiry, ok, err := s.diskCache.Open(key)
		if err != nil {
			// Cache I/O errors are "miss + log", not fatal (§4.C/§7): fall
			// through to the origin fetch rather than failing the request.
			s.metrics.DiskErrors.Add(1)
			middleware.Logger.Warn("disk cache open failed", zap.String("key", key), zap.Error(err))
		}
		if ok && entry.OK() {
			ttl := expiry.Duration()
			if ttl <= 0 {
				ttl = s.config.DefaultTTL
			}
			s.l1Cache.Set(key, entry.Data, ttl)
			s.metrics.DiskHits.Add(1)
			return &CacheEntry{
				Value:     entry.Data,
				CachedAt:  time.Now(),
				ExpiresAt: time.Now().Add(ttl),
				Source:    "disk",
			}, nil
		}
		if err == nil {
			s.metrics.DiskMisses.Add(1)
		}
	}

	if s.originFetch == nil {
		return nil, errors.New("cache miss and no origin fetcher configured")
	}

	value, err := s.originFetch.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("origin fetch failed: %w", err)
	}

	ttl := s.config.DefaultTTL
	s.l1Cache.Set(key, value, ttl)

	if s.diskCache != nil {
		if _, err := s.diskCache.Store(key, cachefs.Entry{Data: value}); err != nil {
			s.metrics.DiskErrors.Add(1)
		}
	}

	return &CacheEntry{
		Value:     value,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
		Source:    "origin",
	}, nil
}

// Set stores a value in L1 and write-through to the disk tier.
//encore:api public method=PUT path=/api/cache/:key
func Set(ctx context.Context, key string, req *SetRequest) (*SetResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.Set(ctx, key, req)
}

func (s *Service) Set(ctx context.Context, key string, req *SetRequest) (*SetResponse, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	if req.Value == nil {
		return nil, errors.New("value cannot be nil")
	}

	ttl := s.config.DefaultTTL
	if req.TTL > 0 {
		ttl = time.Duration(req.TTL) * time.Second
	}
	expiresAt := time.Now().Add(ttl)

	s.l1Cache.Set(key, req.Value, ttl)
	s.policy.RecordSet(key, req.Value, ttl)
	s.metrics.Sets.Add(1)

	if s.diskCache != nil {
		if _, err := s.diskCache.Store(key, cachefs.Entry{Data: req.Value}); err != nil {
			s.metrics.DiskErrors.Add(1)
			// L1 already has the value; the disk tier will simply be
			// re-populated on its next miss.
		}
	}

	_, _ = monitoring.CacheMetricsTopic.Publish(ctx, &monitoring.CacheMetricEvent{
		Operation: "set",
		Key:       key,
		Size:      len(req.Value),
		Timestamp: time.Now(),
		Instance:  "cache-manager",
	})

	return &SetResponse{Success: true, ExpiresAt: expiresAt}, nil
}

// Invalidate removes keys from cache and publishes an invalidation event
// for other instances sharing the same disk tier's invalidation topic.
//encore:api public method=POST path=/api/cache/invalidate
func Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.Invalidate(ctx, req)
}

func (s *Service) Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	count := 0

	for _, key := range req.Keys {
		if s.l1Cache.Delete(key) {
			count++
		}
		if s.diskCache != nil {
			_ = s.diskCache.Remove(key)
		}
		s.metrics.Deletes.Add(1)
	}

	if req.Pattern != "" {
		deleted := s.l1Cache.DeletePattern(req.Pattern)
		count += deleted
		s.metrics.Deletes.Add(int64(deleted))
	}

	if count > 0 {
		event := &invalidation.InvalidationEvent{
			Pattern:     req.Pattern,
			MatchedKeys: req.Keys,
			TriggeredBy: "cache_manager",
			Timestamp:   time.Now(),
		}
		_, _ = invalidation.CacheInvalidateTopic.Publish(ctx, event)
	}

	return &InvalidateResponse{Invalidated: count, Success: true}, nil
}

// GetMetrics returns current cache performance metrics.
//encore:api public method=GET path=/api/cache/metrics
func GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetMetrics(ctx)
}

func (s *Service) GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	hits := s.metrics.Hits.Load()
	misses := s.metrics.Misses.Load()
	total := hits + misses

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return &MetricsResponse{
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
		Sets:       s.metrics.Sets.Load(),
		Deletes:    s.metrics.Deletes.Load(),
		Evictions:  s.metrics.Evictions.Load(),
		L1Size:     s.l1Cache.Size(),
		DiskHits:   s.metrics.DiskHits.Load(),
		DiskMisses: s.metrics.DiskMisses.Load(),
		DiskErrors: s.metrics.DiskErrors.Load(),
	}, nil
}

// runTTLCleanup periodically removes expired entries from L1.
func (s *Service) runTTLCleanup() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			evicted := s.l1Cache.CleanupExpired()
			s.metrics.Evictions.Add(int64(evicted))
		}
	}
}

// Shutdown gracefully stops the service.
func (s *Service) Shutdown() {
	close(s.stopChan)
	s.wg.Wait()
}
