package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getsentry/symbolicator-go/cachefs"
	"github.com/getsentry/symbolicator-go/invalidation"
)

// mockOriginFetcher simulates fetching from the true source (download or
// derived computation).
type mockOriginFetcher struct {
	mu     sync.Mutex
	data   map[string][]byte
	calls  int
	delay  time.Duration
	errors map[string]error
}

func newMockOriginFetcher() *mockOriginFetcher {
	return &mockOriginFetcher{
		data:   make(map[string][]byte),
		errors: make(map[string]error),
	}
}

func (m *mockOriginFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	err := m.errors[key]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	val, exists := m.data[key]
	m.mu.Unlock()

	if !exists {
		return nil, errors.New("not found")
	}

	return val, nil
}

func (m *mockOriginFetcher) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *mockOriginFetcher) SetError(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[key] = err
}

func (m *mockOriginFetcher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockOriginFetcher) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = 0
}

// mockDiskCache simulates the cachefs disk tier without touching the
// filesystem.
type mockDiskCache struct {
	mu    sync.RWMutex
	data  map[string]cachefs.Entry
	calls map[string]int
}

func newMockDiskCache() *mockDiskCache {
	return &mockDiskCache{
		data:  make(map[string]cachefs.Entry),
		calls: make(map[string]int),
	}
}

func (m *mockDiskCache) Open(key string) (cachefs.Entry, cachefs.ExpirationTime, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.calls["open"]++
	entry, ok := m.data[key]
	return entry, cachefs.TouchIn(time.Hour), ok, nil
}

func (m *mockDiskCache) Store(key string, entry cachefs.Entry) (cachefs.ExpirationTime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["store"]++
	m.data[key] = entry
	return cachefs.TouchIn(time.Hour), nil
}

func (m *mockDiskCache) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["remove"]++
	delete(m.data, key)
	return nil
}

func (m *mockDiskCache) CallCount(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// setupTestService creates a service instance with mocks for testing.
func setupTestService() (*Service, *mockOriginFetcher, *mockDiskCache) {
	config := Config{
		L1MaxEntries:    100,
		DefaultTTL:      1 * time.Hour,
		CleanupInterval: 100 * time.Millisecond,
	}

	mockOrigin := newMockOriginFetcher()
	mockDisk := newMockDiskCache()

	svc := &Service{
		l1Cache:     NewL1Cache(config.L1MaxEntries),
		diskCache:   mockDisk,
		originFetch: mockOrigin,
		coalescer:   NewRequestCoalescer(),
		policy:      DefaultPolicyEngine(),
		metrics:     &Metrics{},
		config:      config,
		stopChan:    make(chan struct{}),
	}

	return svc, mockOrigin, mockDisk
}

func TestL1Cache_BasicOperations(t *testing.T) {
	cache := NewL1Cache(100)

	cache.Set("key1", []byte("value1"), 1*time.Hour)
	entry, ok := cache.Get("key1")
	if !ok || string(entry.Value) != "value1" {
		t.Errorf("Expected value1, got %v, ok=%v", entry, ok)
	}

	_, ok = cache.Get("nonexistent")
	if ok {
		t.Error("Expected false for non-existent key")
	}

	if !cache.Delete("key1") {
		t.Error("Expected successful delete")
	}
	_, ok = cache.Get("key1")
	if ok {
		t.Error("Key should be deleted")
	}
}

func TestL1Cache_TTLExpiration(t *testing.T) {
	cache := NewL1Cache(100)

	cache.Set("key1", []byte("value1"), 50*time.Millisecond)

	_, ok := cache.Get("key1")
	if !ok {
		t.Error("Key should exist immediately after set")
	}

	time.Sleep(100 * time.Millisecond)

	_, ok = cache.Get("key1")
	if ok {
		t.Error("Key should be expired")
	}
}

func TestL1Cache_LRUEviction(t *testing.T) {
	cache := NewL1Cache(3)

	cache.Set("key1", []byte("value1"), 1*time.Hour)
	cache.Set("key2", []byte("value2"), 1*time.Hour)
	cache.Set("key3", []byte("value3"), 1*time.Hour)

	cache.Get("key1")

	cache.Set("key4", []byte("value4"), 1*time.Hour)

	if _, ok := cache.Get("key1"); !ok {
		t.Error("key1 should still exist")
	}
	if _, ok := cache.Get("key3"); !ok {
		t.Error("key3 should still exist")
	}
	if _, ok := cache.Get("key2"); ok {
		t.Error("key2 should be evicted")
	}
}

func TestL1Cache_PatternDelete(t *testing.T) {
	cache := NewL1Cache(100)

	cache.Set("user:1:profile", []byte("profile1"), 1*time.Hour)
	cache.Set("user:1:settings", []byte("settings1"), 1*time.Hour)
	cache.Set("user:2:profile", []byte("profile2"), 1*time.Hour)
	cache.Set("product:1", []byte("product1"), 1*time.Hour)

	deleted := cache.DeletePattern("user:1:*")
	if deleted != 2 {
		t.Errorf("Expected 2 deletions, got %d", deleted)
	}

	if _, ok := cache.Get("user:1:profile"); ok {
		t.Error("user:1:profile should be deleted")
	}
	if _, ok := cache.Get("user:1:settings"); ok {
		t.Error("user:1:settings should be deleted")
	}
	if _, ok := cache.Get("user:2:profile"); !ok {
		t.Error("user:2:profile should still exist")
	}
	if _, ok := cache.Get("product:1"); !ok {
		t.Error("product:1 should still exist")
	}
}

func TestL1Cache_CleanupExpired(t *testing.T) {
	cache := NewL1Cache(100)

	cache.Set("key1", []byte("value1"), 50*time.Millisecond)
	cache.Set("key2", []byte("value2"), 200*time.Millisecond)
	cache.Set("key3", []byte("value3"), 1*time.Hour)

	time.Sleep(100 * time.Millisecond)

	evicted := cache.CleanupExpired()
	if evicted != 1 {
		t.Errorf("Expected 1 eviction, got %d", evicted)
	}

	if _, ok := cache.Get("key1"); ok {
		t.Error("key1 should be expired")
	}
	if _, ok := cache.Get("key2"); !ok {
		t.Error("key2 should still exist")
	}
	if _, ok := cache.Get("key3"); !ok {
		t.Error("key3 should still exist")
	}
}

func TestService_Get_L1Hit(t *testing.T) {
	svc, _, _ := setupTestService()

	svc.l1Cache.Set("key1", []byte("value1"), 1*time.Hour)

	resp, err := svc.Get(context.Background(), "key1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !resp.Hit || resp.Source != "l1" || string(resp.Value) != "value1" {
		t.Errorf("Expected L1 hit with value1, got %+v", resp)
	}

	if svc.metrics.Hits.Load() != 1 {
		t.Errorf("Expected 1 hit, got %d", svc.metrics.Hits.Load())
	}
}

func TestService_Get_DiskHit(t *testing.T) {
	svc, mockOrigin, mockDisk := setupTestService()

	mockDisk.Store("key1", cachefs.Entry{Data: []byte("disk_value")})

	resp, err := svc.Get(context.Background(), "key1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !resp.Hit || resp.Source != "disk" || string(resp.Value) != "disk_value" {
		t.Errorf("Expected disk hit with disk_value, got %+v", resp)
	}
	if mockOrigin.CallCount() != 0 {
		t.Error("Origin should not be called when the disk tier hits")
	}
}

func TestService_Get_OriginFetch(t *testing.T) {
	svc, mockOrigin, _ := setupTestService()

	mockOrigin.Set("key1", []byte("origin_value"))

	resp, err := svc.Get(context.Background(), "key1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !resp.Hit || resp.Source != "origin" || string(resp.Value) != "origin_value" {
		t.Errorf("Expected origin fetch with origin_value, got %+v", resp)
	}

	if mockOrigin.CallCount() != 1 {
		t.Errorf("Expected 1 origin call, got %d", mockOrigin.CallCount())
	}

	mockOrigin.ResetCalls()
	resp2, _ := svc.Get(context.Background(), "key1")
	if resp2.Source != "l1" {
		t.Errorf("Expected L1 hit on second call, got %s", resp2.Source)
	}
	if mockOrigin.CallCount() != 0 {
		t.Error("Origin should not be called on L1 hit")
	}
}

func TestService_Set(t *testing.T) {
	svc, _, mockDisk := setupTestService()

	req := &SetRequest{
		Key:   "key1",
		Value: []byte("value1"),
		TTL:   3600,
	}

	resp, err := svc.Set(context.Background(), "key1", req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !resp.Success {
		t.Error("Expected successful set")
	}

	entry, ok := svc.l1Cache.Get("key1")
	if !ok || string(entry.Value) != "value1" {
		t.Errorf("L1 should contain value1, got %v", entry)
	}

	if mockDisk.CallCount("store") == 0 {
		t.Error("disk tier Store should be called")
	}

	if svc.metrics.Sets.Load() != 1 {
		t.Errorf("Expected 1 set, got %d", svc.metrics.Sets.Load())
	}
}

func TestService_Invalidate_Keys(t *testing.T) {
	svc, _, mockDisk := setupTestService()

	svc.l1Cache.Set("key1", []byte("value1"), 1*time.Hour)
	svc.l1Cache.Set("key2", []byte("value2"), 1*time.Hour)

	req := &InvalidateRequest{
		Keys: []string{"key1"},
	}

	resp, err := svc.Invalidate(context.Background(), req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.Invalidated != 1 || !resp.Success {
		t.Errorf("Expected 1 invalidation, got %+v", resp)
	}

	if _, ok := svc.l1Cache.Get("key1"); ok {
		t.Error("key1 should be deleted")
	}
	if _, ok := svc.l1Cache.Get("key2"); !ok {
		t.Error("key2 should still exist")
	}

	if mockDisk.CallCount("remove") == 0 {
		t.Error("disk tier Remove should be called")
	}
}

func TestService_Invalidate_Pattern(t *testing.T) {
	svc, _, _ := setupTestService()

	svc.l1Cache.Set("user:1:profile", []byte("profile1"), 1*time.Hour)
	svc.l1Cache.Set("user:1:settings", []byte("settings1"), 1*time.Hour)
	svc.l1Cache.Set("user:2:profile", []byte("profile2"), 1*time.Hour)

	req := &InvalidateRequest{
		Pattern: "user:1:*",
	}

	resp, err := svc.Invalidate(context.Background(), req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.Invalidated != 2 {
		t.Errorf("Expected 2 invalidations, got %d", resp.Invalidated)
	}

	if _, ok := svc.l1Cache.Get("user:1:profile"); ok {
		t.Error("user:1:profile should be deleted")
	}
	if _, ok := svc.l1Cache.Get("user:2:profile"); !ok {
		t.Error("user:2:profile should still exist")
	}
}

func TestService_Metrics(t *testing.T) {
	svc, mockOrigin, _ := setupTestService()

	mockOrigin.Set("key1", []byte("value1"))

	svc.Get(context.Background(), "key1") // miss + origin
	svc.Get(context.Background(), "key1") // hit
	svc.Set(context.Background(), "key2", &SetRequest{Key: "key2", Value: []byte("value2")})
	svc.Invalidate(context.Background(), &InvalidateRequest{Keys: []string{"key1"}})

	resp, err := svc.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", resp.Hits)
	}
	if resp.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", resp.Misses)
	}
	if resp.Sets != 1 {
		t.Errorf("Expected 1 set, got %d", resp.Sets)
	}
	if resp.Deletes != 1 {
		t.Errorf("Expected 1 delete, got %d", resp.Deletes)
	}

	expectedHitRate := 0.5
	if resp.HitRate != expectedHitRate {
		t.Errorf("Expected hit rate %.2f, got %.2f", expectedHitRate, resp.HitRate)
	}
}

func TestRequestCoalescer_Basic(t *testing.T) {
	coalescer := NewRequestCoalescer()
	callCount := 0

	fn := func() (interface{}, error) {
		callCount++
		time.Sleep(50 * time.Millisecond)
		return "result", nil
	}

	val, err := coalescer.Do("key1", fn)
	if err != nil || val != "result" {
		t.Errorf("Expected result, got %v, %v", val, err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRequestCoalescer_ConcurrentCalls(t *testing.T) {
	coalescer := NewRequestCoalescer()
	var callCount int32

	fn := func() (interface{}, error) {
		atomic.AddInt32(&callCount, 1)
		time.Sleep(100 * time.Millisecond)
		return "result", nil
	}

	var wg sync.WaitGroup
	results := make(chan interface{}, 10)
	errs := make(chan error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := coalescer.Do("key1", fn)
			results <- val
			errs <- err
		}()
	}

	wg.Wait()
	close(results)
	close(errs)

	if atomic.LoadInt32(&callCount) != 1 {
		t.Errorf("Expected 1 call, got %d (should coalesce)", callCount)
	}

	for val := range results {
		if val != "result" {
			t.Errorf("Expected result, got %v", val)
		}
	}

	for err := range errs {
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	}
}

func TestRequestCoalescer_DifferentKeys(t *testing.T) {
	coalescer := NewRequestCoalescer()
	var callCount int32

	fn := func() (interface{}, error) {
		atomic.AddInt32(&callCount, 1)
		time.Sleep(50 * time.Millisecond)
		return "result", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _ = coalescer.Do(key, fn)
		}(fmt.Sprintf("key%d", i))
	}

	wg.Wait()

	if atomic.LoadInt32(&callCount) != 5 {
		t.Errorf("Expected 5 calls for 5 keys, got %d", callCount)
	}
}

func TestHandleInvalidateEvent(t *testing.T) {
	svc, _, _ := setupTestService()

	svc.l1Cache.Set("key1", []byte("value1"), 1*time.Hour)
	svc.l1Cache.Set("key2", []byte("value2"), 1*time.Hour)

	event := &invalidation.InvalidationEvent{
		MatchedKeys: []string{"key1"},
		Timestamp:   time.Now(),
	}

	if err := HandleInvalidateEvent(context.Background(), event); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, ok := svc.l1Cache.Get("key1"); ok {
		t.Error("key1 should be deleted after invalidation event")
	}
	if _, ok := svc.l1Cache.Get("key2"); !ok {
		t.Error("key2 should still exist")
	}
}

func TestHandleRefreshEvent(t *testing.T) {
	svc, _, mockDisk := setupTestService()

	event := &RefreshEvent{
		Key:       "key1",
		Value:     []byte("fresh_value"),
		TTL:       3600,
		Timestamp: time.Now(),
		Priority:  "high",
	}

	if err := HandleRefreshEvent(context.Background(), event); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	entry, ok := svc.l1Cache.Get("key1")
	if !ok || string(entry.Value) != "fresh_value" {
		t.Errorf("Expected fresh_value in L1, got %v", entry)
	}
	if mockDisk.CallCount("store") == 0 {
		t.Error("disk tier should have been written through")
	}
}

func TestConcurrentAccess(t *testing.T) {
	svc, mockOrigin, _ := setupTestService()

	for i := 0; i < 100; i++ {
		mockOrigin.Set(fmt.Sprintf("key%d", i), []byte(fmt.Sprintf("value%d", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 300)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, err := svc.Get(context.Background(), key)
			if err != nil {
				errs <- err
			}
		}(fmt.Sprintf("key%d", i%50))
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Set(context.Background(), fmt.Sprintf("key%d", i), &SetRequest{
				Key:   fmt.Sprintf("key%d", i),
				Value: []byte(fmt.Sprintf("new_value%d", i)),
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Invalidate(context.Background(), &InvalidateRequest{
				Keys: []string{fmt.Sprintf("key%d", i%20)},
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent operation error: %v", err)
	}

	resp, err := svc.GetMetrics(context.Background())
	if err != nil {
		t.Errorf("GetMetrics failed after concurrent test: %v", err)
	}

	t.Logf("After concurrent test - Hits: %d, Misses: %d, Sets: %d, Deletes: %d",
		resp.Hits, resp.Misses, resp.Sets, resp.Deletes)
}

func TestTTLCleanup_Background(t *testing.T) {
	config := Config{
		L1MaxEntries:    100,
		DefaultTTL:      1 * time.Hour,
		CleanupInterval: 50 * time.Millisecond,
	}

	svc := &Service{
		l1Cache:     NewL1Cache(config.L1MaxEntries),
		diskCache:   nil,
		originFetch: nil,
		coalescer:   NewRequestCoalescer(),
		policy:      DefaultPolicyEngine(),
		metrics:     &Metrics{},
		config:      config,
		stopChan:    make(chan struct{}),
	}

	svc.wg.Add(1)
	go svc.runTTLCleanup()

	svc.l1Cache.Set("expire1", []byte("val1"), 100*time.Millisecond)
	svc.l1Cache.Set("expire2", []byte("val2"), 100*time.Millisecond)
	svc.l1Cache.Set("keep", []byte("val3"), 1*time.Hour)

	time.Sleep(200 * time.Millisecond)

	evictions := svc.metrics.Evictions.Load()
	if evictions < 2 {
		t.Errorf("Expected at least 2 evictions, got %d", evictions)
	}

	if _, ok := svc.l1Cache.Get("expire1"); ok {
		t.Error("expire1 should be removed")
	}
	if _, ok := svc.l1Cache.Get("keep"); !ok {
		t.Error("keep should still exist")
	}

	svc.Shutdown()
}

func BenchmarkL1Cache_Get(b *testing.B) {
	cache := NewL1Cache(10000)
	cache.Set("key1", []byte("value1"), 1*time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get("key1")
	}
}

func BenchmarkL1Cache_Set(b *testing.B) {
	cache := NewL1Cache(10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Set(fmt.Sprintf("key%d", i), []byte(fmt.Sprintf("value%d", i)), 1*time.Hour)
	}
}

func BenchmarkL1Cache_ConcurrentGet(b *testing.B) {
	cache := NewL1Cache(10000)

	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("key%d", i), []byte(fmt.Sprintf("value%d", i)), 1*time.Hour)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			cache.Get(fmt.Sprintf("key%d", i%1000))
			i++
		}
	})
}

func BenchmarkRequestCoalescer(b *testing.B) {
	coalescer := NewRequestCoalescer()

	fn := func() (interface{}, error) {
		return "result", nil
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			coalescer.Do(fmt.Sprintf("key%d", i%100), fn)
			i++
		}
	})
}

func TestService_EmptyKey(t *testing.T) {
	svc, _, _ := setupTestService()

	_, err := svc.Get(context.Background(), "")
	if err == nil {
		t.Error("Expected error for empty key")
	}

	_, err = svc.Set(context.Background(), "", &SetRequest{Value: []byte("value")})
	if err == nil {
		t.Error("Expected error for empty key")
	}
}

func TestService_NilValue(t *testing.T) {
	svc, _, _ := setupTestService()

	_, err := svc.Set(context.Background(), "key1", &SetRequest{
		Key:   "key1",
		Value: nil,
	})
	if err == nil {
		t.Error("Expected error for nil value")
	}
}

func TestService_CustomTTL(t *testing.T) {
	svc, _, _ := setupTestService()

	req := &SetRequest{
		Key:   "key1",
		Value: []byte("value1"),
		TTL:   2,
	}

	resp, err := svc.Set(context.Background(), "key1", req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expectedExpiry := time.Now().Add(2 * time.Second)
	if resp.ExpiresAt.Before(expectedExpiry.Add(-1*time.Second)) ||
		resp.ExpiresAt.After(expectedExpiry.Add(1*time.Second)) {
		t.Errorf("Expected expiry around %v, got %v", expectedExpiry, resp.ExpiresAt)
	}
}

func TestL1Cache_Size(t *testing.T) {
	cache := NewL1Cache(100)

	if cache.Size() != 0 {
		t.Errorf("Expected size 0, got %d", cache.Size())
	}

	cache.Set("key1", []byte("value1"), 1*time.Hour)
	cache.Set("key2", []byte("value2"), 1*time.Hour)

	if cache.Size() != 2 {
		t.Errorf("Expected size 2, got %d", cache.Size())
	}

	cache.Delete("key1")

	if cache.Size() != 1 {
		t.Errorf("Expected size 1, got %d", cache.Size())
	}
}

func TestL1Cache_Clear(t *testing.T) {
	cache := NewL1Cache(100)

	cache.Set("key1", []byte("value1"), 1*time.Hour)
	cache.Set("key2", []byte("value2"), 1*time.Hour)

	cache.Clear()

	if cache.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", cache.Size())
	}

	if _, ok := cache.Get("key1"); ok {
		t.Error("Cache should be empty after clear")
	}
}

func TestRequestCoalescer_InFlight(t *testing.T) {
	coalescer := NewRequestCoalescer()

	if coalescer.InFlight() != 0 {
		t.Errorf("Expected 0 in-flight, got %d", coalescer.InFlight())
	}

	done := make(chan bool)
	go func() {
		coalescer.Do("key1", func() (interface{}, error) {
			time.Sleep(100 * time.Millisecond)
			return "result", nil
		})
		done <- true
	}()

	time.Sleep(10 * time.Millisecond)

	if coalescer.InFlight() != 1 {
		t.Errorf("Expected 1 in-flight, got %d", coalescer.InFlight())
	}

	<-done

	time.Sleep(10 * time.Millisecond)
	if coalescer.InFlight() != 0 {
		t.Errorf("Expected 0 in-flight after completion, got %d", coalescer.InFlight())
	}
}

func TestRequestCoalescer_Forget(t *testing.T) {
	coalescer := NewRequestCoalescer()

	go coalescer.Do("key1", func() (interface{}, error) {
		time.Sleep(100 * time.Millisecond)
		return "result", nil
	})

	time.Sleep(10 * time.Millisecond)

	coalescer.Forget("key1")

	callCount := 0
	coalescer.Do("key1", func() (interface{}, error) {
		callCount++
		return "new_result", nil
	})

	if callCount != 1 {
		t.Error("Forget should allow new call")
	}
}

func TestPolicyEngine(t *testing.T) {
	engine := DefaultPolicyEngine()

	entry := &CacheEntry{
		Value:     []byte("test"),
		ExpiresAt: time.Now().Add(1 * time.Hour),
	}

	if engine.ShouldEvict(entry) {
		t.Error("Should not evict non-expired entry")
	}

	expiredEntry := &CacheEntry{
		Value:     []byte("test"),
		ExpiresAt: time.Now().Add(-1 * time.Hour),
	}

	if !engine.ShouldEvict(expiredEntry) {
		t.Error("Should evict expired entry")
	}

	engine.RecordAccess("key1")
	engine.RecordSet("key2", []byte("value2"), 1*time.Hour)
}
