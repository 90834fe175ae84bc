package cachemanager

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// RequestCoalescer prevents cache stampede by coalescing concurrent callers
// for the same key into a single execution of fn, with every caller
// receiving the same result. It is built directly on
// golang.org/x/sync/singleflight - the same coalescing primitive warming/
// uses for its own lazy-refresh path - keyed here to cache-manager's own
// Get path (fetchWithFallback) rather than warming's refresh scheduling.
//
// singleflight.Group has no notion of "how many distinct keys are in
// flight", so that bookkeeping (InFlight, used by monitoring/debugging) is
// tracked separately alongside it.
type RequestCoalescer struct {
	group singleflight.Group

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewRequestCoalescer creates a new request coalescer.
func NewRequestCoalescer() *RequestCoalescer {
	return &RequestCoalescer{inFlight: make(map[string]struct{})}
}

// Do executes and returns the results of fn, ensuring that only one
// execution is in-flight for key at a time. A duplicate call arriving while
// the first is still running waits for it and receives the same result.
func (c *RequestCoalescer) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	c.inFlight[key] = struct{}{}
	c.mu.Unlock()

	val, err, _ := c.group.Do(key, fn)

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()

	return val, err
}

// Forget removes key from the coalescer, so the next Do call for it starts
// a fresh execution instead of joining one already in flight.
func (c *RequestCoalescer) Forget(key string) {
	c.group.Forget(key)
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}

// Clear drops all bookkeeping for in-flight keys. Calls already blocked in
// Do are unaffected; only InFlight's accounting resets.
func (c *RequestCoalescer) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = make(map[string]struct{})
}

// InFlight returns the number of distinct keys currently being computed.
func (c *RequestCoalescer) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}
