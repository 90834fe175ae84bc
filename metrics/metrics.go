// Package metrics provides a process-wide, optional statsd sink.
//
// Design Notes:
//   - A process either has metrics configured or it doesn't; every call
//     site below is written so that a nil/unconfigured client is a silent
//     no-op rather than a panic or an error return every caller must check.
//   - Tags are attached once at configuration time (per-process tags: host,
//     environment, service name) and re-applied on every emitted metric,
//     matching how the rest of the service treats metrics as fire-and-forget
//     instrumentation, not a return value callers branch on.
//   - Integer counters widen from whatever the caller has (often a
//     sync/atomic derived int, sometimes a plain int) to int64 with
//     saturation rather than wraparound, since a wrapped-negative counter
//     value is far more confusing in a dashboard than a clamped one.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
)

var (
	mu        sync.RWMutex
	client    statsd.Statter
	procTags  []statsd.Tag
)

// Configure installs the process-wide statsd client. addr is a host:port
// UDP endpoint; prefix is prepended to every metric name. Passing an empty
// addr leaves metrics disabled (Configure("", "", nil) is a valid way to
// turn metrics off, e.g. in tests and local development).
func Configure(addr, prefix string, tags map[string]string) error {
	if addr == "" {
		SetClient(nil, nil)
		return nil
	}

	cfg := &statsd.ClientConfig{
		Address: addr,
		Prefix:  prefix,
	}
	s, err := statsd.NewClientWithConfig(cfg)
	if err != nil {
		return err
	}

	converted := make([]statsd.Tag, 0, len(tags))
	for k, v := range tags {
		converted = append(converted, statsd.Tag{k, v})
	}

	SetClient(s, converted)
	return nil
}

// SetClient installs an already-constructed client and its per-process tags
// directly, primarily for tests that want a recording fake. A nil client
// disables metrics.
func SetClient(c statsd.Statter, tags []statsd.Tag) {
	mu.Lock()
	defer mu.Unlock()
	client = c
	procTags = tags
}

func current() (statsd.Statter, []statsd.Tag) {
	mu.RLock()
	defer mu.RUnlock()
	return client, procTags
}

// Enabled reports whether a client is currently configured.
func Enabled() bool {
	c, _ := current()
	return c != nil
}

// Incr increments a counter by delta.
func Incr(name string, delta int64) {
	c, tags := current()
	if c == nil {
		return
	}
	_ = c.Inc(name, delta, 1.0, tags...)
}

// IncrTagged increments a counter by delta with additional call-site tags
// layered on top of the per-process tags, e.g. a task name on a
// task-executor metrics counter (§4.G).
func IncrTagged(name string, delta int64, extra map[string]string) {
	c, tags := current()
	if c == nil {
		return
	}
	all := append(append([]statsd.Tag{}, tags...), mapToTags(extra)...)
	_ = c.Inc(name, delta, 1.0, all...)
}

func mapToTags(m map[string]string) []statsd.Tag {
	out := make([]statsd.Tag, 0, len(m))
	for k, v := range m {
		out = append(out, statsd.Tag{k, v})
	}
	return out
}

// IncrSaturating is Incr for callers holding an arbitrary integer width
// (e.g. platform int, or a value derived from a saturating widen elsewhere).
// It re-clamps defensively so a caller's own saturation bug cannot surface
// as a statsd protocol error.
func IncrSaturating(name string, delta int64) {
	Incr(name, saturateInt64(delta))
}

// Decr decrements a counter by delta.
func Decr(name string, delta int64) {
	c, tags := current()
	if c == nil {
		return
	}
	_ = c.Dec(name, delta, 1.0, tags...)
}

// Gauge sets a gauge to value.
func Gauge(name string, value int64) {
	c, tags := current()
	if c == nil {
		return
	}
	_ = c.Gauge(name, value, 1.0, tags...)
}

// Timing records a duration as a timer metric.
func Timing(name string, d time.Duration) {
	c, tags := current()
	if c == nil {
		return
	}
	_ = c.TimingDuration(name, d, 1.0, tags...)
}

// Histogram records an arbitrary value distribution point, emitted as a
// gauge under a .histogram suffix: plain statsd has no first-class
// histogram type, and the service's metrics backend aggregates gauges of
// this shape into percentiles itself.
func Histogram(name string, value int64) {
	c, tags := current()
	if c == nil {
		return
	}
	_ = c.Gauge(name+".histogram", value, 1.0, tags...)
}

// saturateInt64 clamps v into the representable int64 range, keeping the
// widening explicit and total rather than ever wrapping negative
// (invariant: counters never wrap negative).
func saturateInt64(v int64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	if v < math.MinInt64 {
		return math.MinInt64
	}
	return v
}

// SaturatingWiden converts an arbitrary signed integer-like count (passed as
// int to keep the call site simple) to an int64 counter delta, clamping
// instead of wrapping. Mirrors the original's ToMaxingI64 conversion used
// before every task-pool metrics counter emission in taskmetrics.
func SaturatingWiden(v int) int64 {
	return saturateInt64(int64(v))
}
