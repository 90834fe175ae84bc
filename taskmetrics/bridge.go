package taskmetrics

import (
	"sync"
	"time"

	"github.com/getsentry/symbolicator-go/metrics"
)

// SampleInterval is the fixed sampling period from §4.G.
const SampleInterval = 5 * time.Second

// Bridge periodically samples a set of Monitors and emits their
// cumulative-counter deltas as metrics counters tagged with each monitor's
// task name, from a background goroutine driven by a time.Ticker.
type Bridge struct {
	mu       sync.Mutex
	monitors map[string]*Monitor
	last     map[string]Snapshot

	stop chan struct{}
	done chan struct{}
}

// NewBridge constructs a Bridge with no monitors registered yet.
func NewBridge() *Bridge {
	return &Bridge{
		monitors: make(map[string]*Monitor),
		last:     make(map[string]Snapshot),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds m to the set of monitors sampled on every tick. Safe to
// call while Run is active.
func (b *Bridge) Register(m *Monitor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monitors[m.name] = m
	b.last[m.name] = Snapshot{}
}

// Run samples every monitor once per SampleInterval until Stop is called.
// It is meant to be launched with `go bridge.Run()`.
func (b *Bridge) Run() {
	defer close(b.done)
	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.sampleAll()
		}
	}
}

// Stop halts sampling and waits for Run to return.
func (b *Bridge) Stop() {
	close(b.stop)
	<-b.done
}

func (b *Bridge) sampleAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, m := range b.monitors {
		current := m.snapshot()
		delta := diff(b.last[name], current)
		emit(name, delta)
		b.last[name] = current
	}
}

func diff(prev, cur Snapshot) Snapshot {
	return Snapshot{
		InstrumentedCount:      cur.InstrumentedCount - prev.InstrumentedCount,
		DroppedCount:           cur.DroppedCount - prev.DroppedCount,
		FirstPollCount:         cur.FirstPollCount - prev.FirstPollCount,
		TotalFirstPollDelay:    cur.TotalFirstPollDelay - prev.TotalFirstPollDelay,
		TotalIdledCount:        cur.TotalIdledCount - prev.TotalIdledCount,
		TotalIdleDuration:      cur.TotalIdleDuration - prev.TotalIdleDuration,
		TotalScheduledCount:    cur.TotalScheduledCount - prev.TotalScheduledCount,
		TotalScheduledDuration: cur.TotalScheduledDuration - prev.TotalScheduledDuration,
		TotalPollCount:         cur.TotalPollCount - prev.TotalPollCount,
		TotalPollDuration:      cur.TotalPollDuration - prev.TotalPollDuration,
		TotalFastPollCount:     cur.TotalFastPollCount - prev.TotalFastPollCount,
		TotalFastPollDuration:  cur.TotalFastPollDuration - prev.TotalFastPollDuration,
		TotalSlowPollCount:     cur.TotalSlowPollCount - prev.TotalSlowPollCount,
		TotalSlowPollDuration:  cur.TotalSlowPollDuration - prev.TotalSlowPollDuration,
	}
}

// emit writes every Snapshot field as a counter tagged with the owning
// task's name, durations converted to milliseconds per §4.G.
func emit(taskName string, d Snapshot) {
	tags := map[string]string{"task_name": taskName}
	ms := func(d time.Duration) int64 { return metrics.SaturatingWiden(int(d.Milliseconds())) }

	metrics.IncrTagged("task.instrumented_count", metrics.SaturatingWiden(int(d.InstrumentedCount)), tags)
	metrics.IncrTagged("task.dropped_count", metrics.SaturatingWiden(int(d.DroppedCount)), tags)
	metrics.IncrTagged("task.first_poll_count", metrics.SaturatingWiden(int(d.FirstPollCount)), tags)
	metrics.IncrTagged("task.total_first_poll_delay", ms(d.TotalFirstPollDelay), tags)
	metrics.IncrTagged("task.total_idled_count", metrics.SaturatingWiden(int(d.TotalIdledCount)), tags)
	metrics.IncrTagged("task.total_idle_duration", ms(d.TotalIdleDuration), tags)
	metrics.IncrTagged("task.total_scheduled_count", metrics.SaturatingWiden(int(d.TotalScheduledCount)), tags)
	metrics.IncrTagged("task.total_scheduled_duration", ms(d.TotalScheduledDuration), tags)
	metrics.IncrTagged("task.total_poll_count", metrics.SaturatingWiden(int(d.TotalPollCount)), tags)
	metrics.IncrTagged("task.total_poll_duration", ms(d.TotalPollDuration), tags)
	metrics.IncrTagged("task.total_fast_poll_count", metrics.SaturatingWiden(int(d.TotalFastPollCount)), tags)
	metrics.IncrTagged("task.total_fast_poll_duration", ms(d.TotalFastPollDuration), tags)
	metrics.IncrTagged("task.total_slow_poll_count", metrics.SaturatingWiden(int(d.TotalSlowPollCount)), tags)
	metrics.IncrTagged("task.total_slow_poll_duration", ms(d.TotalSlowPollDuration), tags)
}
