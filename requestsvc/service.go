package requestsvc

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/symbolicator-go/internal/config"
	"github.com/getsentry/symbolicator-go/metrics"
	"github.com/getsentry/symbolicator-go/monitoring"
	"github.com/getsentry/symbolicator-go/taskmetrics"
)

// MaxPollDelay is the retention window a completed job's entry stays
// reachable for late pollers (§4.F step 6.g, §5).
const MaxPollDelay = 90 * time.Second

// JobTimeout is the hard per-job cap from spawn to completion (§5).
const JobTimeout = time.Hour

// pollRetryAfter is handed back to a poller that raced a still-running job
// and lost (§4.F step 3).
const pollRetryAfter = 30

// Job is the unit of work submitted to the service. It must honor ctx
// cancellation: once JobTimeout elapses the service stops waiting on the
// job's result, but does not forcibly stop a job that ignores ctx.
type Job func(ctx context.Context) (*CompletedSymbolicationResponse, error)

// completion is the shared, multi-consumer, memoized one-shot result slot
// the spec describes as "a future whose completion value is memoized after
// first delivery" (§9). done is closed exactly once by the single writer
// (the spawned job); every reader - however many, however late within
// MaxPollDelay - observes the same (finishedAt, response) pair.
type completion struct {
	done       chan struct{}
	finishedAt time.Time
	response   SymbolicationResponse
}

// Config holds the admission and executor wiring the service needs at
// construction time.
type Config struct {
	// MaxConcurrentRequests bounds simultaneously in-flight jobs. Zero
	// means unbounded.
	MaxConcurrentRequests int64
	Compute               Executor
	IO                    Executor

	// Monitor receives per-job instrumentation (§4.G). Nil disables it.
	Monitor *taskmetrics.Monitor
}

// Service is the request service described in §4.F: admission control,
// dual-executor job spawning, and pollable completion tracking. It is also
// the HTTP exit surface named in §6 (symbolicate_stacktraces,
// process_minidump, process_apple_crash_report, find_object, fetch_object,
// get_response) - see api.go for the //encore:api endpoints built on top of
// the methods below.
//
//encore:service
type Service struct {
	cfg Config

	// actor and objects are the two capability handles §6 describes the
	// request service as polymorphic over. Both are nil until
	// SetSymbolicationActor/SetObjectsActor are called from the process's
	// wiring code (symbolication.NewEngine's caller).
	actor   SymbolicationActor
	objects ObjectsActor

	mu           sync.Mutex
	computations map[RequestId]*completion

	inFlight atomic.Int64
}

// NewService constructs a Service. Compute and IO executors are required;
// the service spawns every job on Compute and leaves it to the job itself
// to delegate blocking work to IO.
func NewService(cfg Config) *Service {
	return &Service{
		cfg:          cfg,
		computations: make(map[RequestId]*completion),
	}
}

// SetSymbolicationActor injects the engine capability backing
// symbolicate_stacktraces, process_minidump, and process_apple_crash_report.
func (s *Service) SetSymbolicationActor(actor SymbolicationActor) { s.actor = actor }

// SetObjectsActor injects the engine capability backing find_object and
// fetch_object.
func (s *Service) SetObjectsActor(objects ObjectsActor) { s.objects = objects }

// IOExecutor exposes the I/O executor handle so job closures built outside
// this package (symbolication engine, objects actor) can delegate blocking
// work without the service needing to know what they delegate.
func (s *Service) IOExecutor() Executor { return s.cfg.IO }

// CreateSymbolicationRequest is create_symbolication_request from §4.F: it
// admits, registers, and spawns job under taskName, returning the RequestId
// pollers will use, or a *MaxRequestsError if the service is at capacity.
func (s *Service) CreateSymbolicationRequest(taskName string, opts RequestOptions, job Job) (RequestId, error) {
	if s.cfg.MaxConcurrentRequests > 0 && s.inFlight.Load() >= s.cfg.MaxConcurrentRequests {
		metrics.Incr("requests.rejected", 1)
		return RequestId{}, &MaxRequestsError{MaxConcurrentRequests: s.cfg.MaxConcurrentRequests}
	}

	id := newRequestId()
	c := &completion{done: make(chan struct{})}

	s.mu.Lock()
	s.computations[id] = c
	s.mu.Unlock()

	s.inFlight.Add(1)
	metrics.Gauge("requests.in_flight", s.inFlight.Load())

	if s.cfg.Monitor != nil {
		s.cfg.Monitor.RecordSpawn()
	}

	submittedAt := time.Now()

	s.cfg.Compute.Submit(func() {
		s.runJob(id, c, taskName, opts, job, submittedAt)
	})

	return id, nil
}

// runJob is the body spawned on the compute executor (§4.F step 6). It
// always terminates by closing c.done exactly once, regardless of
// whether job panics, times out, or returns normally - the drop-guard
// described in §9 is expressed here as a deferred recover/cleanup rather
// than a scope-exit object, since Go has no destructors.
func (s *Service) runJob(id RequestId, c *completion, taskName string, opts RequestOptions, job Job, submittedAt time.Time) {
	firstPollRecorded := sync.Once{}
	recordFirstPoll := func() {
		firstPollRecorded.Do(func() {
			delay := time.Since(submittedAt)
			metrics.Timing("symbolication.create_request.first_poll", delay)
			if s.cfg.Monitor != nil {
				s.cfg.Monitor.RecordFirstPoll(delay)
			}
		})
	}

	defer func() {
		s.inFlight.Add(-1)
		metrics.Gauge("requests.in_flight", s.inFlight.Load())
		go func() {
			time.Sleep(MaxPollDelay)
			s.mu.Lock()
			delete(s.computations, id)
			s.mu.Unlock()
		}()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), JobTimeout)
	defer cancel()

	recordFirstPoll()
	start := time.Now()

	resultCh := make(chan jobOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- jobOutcome{panicked: true}
			}
		}()
		resp, err := job(ctx)
		resultCh <- jobOutcome{resp: resp, err: err}
	}()

	var outcome jobOutcome
	select {
	case <-ctx.Done():
		outcome = jobOutcome{timedOut: true}
	case outcome = <-resultCh:
	}

	duration := time.Since(start)
	metrics.Timing("symbolication."+taskName+".duration", duration)
	if s.cfg.Monitor != nil {
		s.cfg.Monitor.RecordPoll(duration)
		if outcome.panicked {
			s.cfg.Monitor.RecordDropped()
		}
	}

	response, status := toResponse(outcome, opts)
	recordSessionEnd(status)
	s.publishJobEvent(taskName, status, duration)

	c.response = response
	c.finishedAt = time.Now()
	close(c.done)
}

// publishJobEvent broadcasts a best-effort job-completion event to
// monitoring/ (§4.G), mirroring cache-manager's publishMetric. A publish
// failure never fails the job itself - the result is already committed to
// c.response by the time this runs.
func (s *Service) publishJobEvent(taskName string, status SessionStatus, duration time.Duration) {
	_, _ = monitoring.SymbolicationJobsTopic.Publish(context.Background(), &monitoring.SymbolicationJobEvent{
		Task:       taskName,
		Status:     status.String(),
		DurationMs: duration.Milliseconds(),
		Timestamp:  time.Now(),
	})
}

type jobOutcome struct {
	resp     *CompletedSymbolicationResponse
	err      error
	timedOut bool
	panicked bool
}

// toResponse collapses the three possible outcomes of a spawned job into a
// SymbolicationResponse plus the SessionStatus it corresponds to (§4.F step
// 6.c-d).
func toResponse(o jobOutcome, opts RequestOptions) (SymbolicationResponse, SessionStatus) {
	switch {
	case o.panicked:
		return SymbolicationResponse{Status: StatusInternalError}, SessionCrashed
	case o.timedOut:
		return SymbolicationResponse{Status: StatusTimeout}, SessionAbnormal
	case o.err != nil:
		return SymbolicationResponse{Status: StatusFailed, FailureReason: o.err.Error()}, SessionCrashed
	default:
		if !opts.DifCandidates && o.resp != nil {
			ClearDifCandidates(o.resp)
		}
		return SymbolicationResponse{Status: StatusCompleted, Payload: o.resp}, SessionExited
	}
}

func recordSessionEnd(status SessionStatus) {
	metrics.Incr("symbolication.session."+status.String(), 1)
}

// GetResponse is get_response from §4.F: it looks up the shared completion
// handle for id, and either returns the memoized result immediately, waits
// for it unboundedly (timeoutSeconds == nil), or races it against
// timeoutSeconds and returns a retry-later Pending response if the job is
// still running when the timer fires.
//
// A nil return means the RequestId is unknown: either it was never issued,
// or its MaxPollDelay grace period has already elapsed.
func (s *Service) GetResponse(ctx context.Context, id RequestId, timeoutSeconds *float64) *SymbolicationResponse {
	s.mu.Lock()
	c, ok := s.computations[id]
	s.mu.Unlock()
	if !ok {
		metrics.Incr("symbolication.request_id_unknown", 1)
		return nil
	}

	if timeoutSeconds == nil {
		<-c.done
		return s.deliver(id, c)
	}

	timer := time.NewTimer(time.Duration(*timeoutSeconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-c.done:
		return s.deliver(id, c)
	case <-timer.C:
		return &SymbolicationResponse{Status: StatusPending, RequestId: id, RetryAfter: pollRetryAfter}
	case <-ctx.Done():
		return &SymbolicationResponse{Status: StatusPending, RequestId: id, RetryAfter: pollRetryAfter}
	}
}

func (s *Service) deliver(id RequestId, c *completion) *SymbolicationResponse {
	metrics.Timing("requests.response_idling", time.Since(c.finishedAt))
	resp := c.response
	return &resp
}

// InFlight reports the current in-flight job count, exposed for tests and
// for the monitoring dashboard.
func (s *Service) InFlight() int64 { return s.inFlight.Load() }

var (
	// Global service instance (initialized by initService)
	svc  *Service
	once sync.Once
)

// initService constructs the package-level Service Encore routes every
// //encore:api call in api.go through. Compute/IO pool sizes and the
// admission cap are fixed at startup; MaxConcurrentRequests comes from the
// shared top-level Config (§6) when SYMBOLICATOR_CONFIG_PATH is set, else
// the service runs unbounded. SetSymbolicationActor/SetObjectsActor are left
// for the process's wiring code to call, same as cache-manager's
// SetDiskCache/SetOriginFetcher.
func initService() (*Service, error) {
	var err error
	once.Do(func() {
		maxConcurrent := int64(0)

		path := os.Getenv("SYMBOLICATOR_CONFIG_PATH")
		if path != "" {
			cfg, loadErr := config.Load(path)
			if loadErr != nil {
				err = loadErr
				return
			}
			if cfg.MaxConcurrentRequests != nil {
				maxConcurrent = int64(*cfg.MaxConcurrentRequests)
			}
		}

		svc = NewService(Config{
			MaxConcurrentRequests: maxConcurrent,
			Compute:               NewWorkerPool("compute", 16, 256),
			IO:                    NewWorkerPool("io", 16, 256),
			Monitor:               taskmetrics.NewMonitor("symbolication_request"),
		})
	})

	return svc, err
}
