// Package requestsvc implements the symbolication request service: it
// accepts job submissions, enforces a global in-flight cap, runs each job
// on a compute executor under a hard timeout, and makes the result pollable
// by UUID for a bounded grace period after completion.
package requestsvc

import (
	"fmt"

	"github.com/google/uuid"
)

// RequestId identifies one submitted symbolication job.
type RequestId uuid.UUID

func newRequestId() RequestId { return RequestId(uuid.New()) }

func (id RequestId) String() string { return uuid.UUID(id).String() }

// ParseRequestId decodes the wire (string) form of a RequestId, as received
// by the get_response HTTP endpoint.
func ParseRequestId(s string) (RequestId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RequestId{}, err
	}
	return RequestId(id), nil
}

// ResponseStatus enumerates the SymbolicationResponse variants.
type ResponseStatus int

const (
	StatusPending ResponseStatus = iota
	StatusCompleted
	StatusFailed
	StatusTimeout
	StatusInternalError
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTimeout:
		return "timeout"
	case StatusInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// SymbolicationResponse is the polymorphic result handed back to pollers.
// Exactly the fields relevant to Status are meaningful.
type SymbolicationResponse struct {
	Status        ResponseStatus
	RequestId     RequestId     // set only when Status == StatusPending
	RetryAfter    int           // seconds; set only when Status == StatusPending
	Payload       *CompletedSymbolicationResponse // set only when Status == StatusCompleted
	FailureReason string                          // set only when Status == StatusFailed
}

// CompletedSymbolicationResponse is the payload produced by a successful
// symbolication job. Its internal shape (modules, frames, candidates) is
// produced by the symbolication engine and is opaque to the request
// service; the service only needs to know about DifCandidates for the
// stripping behavior in §4.F step 6.d.
type CompletedSymbolicationResponse struct {
	Modules        []byte // engine-defined encoding, opaque to requestsvc
	DifCandidates  []byte // stripped when RequestOptions.DifCandidates is false
}

// RequestOptions carries per-request behavior flags separate from the job
// payload itself.
type RequestOptions struct {
	// DifCandidates controls whether DIF candidate diagnostics are retained
	// in the completed response or stripped before delivery.
	DifCandidates bool
}

// ClearDifCandidates strips DIF candidate diagnostics from resp in place,
// mirroring the source's clear_dif_candidates helper used whenever
// RequestOptions.DifCandidates is false.
func ClearDifCandidates(resp *CompletedSymbolicationResponse) {
	resp.DifCandidates = nil
}

// SessionStatus marks how a job's lifecycle ended, recorded as a metrics
// counter and in the monitoring job event (§9 supplemented "Sentry-session-style lifecycle
// markers").
type SessionStatus int

const (
	SessionExited SessionStatus = iota
	SessionAbnormal
	SessionCrashed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionExited:
		return "exited"
	case SessionAbnormal:
		return "abnormal"
	case SessionCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// MaxRequestsError is returned synchronously by submission when the
// in-flight cap is already saturated.
type MaxRequestsError struct {
	MaxConcurrentRequests int64
}

func (e *MaxRequestsError) Error() string {
	return fmt.Sprintf("too many requests: max_concurrent_requests=%d reached", e.MaxConcurrentRequests)
}
