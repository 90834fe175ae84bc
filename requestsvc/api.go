package requestsvc

import (
	"context"
	"encoding/json"
	"errors"
)

// This file is the §6 "HTTP exit surface": symbolicate_stacktraces,
// process_minidump, process_apple_crash_report, find_object, fetch_object,
// and get_response. Every submission endpoint returns a RequestId (wrapped
// in SubmitResponse) or a *MaxRequestsError; get_response is the only
// endpoint that blocks/polls for a result, per the pattern in
// cache-manager/service.go.

// SubmitResponse is returned by every job-submission endpoint below.
type SubmitResponse struct {
	RequestId string `json:"request_id"`
}

// SymbolicateStacktracesRequest carries an already-parsed stacktrace
// payload plus the sources to resolve debug files against. The payload
// encoding itself is opaque to requestsvc (§6 "SymbolicationActor ...
// does not depend on their internals"); it is handed through verbatim to
// the SymbolicationActor.
type SymbolicateStacktracesRequest struct {
	Scope         string `json:"scope"`
	Stacktraces   []byte `json:"stacktraces"`
	Sources       []byte `json:"sources"`
	DifCandidates bool   `json:"dif_candidates"`
}

// ProcessMinidumpRequest is process_minidump's request payload.
type ProcessMinidumpRequest struct {
	Scope         string `json:"scope"`
	File          string `json:"file"`
	Sources       []byte `json:"sources"`
	DifCandidates bool   `json:"dif_candidates"`
}

// ProcessAppleCrashReportRequest is process_apple_crash_report's request
// payload.
type ProcessAppleCrashReportRequest struct {
	Scope         string `json:"scope"`
	File          string `json:"file"`
	Sources       []byte `json:"sources"`
	DifCandidates bool   `json:"dif_candidates"`
}

// FindObjectRequest is find_object's request payload; it mirrors
// actors.FindObject.
type FindObjectRequest struct {
	DebugID  string `json:"debug_id"`
	Filetype string `json:"filetype"`
	Sources  []byte `json:"sources"`
}

// FetchObjectRequest is fetch_object's request payload.
type FetchObjectRequest struct {
	CacheKey string `json:"cache_key"`
}

// GetResponseQuery is get_response's query parameters.
type GetResponseQuery struct {
	RequestId      string   `json:"request_id"`
	TimeoutSeconds *float64 `json:"timeout_seconds,omitempty"`
}

// SymbolicateStacktraces submits a stacktrace-symbolication job and returns
// its RequestId for later polling via GetResponse.
//
//encore:api public method=POST path=/symbolicate/stacktraces
func SymbolicateStacktraces(ctx context.Context, req *SymbolicateStacktracesRequest) (*SubmitResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.submitSymbolicate(req)
}

func (s *Service) submitSymbolicate(req *SymbolicateStacktracesRequest) (*SubmitResponse, error) {
	if s.actor == nil {
		return nil, errors.New("symbolication actor not configured")
	}
	job := Job(func(ctx context.Context) (*CompletedSymbolicationResponse, error) {
		return s.actor.Symbolicate(ctx, req.Stacktraces)
	})
	return s.submitJob("symbolicate_stacktraces", RequestOptions{DifCandidates: req.DifCandidates}, job)
}

// ProcessMinidump submits a minidump-processing job and returns its
// RequestId.
//
//encore:api public method=POST path=/symbolicate/minidump
func ProcessMinidump(ctx context.Context, req *ProcessMinidumpRequest) (*SubmitResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.submitProcessMinidump(req)
}

func (s *Service) submitProcessMinidump(req *ProcessMinidumpRequest) (*SubmitResponse, error) {
	if s.actor == nil {
		return nil, errors.New("symbolication actor not configured")
	}
	job := Job(func(ctx context.Context) (*CompletedSymbolicationResponse, error) {
		return s.actor.ProcessMinidump(ctx, req.Scope, req.File, req.Sources)
	})
	return s.submitJob("process_minidump", RequestOptions{DifCandidates: req.DifCandidates}, job)
}

// ProcessAppleCrashReport submits an Apple crash report processing job and
// returns its RequestId.
//
//encore:api public method=POST path=/symbolicate/applecrashreport
func ProcessAppleCrashReport(ctx context.Context, req *ProcessAppleCrashReportRequest) (*SubmitResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.submitProcessAppleCrashReport(req)
}

func (s *Service) submitProcessAppleCrashReport(req *ProcessAppleCrashReportRequest) (*SubmitResponse, error) {
	if s.actor == nil {
		return nil, errors.New("symbolication actor not configured")
	}
	job := Job(func(ctx context.Context) (*CompletedSymbolicationResponse, error) {
		return s.actor.ProcessAppleCrashReport(ctx, req.Scope, req.File, req.Sources)
	})
	return s.submitJob("process_apple_crash_report", RequestOptions{DifCandidates: req.DifCandidates}, job)
}

// FindObject submits a debug-information lookup job and returns its
// RequestId; the located FoundObject (JSON-encoded) is delivered as the
// completed job's Modules payload, same opaque-to-requestsvc convention
// Job results always use.
//
//encore:api public method=POST path=/objects/find
func FindObject(ctx context.Context, req *FindObjectRequest) (*SubmitResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.submitFindObject(req)
}

func (s *Service) submitFindObject(req *FindObjectRequest) (*SubmitResponse, error) {
	if s.objects == nil {
		return nil, errors.New("objects actor not configured")
	}
	job := Job(func(ctx context.Context) (*CompletedSymbolicationResponse, error) {
		found, err := s.objects.Find(ctx, FindObject{DebugID: req.DebugID, Filetype: req.Filetype, Sources: req.Sources})
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(found)
		if err != nil {
			return nil, err
		}
		return &CompletedSymbolicationResponse{Modules: data}, nil
	})
	return s.submitJob("find_object", RequestOptions{}, job)
}

// FetchObject submits an object-fetch job and returns its RequestId; the
// fetched ObjectHandle (JSON-encoded) is delivered as the completed job's
// Modules payload.
//
//encore:api public method=POST path=/objects/fetch
func FetchObject(ctx context.Context, req *FetchObjectRequest) (*SubmitResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.submitFetchObject(req)
}

func (s *Service) submitFetchObject(req *FetchObjectRequest) (*SubmitResponse, error) {
	if s.objects == nil {
		return nil, errors.New("objects actor not configured")
	}
	job := Job(func(ctx context.Context) (*CompletedSymbolicationResponse, error) {
		handle, err := s.objects.Fetch(ctx, ObjectMetaHandle{CacheKey: req.CacheKey})
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(handle)
		if err != nil {
			return nil, err
		}
		return &CompletedSymbolicationResponse{Modules: data}, nil
	})
	return s.submitJob("fetch_object", RequestOptions{}, job)
}

// submitJob wraps CreateSymbolicationRequest for the endpoints above,
// converting its RequestId into the wire-facing SubmitResponse.
func (s *Service) submitJob(taskName string, opts RequestOptions, job Job) (*SubmitResponse, error) {
	id, err := s.CreateSymbolicationRequest(taskName, opts, job)
	if err != nil {
		return nil, err
	}
	return &SubmitResponse{RequestId: id.String()}, nil
}

// GetResponseEndpoint is get_response from §4.F/§6, exposed over HTTP: it
// looks up req.RequestId and either returns the memoized result, waits on
// it unboundedly (no TimeoutSeconds), or races it against TimeoutSeconds and
// returns a retry-later Pending response. A nil result means the RequestId
// is unknown - either never issued, or its MaxPollDelay grace period has
// already elapsed.
//
//encore:api public method=GET path=/requests/response
func GetResponse(ctx context.Context, req *GetResponseQuery) (*SymbolicationResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}

	id, err := ParseRequestId(req.RequestId)
	if err != nil {
		return nil, err
	}

	return svc.GetResponse(ctx, id, req.TimeoutSeconds), nil
}
