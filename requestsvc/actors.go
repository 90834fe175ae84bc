package requestsvc

import "context"

// SymbolicationActor is the engine capability the request service drives to
// actually do the work of a job. The request service is polymorphic over
// this interface and never depends on its internals (§6) - parsing of
// debug-info formats and stack-walking live entirely on the implementer's
// side, in the symbolication package.
type SymbolicationActor interface {
	Symbolicate(ctx context.Context, req any) (*CompletedSymbolicationResponse, error)
	ProcessMinidump(ctx context.Context, scope, file string, sources []byte) (*CompletedSymbolicationResponse, error)
	ProcessAppleCrashReport(ctx context.Context, scope, file string, sources []byte) (*CompletedSymbolicationResponse, error)
}

// FindObject describes a debug-information lookup by identifying
// attributes; its fields are opaque to the request service.
type FindObject struct {
	DebugID  string
	Filetype string
	Sources  []byte
}

// FoundObject is the result of a successful FindObject lookup.
type FoundObject struct {
	MetaHandle ObjectMetaHandle
}

// ObjectMetaHandle references a located-but-not-yet-fetched object.
type ObjectMetaHandle struct {
	CacheKey string
}

// ObjectHandle is a fetched, cache-resident object ready for use by the
// symbolication engine.
type ObjectHandle struct {
	Data []byte
}

// ObjectError is the typed failure of an ObjectsActor operation.
type ObjectError struct {
	Reason string
}

func (e *ObjectError) Error() string { return "object: " + e.Reason }

// ObjectsActor resolves and fetches debug-information files. Both
// operations are cache-backed (cachefs) on the implementer's side; the
// request service only ever calls through this interface on behalf of
// find_object/fetch_object job submissions.
type ObjectsActor interface {
	Find(ctx context.Context, req FindObject) (*FoundObject, error)
	Fetch(ctx context.Context, handle ObjectMetaHandle) (*ObjectHandle, error)
}
