// Package cachefs implements the on-disk cache family used to avoid
// re-downloading and re-converting debug information files.
//
// Every cache is identified by a CacheName and backed by its own directory.
// A cache file's mtime is the single source of truth for both "last used"
// (positive entries) and "created at" (negative/malformed entries) - no
// other filesystem attribute is relied upon, since creation time is not
// available pre-Linux 4.11 and most deployments mount caches noatime.
package cachefs

import (
	"errors"
	"fmt"
	"time"
)

// CacheName identifies one on-disk cache. It doubles as a metric tag value
// and as the cache's subdirectory name.
type CacheName string

const (
	CacheObjects      CacheName = "objects"
	CacheObjectMeta   CacheName = "object_meta"
	CacheSymCaches    CacheName = "symcaches"
	CacheCfiCaches    CacheName = "cficaches"
	CachePPDBCaches   CacheName = "ppdb_caches"
	CacheDiagnostics  CacheName = "diagnostics"
	CacheAuxDifs      CacheName = "auxdifs"
	CacheSourceMapRef CacheName = "sourcemap_refs"
)

// CacheKind determines the default ExpirationStrategy for cache-specific
// errors that have no dedicated on-disk sentinel (§4.B rule table).
type CacheKind int

const (
	// KindDownloaded caches raw downloads; non-sentinel errors are treated
	// as a negative cache entry (retry-after cool-off).
	KindDownloaded CacheKind = iota
	// KindDerived caches artifacts computed from a download; non-sentinel
	// errors are treated as malformed (retry-after cool-off, plus
	// immediate expiry for pre-process-start entries).
	KindDerived
	// KindDiagnostics caches side artifacts kept for debugging; non-sentinel
	// errors expire only via idle TTL, same as a positive entry.
	KindDiagnostics
)

func (k CacheKind) String() string {
	switch k {
	case KindDownloaded:
		return "downloaded"
	case KindDerived:
		return "derived"
	case KindDiagnostics:
		return "diagnostics"
	default:
		return "unknown"
	}
}

// Config is the per-cache-name configuration block. A zero Duration pointer
// (nil) means "no expiry" (infinite).
type Config struct {
	Kind CacheKind

	// MaxUnusedFor is the idle TTL for positive entries. Nil means infinite.
	MaxUnusedFor *time.Duration

	// RetryMissesAfter is the cool-off after a NotFound outcome. Nil means
	// infinite (never retry).
	RetryMissesAfter *time.Duration

	// RetryMalformedAfter is the cool-off after a Malformed outcome. Nil
	// means infinite.
	RetryMalformedAfter *time.Duration
}

func durOrMax(d *time.Duration) time.Duration {
	if d == nil {
		return time.Duration(1<<63 - 1) // effectively infinite
	}
	return *d
}

// Error is the typed failure outcome of a cache lookup. Only NotFound and
// Malformed have a bit-exact on-disk sentinel (§4.A); the others are
// collapsed onto one of those two sentinels at write time (§9 "Ambiguity of
// non-sentinel errors") and are otherwise only ever produced in-memory by
// callers that did not yet persist an outcome.
type Error struct {
	Kind   ErrorKind
	Reason string
}

// ErrorKind enumerates the CacheError variants from §3.
type ErrorKind int

const (
	ErrNotFound ErrorKind = iota
	ErrMalformed
	ErrTimeout
	ErrDownloadError
	ErrPermissionDenied
	ErrInternalError
)

func (e *Error) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return "cache: not found"
	case ErrMalformed:
		if e.Reason != "" {
			return fmt.Sprintf("cache: malformed: %s", e.Reason)
		}
		return "cache: malformed"
	case ErrTimeout:
		return "cache: timeout"
	case ErrDownloadError:
		return fmt.Sprintf("cache: download error: %s", e.Reason)
	case ErrPermissionDenied:
		return "cache: permission denied"
	default:
		return "cache: internal error"
	}
}

// NotFound reports whether err is (or wraps) an ErrNotFound cache.Error.
func NotFound(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == ErrNotFound
}

// Malformed reports whether err is (or wraps) an ErrMalformed cache.Error.
func Malformed(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == ErrMalformed
}

// Entry is CacheEntry<[]byte>: either a successfully decoded artifact or a
// typed cache error. Exactly one of Data / Err is set.
type Entry struct {
	Data []byte
	Err  *Error
}

// OK reports whether the entry represents a successful lookup.
func (e Entry) OK() bool { return e.Err == nil }

// ExpirationStrategy is the cleanup rule applied to a cache entry (§4.B).
type ExpirationStrategy int

const (
	StrategyNone ExpirationStrategy = iota
	StrategyNegative
	StrategyMalformed
)

// ExpirationTime tells the caller when a cache entry needs attention next.
// Exactly one of the two accessors is meaningful, selected by Kind.
type ExpirationTime struct {
	Kind ExpirationKind
	d    time.Duration
}

type ExpirationKind int

const (
	// ExpireTouchIn applies to positive entries: the file's mtime should be
	// bumped once this duration has elapsed, to keep it from idling out.
	ExpireTouchIn ExpirationKind = iota
	// ExpireRefreshIn applies to negative/malformed entries: a background
	// refresh may be attempted once this duration has elapsed.
	ExpireRefreshIn
)

func TouchIn(d time.Duration) ExpirationTime  { return ExpirationTime{Kind: ExpireTouchIn, d: d} }
func RefreshIn(d time.Duration) ExpirationTime { return ExpirationTime{Kind: ExpireRefreshIn, d: d} }

// Duration returns the underlying wait duration regardless of kind.
func (e ExpirationTime) Duration() time.Duration { return e.d }

// WasFreshlyTouched reports whether this is the post-touch TouchIn(TOUCH_EVERY) value.
func (e ExpirationTime) WasFreshlyTouched() bool {
	return e.Kind == ExpireTouchIn && e.d == TouchEvery
}

// TouchEvery is the debounce interval for refreshing the mtime of positive
// cache entries (§4.B, §GLOSSARY).
const TouchEvery = time.Hour
