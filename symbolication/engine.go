// Package symbolication implements the engine capabilities the request
// service drives through the requestsvc.SymbolicationActor and
// requestsvc.ObjectsActor interfaces (§6). Actual debug-info parsing and
// stack-walking algorithms are out of scope; this package wires the
// caching, download-guard, and fan-out plumbing those algorithms would run
// inside, following the same RemoteCache/OriginFetcher interface-injection
// shape the cache manager service uses for its own pluggable backends.
package symbolication

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/getsentry/symbolicator-go/cachefs"
	"github.com/getsentry/symbolicator-go/pkg/middleware"
	"github.com/getsentry/symbolicator-go/requestsvc"
)

// Downloader fetches raw bytes for a debug-information source. Implemented
// separately per source kind (S3, GCS, HTTP symbol server, filesystem);
// this package only depends on the interface. An HTTP-backed implementation
// should be built over a client from httpguard.NewClient so every outbound
// fetch is subject to the reserved-IP guard.
type Downloader interface {
	Download(ctx context.Context, source []byte) ([]byte, error)
}

// Engine implements requestsvc.ObjectsActor over a set of named Caches, one
// per cachefs.CacheName in use.
type Engine struct {
	objectCache *cachefs.Cache
	metaCache   *cachefs.Cache
	downloader  Downloader
}

// NewEngine constructs an Engine backed by objectCache/metaCache for
// fetched/located debug files, downloading through downloader.
func NewEngine(objectCache, metaCache *cachefs.Cache, downloader Downloader) *Engine {
	return &Engine{objectCache: objectCache, metaCache: metaCache, downloader: downloader}
}

// Find resolves a FindObject request against the meta cache, downloading
// and populating it on a miss. Source lookups for the same request fan out
// concurrently via errgroup and the first successful hit to arrive is
// stored. A failed download counts as a miss for that source; every lookup
// runs to completion before Find picks a result.
func (e *Engine) Find(ctx context.Context, req requestsvc.FindObject) (*requestsvc.FoundObject, error) {
	cacheKey := req.DebugID + ":" + req.Filetype
	entry, _, ok, err := e.metaCache.Open(cacheKey)
	if err != nil {
		// Cache I/O errors are a miss + log per §4.C/§7, not fatal: fall
		// through to a fresh source lookup rather than failing the request.
		middleware.Logger.Warn("meta cache open failed", zap.String("key", cacheKey), zap.Error(err))
	}
	if ok && entry.OK() {
		return &requestsvc.FoundObject{MetaHandle: requestsvc.ObjectMetaHandle{CacheKey: cacheKey}}, nil
	}

	sources := splitSources(req.Sources)
	if len(sources) == 0 {
		return nil, &requestsvc.ObjectError{Reason: "no sources configured"}
	}

	g, gctx := errgroup.WithContext(ctx)
	found := make(chan []byte, len(sources))

	for _, src := range sources {
		src := src
		g.Go(func() error {
			data, err := e.downloader.Download(gctx, src)
			if err != nil {
				return nil // a per-source miss is not a group-fatal error
			}
			select {
			case found <- data:
			default:
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	select {
	case data := <-found:
		if _, err := e.metaCache.Store(cacheKey, cachefs.Entry{Data: data}); err != nil {
			return nil, err
		}
		return &requestsvc.FoundObject{MetaHandle: requestsvc.ObjectMetaHandle{CacheKey: cacheKey}}, nil
	default:
		if _, err := e.metaCache.Store(cacheKey, cachefs.Entry{Err: &cachefs.Error{Kind: cachefs.ErrNotFound}}); err != nil {
			return nil, err
		}
		return nil, &requestsvc.ObjectError{Reason: "not found in any source"}
	}
}

// Fetch resolves an already-located object's bytes from the object cache,
// treating a cache miss as an error. Find stores what it downloads in the
// meta cache only; nothing in Engine writes the object cache.
func (e *Engine) Fetch(ctx context.Context, handle requestsvc.ObjectMetaHandle) (*requestsvc.ObjectHandle, error) {
	entry, _, ok, err := e.objectCache.Open(handle.CacheKey)
	if err != nil {
		middleware.Logger.Warn("object cache open failed", zap.String("key", handle.CacheKey), zap.Error(err))
	}
	if !ok || !entry.OK() {
		return nil, &requestsvc.ObjectError{Reason: fmt.Sprintf("object %s not cached", handle.CacheKey)}
	}
	return &requestsvc.ObjectHandle{Data: entry.Data}, nil
}

// splitSources is a placeholder decoder for the opaque Sources payload;
// the real wire format (a JSON array of source descriptors) is out of
// scope here, so any non-empty payload is treated as a single source.
func splitSources(raw []byte) [][]byte {
	if len(raw) == 0 {
		return nil
	}
	return [][]byte{raw}
}
