package cachefs

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/google/renameio/v2"
)

// Cache is a single named, directory-backed cache (§4.C). Each CacheName
// used by the service gets its own Cache instance pointed at its own
// subdirectory of the on-disk cache root.
//
// A Cache does not itself perform downloads, conversions, or refreshes - it
// only answers "is there a usable file for this key, and if not, here is
// where one should be written" together with "what should happen to this
// entry next" (ExpirationTime). Callers (symbolication/, warming/) own the
// actual fetch-or-compute logic.
type Cache struct {
	name      CacheName
	cacheDir  string
	tmpDir    string
	startTime time.Time
	config    Config

	// maxLazyRefreshes bounds how many speculative background refreshes any
	// caller sharing this handle may have in flight at once. The Cache
	// itself never reads or writes it; Open and Store never touch this
	// field. It exists purely so every component layered on top of a Cache
	// coordinates through the same counter.
	maxLazyRefreshes *atomic.Int64
}

// NewCache constructs a Cache rooted at cacheDir/<name>, using tmpDir for
// staging writes before an atomic rename into cacheDir. Both directories
// must reside on the same filesystem for the rename to be atomic (§9 "Same
// filesystem trust boundary" - this is a caller obligation, not checked
// here).
func NewCache(name CacheName, cacheDir, tmpDir string, cfg Config, maxLazyRefreshes *atomic.Int64) (*Cache, error) {
	dir := filepath.Join(cacheDir, string(name))
	tdir := filepath.Join(tmpDir, string(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tdir, 0o755); err != nil {
		return nil, err
	}
	if maxLazyRefreshes == nil {
		maxLazyRefreshes = &atomic.Int64{}
	}
	return &Cache{
		name:             name,
		cacheDir:         dir,
		tmpDir:           tdir,
		startTime:        time.Now(),
		config:           cfg,
		maxLazyRefreshes: maxLazyRefreshes,
	}, nil
}

// MaxLazyRefreshes exposes the shared refresh-budget counter so that
// warming/ can decrement it before scheduling a speculative refresh and
// increment it back when done.
func (c *Cache) MaxLazyRefreshes() *atomic.Int64 { return c.maxLazyRefreshes }

// Open looks up key (a filename relative to the cache directory, typically
// a content hash) and returns its decoded Entry together with the
// ExpirationTime telling the caller when to touch or refresh it next.
//
// A missing file, and an entry whose cool-off/idle window has already
// elapsed, both report a clean miss: (Entry{Err: NotFound}, _, false, nil).
// Any other I/O error (permission denied, and anything else os.Stat/read/
// touch can fail with) is surfaced through the returned error rather than
// collapsed into the miss signal - per §4.C/§7, "NotFound anywhere in a
// cache read path is a clean miss; all other I/O errors propagate to the
// caller". Callers typically treat a non-nil error as "miss + log" rather
// than fatal, but must be able to tell the two apart to log it at all.
func (c *Cache) Open(key string) (Entry, ExpirationTime, bool, error) {
	path := filepath.Join(c.cacheDir, key)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{Err: &Error{Kind: ErrNotFound}}, ExpirationTime{}, false, nil
		}
		cerr := &Error{Kind: ErrPermissionDenied, Reason: err.Error()}
		return Entry{Err: cerr}, ExpirationTime{}, false, cerr
	}

	mtime := info.ModTime()
	elapsed := time.Since(mtime)

	data, err := readFile(path, info.Size())
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{Err: &Error{Kind: ErrNotFound}}, ExpirationTime{}, false, nil
		}
		cerr := &Error{Kind: ErrPermissionDenied, Reason: err.Error()}
		return Entry{Err: cerr}, ExpirationTime{}, false, cerr
	}

	entry := decode(data)
	strategy := expirationStrategy(c.config, entry)
	expiry, ok := expirationTime(c.config, strategy, mtime, elapsed, c.startTime)
	if !ok {
		return Entry{Err: &Error{Kind: ErrNotFound}}, ExpirationTime{}, false, nil
	}

	if expiry.Kind == ExpireTouchIn && expiry.Duration() <= 0 {
		if err := os.Chtimes(path, time.Now(), time.Now()); err != nil {
			if os.IsNotExist(err) {
				return Entry{Err: &Error{Kind: ErrNotFound}}, ExpirationTime{}, false, nil
			}
			cerr := &Error{Kind: ErrPermissionDenied, Reason: err.Error()}
			return entry, expiry, true, cerr
		}
		expiry = TouchIn(TouchEvery)
	}

	return entry, expiry, true, nil
}

// readFile reads a file's full contents via a read-only mmap for files
// large enough to benefit from zero-copy access, falling back to a regular
// read for small or empty files (mmap of a zero-length file is invalid on
// most platforms).
func readFile(path string, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := mmap.MapRegion(f, int(size), mmap.RDONLY, 0, 0)
	if err != nil {
		// Fall back to a plain read; some filesystems (tmpfs corner cases,
		// certain network mounts) reject mmap but serve reads fine.
		return io.ReadAll(f)
	}
	defer m.Unmap()

	out := make([]byte, len(m))
	copy(out, m)
	return out, nil
}

// Store writes entry's on-disk representation for key via a tempfile in
// tmpDir followed by an atomic rename into place, and returns the
// ExpirationTime that a fresh write of this kind carries (§4.B "a fresh
// entry").
//
// Store always succeeds in writing *something* for key, even when entry
// itself represents a failure: a NotFound or Malformed sentinel is still a
// cache entry, just a negative one, and persisting it is what lets the
// cool-off window (RetryMissesAfter / RetryMalformedAfter) work at all.
func (c *Cache) Store(key string, entry Entry) (ExpirationTime, error) {
	path := filepath.Join(c.cacheDir, key)
	payload := encodeOutcome(entry, c.config.Kind)

	if err := c.writeAtomic(path, payload); err != nil {
		return ExpirationTime{}, err
	}
	return freshExpirationTime(c.config, entry), nil
}

// writeAtomic stages payload in tmpDir and renames it into place. It
// retries tempfile creation once after recreating tmpDir, mirroring the
// original's tolerance of a concurrently-deleted staging directory (e.g. an
// external process clearing the whole cache root while this process is
// running).
func (c *Cache) writeAtomic(path string, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		t, err := renameio.TempFile(c.tmpDir, path)
		if err != nil {
			if os.IsNotExist(err) {
				if mkErr := os.MkdirAll(c.tmpDir, 0o755); mkErr != nil {
					return mkErr
				}
				lastErr = err
				continue
			}
			return err
		}

		if _, err := t.Write(payload); err != nil {
			t.Cleanup()
			return err
		}
		if err := t.CloseAtomicallyReplace(); err != nil {
			return err
		}
		return nil
	}
	return lastErr
}

// Remove deletes key outright, bypassing the sentinel mechanism entirely.
// Used by the invalidation broadcast (§9 "external cleanup process") to
// force a genuinely fresh lookup rather than leaving a negative cache entry
// in place.
func (c *Cache) Remove(key string) error {
	err := os.Remove(filepath.Join(c.cacheDir, key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Name reports the CacheName this instance was constructed for.
func (c *Cache) Name() CacheName { return c.name }
