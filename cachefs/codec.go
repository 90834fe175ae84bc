package cachefs

// malformedSentinel is the exact byte string a file must contain to be
// decoded as Err(Malformed("")). It is nine ASCII bytes; callers writing
// positive artifacts must ensure their payload never collides with it and
// is never empty (§4.A).
var malformedSentinel = []byte("malformed")

// decode is a total function from a byte view to a cache Entry (§4.A).
//
//   - An empty slice decodes to Err(NotFound).
//   - A slice whose entire contents equal "malformed" decodes to
//     Err(Malformed("")).
//   - Anything else decodes to Ok(contents).
//
// decode never copies buf; callers that need the bytes to outlive the
// backing mmap must copy themselves.
func decode(buf []byte) Entry {
	if len(buf) == 0 {
		return Entry{Err: &Error{Kind: ErrNotFound}}
	}
	if isMalformedSentinel(buf) {
		return Entry{Err: &Error{Kind: ErrMalformed}}
	}
	return Entry{Data: buf}
}

func isMalformedSentinel(buf []byte) bool {
	if len(buf) != len(malformedSentinel) {
		return false
	}
	for i, b := range malformedSentinel {
		if buf[i] != b {
			return false
		}
	}
	return true
}

// encodeNotFound returns the on-disk representation of Err(NotFound): the
// empty byte string.
func encodeNotFound() []byte { return nil }

// encodeMalformed returns the on-disk representation of Err(Malformed(_)):
// the nine-byte sentinel. The reason string is intentionally dropped - the
// format has no room for it (§9 "Ambiguity of non-sentinel errors").
func encodeMalformed() []byte {
	out := make([]byte, len(malformedSentinel))
	copy(out, malformedSentinel)
	return out
}

// encodeOutcome maps any cache outcome onto the two-sentinel on-disk format
// used at write time, per the lossy collapse documented in §3 and §9: only
// NotFound and Malformed get dedicated sentinels, every other error kind is
// written as whichever sentinel best matches the cache's kind-driven
// default strategy.
func encodeOutcome(entry Entry, kind CacheKind) []byte {
	if entry.OK() {
		return entry.Data
	}
	switch entry.Err.Kind {
	case ErrNotFound:
		return encodeNotFound()
	case ErrMalformed:
		return encodeMalformed()
	default:
		switch kind {
		case KindDownloaded:
			return encodeNotFound()
		case KindDerived:
			return encodeMalformed()
		default:
			return encodeNotFound()
		}
	}
}
