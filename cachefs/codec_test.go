package cachefs

import "testing"

func TestDecodeEmptyIsNotFound(t *testing.T) {
	entry := decode(nil)
	if entry.OK() || entry.Err.Kind != ErrNotFound {
		t.Fatalf("decode(nil) = %+v, want NotFound", entry)
	}
	entry = decode([]byte{})
	if entry.OK() || entry.Err.Kind != ErrNotFound {
		t.Fatalf("decode([]byte{}) = %+v, want NotFound", entry)
	}
}

func TestDecodeMalformedSentinel(t *testing.T) {
	entry := decode([]byte("malformed"))
	if entry.OK() || entry.Err.Kind != ErrMalformed {
		t.Fatalf("decode(\"malformed\") = %+v, want Malformed", entry)
	}
}

func TestDecodeOkIsAnythingElse(t *testing.T) {
	cases := [][]byte{
		[]byte("x"),
		[]byte("malformedx"),
		[]byte("Malformed"),
		[]byte("this is a real payload"),
	}
	for _, c := range cases {
		entry := decode(c)
		if !entry.OK() {
			t.Fatalf("decode(%q) = %+v, want Ok", c, entry)
		}
		if string(entry.Data) != string(c) {
			t.Fatalf("decode(%q).Data = %q, want %q", c, entry.Data, c)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ok := Entry{Data: []byte("payload")}
	if got := decode(encodeOutcome(ok, KindDownloaded)); !got.OK() || string(got.Data) != "payload" {
		t.Fatalf("round trip Ok: got %+v", got)
	}

	notFound := Entry{Err: &Error{Kind: ErrNotFound}}
	if got := decode(encodeOutcome(notFound, KindDownloaded)); got.OK() || got.Err.Kind != ErrNotFound {
		t.Fatalf("round trip NotFound: got %+v", got)
	}

	malformed := Entry{Err: &Error{Kind: ErrMalformed}}
	if got := decode(encodeOutcome(malformed, KindDerived)); got.OK() || got.Err.Kind != ErrMalformed {
		t.Fatalf("round trip Malformed: got %+v", got)
	}
}

func TestEncodeOutcomeNonSentinelErrorCollapsesByKind(t *testing.T) {
	timeout := Entry{Err: &Error{Kind: ErrTimeout}}

	downloaded := decode(encodeOutcome(timeout, KindDownloaded))
	if downloaded.OK() || downloaded.Err.Kind != ErrNotFound {
		t.Fatalf("KindDownloaded timeout collapse = %+v, want NotFound", downloaded)
	}

	derived := decode(encodeOutcome(timeout, KindDerived))
	if derived.OK() || derived.Err.Kind != ErrMalformed {
		t.Fatalf("KindDerived timeout collapse = %+v, want Malformed", derived)
	}
}
