package cursor

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func craft(t *testing.T, pl payload) string {
	t.Helper()
	raw, err := msgpack.Marshal(&pl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestEncodeDecode(t *testing.T) {
	in := Position{Offset: 4200, Limit: 100, Fingerprint: Fingerprint("error", "*.rs", []string{"app"})}
	s, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(s) > MaxLength || strings.ContainsAny(s, "+/=") {
		t.Fatalf("cursor is not compact url-safe text: %q", s)
	}
	out, err := Decode(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		cursor string
		want   string
	}{
		{"empty", "", "malformed cursor"},
		{"not base64", "!!!", "malformed cursor"},
		{"too long", strings.Repeat("A", MaxLength+1), "malformed cursor"},
		{"not msgpack", base64.RawURLEncoding.EncodeToString([]byte{0xc1}), "malformed cursor"},
		{"negative offset", craft(t, payload{V: Version, O: -1}), "offset must be >= 0"},
		{"limit too large", craft(t, payload{V: Version, L: MaxLimit + 1}), "limit must be between 0 and 1000"},
		{"negative limit", craft(t, payload{V: Version, L: -3}), "limit must be between 0 and 1000"},
		{"future version", craft(t, payload{V: Version + 1}), "unsupported cursor version 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.cursor)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
	if _, err := Decode("!!!"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("all", "", []string{"b", "a"})
	b := Fingerprint("all", "", []string{"a", "b"})
	if a != b {
		t.Fatalf("target order must not change the fingerprint")
	}
	if a == Fingerprint("error", "", []string{"a", "b"}) {
		t.Fatalf("severity must change the fingerprint")
	}
	if a == Fingerprint("all", "*.go", []string{"a", "b"}) {
		t.Fatalf("pattern must change the fingerprint")
	}
	if Fingerprint("a", "b", nil) == Fingerprint("ab", "", nil) {
		t.Fatalf("field boundaries must be part of the fingerprint")
	}
}
