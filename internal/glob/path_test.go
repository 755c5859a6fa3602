package glob

import (
	"errors"
	"strings"
	"testing"
)

func TestMatchPath(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/**/*.rs", "src/main.rs", true},
		{"src/**/*.rs", "src/a/b/c.rs", true},
		{"src/**/*.rs", "lib/main.rs", false},
		{"src/**/*.rs", "src/a/b/c.go", false},
		{"src/**/*.rs", `src\a\b.rs`, true},
		{"src/**/*.rs", "./src/a.rs", true},
		{"src/*.rs", "src/a.rs", true},
		{"src/*.rs", "src/a/b.rs", false},
		{"**/test_*.go", "internal/x/test_a.go", true},
		{"**/test_*.go", "test_a.go", true},
		{"src/**", "src", true},
		{"src/**", "src/deep/tree/file.c", true},
		{"*.rs", "src/deep/x.rs", true},
		{"*.rs", "src/deep/x.go", false},
		{"main.rs", "src/main.rs", true},
		{"main.rs", "src/other.rs", false},
		{"src/?.rs", "src/a.rs", true},
		{"src/?.rs", "src/ab.rs", false},
		{"rtl/top.sv", "rtl/top.sv", true},
	}
	m := New(32, 0)
	for _, tc := range cases {
		if got := m.MatchPath(tc.pattern, tc.path); got != tc.want {
			t.Fatalf("MatchPath(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestMatchPath_GlobstarCap(t *testing.T) {
	m := New(16, 0)
	pattern := "a" + strings.Repeat("/**", MaxGlobstars+1) + "/b"
	ok, err := m.matchComponents(pattern, "a/b")
	if ok || !errors.Is(err, errTooManyGlobstars) {
		t.Fatalf("expected globstar rejection, got ok=%v err=%v", ok, err)
	}
	if m.MatchPath(pattern, "a/b") {
		t.Fatalf("expected over-limit globstar pattern to fail closed")
	}
}

func TestMatchPath_DepthCap(t *testing.T) {
	m := New(16, 0)
	deep := strings.Repeat("d/", MaxPathDepth) + "x.rs"
	if m.MatchPath("**/*.rs", deep) {
		t.Fatalf("expected path deeper than %d components to be rejected", MaxPathDepth)
	}
	shallow := strings.Repeat("d/", MaxPathDepth-1) + "x.rs"
	if !m.MatchPath("**/*.rs", shallow) {
		t.Fatalf("expected path of %d components to match", MaxPathDepth)
	}
}

func TestMatchPath_IterationCap(t *testing.T) {
	m := New(16, 0)
	m.maxPathIterations = 3
	ok, err := m.matchComponents("**/**/**/*.rs", "a/b/c/d/e.go")
	if ok || !errors.Is(err, errIterationLimit) {
		t.Fatalf("expected iteration limit, got ok=%v err=%v", ok, err)
	}
}
