package glob

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxPatternLength    = 200
	MaxWildcards        = 10
	MaxConsecutiveStars = 3
	MaxTextLength       = 1000

	// MaxStarFanout bounds how many successor states one `*` step pushes.
	// Longer runs are reached through a continuation state.
	MaxStarFanout = 50

	MaxIterations    = 100_000
	checkEvery       = 1000
	DefaultTimeout   = 100 * time.Millisecond
	DefaultCacheSize = 256
)

var (
	ErrTooComplex   = errors.New("pattern too complex")
	ErrEmptyPattern = errors.New("must not be empty")

	errTimeout        = errors.New("match timed out")
	errIterationLimit = errors.New("match iteration limit reached")
	errTextTooLong    = errors.New("text too long")
)

type SegmentKind uint8

const (
	Literal SegmentKind = iota
	Single
	Multi
)

type Segment struct {
	Kind SegmentKind
	Text []rune
}

type CompiledPattern struct {
	Pattern      string
	Segments     []Segment
	HasWildcards bool
	Complexity   int

	normalized string
}

type compiled struct {
	pattern *CompiledPattern
	err     error
}

// Matcher evaluates glob patterns under fixed resource bounds. Compiled
// patterns, rejections included, are cached by raw pattern string. A Matcher
// is safe for concurrent use; per-call state lives on the stack.
type Matcher struct {
	cache   *lru.Cache[string, compiled]
	timeout time.Duration
	now     func() time.Time

	maxIterations     int
	maxPathIterations int
}

func New(cacheSize int, timeout time.Duration) *Matcher {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cache, err := lru.New[string, compiled](cacheSize)
	if err != nil {
		panic(err)
	}
	return &Matcher{
		cache:             cache,
		timeout:           timeout,
		now:               time.Now,
		maxIterations:     MaxIterations,
		maxPathIterations: MaxPathIterations,
	}
}

func (m *Matcher) Compile(pattern string) (*CompiledPattern, error) {
	if c, ok := m.cache.Get(pattern); ok {
		return c.pattern, c.err
	}
	cp, err := compile(pattern)
	m.cache.Add(pattern, compiled{pattern: cp, err: err})
	return cp, err
}

// Validate applies the request-boundary rules: the compile-time limits plus a
// non-empty check.
func (m *Matcher) Validate(pattern string) error {
	if pattern == "" {
		return ErrEmptyPattern
	}
	_, err := m.Compile(pattern)
	return err
}

func compile(pattern string) (*CompiledPattern, error) {
	if len(pattern) > MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern too long (max %d characters)", ErrTooComplex, MaxPatternLength)
	}
	normalized := norm.NFC.String(pattern)
	if len(normalized) > MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern too long (max %d characters)", ErrTooComplex, MaxPatternLength)
	}

	wildcards, run, longestRun := 0, 0, 0
	for _, r := range normalized {
		switch r {
		case '*':
			wildcards++
			run++
			longestRun = max(longestRun, run)
		case '?':
			wildcards++
			run = 0
		default:
			run = 0
		}
	}
	if wildcards > MaxWildcards {
		return nil, fmt.Errorf("%w: too many wildcards (max %d)", ErrTooComplex, MaxWildcards)
	}
	if longestRun > MaxConsecutiveStars {
		return nil, fmt.Errorf("%w: too many consecutive wildcards (max %d)", ErrTooComplex, MaxConsecutiveStars)
	}

	cp := &CompiledPattern{Pattern: pattern, normalized: normalized}
	var lit []rune
	flush := func() {
		if len(lit) > 0 {
			cp.Segments = append(cp.Segments, Segment{Kind: Literal, Text: lit})
			lit = nil
		}
	}
	for _, r := range normalized {
		switch r {
		case '*':
			flush()
			cp.HasWildcards = true
			// a run of stars is one Multi segment
			if n := len(cp.Segments); n > 0 && cp.Segments[n-1].Kind == Multi {
				continue
			}
			cp.Segments = append(cp.Segments, Segment{Kind: Multi})
			cp.Complexity += 2
		case '?':
			flush()
			cp.HasWildcards = true
			cp.Segments = append(cp.Segments, Segment{Kind: Single})
			cp.Complexity++
		default:
			lit = append(lit, r)
		}
	}
	flush()
	return cp, nil
}

// Match reports whether text matches pattern. Any rejected pattern, oversized
// text, timeout or iteration overrun yields false.
func (m *Matcher) Match(pattern, text string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	cp, err := m.Compile(pattern)
	if err != nil {
		return false
	}
	ok, _ = m.match(cp, text)
	return ok
}

type state struct {
	seg int
	pos int
}

func (m *Matcher) match(cp *CompiledPattern, text string) (bool, error) {
	if len(text) > MaxTextLength {
		return false, errTextTooLong
	}
	text = norm.NFC.String(text)
	if len(text) > MaxTextLength {
		return false, errTextTooLong
	}
	if !cp.HasWildcards {
		return text == cp.normalized, nil
	}

	runes := []rune(text)
	segs := cp.Segments
	n := len(runes)
	width := n + 1
	visited := make([]bool, (len(segs)+1)*width)

	start := m.now()
	stack := []state{{0, 0}}
	push := func(s state) {
		if !visited[s.seg*width+s.pos] {
			stack = append(stack, s)
		}
	}
	iterations := 0
	for len(stack) > 0 {
		iterations++
		if iterations > m.maxIterations {
			return false, errIterationLimit
		}
		if iterations%checkEvery == 0 && m.now().Sub(start) > m.timeout {
			return false, errTimeout
		}

		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		key := st.seg*width + st.pos
		if visited[key] {
			continue
		}
		visited[key] = true

		if st.seg == len(segs) {
			if st.pos == n {
				return true, nil
			}
			continue
		}

		seg := segs[st.seg]
		switch seg.Kind {
		case Literal:
			if hasPrefixAt(runes, st.pos, seg.Text) {
				push(state{st.seg + 1, st.pos + len(seg.Text)})
			}
		case Single:
			if st.pos < n {
				push(state{st.seg + 1, st.pos + 1})
			}
		case Multi:
			if st.seg == len(segs)-1 {
				return true, nil
			}
			remaining := n - st.pos
			fan := min(remaining, MaxStarFanout)
			if remaining > MaxStarFanout {
				push(state{st.seg, st.pos + MaxStarFanout})
			}
			for k := fan; k >= 0; k-- {
				push(state{st.seg + 1, st.pos + k})
			}
		}
	}
	return false, nil
}

func hasPrefixAt(text []rune, pos int, lit []rune) bool {
	if pos+len(lit) > len(text) {
		return false
	}
	for i, r := range lit {
		if text[pos+i] != r {
			return false
		}
	}
	return true
}
