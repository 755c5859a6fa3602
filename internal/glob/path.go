package glob

import (
	"errors"
	"path"
	"strings"
)

const (
	MaxGlobstars      = 5
	MaxPathDepth      = 20
	MaxPathIterations = 10_000
)

var errTooManyGlobstars = errors.New("too many ** segments")

// MatchPath matches a file path against pattern. Patterns containing both a
// slash and a star are matched component by component, with `**` standing for
// zero or more directories. Slash-free patterns match either the whole path or
// its base name, so "*.rs" selects every Rust file.
func (m *Matcher) MatchPath(pattern, filePath string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	filePath = cleanPath(filePath)

	switch {
	case strings.Contains(pattern, "/") && strings.Contains(pattern, "*"):
		if _, err := m.Compile(pattern); err != nil {
			return false
		}
		ok, _ = m.matchComponents(pattern, filePath)
		return ok
	case !strings.Contains(pattern, "/"):
		if m.Match(pattern, filePath) {
			return true
		}
		base := path.Base(filePath)
		return base != filePath && m.Match(pattern, base)
	default:
		return m.Match(pattern, filePath)
	}
}

func cleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

func (m *Matcher) matchComponents(pattern, filePath string) (bool, error) {
	if len(filePath) > MaxTextLength {
		return false, errTextTooLong
	}
	pats := strings.Split(pattern, "/")
	parts := strings.Split(filePath, "/")

	globstars := 0
	for _, p := range pats {
		if p == "**" {
			globstars++
		}
	}
	if globstars > MaxGlobstars {
		return false, errTooManyGlobstars
	}
	if len(parts) > MaxPathDepth || len(pats) > MaxPathDepth {
		return false, errTextTooLong
	}

	width := len(parts) + 1
	visited := make([]bool, (len(pats)+1)*width)
	stack := []state{{0, 0}}
	push := func(s state) {
		if !visited[s.seg*width+s.pos] {
			stack = append(stack, s)
		}
	}

	start := m.now()
	iterations := 0
	for len(stack) > 0 {
		iterations++
		if iterations > m.maxPathIterations {
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

		if st.seg == len(pats) {
			if st.pos == len(parts) {
				return true, nil
			}
			continue
		}

		seg := pats[st.seg]
		if seg == "**" {
			if st.pos < len(parts) {
				push(state{st.seg, st.pos + 1})
			}
			push(state{st.seg + 1, st.pos})
			continue
		}
		if st.pos < len(parts) && m.Match(seg, parts[st.pos]) {
			push(state{st.seg + 1, st.pos + 1})
		}
	}
	return false, nil
}
