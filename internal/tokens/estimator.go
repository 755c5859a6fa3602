package tokens

import (
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCacheSize = 2000

	// SafetyMultiplier inflates per-item estimates while deciding what fits a
	// budget. Reported token counts never include it.
	SafetyMultiplier = 1.4

	// Scaled uses the multiplier as an exact ratio to stay clear of float
	// rounding at the budget edge.
	safetyNum = 14
	safetyDen = 10
)

// Estimator prices text in approximate LLM tokens without a tokenizer.
// Results for Text are memoized; an Estimator is safe for concurrent use and
// is meant to be shared for the lifetime of the process.
type Estimator struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, int]
	capacity int

	hits   atomic.Uint64
	misses atomic.Uint64
}

type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

func New(capacity int) *Estimator {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	cache, err := lru.New[string, int](capacity)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return &Estimator{cache: cache, capacity: capacity}
}

// Text returns the estimated token count of s. It is always >= 1.
func (e *Estimator) Text(s string) int {
	if n, ok := e.cache.Get(s); ok {
		e.hits.Add(1)
		return n
	}
	e.misses.Add(1)
	n := estimateText(s)
	e.store(s, n)
	return n
}

// Scaled applies SafetyMultiplier to an estimate, rounding up.
func Scaled(n int) int {
	return (n*safetyNum + safetyDen - 1) / safetyDen
}

func (e *Estimator) Stats() Stats {
	return Stats{
		Entries: e.cache.Len(),
		Hits:    e.hits.Load(),
		Misses:  e.misses.Load(),
	}
}

// store inserts under e.mu so the capacity check, the bulk eviction and the
// insert happen as one step.
func (e *Estimator) store(s string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache.Contains(s) {
		return
	}
	if e.cache.Len() >= e.capacity {
		evict := (e.capacity + 3) / 4
		for i := 0; i < evict; i++ {
			if _, _, ok := e.cache.RemoveOldest(); !ok {
				break
			}
		}
	}
	e.cache.Add(s, n)
}

func estimateText(s string) int {
	if n, ok := lookup(s); ok {
		return n
	}
	total := 0
	for _, w := range strings.Fields(s) {
		total += estimateWord(w)
	}
	total += nonASCIIBytes(s) / 4
	if total < 1 {
		return 1
	}
	return total
}

func estimateWord(w string) int {
	if n, ok := lookup(w); ok {
		return n
	}
	if n, ok := lookup(strings.ToLower(w)); ok {
		return n
	}
	switch n := len(w); {
	case n <= 2:
		return 1
	case strings.Contains(w, "."):
		return len(strings.Split(w, "."))
	case strings.Contains(w, "/"):
		return max(1, len(strings.Split(w, "/"))-1)
	case n <= 6:
		return 1
	case n <= 12:
		return 2
	default:
		return (n + 5) / 6
	}
}

func nonASCIIBytes(s string) int {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			count++
		}
	}
	return count
}
