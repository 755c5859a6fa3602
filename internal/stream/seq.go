package stream

// Seq is a pull-based lazy sequence: each call yields the next element, or
// false once the sequence is exhausted. Stages pull from upstream only when
// they are pulled themselves.
type Seq[T any] func() (T, bool)

func FromSlice[T any](items []T) Seq[T] {
	i := 0
	return func() (T, bool) {
		if i >= len(items) {
			var zero T
			return zero, false
		}
		v := items[i]
		i++
		return v, true
	}
}

func Filter[T any](s Seq[T], keep func(T) bool) Seq[T] {
	return func() (T, bool) {
		for {
			v, ok := s()
			if !ok || keep(v) {
				return v, ok
			}
		}
	}
}

// Take yields at most n elements and never pulls upstream after the nth.
func Take[T any](s Seq[T], n int) Seq[T] {
	return func() (T, bool) {
		if n <= 0 {
			var zero T
			return zero, false
		}
		n--
		return s()
	}
}

// Skip discards the first n elements on the first pull.
func Skip[T any](s Seq[T], n int) Seq[T] {
	return func() (T, bool) {
		for ; n > 0; n-- {
			if _, ok := s(); !ok {
				var zero T
				return zero, false
			}
		}
		return s()
	}
}

func Chain[T any](seqs ...Seq[T]) Seq[T] {
	return func() (T, bool) {
		for len(seqs) > 0 {
			if v, ok := seqs[0](); ok {
				return v, true
			}
			seqs = seqs[1:]
		}
		var zero T
		return zero, false
	}
}

// Collect drains s into a slice, stopping after limit elements when limit is
// positive.
func Collect[T any](s Seq[T], limit int) []T {
	out := []T{}
	for limit <= 0 || len(out) < limit {
		v, ok := s()
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}
