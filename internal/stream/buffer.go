package stream

import "github.com/mblsha/diagforge/internal/wire"

// PriorityBuffer holds errors and warnings in two FIFO queues under one hard
// capacity. Once full, further pushes are rejected and the buffer is marked
// overflowed.
type PriorityBuffer struct {
	errors     []wire.Diagnostic
	warnings   []wire.Diagnostic
	capacity   int
	overflowed bool
}

func NewPriorityBuffer(capacity int) *PriorityBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &PriorityBuffer{capacity: capacity}
}

func (b *PriorityBuffer) Push(d wire.Diagnostic) bool {
	if b.Full() {
		b.overflowed = true
		return false
	}
	if d.Severity == wire.SeverityError {
		b.errors = append(b.errors, d)
	} else {
		b.warnings = append(b.warnings, d)
	}
	return true
}

// Fill pushes from src until src is exhausted or the buffer is full. A full
// buffer pulls one more element to learn whether anything was left behind,
// then stops pulling, so how much src still held is never known.
func (b *PriorityBuffer) Fill(src Seq[wire.Diagnostic]) {
	for {
		d, ok := src()
		if !ok {
			return
		}
		if !b.Push(d) {
			return
		}
	}
}

func (b *PriorityBuffer) Len() int      { return len(b.errors) + len(b.warnings) }
func (b *PriorityBuffer) Capacity() int { return b.capacity }
func (b *PriorityBuffer) Full() bool    { return b.Len() >= b.capacity }
func (b *PriorityBuffer) Errors() int   { return len(b.errors) }

// Overflowed reports whether any push was rejected for lack of room.
func (b *PriorityBuffer) Overflowed() bool { return b.overflowed }

// Drain yields every buffered error, then every buffered warning, each in
// insertion order. The buffer itself is left untouched.
func (b *PriorityBuffer) Drain() Seq[wire.Diagnostic] {
	return Chain(FromSlice(b.errors), FromSlice(b.warnings))
}
