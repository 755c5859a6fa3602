package cursor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	Version   = 1
	MaxLength = 256
	MaxLimit  = 1000
)

var ErrMalformed = errors.New("malformed cursor")

// Position is where the next slice of a result set starts. Limit zero means
// the slice is sized by the token budget rather than a page size.
type Position struct {
	Offset      int
	Limit       int
	Fingerprint uint64
}

type payload struct {
	V uint8  `msgpack:"v"`
	O int64  `msgpack:"o"`
	L int64  `msgpack:"l"`
	F uint64 `msgpack:"f"`
}

func Encode(p Position) (string, error) {
	raw, err := msgpack.Marshal(&payload{
		V: Version,
		O: int64(p.Offset),
		L: int64(p.Limit),
		F: p.Fingerprint,
	})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func Decode(s string) (Position, error) {
	if s == "" || len(s) > MaxLength {
		return Position{}, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Position{}, ErrMalformed
	}
	var pl payload
	if err := msgpack.Unmarshal(raw, &pl); err != nil {
		return Position{}, ErrMalformed
	}
	if pl.V != Version {
		return Position{}, fmt.Errorf("unsupported cursor version %d", pl.V)
	}
	if pl.O < 0 {
		return Position{}, errors.New("offset must be >= 0")
	}
	if pl.L < 0 || pl.L > MaxLimit {
		return Position{}, fmt.Errorf("limit must be between 0 and %d", MaxLimit)
	}
	offset, err := safecast.Conv[int](pl.O)
	if err != nil {
		return Position{}, fmt.Errorf("offset out of range: %w", err)
	}
	limit, err := safecast.Conv[int](pl.L)
	if err != nil {
		return Position{}, fmt.Errorf("limit out of range: %w", err)
	}
	return Position{Offset: offset, Limit: limit, Fingerprint: pl.F}, nil
}

// Fingerprint identifies the filter a cursor was issued for. Target order
// does not matter.
func Fingerprint(severity, pattern string, targets []string) uint64 {
	h := fnv.New64a()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	write(severity)
	write(pattern)
	sorted := slices.Clone(targets)
	slices.Sort(sorted)
	for _, t := range sorted {
		write(t)
	}
	return h.Sum64()
}
