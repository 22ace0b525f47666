package cache

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Hasher accumulates request contents into a 64-bit xxhash fingerprint.
// Every field is length-prefixed so adjacent fields cannot collide.
type Hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

func NewHasher() *Hasher {
	return &Hasher{d: xxhash.New()}
}

func (h *Hasher) uint(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.d.Write(h.buf[:])
}

// String adds s.
func (h *Hasher) String(s string) *Hasher {
	h.uint(uint64(len(s)))
	_, _ = h.d.WriteString(s)
	return h
}

// Int adds v.
func (h *Hasher) Int(v int64) *Hasher {
	h.uint(uint64(v))
	return h
}

// Floats adds v bit for bit, so NaN and -0 are distinct from other values.
func (h *Hasher) Floats(v []float64) *Hasher {
	h.uint(uint64(len(v)))
	for _, x := range v {
		h.uint(math.Float64bits(x))
	}
	return h
}

// Sum returns the fingerprint of everything added so far.
func (h *Hasher) Sum() uint64 {
	return h.d.Sum64()
}

// Key returns Sum as a fixed-width hex string.
func (h *Hasher) Key() string {
	return fmt.Sprintf("%016x", h.Sum())
}
