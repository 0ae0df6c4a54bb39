package matrix

import (
	"encoding/json"
	"fmt"
	"math/bits"
)

const words = (Size + 63) / 64

// Set is a set of LED indices. It is a plain value: assigning or passing
// a Set copies it.
type Set struct {
	bits [words]uint64
}

// NewSet builds a set from indices. Invalid indices are rejected.
func NewSet(indices ...Index) (Set, error) {
	var s Set
	for _, i := range indices {
		if !i.Valid() {
			return Set{}, fmt.Errorf("%w: %d", ErrInvalidIndex, int(i))
		}
		s.Add(i)
	}
	return s, nil
}

// Add inserts i. Invalid indices are ignored.
func (s *Set) Add(i Index) {
	if !i.Valid() {
		return
	}
	s.bits[i/64] |= 1 << (uint(i) % 64)
}

// Remove deletes i.
func (s *Set) Remove(i Index) {
	if !i.Valid() {
		return
	}
	s.bits[i/64] &^= 1 << (uint(i) % 64)
}

// Set inserts or removes i depending on on.
func (s *Set) Set(i Index, on bool) {
	if on {
		s.Add(i)
	} else {
		s.Remove(i)
	}
}

// Has reports whether i is in the set.
func (s Set) Has(i Index) bool {
	if !i.Valid() {
		return false
	}
	return s.bits[i/64]&(1<<(uint(i)%64)) != 0
}

// Len returns the number of indices in the set.
func (s Set) Len() int {
	n := 0
	for _, w := range s.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// Empty reports whether no index is set.
func (s Set) Empty() bool {
	return s == Set{}
}

// Indices returns the members in ascending order.
func (s Set) Indices() []Index {
	out := make([]Index, 0, s.Len())
	for w, word := range s.bits {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			out = append(out, Index(w*64+b))
			word &= word - 1
		}
	}
	return out
}

// MarshalJSON encodes the set as an ascending array of indices.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Indices())
}

// UnmarshalJSON decodes an array of indices.
func (s *Set) UnmarshalJSON(data []byte) error {
	var indices []Index
	if err := json.Unmarshal(data, &indices); err != nil {
		return err
	}
	decoded, err := NewSet(indices...)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}
