// Package shaset implements the ordered SHA digest set cull sessions
// accumulate live chunks into (§3 "SHA entry": "stored in an ordered set
// keyed by the digest bytes; duplicates are silently de-duplicated on
// insertion. A ... counter tracks set cardinality").
package shaset

import (
	"bytes"
	"sort"
)

// Set is an insertion-idempotent, byte-ordered set of 32-byte digests.
// It is not safe for concurrent use; callers (the cull driver) only ever
// touch it from the single scheduler goroutine.
type Set struct {
	members map[[32]byte]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{members: make(map[[32]byte]struct{})}
}

// Insert adds sha to the set, reporting whether it was newly added
// (false if already present — "duplicates are silently de-duplicated").
func (s *Set) Insert(sha [32]byte) bool {
	if _, ok := s.members[sha]; ok {
		return false
	}
	s.members[sha] = struct{}{}
	return true
}

// Len reports the set's cardinality.
func (s *Set) Len() int { return len(s.members) }

// Ordered returns every member in ascending byte order, for deterministic
// batching and tests.
func (s *Set) Ordered() [][32]byte {
	out := make([][32]byte, 0, len(s.members))
	for k := range s.members {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Batches splits the set's members into ordered slices of at most size
// digests each, the shape the cull driver sends to the server (§4.7 step
// 5: "Drain the live-SHA set to the server in packets of up to
// sha_per_packet digests").
func (s *Set) Batches(size int) [][][32]byte {
	if size <= 0 {
		size = len(s.members)
	}
	all := s.Ordered()
	var batches [][][32]byte
	for len(all) > 0 {
		n := size
		if n > len(all) {
			n = len(all)
		}
		batches = append(batches, all[:n])
		all = all[n:]
	}
	return batches
}
