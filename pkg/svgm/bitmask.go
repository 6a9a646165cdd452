package svgm

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// PartitionSet is a dense, arbitrary-width bitmask over partition ids,
// backed by a roaring bitmap so num_partitions is never bounded by a
// machine word, per the Design Notes' "Arbitrary-width bitmasks" guidance.
type PartitionSet struct {
	bm *roaring.Bitmap
}

// NewPartitionSet returns an empty set.
func NewPartitionSet() *PartitionSet {
	return &PartitionSet{bm: roaring.New()}
}

// PartitionSetOf returns a set containing exactly the given ids.
func PartitionSetOf(ids ...uint32) *PartitionSet {
	s := NewPartitionSet()
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *PartitionSet) ensure() *roaring.Bitmap {
	if s.bm == nil {
		s.bm = roaring.New()
	}
	return s.bm
}

// Add inserts a partition id.
func (s *PartitionSet) Add(id uint32) { s.ensure().Add(id) }

// Remove deletes a partition id, a no-op if absent.
func (s *PartitionSet) Remove(id uint32) { s.ensure().Remove(id) }

// Contains reports whether id is a member.
func (s *PartitionSet) Contains(id uint32) bool { return s.ensure().Contains(id) }

// IsEmpty reports whether the set has no members.
func (s *PartitionSet) IsEmpty() bool { return s.ensure().IsEmpty() }

// Cardinality returns the number of members.
func (s *PartitionSet) Cardinality() uint64 { return s.ensure().GetCardinality() }

// Clone returns an independent copy.
func (s *PartitionSet) Clone() *PartitionSet {
	return &PartitionSet{bm: s.ensure().Clone()}
}

// Bits returns the members in ascending order.
func (s *PartitionSet) Bits() []uint32 { return s.ensure().ToArray() }

// Intersects reports whether the two sets share any member.
func (s *PartitionSet) Intersects(other *PartitionSet) bool {
	return s.ensure().Intersects(other.ensure())
}

// And returns a new set containing the intersection of s and other.
func (s *PartitionSet) And(other *PartitionSet) *PartitionSet {
	return &PartitionSet{bm: roaring.And(s.ensure(), other.ensure())}
}

// AndNot returns a new set containing members of s that are not in other.
func (s *PartitionSet) AndNot(other *PartitionSet) *PartitionSet {
	return &PartitionSet{bm: roaring.AndNot(s.ensure(), other.ensure())}
}

// Or returns a new set containing the union of s and other.
func (s *PartitionSet) Or(other *PartitionSet) *PartitionSet {
	return &PartitionSet{bm: roaring.Or(s.ensure(), other.ensure())}
}

// AddAll inserts every id from other into s.
func (s *PartitionSet) AddAll(other *PartitionSet) {
	s.ensure().Or(other.ensure())
}

// RemoveAll deletes every id in other from s.
func (s *PartitionSet) RemoveAll(other *PartitionSet) {
	s.ensure().AndNot(other.ensure())
}

// Equal reports whether s and other have identical members.
func (s *PartitionSet) Equal(other *PartitionSet) bool {
	return s.ensure().Equals(other.ensure())
}

func (s *PartitionSet) String() string {
	bits := s.Bits()
	parts := make([]string, len(bits))
	for i, b := range bits {
		parts[i] = fmt.Sprintf("%d", b)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// disjoint reports whether none of the given sets share a member,
// pairwise, used to validate role-list requests (spec.md §4.1).
func disjoint(sets ...*PartitionSet) bool {
	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			if sets[i].Intersects(sets[j]) {
				return false
			}
		}
	}
	return true
}
