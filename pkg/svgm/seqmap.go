package svgm

import "github.com/google/btree"

// seqItem is one partition's entry in a SeqMap, ordered by partition id so
// ascending traversal yields the order the durable header format requires
// for seqs/purge_seqs (spec.md §6).
type seqItem struct {
	partition uint32
	seq       uint64
}

func (i seqItem) Less(than btree.Item) bool {
	return i.partition < than.(seqItem).partition
}

// SeqMap is an ordered partition-id -> sequence map, backed by the same
// b-tree this package already uses for in-memory view storage (btree.go),
// so ascending iteration (required for header serialization) comes from
// the structure itself rather than a sort pass on every commit.
type SeqMap struct {
	tree *btree.BTree
}

// NewSeqMap returns an empty map.
func NewSeqMap() *SeqMap {
	return &SeqMap{tree: btree.New(32)}
}

func (m *SeqMap) ensure() *btree.BTree {
	if m.tree == nil {
		m.tree = btree.New(32)
	}
	return m.tree
}

// Get returns the sequence for partition and whether it is present.
func (m *SeqMap) Get(partition uint32) (uint64, bool) {
	item := m.ensure().Get(seqItem{partition: partition})
	if item == nil {
		return 0, false
	}
	return item.(seqItem).seq, true
}

// Set inserts or overwrites partition's sequence.
func (m *SeqMap) Set(partition uint32, seq uint64) {
	m.ensure().ReplaceOrInsert(seqItem{partition: partition, seq: seq})
}

// Delete removes partition's entry, a no-op if absent.
func (m *SeqMap) Delete(partition uint32) {
	m.ensure().Delete(seqItem{partition: partition})
}

// Len returns the number of entries.
func (m *SeqMap) Len() int { return m.ensure().Len() }

// Keys returns partition ids in ascending order.
func (m *SeqMap) Keys() []uint32 {
	keys := make([]uint32, 0, m.Len())
	m.ensure().Ascend(func(it btree.Item) bool {
		keys = append(keys, it.(seqItem).partition)
		return true
	})
	return keys
}

// Entries returns (partition, seq) pairs in ascending partition order.
func (m *SeqMap) Entries() []struct {
	Partition uint32
	Seq       uint64
} {
	out := make([]struct {
		Partition uint32
		Seq       uint64
	}, 0, m.Len())
	m.ensure().Ascend(func(it btree.Item) bool {
		e := it.(seqItem)
		out = append(out, struct {
			Partition uint32
			Seq       uint64
		}{e.partition, e.seq})
		return true
	})
	return out
}

// Clone returns an independent copy.
func (m *SeqMap) Clone() *SeqMap {
	clone := NewSeqMap()
	m.ensure().Ascend(func(it btree.Item) bool {
		e := it.(seqItem)
		clone.Set(e.partition, e.seq)
		return true
	})
	return clone
}

// Equal reports whether m and other have identical entries.
func (m *SeqMap) Equal(other *SeqMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	equal := true
	m.ensure().Ascend(func(it btree.Item) bool {
		e := it.(seqItem)
		seq, ok := other.Get(e.partition)
		if !ok || seq != e.seq {
			equal = false
			return false
		}
		return true
	})
	return equal
}

// KeysMatch reports whether m's key set equals exactly the members of set,
// used to check header invariant 2 (keys(seqs) = bits(abitmask | pbitmask)).
func (m *SeqMap) KeysMatch(set *PartitionSet) bool {
	if uint64(m.Len()) != set.Cardinality() {
		return false
	}
	ok := true
	m.ensure().Ascend(func(it btree.Item) bool {
		if !set.Contains(it.(seqItem).partition) {
			ok = false
			return false
		}
		return true
	})
	return ok
}
