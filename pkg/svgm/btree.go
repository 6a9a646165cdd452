package svgm

import (
	"context"
	"sort"

	"github.com/google/btree"
)

// docEntry is one row of a view's B-tree: a document's emitted key/value,
// tagged with the partition it came from so a purge can find everything
// belonging to a cleaned-up partition without a second index.
type docEntry struct {
	key       string
	partition uint32
	value     []byte
}

func (e docEntry) Less(than btree.Item) bool { return e.key < than.(docEntry).key }

// MemViewTree is an in-memory stand-in for a view's durable B-tree, used
// by MemPurger and MemCompactor. A real engine backs this with on-disk
// nodes read through ChunkCodec; this keeps the same node shape so swapping
// in real storage later doesn't change the purge/compact contracts.
type MemViewTree struct {
	tree *btree.BTree
}

// NewMemViewTree returns an empty tree with the given branching degree.
func NewMemViewTree(degree int) *MemViewTree {
	return &MemViewTree{tree: btree.New(degree)}
}

// Put inserts or replaces the row for key.
func (t *MemViewTree) Put(key string, partition uint32, value []byte) {
	t.tree.ReplaceOrInsert(docEntry{key: key, partition: partition, value: value})
}

// Len returns the number of rows.
func (t *MemViewTree) Len() int { return t.tree.Len() }

// PurgePartitions removes every row tagged with a partition in set,
// returning the count removed.
func (t *MemViewTree) PurgePartitions(set *PartitionSet) uint64 {
	var toDelete []docEntry
	t.tree.Ascend(func(i btree.Item) bool {
		e := i.(docEntry)
		if set.Contains(e.partition) {
			toDelete = append(toDelete, e)
		}
		return true
	})
	for _, e := range toDelete {
		t.tree.Delete(e)
	}
	return uint64(len(toDelete))
}

// Compact rebuilds the tree in ascending key order into a fresh *btree.BTree
// of the same degree, which is what actually reclaims memory/disk a
// stale/duplicated node previously held.
func (t *MemViewTree) Compact(degree int) {
	entries := make([]docEntry, 0, t.tree.Len())
	t.tree.Ascend(func(i btree.Item) bool {
		entries = append(entries, i.(docEntry))
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	fresh := btree.New(degree)
	for _, e := range entries {
		fresh.ReplaceOrInsert(e)
	}
	t.tree = fresh
}

// ApproxByteSize sums the raw value sizes currently stored, a stand-in for
// the on-disk footprint the real node chunker would report.
func (t *MemViewTree) ApproxByteSize() uint64 {
	var total uint64
	t.tree.Ascend(func(i btree.Item) bool {
		total += uint64(len(i.(docEntry).value))
		return true
	})
	return total
}

// MemPurger is the in-memory default Purger, used by tests and by
// deployments small enough to keep views resident.
type MemPurger struct {
	Views map[string]*MemViewTree
}

// NewMemPurger returns a Purger over the given named view trees.
func NewMemPurger(views map[string]*MemViewTree) *MemPurger {
	return &MemPurger{Views: views}
}

func (p *MemPurger) Purge(ctx context.Context, h *IndexHeader, partitions *PartitionSet) (uint64, *IndexHeader, error) {
	var total uint64
	for _, t := range p.Views {
		total += t.PurgePartitions(partitions)
	}
	for _, id := range partitions.Bits() {
		h.PurgeSeqs.Delete(id)
	}
	return total, h, nil
}

// MemCompactor is the in-memory default Compactable.
type MemCompactor struct {
	Views  map[string]*MemViewTree
	Degree int
}

// NewMemCompactor returns a Compactable over the given named view trees.
func NewMemCompactor(views map[string]*MemViewTree, degree int) *MemCompactor {
	if degree <= 0 {
		degree = 32
	}
	return &MemCompactor{Views: views, Degree: degree}
}

func (c *MemCompactor) Compact(ctx context.Context, h *IndexHeader) (*IndexHeader, uint64, uint64, error) {
	var pre uint64
	for _, t := range c.Views {
		pre += t.ApproxByteSize()
	}
	for _, t := range c.Views {
		select {
		case <-ctx.Done():
			return h, pre, pre, ctx.Err()
		default:
		}
		t.Compact(c.Degree)
	}
	var post uint64
	for _, t := range c.Views {
		post += t.ApproxByteSize()
	}
	return h, pre, post, nil
}
