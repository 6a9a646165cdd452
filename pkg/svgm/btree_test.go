package svgm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemViewTreePutAndPurge(t *testing.T) {
	tree := NewMemViewTree(32)
	tree.Put("doc1", 0, []byte("a"))
	tree.Put("doc2", 1, []byte("b"))
	tree.Put("doc3", 2, []byte("c"))
	require.Equal(t, 3, tree.Len())

	purged := tree.PurgePartitions(PartitionSetOf(1))
	require.EqualValues(t, 1, purged)
	require.Equal(t, 2, tree.Len())
}

func TestMemViewTreeCompactPreservesEntries(t *testing.T) {
	tree := NewMemViewTree(32)
	tree.Put("b", 0, []byte("v2"))
	tree.Put("a", 0, []byte("v1"))
	tree.Compact(32)
	require.Equal(t, 2, tree.Len())
}

func TestMemPurger(t *testing.T) {
	views := map[string]*MemViewTree{"by_id": NewMemViewTree(32)}
	views["by_id"].Put("doc1", 5, []byte("x"))
	p := NewMemPurger(views)

	h := buildSampleHeader()
	h.PurgeSeqs.Set(5, 10)

	count, newH, err := p.Purge(context.Background(), h, PartitionSetOf(5))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	_, ok := newH.PurgeSeqs.Get(5)
	require.False(t, ok)
}

func TestMemCompactorReportsSizes(t *testing.T) {
	views := map[string]*MemViewTree{"by_id": NewMemViewTree(32)}
	views["by_id"].Put("doc1", 0, []byte("0123456789"))
	c := NewMemCompactor(views, 32)

	h := buildSampleHeader()
	newH, pre, post, err := c.Compact(context.Background(), h)
	require.NoError(t, err)
	require.NotNil(t, newH)
	require.Equal(t, pre, post)
	require.EqualValues(t, 10, pre)
}
