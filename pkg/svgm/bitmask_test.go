package svgm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionSetBasics(t *testing.T) {
	s := PartitionSetOf(1, 3, 5)
	require.True(t, s.Contains(3))
	require.False(t, s.Contains(4))
	require.EqualValues(t, 3, s.Cardinality())

	s.Remove(3)
	require.False(t, s.Contains(3))
	require.EqualValues(t, []uint32{1, 5}, s.Bits())
}

func TestPartitionSetSetOps(t *testing.T) {
	a := PartitionSetOf(1, 2, 3)
	b := PartitionSetOf(2, 3, 4)

	require.True(t, a.Intersects(b))
	require.EqualValues(t, []uint32{2, 3}, a.And(b).Bits())
	require.EqualValues(t, []uint32{1}, a.AndNot(b).Bits())
	require.EqualValues(t, []uint32{1, 2, 3, 4}, a.Or(b).Bits())
}

func TestPartitionSetCloneIsIndependent(t *testing.T) {
	a := PartitionSetOf(1, 2)
	clone := a.Clone()
	clone.Add(3)
	require.False(t, a.Contains(3))
	require.True(t, clone.Contains(3))
}

func TestDisjoint(t *testing.T) {
	a := PartitionSetOf(1, 2)
	b := PartitionSetOf(3, 4)
	c := PartitionSetOf(4, 5)

	require.True(t, disjoint(a, b))
	require.False(t, disjoint(a, b, c))
}

func TestPartitionSetEqual(t *testing.T) {
	a := PartitionSetOf(1, 2, 3)
	b := PartitionSetOf(3, 2, 1)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(PartitionSetOf(1, 2)))
}
